package state

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pantheon/internal/scheduler"
)

func sampleState() *Durable {
	d := New()
	d.Counters.Add("zap", 3)
	d.Counters.Add("research", 1)

	inst := d.Instance(42)
	inst.AltarState = 2
	inst.LastPolledTick = 123456
	inst.Mood["Alice"] = 71.5
	inst.Mood["Bob"] = 12
	inst.Dead["Carl"] = true
	inst.Schedule.Insert(10, 100, scheduler.NewEntry(scheduler.CallGod{God: "zap", Favor: true, Announce: true}))
	inst.Schedule.Insert(10, 100, scheduler.NewEntry(scheduler.WrathCall{Actor: "Carl", Gender: "male"}))
	inst.Schedule.Insert(5, 300, scheduler.NewEntry(scheduler.SurvivalReward{}))
	retry := scheduler.NewEntry(scheduler.CallGod{God: "peg"})
	retry.Attempts = 2
	inst.Schedule.Insert(0, 50, retry)

	d.Instance(-7)
	d.WorldSeed = 42
	d.SeenLog = []string{"Alice favor zap 120 100", "  odd <spacing> & symbols "}
	return d
}

func assertEquivalent(t *testing.T, want, got *Durable) {
	t.Helper()
	assert.Equal(t, want.Counters, got.Counters)
	assert.Equal(t, want.WorldSeed, got.WorldSeed)
	assert.Equal(t, want.SeenLog, got.SeenLog)
	require.Equal(t, want.Seeds(), got.Seeds())
	for _, seed := range want.Seeds() {
		w, g := want.Instances[seed], got.Instances[seed]
		assert.Equal(t, w.AltarState, g.AltarState)
		assert.Equal(t, w.LastPolledTick, g.LastPolledTick)
		assert.Equal(t, w.Mood, g.Mood)
		assert.Equal(t, w.Dead, g.Dead)
		require.Equal(t, w.Schedule.Ticks(), g.Schedule.Ticks())
		for _, tick := range w.Schedule.Ticks() {
			assert.Equal(t, w.Schedule.Bucket(tick), g.Schedule.Bucket(tick), "bucket %d", tick)
		}
	}
}

func TestXMLRoundTrip(t *testing.T) {
	want := sampleState()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	assert.Contains(t, buf.String(), `<bucket tick="110">`)

	got, err := Decode(&buf)
	require.NoError(t, err)
	assertEquivalent(t, want, got)
}

func TestSeenLogNilAndEmptyStayDistinct(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, New()))
	assert.NotContains(t, buf.String(), "offeringLog")
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Nil(t, got.SeenLog)
	assert.Zero(t, got.WorldSeed)

	d := New()
	d.SeenLog = []string{}
	buf.Reset()
	require.NoError(t, Encode(&buf, d))
	got, err = Decode(&buf)
	require.NoError(t, err)
	require.NotNil(t, got.SeenLog)
	assert.Empty(t, got.SeenLog)
}

func TestDecodeRejectsBadPayload(t *testing.T) {
	doc := `<pantheon version="1"><instances><instance seed="1"><schedule>
<bucket tick="5"><action id="x" kind="callGod"><param>zap</param></action></bucket>
</schedule></instance></instances></pantheon>`
	_, err := Decode(bytes.NewBufferString(doc))
	assert.Error(t, err)

	doc = `<pantheon version="1"><instances><instance seed="1"><schedule>
<bucket tick="5"><action id="x" kind="smite"></action></bucket>
</schedule></instance></instances></pantheon>`
	_, err = Decode(bytes.NewBufferString(doc))
	assert.Error(t, err)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode(bytes.NewBufferString(`<pantheon version="99"></pantheon>`))
	assert.Error(t, err)
}

func TestFileStoreRoundTripAndBackups(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "pantheon.xml")
	fs := NewFileStore(path, 2)

	fresh, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, fresh.Instances)

	first := sampleState()
	require.NoError(t, fs.Save(ctx, first))
	_, err = os.Stat(path + ".1.zst")
	assert.True(t, errors.Is(err, os.ErrNotExist), "no backup before a second save")

	second := sampleState()
	second.Counters.Add("zap", 10)
	require.NoError(t, fs.Save(ctx, second))
	require.NoError(t, fs.Save(ctx, second))
	require.NoError(t, fs.Save(ctx, second))
	_, err = os.Stat(path + ".3.zst")
	assert.True(t, errors.Is(err, os.ErrNotExist), "only two backups kept")

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assertEquivalent(t, second, got)

	backup, err := fs.LoadBackup(2)
	require.NoError(t, err)
	assert.Equal(t, 13, backup.Counters.Get("zap"))
}

func TestFileStoreBackupInterval(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pantheon.xml")
	fs := NewFileStore(path, 3).BackupEvery(time.Hour)

	d := sampleState()
	for i := 0; i < 4; i++ {
		d.Counters.Add("zap", 1)
		require.NoError(t, fs.Save(ctx, d))
	}
	_, err := os.Stat(path + ".1.zst")
	require.NoError(t, err, "the first overwrite takes a backup")
	_, err = os.Stat(path + ".2.zst")
	assert.True(t, errors.Is(err, os.ErrNotExist), "later saves within the interval do not rotate")

	backup, err := fs.LoadBackup(1)
	require.NoError(t, err)
	assert.Equal(t, 4, backup.Counters.Get("zap"))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Counters.Get("zap"))
}

func TestFileStoreFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pantheon.xml")
	fs := NewFileStore(path, 1)

	want := sampleState()
	require.NoError(t, fs.Save(ctx, want))
	require.NoError(t, fs.Save(ctx, want))
	require.NoError(t, os.WriteFile(path, []byte("<pantheon"), 0o644))

	got, err := fs.Load(ctx)
	require.NoError(t, err)
	assertEquivalent(t, want, got)
}

func TestLoadOrEmptySubstitutesEmptyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pantheon.xml")
	require.NoError(t, os.WriteFile(path, []byte("not xml at all"), 0o644))

	d := LoadOrEmpty(context.Background(), NewFileStore(path, 0))
	require.NotNil(t, d)
	assert.Empty(t, d.Instances)
	assert.Empty(t, d.Counters)
}

func TestCounterSet(t *testing.T) {
	c := make(CounterSet)
	assert.False(t, c.Spend("zap"))
	c.Add("zap", 2)
	assert.True(t, c.Spend("zap"))
	assert.Equal(t, 1, c.Get("zap"))
	assert.Equal(t, []string{"zap"}, c.Names())
}

func TestInstanceIsCreatedOnce(t *testing.T) {
	d := New()
	a := d.Instance(9)
	a.AltarState = 1
	assert.Same(t, a, d.Instance(9))
	assert.Equal(t, []int64{9}, d.Seeds())
}
