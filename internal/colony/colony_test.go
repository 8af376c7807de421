package colony

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pantheon/internal/entropy"
	"github.com/talgya/pantheon/internal/gods"
)

func TestHealSlowlyCheapestFirst(t *testing.T) {
	c := &Colonist{Name: "Ada", Injuries: []*Injury{
		{Part: "arm", Severity: 3},
		{Part: "toe", Severity: 0.5},
		{Part: "ear", Severity: 1},
	}}
	healed := HealSlowly(c, 2)
	assert.InDelta(t, 2.0, healed, 1e-9)
	require.Len(t, c.Injuries, 1)
	assert.Equal(t, "arm", c.Injuries[0].Part)
	assert.InDelta(t, 2.5, c.Injuries[0].Severity, 1e-9)

	assert.Zero(t, HealSlowly(&Colonist{Dead: true, Injuries: []*Injury{{Severity: 1}}}, 2))
	assert.Zero(t, HealSlowly(&Colonist{}, 2))
}

func TestColonyRoster(t *testing.T) {
	c := New(7, 3, entropy.NewSeeded(1))
	assert.Equal(t, int64(7), c.WorldSeed())
	assert.True(t, c.Playing())
	require.Len(t, c.Colonists(), 3)
	for _, col := range c.Colonists() {
		assert.GreaterOrEqual(t, col.Mood, 0.4)
		assert.Less(t, col.Mood, 0.7)
	}

	first := c.Colonists()[0].Name
	require.NoError(t, c.Kill(first))
	assert.Error(t, c.Kill(first))
	assert.Error(t, c.Kill("nobody"))
	assert.Len(t, c.Living(), 2)

	c.Regenerate(8, 1)
	assert.Equal(t, int64(8), c.WorldSeed())
	assert.Len(t, c.Colonists(), 1)
}

func TestAdvanceKeepsMoodInRange(t *testing.T) {
	c := New(3, 4, entropy.NewSeeded(3))
	for tick := int64(0); tick < 5000; tick += 50 {
		c.Advance(tick, 1000)
	}
	for _, col := range c.Colonists() {
		assert.GreaterOrEqual(t, col.Mood, 0.0)
		assert.LessOrEqual(t, col.Mood, 1.0)
	}
}

func TestResearchBoostNeedsProject(t *testing.T) {
	c := New(1, 1, entropy.NewSeeded(1))
	c.BoostResearch()
	assert.Zero(t, c.ResearchProgress())
	c.SetResearch(true)
	c.BoostResearch()
	assert.Equal(t, 10.0, c.ResearchProgress())
}

func TestLetterInboxIsBounded(t *testing.T) {
	c := New(1, 0, entropy.NewSeeded(1))
	for i := 0; i < maxLetters+5; i++ {
		c.Notify("t", "x")
	}
	assert.Len(t, c.Letters(), maxLetters)
}

type queued struct {
	delay int64
	name  string
	fn    func(context.Context) error
}

type fakeDeferrer struct{ items []queued }

func (f *fakeDeferrer) After(delay int64, name string, fn func(context.Context) error) {
	f.items = append(f.items, queued{delay, name, fn})
}

func TestGodsActOnColony(t *testing.T) {
	ctx := context.Background()
	c := New(5, 1, entropy.NewSeeded(5))
	later := &fakeDeferrer{}
	reg := gods.NewRegistry()
	RegisterGods(reg, c, later)
	assert.Equal(t, []string{"ares", "demeter", "hermes", "zeus"}, reg.Names())

	// Nobody is hurt yet.
	assert.ErrorIs(t, reg.Invoke(ctx, "ares", true, true), ErrNoTarget)

	require.NoError(t, reg.Invoke(ctx, "ares", false, true))
	require.Len(t, later.items, 1)
	assert.Equal(t, int64(raidWaveDelay), later.items[0].delay)
	require.NoError(t, later.items[0].fn(ctx))

	total := 0.0
	for _, col := range c.Living() {
		total += col.TotalSeverity()
	}
	assert.InDelta(t, 6.0, total, 1e-9)

	require.NoError(t, reg.Invoke(ctx, "ares", true, false))
	total = 0
	for _, col := range c.Living() {
		total += col.TotalSeverity()
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	require.NoError(t, reg.Invoke(ctx, "demeter", true, true))
	assert.Len(t, c.Living(), 2)

	err := reg.Invoke(ctx, "hermes", true, true)
	assert.True(t, errors.Is(err, ErrNoTarget))
	c.SetResearch(true)
	require.NoError(t, reg.Invoke(ctx, "hermes", true, true))
	assert.Equal(t, 30.0, c.ResearchProgress())
	require.NoError(t, reg.Invoke(ctx, "hermes", false, true))
	assert.Equal(t, 10.0, c.ResearchProgress())

	assert.NotEmpty(t, c.Letters())
}

func TestGodsFailWithoutTargets(t *testing.T) {
	ctx := context.Background()
	c := New(5, 0, entropy.NewSeeded(5))
	reg := gods.NewRegistry()
	RegisterGods(reg, c, nil)
	for _, name := range []string{"ares", "zeus"} {
		assert.ErrorIs(t, reg.Invoke(ctx, name, false, true), ErrNoTarget, name)
	}
	assert.ErrorIs(t, reg.Invoke(ctx, "demeter", false, true), ErrNoTarget)
	assert.ErrorIs(t, reg.Invoke(ctx, "zeus", true, true), ErrNoTarget)
}

type fixedPick int

func (f fixedPick) Intn(int) int { return int(f) }

func TestPools(t *testing.T) {
	ctx := context.Background()
	c := New(9, 1, entropy.NewSeeded(9))
	before := c.Colonists()[0].Mood

	wraths := WrathPool(c)
	name, err := wraths.Fire(ctx, fixedPick(0), gods.Subject{Name: "Bram", Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, "haunting", name)
	letters := c.Letters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Text, "her kin")
	assert.Less(t, c.Colonists()[0].Mood, before)

	congrats := CongratsPool(c)
	assert.Equal(t, 3, congrats.Len())
	_, err = congrats.Fire(ctx, fixedPick(0), gods.Subject{})
	require.NoError(t, err)
}
