package tailer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPollReturnsAppendedSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	tl := New()

	writeLog(t, path, "a", "b")
	got, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	writeLog(t, path, "a", "b", "c", "d")
	got, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, got)

	got, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPollToleratesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	tl := New()

	writeLog(t, path, "a", "b", "c")
	_, err := tl.Poll(path)
	require.NoError(t, err)

	writeLog(t, path, "b", "c", "d")
	got, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)

	writeLog(t, path, "d", "e")
	got, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, got)
}

func TestPollKeepsRepeatedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	tl := New()

	writeLog(t, path, "Alice favor zap 120 100")
	_, err := tl.Poll(path)
	require.NoError(t, err)

	writeLog(t, path, "Alice favor zap 120 100", "Alice favor zap 120 100")
	got, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice favor zap 120 100"}, got)
}

func TestPollMissingFile(t *testing.T) {
	tl := New()
	got, err := tl.Poll(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, tl.Seen())
}

func TestPrimeSkipsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	writeLog(t, path, "old one", "old two")

	tl := New()
	require.NoError(t, tl.Prime(path))
	assert.Equal(t, 2, tl.Seen())

	writeLog(t, path, "old one", "old two", "new")
	got, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got)
}

func TestPollHandlesCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	require.NoError(t, os.WriteFile(path, []byte("a\r\nb\r\n"), 0o644))
	got, err := New().Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSeenLogStaysBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	tl := New()
	writeLog(t, path, "a", "b", "c", "d")
	_, err := tl.Poll(path)
	require.NoError(t, err)
	writeLog(t, path, "d", "e")
	_, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tl.Seen())
}

func TestRestoreResumesWhereLinesLeftOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	writeLog(t, path, "a", "b")
	first := New()
	_, err := first.Poll(path)
	require.NoError(t, err)
	saved := first.Lines()

	// The writer keeps going and rotates while nobody is watching.
	writeLog(t, path, "b", "c", "d")
	second := New()
	second.Restore(saved)
	got, err := second.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, got)

	assert.NotNil(t, New().Lines())
}
