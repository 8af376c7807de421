package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pantheon/internal/tailer"
)

func TestAppendLineCapsTheLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge", "offerings.log")
	tail := tailer.New()

	for _, l := range []string{"a favor zap 1 1", "b favor zap 1 1", "c favor zap 1 1"} {
		require.NoError(t, appendLine(path, l, 2))
	}
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b favor zap 1 1\nc favor zap 1 1\n", string(raw))

	lines, err := tail.Poll(path)
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	require.NoError(t, appendLine(path, "d favor zap 1 1", 2))
	lines, err = tail.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"d favor zap 1 1"}, lines)
}

func TestAppendLineUncapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offerings.log")
	for i := 0; i < 5; i++ {
		require.NoError(t, appendLine(path, "x wrath peg 2 1", 0))
	}
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(raw), "\n"))
}
