// Package tailer returns the lines appended to a text file since the last
// poll. The bridge process that writes the file may drop its oldest lines
// at any time, so the file is re-read in full and aligned against what was
// already seen rather than tracked by byte offset.
package tailer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Tailer remembers the tail of the file as of the previous poll.
type Tailer struct {
	seen []string
}

// New creates a Tailer that has seen nothing.
func New() *Tailer {
	return &Tailer{}
}

// Poll reads path and returns the lines not seen on earlier polls.
// On a read error it returns nil and the error; the seen log is untouched.
func (t *Tailer) Poll(path string) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	fresh := lines[overlap(t.seen, lines):]
	t.remember(fresh, len(lines))
	if len(fresh) == 0 {
		return nil, nil
	}
	return append([]string(nil), fresh...), nil
}

// Prime marks the current content of path as seen without returning it.
func (t *Tailer) Prime(path string) error {
	_, err := t.Poll(path)
	return err
}

// Seen returns the number of remembered lines.
func (t *Tailer) Seen() int { return len(t.seen) }

// Lines returns a copy of the remembered lines. It is never nil.
func (t *Tailer) Lines() []string {
	return append([]string{}, t.seen...)
}

// Restore replaces the remembered lines, typically with what Lines
// returned before a restart.
func (t *Tailer) Restore(lines []string) {
	t.seen = append([]string(nil), lines...)
}

// remember appends fresh to the seen log and drops the head beyond the
// size of the last read; older lines can never align again. An empty read
// keeps the seen log so a writer caught mid-rewrite does not cause a replay.
func (t *Tailer) remember(fresh []string, size int) {
	t.seen = append(t.seen, fresh...)
	if size > 0 && len(t.seen) > size {
		t.seen = append([]string(nil), t.seen[len(t.seen)-size:]...)
	}
}

// overlap returns the length of the longest suffix of seen that is also a
// prefix of lines.
func overlap(seen, lines []string) int {
	n := min(len(seen), len(lines))
	for k := n; k > 0; k-- {
		if equal(seen[len(seen)-k:], lines[:k]) {
			return k
		}
	}
	return 0
}

func equal(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan log: %w", err)
	}
	return lines, nil
}
