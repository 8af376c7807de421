package state

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FileStore keeps Durable state in an XML side-car file. Before each save
// the previous file is compressed into a numbered backup
// (<path>.1.zst is the newest) and at most keep backups are retained.
type FileStore struct {
	path        string
	keep        int
	backupEvery time.Duration
}

// NewFileStore creates a store at path keeping the given number of backups.
func NewFileStore(path string, keep int) *FileStore {
	return &FileStore{path: path, keep: keep}
}

// BackupEvery limits rotation: a save only takes a new backup when the
// newest one is at least d old. Zero backs up on every save.
func (s *FileStore) BackupEvery(d time.Duration) *FileStore {
	s.backupEvery = d
	return s
}

// Path returns the state file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the state file. A missing file yields fresh empty state; a
// corrupt file falls back to the newest backup.
func (s *FileStore) Load(ctx context.Context) (*Durable, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no saved state, starting fresh", "path", s.path)
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	defer f.Close()

	d, err := Decode(bufio.NewReader(f))
	if err == nil {
		return d, nil
	}
	if s.keep > 0 {
		if backup, berr := s.LoadBackup(1); berr == nil {
			slog.Warn("state file corrupt, restored newest backup", "path", s.path, "error", err)
			return backup, nil
		}
	}
	return nil, err
}

// Save writes d atomically, rotating the previous file into the backups.
func (s *FileStore) Save(ctx context.Context, d *Durable) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := Encode(w, d); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}

	if s.keep > 0 && s.backupDue() {
		if err := s.rotate(); err != nil {
			slog.Warn("state backup failed", "path", s.path, "error", err)
		}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// LoadOrEmpty loads state from b and substitutes empty state on any error
// so the scheduler can keep running.
func LoadOrEmpty(ctx context.Context, b Backend) *Durable {
	d, err := b.Load(ctx)
	if err != nil {
		slog.Error("state load failed, continuing with empty state", "error", err)
		return New()
	}
	return d
}

func (s *FileStore) backupPath(n int) string {
	return fmt.Sprintf("%s.%d.zst", s.path, n)
}

func (s *FileStore) backupDue() bool {
	if s.backupEvery <= 0 {
		return true
	}
	info, err := os.Stat(s.backupPath(1))
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) >= s.backupEvery
}

// rotate shifts existing backups up by one and compresses the current file
// into backup 1.
func (s *FileStore) rotate() error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	_ = os.Remove(s.backupPath(s.keep))
	for n := s.keep - 1; n >= 1; n-- {
		if err := os.Rename(s.backupPath(n), s.backupPath(n+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return compressFile(s.path, s.backupPath(1))
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LoadBackup decodes backup n (1 is the newest).
func (s *FileStore) LoadBackup(n int) (*Durable, error) {
	f, err := os.Open(s.backupPath(n))
	if err != nil {
		return nil, fmt.Errorf("open backup %d: %w", n, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("backup %d: %w", n, err)
	}
	defer dec.Close()
	return Decode(dec)
}
