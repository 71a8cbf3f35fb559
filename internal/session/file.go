package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one JSON file per session under a directory, named
// "<id>.json". Saves write a temporary file and rename it over the old one so
// a crash never leaves a half-written log.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("session: file store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file that holds id's log.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Load implements [Store].
func (s *FileStore) Load(_ context.Context, id string) (Log, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Log{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	return decode(data)
}

// Save implements [Store].
func (s *FileStore) Save(_ context.Context, id string, l Log) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := encode(l)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(id)); err != nil {
		return fmt.Errorf("session: save %s: %w", id, err)
	}
	return nil
}

// Ping checks that the directory still exists and is a directory.
func (s *FileStore) Ping(context.Context) error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("session: file store: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("session: file store: %s is not a directory", s.dir)
	}
	return nil
}

// Close implements [Store].
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
