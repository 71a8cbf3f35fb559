// Package scratch manages short-lived files that must not outlive the
// operation that created them.
package scratch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// WithFile writes data to a new temporary file in dir (the OS temp dir when
// dir is empty) named with pattern, then calls fn with the file's path.
//
// The file is removed when WithFile returns, whether fn succeeds, fails or
// panics. A removal failure is logged and does not replace fn's error.
func WithFile(dir, pattern string, data []byte, fn func(path string) error) (err error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("scratch: create: %w", err)
	}
	path := f.Name()
	defer remove(path)

	if _, werr := f.Write(data); werr != nil {
		_ = f.Close()
		return fmt.Errorf("scratch: write: %w", werr)
	}
	if cerr := f.Close(); cerr != nil {
		return fmt.Errorf("scratch: close: %w", cerr)
	}
	return fn(path)
}

func remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("scratch: remove failed", "path", path, "err", err)
	}
}
