package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher keeps a config file loaded and reports changes to a callback.
//
// The file is polled: a changed modification time or size triggers a read,
// and the callback only fires when the content hash differs and the new file
// passes validation. An invalid edit is logged and the previous config stays
// current. [Watcher.Reload] forces an immediate check, e.g. on SIGHUP.
//
// Reloaded files go through the same environment overrides as [Load], so
// API keys supplied only through the environment survive a reload.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)

	// reloadMu serialises checks so the poller and Reload never race on the
	// same edit.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	stamp   fileStamp

	done     chan struct{}
	stopOnce sync.Once
}

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// sameMeta reports whether s and o agree on the cheap stat fields.
func (s fileStamp) sameMeta(o fileStamp) bool {
	return s.mtime.Equal(o.mtime) && s.size == o.size
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLookupEnv replaces [os.LookupEnv] for environment overrides.
func WithLookupEnv(fn func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.lookup = fn
		}
	}
}

// NewWatcher loads path and starts polling it in a background goroutine.
// onChange may be nil. It runs on the polling goroutine (or the caller of
// Reload) with no locks held.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		lookup:   os.LookupEnv,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.stamp = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Reload re-reads the file now, regardless of its modification time, and
// reports whether a new config was applied. A read or validation failure is
// returned and leaves the current config in place.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.check(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) check(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	w.mu.Lock()
	prev := w.stamp
	w.mu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if prev.sameMeta(fileStamp{mtime: info.ModTime(), size: info.Size()}) {
			return false, nil
		}
	}

	cfg, stamp, err := w.read()
	if err != nil {
		// Remember the stamp of the rejected edit so polling does not log
		// the same failure every tick.
		if info, serr := os.Stat(w.path); serr == nil && !force {
			w.mu.Lock()
			w.stamp.mtime, w.stamp.size = info.ModTime(), info.Size()
			w.mu.Unlock()
		}
		return false, err
	}

	w.mu.Lock()
	if stamp.sum == prev.sum {
		// Touched but unchanged.
		w.stamp = stamp
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.stamp = cfg, stamp
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read loads and validates the file and stamps the bytes it parsed.
func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := load(bytes.NewReader(data), w.lookup)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
