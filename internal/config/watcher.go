package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher re-reads a config file on an interval and hands validated changes
// to a reload function as a [ConfigDiff]. An edit that fails validation is
// reported once and skipped; the last good config stays current until the
// file changes again.
type Watcher struct {
	path     string
	interval time.Duration
	reload   func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	raw     []byte // last bytes read, accepted or not
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

// OnReload sets the function called with every non-empty diff. It runs on
// the watcher goroutine.
func OnReload(fn func(ConfigDiff)) WatcherOption {
	return func(w *Watcher) { w.reload = fn }
}

// NewWatcher returns a watcher for path whose baseline is current, the
// config the server started with.
func NewWatcher(path string, current *Config, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		d, err := w.Check()
		switch {
		case err != nil:
			slog.Warn("config reload rejected; keeping previous config", "path", w.path, "err", err)
		case d.Changed():
			slog.Info("config reloaded", "path", w.path, "sections", d.Sections())
		}
	}
}

// Check reads the file once. Unchanged bytes yield a zero diff and no error,
// so a rejected edit is reported only on the read that first sees it.
func (w *Watcher) Check() (ConfigDiff, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: read %q: %w", w.path, err)
	}

	w.mu.Lock()
	if w.raw != nil && bytes.Equal(data, w.raw) {
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	w.raw = data
	old := w.current
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload %q: %w", w.path, err)
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if old == nil {
		return ConfigDiff{}, nil
	}
	d := Diff(old, cfg)
	if d.Changed() && w.reload != nil {
		w.reload(d)
	}
	return d, nil
}
