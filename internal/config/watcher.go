package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher keeps a validated [Config] in step with a YAML file on disk.
//
// The file is polled. When its modification time moves and its content
// differs, the new version is parsed with environment overrides applied and
// validated; on success it becomes current and the change callback receives
// the previous and the new config. A version that fails to parse or
// validate is logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   LookupFunc
	onChange func(old, new *Config)

	state atomic.Pointer[fileVersion]
	// reloadMu serialises reloads so callbacks never overlap.
	reloadMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// fileVersion is one accepted version of the config file.
type fileVersion struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
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

// WithLookup sets how environment overrides are resolved on every reload.
// The default is [os.LookupEnv].
func WithLookup(lookup LookupFunc) WatcherOption {
	return func(w *Watcher) {
		w.lookup = lookup
	}
}

// NewWatcher loads path and starts polling it. A file that cannot be loaded
// now is an error; later failures only keep the last good config.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		lookup:   os.LookupEnv,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	v, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.state.Store(v)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	return w.state.Load().cfg
}

// Reload reads the file now, regardless of its modification time. It
// reports whether the config changed; the callback has returned by then.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.read()
	if err != nil {
		return false, fmt.Errorf("config: reload %q: %w", w.path, err)
	}
	prev := w.state.Load()
	if next.sum == prev.sum {
		w.state.Store(&fileVersion{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return false, nil
	}
	w.state.Store(next)
	slog.Info("configuration reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

// Stop ends polling and waits for an in-flight reload to finish. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if !w.modified() {
			continue
		}
		if _, err := w.Reload(); err != nil {
			slog.Warn("config file rejected, keeping previous config", "err", err)
		}
	}
}

// modified reports whether the file's modification time differs from the
// last accepted version.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable", "path", w.path, "err", err)
		return false
	}
	return !info.ModTime().Equal(w.state.Load().mtime)
}

// read stats the file before reading it, so a write that lands in between
// shows up as a newer mtime on the next poll.
func (w *Watcher) read() (*fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, w.lookup)
	if err != nil {
		return nil, err
	}
	return &fileVersion{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
