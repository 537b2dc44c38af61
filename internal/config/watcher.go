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

// DefaultPollInterval is how often a [Watcher] re-examines the config file.
const DefaultPollInterval = 5 * time.Second

// fileState captures one observed version of the config file: the parsed
// config plus the digest and modification time it was read at.
type fileState struct {
	cfg     *Config
	digest  [sha256.Size]byte
	modTime time.Time
}

// Watcher polls the config file and reports content changes through a
// callback. Polling keeps the dependency surface small and behaves the same
// on every platform. A rewrite that fails to parse or validate is logged and
// skipped, so [Watcher.Current] always returns the last good config.
//
// Safe for concurrent use.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, next *Config)

	mu   sync.Mutex
	last fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption customises a [Watcher] at construction time.
type WatcherOption func(*Watcher)

// WithInterval overrides the poll period. Defaults to
// [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. For every content change, onChange runs outside the watcher
// lock with the previous and the freshly loaded config.
func NewWatcher(path string, onChange func(old, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher first load: %w", err)
	}
	w.last = st

	go w.loop()
	return w, nil
}

// Current returns the last config that loaded and validated cleanly.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop halts polling. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// CheckNow runs one poll round immediately. The background loop calls it on
// every tick; tests call it to reload deterministically.
func (w *Watcher) CheckNow() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config poll could not stat file", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.modTime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	st, err := w.read()
	if err != nil {
		slog.Warn("config reload skipped, file does not validate",
			"path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	if st.digest == w.last.digest {
		// Touched, not changed.
		w.last.modTime = st.modTime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = st
	w.mu.Unlock()

	slog.Info("config file reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, st.cfg)
	}
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.CheckNow()
		}
	}
}

// read loads and validates the file. Stat runs before the read: if the file
// changes in between, the recorded mod time is older than the content, and
// the next poll simply reloads.
func (w *Watcher) read() (fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileState{}, err
	}
	return fileState{cfg: cfg, digest: sha256.Sum256(data), modTime: info.ModTime()}, nil
}
