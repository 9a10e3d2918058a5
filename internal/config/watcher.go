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

const defaultPollInterval = 5 * time.Second

// Watcher keeps the config file loaded and reports valid edits. A single
// goroutine polls the file and serves [Watcher.Reload], so onChange calls
// never overlap. An edit that fails validation is logged and ignored; the
// previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, updated *Config)

	reload chan chan bool
	stop   chan struct{}
	exited chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	current *Config
	seen    fileStamp
}

// fileStamp identifies a file version. The modification time short-circuits
// polling; the digest decides whether the content really changed.
type fileStamp struct {
	mod    time.Time
	digest [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. Non-positive values keep
// the default of 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts watching it. onChange may be nil. The
// initial load must succeed.
func NewWatcher(path string, onChange func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		reload:   make(chan chan bool),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the latest valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reload re-reads the file now, ignoring its modification time, and reports
// whether a new config was applied. It returns false after Stop.
func (w *Watcher) Reload() bool {
	reply := make(chan bool, 1)
	select {
	case w.reload <- reply:
		return <-reply
	case <-w.exited:
		return false
	}
}

// Stop ends watching and waits for a running onChange to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-tick.C:
			w.refresh(false)
		case reply := <-w.reload:
			reply <- w.refresh(true)
		}
	}
}

// refresh loads the file when it looks modified (or always, if forced) and
// applies it when the content differs from the current version.
func (w *Watcher) refresh(force bool) bool {
	w.mu.RLock()
	prev := w.seen
	w.mu.RUnlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: stat failed", "path", w.path, "err", err)
			return false
		}
		if info.ModTime().Equal(prev.mod) {
			return false
		}
	}

	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		slog.Warn("config: ignoring invalid edit", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	w.seen = stamp
	if stamp.digest == prev.digest {
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// readStamped parses and validates the file at path.
func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mod: info.ModTime(), digest: sha256.Sum256(data)}, nil
}
