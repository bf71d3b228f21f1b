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

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// fingerprint identifies one version of the config file on disk.
type fingerprint struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher keeps the current configuration in sync with a YAML file. It polls
// the file's mtime and size, rereads it when either moves, and hands the old
// and new config to a callback when the content changed and validates.
// Invalid edits are logged once and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	// reloadMu serialises reloads from the poller and from Reload.
	reloadMu sync.Mutex

	mu       sync.Mutex
	current  *Config
	applied  fingerprint
	rejected [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Defaults to [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts polling it. onChange runs on the polling
// goroutine, or on the caller of [Watcher.Reload], and may call Current.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.applied = cfg, fp

	go w.poll()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload rereads the file now, regardless of its mtime, e.g. on SIGHUP. It
// reports whether a new config was applied. An invalid file returns the
// validation error and keeps the current config.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				w.log.Debug("config: poll", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.log.Warn("config: cannot stat file", "path", w.path, "err", err)
			return false, err
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.applied.mtime) && info.Size() == w.applied.size
		w.mu.Unlock()
		if same {
			return false, nil
		}
	}

	data, fp, err := w.readRaw()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if fp.sum == w.applied.sum {
		// Touched, or an edit reverted; only the stat fields moved.
		w.applied = fp
		w.mu.Unlock()
		return false, nil
	}
	seen := fp.sum == w.rejected
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.mu.Lock()
		w.rejected = fp.sum
		w.mu.Unlock()
		if !seen {
			w.log.Warn("config: rejected edit, keeping previous config", "path", w.path, "err", err)
		}
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.applied = cfg, fp
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true, nil
}

// read loads and validates the file.
func (w *Watcher) read() (*Config, fingerprint, error) {
	data, fp, err := w.readRaw()
	if err != nil {
		return nil, fp, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fp, err
	}
	return cfg, fp, nil
}

func (w *Watcher) readRaw() ([]byte, fingerprint, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fingerprint{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fingerprint{}, err
	}
	return buf.Bytes(), fingerprint{
		mtime: info.ModTime(),
		size:  info.Size(),
		sum:   sha256.Sum256(buf.Bytes()),
	}, nil
}
