package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"researchdesk/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded config, or the load error.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads the config file when it changes on disk.
// It watches the containing directory so editors that replace the file on
// save are still picked up.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	path        string
	dir         string
	onReload    ReloadFunc
	debounceDur time.Duration
	lastEvent   time.Time
	pending     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closed      bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventType string
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, onReload ReloadFunc) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	return &Watcher{
		watcher:     watcher,
		path:        abs,
		dir:         filepath.Dir(abs),
		onReload:    onReload,
		debounceDur: 200 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It is non-blocking and a no-op when already running.
// The config directory must exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Config("watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	running := w.running
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	if running {
		<-w.doneCh
	}

	if err := w.watcher.Close(); err != nil {
		logging.ConfigWarn("error closing config watcher: %v", err)
	}
	logging.Config("config watcher stopped")
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(50 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWarn("config watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod
	}

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventType = eventType
	w.lastEvent = time.Now()
	w.pending = true
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.stats.Reloads++
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.Validate()
		if err != nil {
			cfg = nil
		}
	}
	event := logging.AuditEvent{EventType: logging.AuditConfigReload, Target: w.path, Success: err == nil}
	if err != nil {
		logging.ConfigWarn("config reload rejected: %v", err)
		event.Error = err.Error()
	} else {
		logging.Config("config reloaded from %s", w.path)
	}
	logging.AuditWithCategory(logging.CategoryConfig).Log(event)
	if w.onReload != nil {
		w.onReload(cfg, err)
	}
}
