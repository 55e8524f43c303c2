//go:build !linux

package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// Default quiet period before a written file counts as closed
	defaultDebounce = 250 * time.Millisecond
	// Default flush interval for processing batched events
	defaultFlushInterval = 50 * time.Millisecond
)

type backend struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	flush    time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

func (w *Watcher) open(cfg Config) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsWatcher
	w.debounce = cfg.Debounce
	w.flush = cfg.FlushInterval
	w.pending = make(map[string]time.Time)
	return nil
}

// Add starts watching a path
func (w *Watcher) Add(path string) error {
	return w.watcher.Add(path)
}

// WatchList returns the directories currently watched
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	flushTicker := time.NewTicker(w.flush)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.watchError(err)

		case <-flushTicker.C:
			w.flushPending(time.Now())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	now := time.Now()

	switch {
	case event.Has(fsnotify.Rename):
		// The file has left this path. A write still pending for it has
		// completed, so report that before the move.
		if w.takePending(event.Name) {
			w.handler(newEvent(event.Name, CloseWrite, now))
		}
		w.handler(newEvent(event.Name, MovedFrom, now))

	case event.Has(fsnotify.Remove):
		w.takePending(event.Name)

	case event.Has(fsnotify.Create):
		info, err := os.Lstat(event.Name)
		if err != nil {
			return // already gone
		}
		if info.IsDir() {
			w.addCreatedDir(event.Name)
			return
		}
		w.markPending(event.Name, now)

	case event.Has(fsnotify.Write):
		w.markPending(event.Name, now)
	}
}

func (w *Watcher) markPending(path string, at time.Time) {
	w.mu.Lock()
	w.pending[path] = at
	w.mu.Unlock()
}

func (w *Watcher) takePending(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.pending[path]
	delete(w.pending, path)
	return ok
}

// flushPending reports files that have been quiet for the debounce period
func (w *Watcher) flushPending(now time.Time) {
	w.mu.Lock()

	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}

	w.mu.Unlock()

	for _, path := range ready {
		w.handler(newEvent(path, CloseWrite, now))
	}
}

// Close stops watching and cleans up resources
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
