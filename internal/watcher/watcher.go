// Package watcher turns filesystem notifications for one watched directory
// into close-write and moved-from events.
//
// On Linux the kernel reports close-after-write directly through inotify.
// Elsewhere fsnotify does not expose it, so create and write notifications
// for a file are batched and the file is reported once no further writes
// arrived for the debounce period.
package watcher

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Kind tags what happened to a file.
type Kind int

const (
	CloseWrite Kind = iota + 1
	MovedFrom
)

func (k Kind) String() string {
	switch k {
	case CloseWrite:
		return "close-write"
	case MovedFrom:
		return "moved-from"
	default:
		return "unknown"
	}
}

// Event is a file event in a watched directory.
type Event struct {
	Dir  string // directory containing the file
	Name string // base name
	Path string // full path
	Kind Kind
	Time time.Time
}

func newEvent(path string, kind Kind, at time.Time) Event {
	return Event{
		Dir:  filepath.Dir(path),
		Name: filepath.Base(path),
		Path: path,
		Kind: kind,
		Time: at,
	}
}

// Handler is called for each event. It runs on the watcher's goroutine and
// must not block.
type Handler func(Event)

// Config holds watcher configuration
type Config struct {
	Root    string
	Recurse bool
	Handler Handler
	// Debounce and FlushInterval only apply where close-write is emulated
	Debounce      time.Duration
	FlushInterval time.Duration
	// SkipDir, if set, excludes subdirectories from recursive watching.
	// It receives the path relative to Root.
	SkipDir func(rel string) bool
	Logger  zerolog.Logger
}

// Watcher monitors one directory, optionally recursively
type Watcher struct {
	backend

	root    string
	recurse bool
	handler Handler
	skipDir func(string) bool

	logger     zerolog.Logger
	errLimiter *rate.Limiter
}

// New creates a watcher and registers Root (and its subdirectories when
// Recurse is set).
func New(cfg Config) (*Watcher, error) {
	if cfg.Handler == nil {
		cfg.Handler = func(Event) {}
	}

	w := &Watcher{
		root:       cfg.Root,
		recurse:    cfg.Recurse,
		handler:    cfg.Handler,
		skipDir:    cfg.SkipDir,
		logger:     cfg.Logger.With().Str("dir", cfg.Root).Logger(),
		errLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if err := w.open(cfg); err != nil {
		return nil, err
	}

	var err error
	if cfg.Recurse {
		err = w.AddRecursive(cfg.Root)
	} else {
		err = w.Add(cfg.Root)
	}
	if err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// AddRecursive adds root and every directory under it to the watch list.
// Failing to watch root is an error; failures below it are logged.
func (w *Watcher) AddRecursive(root string) error {
	if err := w.Add(root); err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("cannot access directory")
			return nil
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if w.skip(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch directory (continuing)")
		}
		return nil
	})
}

func (w *Watcher) addCreatedDir(path string) {
	if !w.recurse || w.skip(path) {
		return
	}
	if err := w.AddRecursive(path); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
		return
	}
	w.logger.Debug().Str("path", path).Msg("watching new directory")
}

func (w *Watcher) skip(path string) bool {
	if w.skipDir == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return w.skipDir(rel)
}

// watchError logs err, dropping bursts
func (w *Watcher) watchError(err error) {
	if w.errLimiter.Allow() {
		w.logger.Warn().Err(err).Msg("watch error")
	}
}
