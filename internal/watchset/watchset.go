// Package watchset owns the active set of watched directories. Each
// configuration load produces an immutable generation of compiled watch
// entries; reloads replace the running generation as a whole.
package watchset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkittenis/cronify/internal/action"
	"github.com/pkittenis/cronify/internal/config"
	"github.com/pkittenis/cronify/internal/matcher"
	"github.com/pkittenis/cronify/internal/poller"
	"github.com/pkittenis/cronify/internal/pool"
	"github.com/pkittenis/cronify/internal/state"
	"github.com/pkittenis/cronify/internal/watcher"
)

var (
	// ErrStopped is returned by Start and Reload after Stop.
	ErrStopped = errors.New("watch set stopped")
	// ErrNotStarted is returned by Reload before Start.
	ErrNotStarted = errors.New("watch set not started")
	// ErrNotDirectory is returned when a watched path is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// State of the watch set
type State int32

const (
	Uninitialized State = iota
	Active
	Reloading
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Reloading:
		return "reloading"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a WatchSet. Source, Pool and Runner are required.
type Options struct {
	Source   config.Source
	Pool     *pool.Pool
	Runner   *action.Runner
	Compiler *matcher.Compiler // shared across reloads; created if nil
	Files    *state.Cache      // records metadata on close-write; optional
	Debounce time.Duration     // passed to each watcher
	Logger   zerolog.Logger
}

// WatchSet routes file events of the active generation to the pool.
type WatchSet struct {
	source   config.Source
	pool     *pool.Pool
	runner   *action.Runner
	compiler *matcher.Compiler
	files    *state.Cache
	debounce time.Duration
	logger   zerolog.Logger

	// mu serializes Start, Reload and Stop
	mu      sync.Mutex
	running *running

	gen   atomic.Pointer[generation]
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WatchSet in the Uninitialized state.
func New(opts Options) (*WatchSet, error) {
	if opts.Source == nil || opts.Pool == nil || opts.Runner == nil {
		return nil, errors.New("watchset: Source, Pool and Runner are required")
	}
	if opts.Compiler == nil {
		c, err := matcher.NewCompiler(0)
		if err != nil {
			return nil, err
		}
		opts.Compiler = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WatchSet{
		source:   opts.Source,
		pool:     opts.Pool,
		runner:   opts.Runner,
		compiler: opts.Compiler,
		files:    opts.Files,
		debounce: opts.Debounce,
		logger:   opts.Logger.With().Str("component", "watchset").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// State returns the current lifecycle state.
func (ws *WatchSet) State() State {
	return State(ws.state.Load())
}

// Watches returns the directories of the active generation, sorted.
func (ws *WatchSet) Watches() []string {
	gen := ws.gen.Load()
	if gen == nil {
		return nil
	}
	paths := make([]string, len(gen.entries))
	for i, e := range gen.entries {
		paths[i] = e.path
	}
	return paths
}

// Roots describes the active directories for periodic scanning.
func (ws *WatchSet) Roots() []poller.Root {
	gen := ws.gen.Load()
	if gen == nil || ws.State() == Stopped {
		return nil
	}
	roots := make([]poller.Root, len(gen.entries))
	for i, e := range gen.entries {
		roots[i] = poller.Root{Path: e.path, Recurse: e.recurse, Skip: e.ignore.Ignored}
	}
	return roots
}

// Start loads, validates and activates the configuration.
func (ws *WatchSet) Start(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	switch ws.State() {
	case Stopped:
		return ErrStopped
	case Active:
		return errors.New("watch set already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := ws.load()
	if err != nil {
		return err
	}
	if err := ws.activate(gen); err != nil {
		return err
	}

	ws.state.Store(int32(Active))
	ws.logger.Info().Strs("watches", ws.Watches()).Int("cached_filemasks", ws.compiler.Len()).Msg("watch set started")
	return nil
}

// Reload replaces the active configuration with a fresh load from the same
// Source. The new configuration is fully validated and compiled before the
// running one is torn down; on any failure the previous configuration stays
// in effect and the error is returned.
func (ws *WatchSet) Reload(ctx context.Context) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	switch ws.State() {
	case Stopped:
		return ErrStopped
	case Uninitialized:
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ws.state.Store(int32(Reloading))
	defer ws.state.CompareAndSwap(int32(Reloading), int32(Active))

	next, err := ws.load()
	if err != nil {
		ws.logger.Error().Err(err).Msg("reload failed, keeping current configuration")
		return err
	}

	prev := ws.gen.Load()
	ws.deactivate()

	if err := ws.activate(next); err != nil {
		ws.logger.Error().Err(err).Msg("reload failed to start, restoring previous configuration")
		if rerr := ws.activate(prev); rerr != nil {
			ws.logger.Error().Err(rerr).Msg("failed to restore previous configuration")
			return errors.Join(err, rerr)
		}
		return err
	}

	ws.logger.Info().Strs("watches", ws.Watches()).Int("cached_filemasks", ws.compiler.Len()).Msg("configuration reloaded")
	return nil
}

// Stop tears down every watcher. Tasks already queued or running on the pool
// are left to the pool's owner.
func (ws *WatchSet) Stop() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.State() == Stopped {
		return
	}
	ws.state.Store(int32(Stopped))
	ws.deactivate()
	ws.cancel()
	// Compiled masks are only reused across reloads
	ws.compiler.Purge()
	ws.logger.Info().Msg("watch set stopped")
}

// load reads the Source and builds a generation without side effects.
func (ws *WatchSet) load() (*generation, error) {
	cfg, err := ws.source()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return build(cfg, ws.compiler)
}

// activate starts watchers for gen and publishes it. Nothing is left
// running on failure.
func (ws *WatchSet) activate(gen *generation) error {
	if gen == nil {
		return errors.New("no configuration to activate")
	}

	ctx, cancel := context.WithCancel(ws.ctx)
	r := &running{cancel: cancel}

	for _, e := range gen.entries {
		e := e
		w, err := watcher.New(watcher.Config{
			Root:     e.path,
			Recurse:  e.recurse,
			Handler:  func(ev watcher.Event) { ws.route(e, ev) },
			Debounce: ws.debounce,
			SkipDir:  e.ignore.IgnoredDir,
			Logger:   ws.logger,
		})
		if err != nil {
			r.stop()
			return fmt.Errorf("watch %q: %w", e.path, err)
		}
		r.add(ctx, w, ws.logger)
		ws.logger.Debug().Str("watch", e.name).Str("path", e.path).Bool("recurse", e.recurse).Int("filemasks", len(e.masks)).Msg("watching directory")
	}

	ws.running = r
	ws.gen.Store(gen)
	return nil
}

func (ws *WatchSet) deactivate() {
	if ws.running != nil {
		ws.running.stop()
		ws.running = nil
	}
}

// route runs on the watcher goroutine of e. It only matches and enqueues.
func (ws *WatchSet) route(e *entry, ev watcher.Event) {
	log := ws.logger.With().Str("watch", e.name).Str("file", ev.Path).Str("event", ev.Kind.String()).Logger()

	if rel, err := filepath.Rel(e.path, ev.Path); err == nil && e.ignore.Ignored(rel) {
		log.Debug().Msg("ignored")
		return
	}

	if ev.Kind == watcher.CloseWrite && ws.files != nil {
		if info, err := os.Stat(ev.Path); err == nil {
			ws.files.Add(ev.Path, info)
		}
	}

	matched := false
	for _, fm := range e.masks {
		if !fm.matcher.Match(ev.Name) {
			continue
		}
		matched = true
		for _, act := range fm.actions {
			job := action.Job{Watch: e.name, Event: ev, Action: act, Location: e.loc}
			err := ws.pool.Submit(pool.Task{
				Name: e.name + "/" + act.Name,
				Run: func(ctx context.Context) error {
					return ws.runner.Run(ctx, job)
				},
			})
			if err != nil {
				log.Warn().Err(err).Str("action", act.Name).Msg("failed to dispatch action")
			}
		}
	}
	if !matched {
		log.Debug().Msg("no filemask matched")
	}
}

// Check runs every validation and compilation step Start would, without
// watching anything.
func Check(cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	compiler, err := matcher.NewCompiler(0)
	if err != nil {
		return err
	}
	_, err = build(cfg, compiler)
	return err
}

// generation is an immutable compiled configuration.
type generation struct {
	entries []*entry
}

type entry struct {
	path    string
	name    string
	recurse bool
	loc     *time.Location
	ignore  *matcher.Ignore
	masks   []filemask
}

type filemask struct {
	matcher *matcher.Matcher
	actions []config.Action
}

func build(cfg config.Config, compiler *matcher.Compiler) (*generation, error) {
	gen := &generation{}
	var errs []error

	for _, path := range cfg.Paths() {
		w := cfg[path]

		abs, err := filepath.Abs(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %q: %w", path, err))
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %q: %w", path, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("watch %q: %w", path, ErrNotDirectory))
			continue
		}
		loc, err := w.Location()
		if err != nil {
			errs = append(errs, fmt.Errorf("watch %q: %w", path, err))
			continue
		}

		e := &entry{
			path:    abs,
			name:    w.Name,
			recurse: w.Recurse,
			loc:     loc,
			ignore:  matcher.CompileIgnore(w.Ignore),
		}

		masks := make([]string, 0, len(w.Filemasks))
		for m := range w.Filemasks {
			masks = append(masks, m)
		}
		sort.Strings(masks)

		for _, mask := range masks {
			m, err := compiler.Compile(mask)
			if err != nil {
				errs = append(errs, &config.ValidationError{Watch: path, Filemask: mask, Reason: err.Error()})
				continue
			}
			e.masks = append(e.masks, filemask{
				matcher: m,
				actions: append([]config.Action(nil), w.Filemasks[mask].Actions...),
			})
		}
		gen.entries = append(gen.entries, e)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return gen, nil
}

// running holds the watchers of the active generation.
type running struct {
	cancel   context.CancelFunc
	watchers []*watcher.Watcher
	wg       sync.WaitGroup
}

func (r *running) add(ctx context.Context, w *watcher.Watcher, logger zerolog.Logger) {
	r.watchers = append(r.watchers, w)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("watcher stopped")
		}
	}()
}

func (r *running) stop() {
	r.cancel()
	r.wg.Wait()
	for _, w := range r.watchers {
		w.Close()
	}
}
