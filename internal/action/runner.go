// Package action expands an action's arguments for a file event, gates it on
// its daily time window and runs its command.
package action

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkittenis/cronify/internal/config"
	"github.com/pkittenis/cronify/internal/matcher"
	"github.com/pkittenis/cronify/internal/watcher"
)

// ModTimer looks up a file's modification time. *state.Cache implements it.
type ModTimer interface {
	ModTime(path string) (time.Time, bool)
}

// Job is one action to run for one event.
type Job struct {
	Watch    string // watch entry name, for logging
	Event    watcher.Event
	Action   config.Action
	Location *time.Location // nil means time.Local
}

// Runner executes jobs. Nil fields fall back to os/exec, the real clock and
// no notification.
type Runner struct {
	Executor Executor
	Files    ModTimer
	Notify   func(watcher.Event)
	Logger   zerolog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner returns a Runner using os/exec and the real clock.
func NewRunner(files ModTimer, notify func(watcher.Event), logger zerolog.Logger) *Runner {
	return &Runner{
		Executor: ExecExecutor{},
		Files:    files,
		Notify:   notify,
		Logger:   logger,
	}
}

// Run processes one job on the calling goroutine, sleeping through any wait
// for its window to open. Command failures are logged, not returned; the
// error result is reserved for failures outside the command itself.
func (r *Runner) Run(ctx context.Context, job Job) error {
	act := job.Action
	ev := job.Event
	loc := job.Location
	if loc == nil {
		loc = time.Local
	}

	log := r.Logger.With().
		Str("watch", job.Watch).
		Str("action", act.Name).
		Str("file", ev.Path).
		Str("event", ev.Kind.String()).
		Logger()

	var date matcher.Datestamp
	if act.HasWindow() || UsesDatestamp(act.Args) {
		var fromName bool
		date, fromName = matcher.ResolveDatestamp(ev.Name, r.modTime(ev).In(loc))
		if !fromName {
			log.Debug().Str("date", date.String()).Msg("no datestamp in filename, using modification time")
		}
	}

	if act.HasWindow() {
		decision, delay := Decide(r.now(), date, *act.Start, *act.End, loc)
		switch decision {
		case Skip:
			log.Info().
				Str("date", date.String()).
				Str("start_time", act.Start.String()).
				Str("end_time", act.End.String()).
				Msg("time window has passed, skipping action")
			return nil
		case Wait:
			log.Info().Dur("delay", delay).Str("start_time", act.Start.String()).Msg("waiting for time window to open")
			if err := r.sleep(ctx, delay); err != nil {
				log.Info().Err(err).Msg("wait interrupted, action not run")
				return nil
			}
		}
	}

	args, _ := ExpandArgs(act.Args, ev, date)

	if r.Notify != nil {
		r.Notify(ev)
	}

	log.Debug().Str("cmd", act.Cmd).Strs("args", args).Msg("executing action")
	res, err := r.executor().Execute(ctx, act.Cmd, args)
	if err != nil {
		log.Error().Err(err).Str("cmd", act.Cmd).Strs("args", args).Msg("failed to run command")
		return nil
	}
	if res.ExitCode != 0 {
		log.Error().
			Str("cmd", act.Cmd).
			Strs("args", args).
			Int("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(res.Stderr)).
			Msg("command failed")
		return nil
	}

	ok := log.Info().Str("cmd", act.Cmd).Dur("dur", res.Duration)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		ok = ok.Str("stdout", out)
	}
	ok.Msg("command completed")
	return nil
}

// modTime returns the file's modification time, or the event time when the
// file is unknown.
func (r *Runner) modTime(ev watcher.Event) time.Time {
	if r.Files != nil {
		if t, ok := r.Files.ModTime(ev.Path); ok {
			return t
		}
	}
	if !ev.Time.IsZero() {
		return ev.Time
	}
	return r.now()
}

func (r *Runner) executor() Executor {
	if r.Executor != nil {
		return r.Executor
	}
	return ExecExecutor{}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
