package action

import (
	"time"

	"github.com/pkittenis/cronify/internal/config"
	"github.com/pkittenis/cronify/internal/matcher"
)

// Decision is the outcome of checking an action's time window.
type Decision int

const (
	Run Decision = iota
	Wait
	Skip
)

func (d Decision) String() string {
	switch d {
	case Run:
		return "run"
	case Wait:
		return "wait"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decide places now against the window [start, end] anchored on date in loc.
// For Wait the duration is the time left until the window opens, truncated to
// whole seconds.
func Decide(now time.Time, date matcher.Datestamp, start, end config.TimeOfDay, loc *time.Location) (Decision, time.Duration) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	windowStart := date.At(start, loc)
	windowEnd := date.At(end, loc)

	switch {
	case now.Before(windowStart):
		return Wait, windowStart.Sub(now).Truncate(time.Second)
	case now.After(windowStart) && now.After(windowEnd):
		return Skip, 0
	default:
		return Run, 0
	}
}
