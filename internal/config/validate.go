package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError names the configuration keys a problem was found under.
type ValidationError struct {
	Watch    string
	Filemask string
	Action   string
	Reason   string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "watch %q", e.Watch)
	if e.Filemask != "" {
		fmt.Fprintf(&b, ": filemask %q", e.Filemask)
	}
	if e.Action != "" {
		fmt.Fprintf(&b, ": action %q", e.Action)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Validate checks the structure of cfg before any watch is activated.
// All problems are reported, joined.
func Validate(cfg Config) error {
	if len(cfg) == 0 {
		return ErrEmpty
	}

	var errs []error
	for _, path := range cfg.Paths() {
		errs = append(errs, validateWatch(path, cfg[path])...)
	}
	return errors.Join(errs...)
}

func validateWatch(path string, w Watch) []error {
	var errs []error
	fail := func(filemask, action, reason string) {
		errs = append(errs, &ValidationError{Watch: path, Filemask: filemask, Action: action, Reason: reason})
	}

	if strings.TrimSpace(w.Name) == "" {
		fail("", "", "missing name")
	}
	if _, err := w.Location(); err != nil {
		fail("", "", err.Error())
	}
	if len(w.Filemasks) == 0 {
		fail("", "", "missing or empty filemasks")
		return errs
	}

	masks := make([]string, 0, len(w.Filemasks))
	for m := range w.Filemasks {
		masks = append(masks, m)
	}
	sort.Strings(masks)

	for _, mask := range masks {
		if strings.TrimSpace(mask) == "" {
			fail(mask, "", "empty filemask pattern")
		}
		fm := w.Filemasks[mask]
		if len(fm.Actions) == 0 {
			fail(mask, "", "missing or empty actions")
			continue
		}
		for i, a := range fm.Actions {
			label := a.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i)
			}
			if strings.TrimSpace(a.Cmd) == "" {
				fail(mask, label, "missing cmd")
			}
			if a.Args == nil {
				fail(mask, label, "missing args")
			}
			if (a.Start == nil) != (a.End == nil) {
				fail(mask, label, "start_time and end_time must be set together")
			}
		}
	}
	return errs
}
