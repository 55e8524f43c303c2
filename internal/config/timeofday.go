package config

import (
	"fmt"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const timeOfDayLayout = "15:04:05"

// TimeOfDay is a wall-clock time with no date or zone.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay parses HH:MM:SS.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM:SS", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// MustTimeOfDay is ParseTimeOfDay that panics on error.
func MustTimeOfDay(s string) *TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return &t
}

// String returns HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// UnmarshalYAML implements yaml.v3 Unmarshaler.
func (t *TimeOfDay) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseTimeOfDay(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = parsed
	return nil
}
