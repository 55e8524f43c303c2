// Package logging builds the zerolog root logger used by the daemon.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects level, format and sinks.
type Config struct {
	Level  string
	Format string // console or json
	File   string // optional, rotated

	// MaxSizeMB and MaxBackups bound the rotated log file.
	MaxSizeMB  int
	MaxBackups int

	// Out defaults to os.Stdout
	Out io.Writer
}

// New returns the root logger and a closer for the file sink, if any.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var console io.Writer
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	case "json":
		console = out
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if path := strings.TrimSpace(cfg.File); path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
		}
		writers = append(writers, lj)
		closer = lj
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
