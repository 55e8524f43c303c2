// Package poller periodically walks the watched directories and hands every
// file it finds to a handler. The daemon uses it to keep file metadata for
// files that existed before they were first written under watch.
package poller

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Default scan interval
	defaultScanInterval = 5 * time.Minute
)

// ErrSkipDir is returned by Handler to indicate that directory contents should be skipped
var ErrSkipDir = errors.New("skip directory")

// Handler is called for each file and directory found
type Handler func(path string, info fs.FileInfo) error

// Root is one directory to scan.
type Root struct {
	Path    string
	Recurse bool
	// Skip, if set, excludes entries by path relative to Path.
	Skip func(rel string) bool
}

// Config holds poller configuration
type Config struct {
	// Roots is called at the start of every scan so the set can change
	// between scans.
	Roots        func() []Root
	ScanInterval time.Duration
	Handler      Handler
	// AfterScan, if set, runs after each complete scan.
	AfterScan func()
	Logger    zerolog.Logger
}

// Poller performs periodic filesystem scans
type Poller struct {
	roots     func() []Root
	interval  time.Duration
	handler   Handler
	afterScan func()

	logger zerolog.Logger
}

// Stats summarizes one scan
type Stats struct {
	Files   int
	Dirs    int
	Skipped int
}

// NewPoller creates a new filesystem poller
func NewPoller(cfg Config) (*Poller, error) {
	if cfg.Roots == nil {
		return nil, errors.New("poller: Roots is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("poller: Handler is required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}

	return &Poller{
		roots:     cfg.Roots,
		interval:  cfg.ScanInterval,
		handler:   cfg.Handler,
		afterScan: cfg.AfterScan,
		logger:    cfg.Logger.With().Str("component", "poller").Logger(),
	}, nil
}

// Run starts the polling loop
func (p *Poller) Run(ctx context.Context) error {
	// Initial scan
	p.Scan()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Scan()
		}
	}
}

// Scan walks every root once. Errors are logged and scanning continues.
func (p *Poller) Scan() Stats {
	scanStart := time.Now()

	var total Stats
	for _, root := range p.roots() {
		st, err := p.scanRoot(root)
		if err != nil {
			p.logger.Warn().Err(err).Str("root", root.Path).Msg("scan error")
		}
		total.Files += st.Files
		total.Dirs += st.Dirs
		total.Skipped += st.Skipped
	}

	if p.afterScan != nil {
		p.afterScan()
	}

	p.logger.Debug().
		Dur("dur", time.Since(scanStart)).
		Int("files", total.Files).
		Int("dirs", total.Dirs).
		Int("skipped", total.Skipped).
		Msg("scan completed")
	return total
}

func (p *Poller) scanRoot(root Root) (Stats, error) {
	var st Stats

	err := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root.Path {
				return err
			}
			// Log but continue scanning
			p.logger.Debug().Err(err).Str("path", path).Msg("walk error")
			return nil
		}

		if path != root.Path && root.Skip != nil {
			if rel, rerr := filepath.Rel(root.Path, path); rerr == nil && root.Skip(rel) {
				st.Skipped++
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			p.logger.Debug().Err(err).Str("path", path).Msg("failed to get info")
			return nil
		}

		if d.IsDir() {
			st.Dirs++
			if path != root.Path && !root.Recurse {
				st.Skipped++
				return filepath.SkipDir
			}
			if err := p.handler(path, info); errors.Is(err, ErrSkipDir) {
				st.Skipped++
				return filepath.SkipDir
			}
			return nil
		}

		st.Files++
		if err := p.handler(path, info); err != nil && !errors.Is(err, ErrSkipDir) {
			p.logger.Debug().Err(err).Str("path", path).Msg("handler error")
		}
		return nil
	})
	return st, err
}
