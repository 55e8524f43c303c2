package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sys/unix"

	"github.com/pkittenis/cronify/internal/action"
	"github.com/pkittenis/cronify/internal/config"
	"github.com/pkittenis/cronify/internal/logging"
	"github.com/pkittenis/cronify/internal/matcher"
	"github.com/pkittenis/cronify/internal/poller"
	"github.com/pkittenis/cronify/internal/pool"
	"github.com/pkittenis/cronify/internal/state"
	"github.com/pkittenis/cronify/internal/watchset"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	reloadSignals = []os.Signal{unix.SIGHUP, unix.SIGUSR1}
	stopSignals   = []os.Signal{unix.SIGINT, unix.SIGTERM}
)

// configFlag is shared between commands
var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the YAML configuration",
	Value:   config.DefaultPath,
	Sources: cli.EnvVars("CRONIFY_CONFIG"),
}

func main() {
	app := &cli.Command{
		Name:    "cronify",
		Usage:   "Run commands when files appear in watched directories",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the daemon",
				Flags: []cli.Flag{
					configFlag,
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of concurrent action workers",
						Value:   pool.DefaultWorkers,
						Sources: cli.EnvVars("CRONIFY_WORKERS"),
					},
					&cli.StringFlag{
						Name:    "log-level",
						Usage:   "Log level (debug, info, warn, error)",
						Value:   "info",
						Sources: cli.EnvVars("CRONIFY_LOG_LEVEL"),
					},
					&cli.StringFlag{
						Name:  "log-format",
						Usage: "Log output format (console or json)",
						Value: "console",
					},
					&cli.StringFlag{
						Name:  "log-file",
						Usage: "Also write logs to this file, rotated",
					},
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period after the last write before a file counts as closed, where close-write is emulated (non-Linux)",
						Value: 250 * time.Millisecond,
					},
					&cli.DurationFlag{
						Name:  "scan-interval",
						Usage: "Interval for refreshing file metadata of watched directories",
						Value: 5 * time.Minute,
					},
				},
				Action: serve,
			},
			{
				Name:   "validate",
				Usage:  "Check the configuration and exit",
				Flags:  []cli.Flag{configFlag},
				Action: validate,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	logger, closer, err := logging.New(logging.Config{
		Level:  cmd.String("log-level"),
		Format: cmd.String("log-format"),
		File:   cmd.String("log-file"),
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	configPath := cmd.String("config")
	scanInterval := cmd.Duration("scan-interval")
	if scanInterval <= 0 {
		return fmt.Errorf("--scan-interval must be positive")
	}

	// Create components
	compiler, err := matcher.NewCompiler(0)
	if err != nil {
		return fmt.Errorf("failed to create matcher: %w", err)
	}

	// Entries outlive at least one rescan
	cache := state.NewCache(2 * scanInterval)

	workers := pool.New(pool.Config{Workers: cmd.Int("workers"), Logger: logger})
	defer workers.Stop()

	ws, err := watchset.New(watchset.Options{
		Source:   config.FileSource(configPath),
		Pool:     workers,
		Runner:   action.NewRunner(cache, nil, logger.With().Str("component", "action").Logger()),
		Compiler: compiler,
		Files:    cache,
		Debounce: cmd.Duration("debounce"),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := ws.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer ws.Stop()

	p, err := poller.NewPoller(poller.Config{
		Roots:        ws.Roots,
		ScanInterval: scanInterval,
		Handler: func(path string, info fs.FileInfo) error {
			if !info.IsDir() {
				cache.Add(path, info)
			}
			return nil
		},
		AfterScan: cache.Clean,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create poller: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("poller stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append(reloadSignals, stopSignals...)...)
	defer signal.Stop(sigCh)

	notify(logger, daemon.SdNotifyReady)
	logger.Info().
		Str("config", configPath).
		Int("workers", workers.Stats().Workers).
		Str("version", Version).
		Msg("cronify started")

	for {
		select {
		case sig := <-sigCh:
			if isReload(sig) {
				logger.Info().Str("signal", sig.String()).Msg("reloading configuration")
				notify(logger, daemon.SdNotifyReloading)
				if err := ws.Reload(ctx); err != nil {
					logger.Error().Err(err).Msg("reload failed")
				}
				notify(logger, daemon.SdNotifyReady)
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		}

		notify(logger, daemon.SdNotifyStopping)
		cancel()
		ws.Stop()
		st := workers.Stats()
		workers.Stop()
		wg.Wait()

		logger.Info().Uint64("completed", st.Completed).Uint64("failed", st.Failed).Int("abandoned", st.Queued).Msg("cronify stopped")
		return nil
	}
}

func validate(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	cfg, err := config.Load(path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := watchset.Check(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("%s: invalid configuration:\n%v", path, err), 1)
	}

	fmt.Fprintf(cmd.Root().Writer, "%s: OK (%d watches)\n", path, len(cfg))
	return nil
}

func isReload(sig os.Signal) bool {
	for _, s := range reloadSignals {
		if s == sig {
			return true
		}
	}
	return false
}

// notify reports state to systemd. It is a no-op outside systemd.
func notify(logger zerolog.Logger, status string) {
	if _, err := daemon.SdNotify(false, status); err != nil {
		logger.Debug().Err(err).Str("state", status).Msg("sd_notify failed")
	}
}
