// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/worker"
)

// App owns the long-lived runtime: the config watcher, the refresh
// scheduler, the worker pool and the stale-claim reaper. Server lifecycle
// is delegated to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	scheduler    *jobs.Scheduler
	pool         *worker.Pool
	reaper       *worker.Reaper
	reloadSignal os.Signal
}

// NewApp assembles the runtime orchestrator. A nil subsystem is simply
// not run, which keeps partial wirings usable in tests.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder, scheduler *jobs.Scheduler, pool *worker.Pool, reaper *worker.Reaper) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		scheduler:    scheduler,
		pool:         pool,
		reaper:       reaper,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts the background subsystems and blocks until ctx is canceled
// or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort: a daemon that cannot watch its config
	// file still runs with the boot-time config.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("config watcher not started")
		}
	}

	// SIGHUP forces a reload between file events.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("reloading config on signal")
					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.reaper != nil {
		g.Go(func() error {
			a.reaper.Run(ctx)
			return nil
		})
	}

	// The pool carries its own cancel; the manager's worker shutdown hook
	// stops it and waits for in-flight claims to be handed back.
	if a.pool != nil {
		a.pool.Start(ctx)
	}

	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// WaitForShutdown returns a context canceled by SIGINT or SIGTERM.
func WaitForShutdown() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
