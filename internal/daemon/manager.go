// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon owns the process lifecycle: the HTTP server, the
// long-lived background loops, and an ordered graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vid2pod/internal/config"
)

// defaultShutdownWindow bounds teardown when no ShutdownTimeout is
// configured, and caps the detached context Start hands to Shutdown.
const defaultShutdownWindow = 30 * time.Second

// ShutdownHook is a cleanup step run during graceful shutdown. Hooks run
// in reverse registration order (LIFO), so a dependency registered early
// is torn down last.
type ShutdownHook func(ctx context.Context) error

// Manager runs the HTTP server and coordinates shutdown.
type Manager interface {
	// Start serves until ctx is canceled or the server fails, then shuts
	// down and returns.
	Start(ctx context.Context) error

	// Shutdown drains the server and runs the shutdown hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook appends a named cleanup step.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps
	logger    zerolog.Logger

	apiServer *http.Server

	mu       sync.Mutex
	hooks    []namedHook // run back to front
	started  bool
	stopping bool
}

// NewManager validates deps and builds a manager.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

// Start serves HTTP and blocks until ctx is canceled or the server fails.
// Both exits run a full Shutdown before returning.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}
	if err := m.markStarted(); err != nil {
		return err
	}

	m.logger.Info().
		Str("listen", m.serverCfg.ListenAddr()).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	failed := make(chan error, 1)
	m.serveHTTP(failed)

	var cause error
	select {
	case cause = <-failed:
		m.logger.Error().Err(cause).Msg("server error, initiating shutdown")
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
	}

	// Detached but bounded: teardown still gets its full window when the
	// parent context dies with the process.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownWindow)
	defer cancel()

	err := m.Shutdown(shutdownCtx)
	switch {
	case cause != nil && err != nil:
		return fmt.Errorf("server error and shutdown failure: %w", errors.Join(cause, err))
	case cause != nil:
		return cause
	default:
		return err
	}
}

func (m *manager) markStarted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("manager already started")
	}
	m.started = true
	return nil
}

// serveHTTP builds the server from the configured timeouts and runs it in
// the background, reporting any failure on failed.
func (m *manager) serveHTTP(failed chan<- error) {
	m.apiServer = &http.Server{
		Addr:              m.serverCfg.ListenAddr(),
		Handler:           m.deps.APIHandler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}

	go func() {
		m.logger.Info().Str("addr", m.apiServer.Addr).Msg("API server listening")
		err := m.apiServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str("event", "api.server_failed").Msg("API server failed")
			failed <- fmt.Errorf("api server: %w", err)
		}
	}()
}

// Shutdown drains the HTTP server, then runs the hooks newest-first. All
// steps share one bounded context; a second call is a no-op.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}
	proceed, err := m.markStopping()
	if !proceed {
		return err
	}

	m.logger.Info().Msg("shutting down daemon")

	window := m.serverCfg.ShutdownTimeout
	if window <= 0 {
		window = defaultShutdownWindow
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), window)
	defer cancel()

	var errs []error
	if m.apiServer != nil {
		m.logger.Debug().Msg("draining API server")
		if err := m.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("API server shutdown: %w", err))
		}
	}
	errs = append(errs, m.runHooks(shutdownCtx)...)

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

// markStopping flips the manager into the stopping state. It reports
// whether this caller should perform the teardown.
func (m *manager) markStopping() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return false, nil
	}
	if !m.started {
		return false, ErrManagerNotStarted
	}
	m.stopping = true
	return true, nil
}

// runHooks executes the registered hooks newest-first so nothing outlives
// what it depends on, and keeps going past failures.
func (m *manager) runHooks(ctx context.Context) []error {
	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	m.logger.Debug().Int("hooks", len(hooks)).Msg("executing shutdown hooks")

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(start)).
				Msg("shutdown hook failed")
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(start)).
			Msg("shutdown hook completed")
	}
	return errs
}

// RegisterShutdownHook appends a cleanup step run during Shutdown, after
// the HTTP server has drained.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
