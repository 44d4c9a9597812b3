// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/vid2pod/internal/log"
)

// Holder holds configuration with atomic reloading capability. It provides
// thread-safe access to configuration and supports hot reloading from file
// changes or a manual trigger via the API.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- Config
}

// NewHolder creates a configuration holder with the initial config.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current:         initial,
		loader:          loader,
		logger:          log.WithComponent("config"),
		reloadListeners: make([]chan<- Config, 0),
	}
}

// Get returns the current configuration (thread-safe read).
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads configuration from the file and environment. If the new
// configuration fails to load or validate, the old one is kept and an error
// is returned, so updates are all-or-nothing.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	// Log level changes apply immediately without restart.
	if oldCfg.Log.Level != newCfg.Log.Level {
		log.SetLevel(newCfg.Log.Level)
	}

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// StartWatcher starts watching the config file for changes.
// If the loader has no config path, this is a no-op (config comes from ENV only).
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.loader.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	h.watcher = watcher

	if err := watcher.Add(h.loader.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.loader.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)

	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce to avoid multiple reloads for rapid file changes.
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Write and Create cover vim, nano and plain redirects.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive config reload notifications.
// The channel receives the new config whenever a reload succeeds.
// The caller is responsible for closing the channel.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(newCfg Config) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the differences that matter operationally.
func (h *Holder) logChanges(old, newCfg Config) {
	if old.PollInterval != newCfg.PollInterval {
		h.logger.Info().
			Dur("old", old.PollInterval).
			Dur("new", newCfg.PollInterval).
			Msg("config changed: PollInterval")
	}
	if old.MaxConcurrentDownloads != newCfg.MaxConcurrentDownloads {
		h.logger.Info().
			Int("old", old.MaxConcurrentDownloads).
			Int("new", newCfg.MaxConcurrentDownloads).
			Msg("config changed: MaxConcurrentDownloads")
	}
	if old.Log.Level != newCfg.Log.Level {
		h.logger.Info().
			Str("old", old.Log.Level).
			Str("new", newCfg.Log.Level).
			Msg("config changed: LogLevel")
	}
	if old.Queue.MaxAttempts != newCfg.Queue.MaxAttempts {
		h.logger.Info().
			Int("old", old.Queue.MaxAttempts).
			Int("new", newCfg.Queue.MaxAttempts).
			Msg("config changed: Queue.MaxAttempts")
	}
	if old.Cache.TTL != newCfg.Cache.TTL {
		h.logger.Info().
			Dur("old", old.Cache.TTL).
			Dur("new", newCfg.Cache.TTL).
			Msg("config changed: Cache.TTL")
	}
	if old.Server.BaseURL != newCfg.Server.BaseURL {
		h.logger.Info().
			Str("old", old.Server.BaseURL).
			Str("new", newCfg.Server.BaseURL).
			Msg("config changed: Server.BaseURL")
	}
}
