// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vid2pod/internal/api"
	"github.com/ManuGH/vid2pod/internal/cache"
	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/daemon"
	"github.com/ManuGH/vid2pod/internal/extractor"
	"github.com/ManuGH/vid2pod/internal/feed"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/ratelimit"
	"github.com/ManuGH/vid2pod/internal/store"
	"github.com/ManuGH/vid2pod/internal/telemetry"
	"github.com/ManuGH/vid2pod/internal/transcoder"
	"github.com/ManuGH/vid2pod/internal/version"
	"github.com/ManuGH/vid2pod/internal/worker"
)

// probeTimeout bounds the boot-time tool version probes.
const probeTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthcheckCLI(os.Args[2:], os.Stdout, os.Stderr))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Config path: explicit flag first, VID2POD_CONFIG second. An empty
	// path runs on environment variables and defaults alone.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		effectiveConfigPath = strings.TrimSpace(os.Getenv("VID2POD_CONFIG"))
	}

	loader := config.NewLoader(effectiveConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Configure(log.Config{Level: "info"})
		logger := log.WithComponent("daemon")
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	logger := log.WithComponent("daemon")

	// Shutdown context: SIGINT/SIGTERM cancel it, everything below hangs
	// off it.
	ctx := daemon.WaitForShutdown()

	if effectiveConfigPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Server.ListenAddr()).
		Msg("starting vid2pod")

	// Log key configuration
	logger.Info().Msgf("→ Data dir: %s", cfg.Storage.DataDir)
	logger.Info().Msgf("→ Database: %s", cfg.Database.Path)
	logger.Info().Msgf("→ Base URL: %s", cfg.Server.BaseURL)
	logger.Info().Msgf("→ Refresh: every %s, %d download workers", cfg.PollInterval, cfg.MaxConcurrentDownloads)
	logger.Info().Msgf("→ Cache: %s (ttl %s)", cfg.Cache.Backend, cfg.Cache.TTL)
	if len(cfg.Channels) > 0 {
		logger.Info().Msgf("→ Seed channels: %d configured", len(cfg.Channels))
	}
	if cfg.Server.AdminUser != "" {
		logger.Info().Msg("→ Admin auth: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ Admin auth: NOT configured. Set server.admin_user to protect the management API.")
	}
	if cfg.Server.FeedUser != "" {
		logger.Info().Msg("→ Feed auth: configured")
	}

	// Storage layout before anything touches the data dir. Temp holds only
	// in-flight work, so leftovers from a previous run are cleared.
	layout, err := fsutil.NewLayout(cfg.Storage.DataDir, cfg.Storage.TempDir)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "storage.layout_failed").
			Msg("failed to prepare storage layout")
	}
	if err := layout.ResetTempDir(); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "storage.temp_reset_failed").
			Msg("could not clear temp dir")
	}

	// Tool adapters share one upstream throttle so refresh sweeps and
	// downloads cannot gang up on the remote site.
	throttle := ratelimit.NewThrottle(cfg.Tools.UpstreamRate, cfg.Tools.UpstreamBurst)
	fetch := extractor.New(extractor.Config{
		Path:            cfg.Tools.YtdlpPath,
		ListTimeout:     cfg.Tools.ListTimeout,
		MetadataTimeout: cfg.Tools.MetadataTimeout,
		DownloadTimeout: cfg.Tools.DownloadTimeout,
		KillGrace:       cfg.Tools.KillGrace,
	}, throttle)
	encode := transcoder.New(transcoder.Config{
		Path:      cfg.Tools.FFmpegPath,
		Timeout:   cfg.Tools.TranscodeTimeout,
		KillGrace: cfg.Tools.KillGrace,
	})
	probeTools(ctx, logger, fetch, encode)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("path", cfg.Database.Path).
			Msg("failed to open store")
	}

	feedCache, err := newFeedCache(cfg.Cache, logger)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "cache.init_failed").
			Str("backend", cfg.Cache.Backend).
			Msg("failed to initialize feed cache")
	}
	feeds := feed.NewService(st, feedCache, feed.NewGenerator(cfg.Server.BaseURL), cfg.Cache.TTL)
	// Every store write that changes feed content drops the cached
	// documents before the write returns.
	st.OnFeedChange(feeds.Invalidate)

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "vid2pod",
		ServiceVersion: version.Version,
		Environment:    environment(),
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.Sampling,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize telemetry")
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Tracing: %s to %s (sampling %.2f)", cfg.Telemetry.Exporter, cfg.Telemetry.Endpoint, cfg.Telemetry.Sampling)
	}

	// Hot reload support: watch the config file and allow SIGHUP-triggered
	// reload. The holder hands the live config to every subsystem.
	cfgHolder := config.NewHolder(cfg, config.NewLoader(effectiveConfigPath))

	retain := jobs.NewRetention(st, layout)
	refresher := jobs.NewRefresher(st, fetch, cfgHolder, retain)
	scheduler := jobs.NewScheduler(refresher, st, cfgHolder)
	pool := worker.NewPool(st, fetch, encode, layout, cfgHolder, retain)
	reaper := worker.NewReaper(st, cfgHolder)
	// A refresh that queued new episodes wakes the pool instead of letting
	// the work sit until the next idle poll.
	refresher.OnEpisodesQueued(pool.Wake)

	if len(cfg.Channels) > 0 {
		if err := jobs.SeedChannels(ctx, st, cfg.Channels); err != nil {
			logger.Error().
				Err(err).
				Str("event", "seed.failed").
				Msg("channel seeding failed")
		}
	}

	// Claims abandoned by a previous run go back to pending before any
	// worker starts claiming.
	if err := reaper.RevertAbandoned(ctx); err != nil {
		logger.Error().
			Err(err).
			Str("event", "reaper.startup_failed").
			Msg("failed to revert abandoned claims")
	}

	srv, err := api.NewServer(api.Deps{
		Store:     st,
		Feeds:     feeds,
		Refresher: refresher,
		Layout:    layout,
		Config:    cfgHolder,
		Pool:      pool,
		Version:   version.Version,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "api.init_failed").
			Msg("failed to build API server")
	}

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation_failed").
			Msg("failed to create daemon manager")
	}

	// Hooks run LIFO: workers drain first so nothing writes to a closed
	// store, the trace pipeline flushes, then cache and store close.
	mgr.RegisterShutdownHook("store", func(context.Context) error { return st.Close() })
	mgr.RegisterShutdownHook("cache", func(context.Context) error { return feedCache.Close() })
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("workers", func(context.Context) error { pool.Stop(); return nil })

	app := daemon.NewApp(logger, mgr, cfgHolder, scheduler, pool, reaper)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("server exiting")
}

// newFeedCache builds the configured cache backend. Redis failures are
// fatal upstream: a daemon configured for a shared cache should not fall
// back to a private one silently.
func newFeedCache(cfg config.CacheConfig, logger zerolog.Logger) (cache.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemoryCache(0), nil
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (supported: memory, redis)", cfg.Backend)
	}
}

// probeTools logs the tool versions. A failed probe is loud but not
// fatal: the daemon still serves its existing library, only new work
// fails.
func probeTools(ctx context.Context, logger zerolog.Logger, fetch *extractor.Client, encode *transcoder.Client) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if v, err := fetch.Version(probeCtx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "tools.probe_failed").
			Str("tool", "yt-dlp").
			Msg("→ yt-dlp: NOT available, downloads will fail")
	} else {
		logger.Info().Msgf("→ yt-dlp: %s", v)
	}

	if v, err := encode.Version(probeCtx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "tools.probe_failed").
			Str("tool", "ffmpeg").
			Msg("→ ffmpeg: NOT available, transcodes will fail")
	} else {
		logger.Info().Msgf("→ ffmpeg: %s", v)
	}
}

// environment reports the deployment environment for trace resources.
func environment() string {
	if env := strings.TrimSpace(os.Getenv("VID2POD_ENVIRONMENT")); env != "" {
		return env
	}
	return "production"
}
