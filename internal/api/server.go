// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api provides the management HTTP surface: the admin API under
// /api/v1, the podcast feeds under /feed and /feeds, and the hardened
// media file server.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/vid2pod/internal/api/middleware"
	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/feed"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/store"
)

// Validation errors returned by NewServer.
var (
	ErrMissingStore     = errors.New("store is required")
	ErrMissingFeeds     = errors.New("feed service is required")
	ErrMissingRefresher = errors.New("refresher is required")
	ErrMissingLayout    = errors.New("layout is required")
	ErrMissingConfig    = errors.New("config holder is required")
)

// Refresher triggers upstream listing sweeps. Satisfied by *jobs.Refresher;
// an interface so handler tests can script outcomes.
type Refresher interface {
	RefreshChannel(ctx context.Context, channelID string, force bool) (*jobs.RefreshResult, error)
	RefreshAll(ctx context.Context, force bool) (*jobs.SweepResult, error)
	Sweeping() bool
}

// Waker nudges the worker pool after work is enqueued. Satisfied by
// *worker.Pool.
type Waker interface {
	Wake()
}

// Deps carries the collaborators the server needs.
type Deps struct {
	Store     *store.Store
	Feeds     *feed.Service
	Refresher Refresher
	Layout    *fsutil.Layout
	Config    *config.Holder

	// Pool is optional; a nil pool means retries wait for the next poll lap.
	Pool Waker

	// Version stamps the health endpoint.
	Version string
}

// Server is the HTTP API for the daemon. Construct with NewServer and mount
// Handler on an http.Server.
type Server struct {
	store     *store.Store
	feeds     *feed.Service
	refresher Refresher
	layout    *fsutil.Layout
	cfg       *config.Holder
	pool      Waker

	version   string
	startedAt time.Time
}

// NewServer validates deps and builds the server.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, ErrMissingStore
	case deps.Feeds == nil:
		return nil, ErrMissingFeeds
	case deps.Refresher == nil:
		return nil, ErrMissingRefresher
	case deps.Layout == nil:
		return nil, ErrMissingLayout
	case deps.Config == nil:
		return nil, ErrMissingConfig
	}

	return &Server{
		store:     deps.Store,
		feeds:     deps.Feeds,
		refresher: deps.Refresher,
		layout:    deps.Layout,
		cfg:       deps.Config,
		pool:      deps.Pool,
		version:   deps.Version,
		startedAt: time.Now(),
	}, nil
}

// Handler builds the router with the canonical middleware stack and all
// routes mounted.
func (s *Server) Handler() http.Handler {
	tracing := ""
	if s.cfg.Get().Telemetry.Enabled {
		tracing = "vid2pod-api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		CSP:            middleware.DefaultCSP,
		EnableMetrics:  true,
		TracingService: tracing,
		EnableLogging:  true,
	})
	r.NotFound(notFoundHandler)
	r.MethodNotAllowed(methodNotAllowedHandler)

	readLimit := middleware.ReadLimit()
	writeLimit := middleware.WriteLimit()
	triggerLimit := middleware.TriggerLimit()

	adminAuth := basicAuth("vid2pod admin", func() (string, string) {
		c := s.cfg.Get().Server
		return c.AdminUser, c.AdminPassword
	})
	feedAuth := basicAuth("vid2pod feeds", func() (string, string) {
		c := s.cfg.Get().Server
		return c.FeedUser, c.FeedPassword
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health stays reachable without credentials for probes.
		r.With(readLimit).Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth)

			r.Group(func(r chi.Router) {
				r.Use(readLimit)
				r.Get("/status", s.handleStatus)
				r.Get("/queue", s.handleQueue)
				r.Get("/channels", s.handleListChannels)
				r.Get("/channels/{channelID}", s.handleGetChannel)
				r.Get("/channels/{channelID}/episodes", s.handleListChannelEpisodes)
				r.Get("/episodes/{episodeID}", s.handleGetEpisode)
			})

			r.Group(func(r chi.Router) {
				r.Use(writeLimit)
				r.Post("/channels", s.handleCreateChannel)
				r.Patch("/channels/{channelID}", s.handlePatchChannel)
				r.Delete("/channels/{channelID}", s.handleDeleteChannel)
				r.Delete("/episodes/{episodeID}", s.handleDeleteEpisode)
				r.Post("/episodes/{episodeID}/retry", s.handleRetryEpisode)
			})

			r.Group(func(r chi.Router) {
				r.Use(triggerLimit)
				r.Post("/channels/{channelID}/refresh", s.handleRefreshChannel)
				r.Post("/refresh-all", s.handleRefreshAll)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(feedAuth)
		r.Use(readLimit)
		r.Get("/feed/{channelID}/audio.rss", s.handleChannelFeed(feed.VariantAudio))
		r.Get("/feed/{channelID}/video.rss", s.handleChannelFeed(feed.VariantVideo))
		r.Get("/feed/{channelID}/atom.xml", s.handleChannelAtom)
		r.Get("/feeds/all.rss", s.handleCombinedFeed(feed.VariantAudio))
		r.Get("/feeds/all-video.rss", s.handleCombinedFeed(feed.VariantVideo))
		r.Handle("/feeds/{slug}/{variant}/{filename}", s.mediaHandler())
	})

	r.With(adminAuth).Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// wake nudges the worker pool when one is wired.
func (s *Server) wake() {
	if s.pool != nil {
		s.pool.Wake()
	}
}
