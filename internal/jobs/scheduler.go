// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"time"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
)

// Scheduler drives the periodic refresh sweep and keeps the queue and
// episode gauges current between sweeps.
type Scheduler struct {
	refresher *Refresher
	store     *store.Store
	cfg       *config.Holder
}

func NewScheduler(refresher *Refresher, st *store.Store, cfg *config.Holder) *Scheduler {
	return &Scheduler{refresher: refresher, store: st, cfg: cfg}
}

// Run blocks until the context is canceled. The first sweep happens
// immediately so a fresh install fills its library without waiting out a
// full interval; the per-channel recency guard keeps restart loops from
// hammering upstream.
func (s *Scheduler) Run(ctx context.Context) {
	logger := log.WithComponent("scheduler")

	interval := s.cfg.Get().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().
		Dur("poll_interval", interval).
		Msg("refresh scheduler started")

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
			// Pick up a hot-reloaded interval on the next lap.
			if next := s.cfg.Get().PollInterval; next > 0 && next != interval {
				logger.Info().
					Dur("old", interval).
					Dur("new", next).
					Msg("poll interval changed")
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	if _, err := s.refresher.RefreshAll(ctx, false); err != nil {
		if core.IsStateConflict(err) {
			// A manually triggered sweep is running; this lap yields.
			logger.Debug().Msg("scheduled sweep skipped, manual sweep in flight")
		} else if ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduled sweep failed")
		}
		return
	}
	s.updateGauges(ctx)
}

// updateGauges publishes queue and episode counts, zeroing statuses with
// no rows so stale values never linger after a drain.
func (s *Scheduler) updateGauges(ctx context.Context) {
	if counts, err := s.store.CountQueueByStatus(ctx); err == nil {
		for _, st := range core.AllQueueStatuses() {
			metrics.SetQueueDepth(st.String(), counts[st])
		}
	}
	if counts, err := s.store.CountEpisodesByStatus(ctx); err == nil {
		for _, st := range core.AllEpisodeStatuses() {
			metrics.SetEpisodeCount(st.String(), counts[st])
		}
	}
}
