// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
)

// Reaper returns queue entries whose worker disappeared. Every claim
// carries a heartbeat on queue.updated_at; an entry still in_progress past
// the stuck threshold lost its process and goes back to the queue.
type Reaper struct {
	store *store.Store
	cfg   *config.Holder
}

func NewReaper(st *store.Store, cfg *config.Holder) *Reaper {
	return &Reaper{store: st, cfg: cfg}
}

// RevertAbandoned sweeps every in_progress entry regardless of age. Runs
// once at boot, before the first worker claims; the cutoff margin covers a
// restart within the clock second of the crash.
func (r *Reaper) RevertAbandoned(ctx context.Context) error {
	n, err := r.store.RevertStale(ctx, time.Now().Add(time.Second))
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.IncReaperRevert(n)
		logger := log.WithComponent("reaper")
		logger.Warn().
			Int("reverted", n).
			Str("event", "reaper.boot_sweep").
			Msg("reverted claims abandoned by the previous run")
	}
	return nil
}

// Run scans for stale claims every quarter of the stuck threshold until
// ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	logger := log.WithComponent("reaper")

	threshold := r.threshold()
	ticker := time.NewTicker(threshold / 4)
	defer ticker.Stop()
	logger.Info().Dur("stuck_threshold", threshold).Msg("stale claim reaper started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("stale claim reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx, logger)
			if next := r.threshold(); next != threshold {
				threshold = next
				ticker.Reset(threshold / 4)
			}
		}
	}
}

func (r *Reaper) sweep(ctx context.Context, logger zerolog.Logger) {
	n, err := r.store.RevertStale(ctx, time.Now().Add(-r.threshold()))
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Str("event", "reaper.sweep_failed").Msg("stale claim sweep failed")
		}
		return
	}
	if n > 0 {
		metrics.IncReaperRevert(n)
		logger.Warn().Int("reverted", n).Str("event", "reaper.revert").Msg("reverted stale claims")
	}
}

func (r *Reaper) threshold() time.Duration {
	d := r.cfg.Get().Queue.StuckThreshold
	if d <= 0 {
		d = 2 * time.Hour
	}
	return d
}
