// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
	"github.com/ManuGH/vid2pod/internal/telemetry"
)

// sweepParallelism bounds concurrent channel refreshes during a full sweep.
const sweepParallelism = 4

// Lister is the slice of the extractor the refresher needs.
type Lister interface {
	ListChannelVideos(ctx context.Context, channelURL string, limit int) ([]core.VideoRef, error)
}

// RefreshResult reports what a single channel refresh did.
type RefreshResult struct {
	ChannelID       string    `json:"channel_id"`
	VideosSeen      int       `json:"videos_seen"`
	EpisodesCreated int       `json:"episodes_created"`
	EpisodesQueued  int       `json:"episodes_queued"`
	Skipped         bool      `json:"skipped,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// SweepResult aggregates a full refresh across all enabled channels.
type SweepResult struct {
	Channels        int       `json:"channels"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	VideosSeen      int       `json:"videos_seen"`
	EpisodesCreated int       `json:"episodes_created"`
	EpisodesQueued  int       `json:"episodes_queued"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Refresher discovers upstream videos and turns them into pending
// episodes plus queue entries. Concurrent refreshes of the same channel
// coalesce onto one upstream listing; at most one full sweep runs at a
// time.
type Refresher struct {
	store  *store.Store
	lister Lister
	cfg    *config.Holder
	retain *Retention

	group    singleflight.Group
	sweeping atomic.Bool
	onQueued func()
}

// NewRefresher builds a refresher. retain may be nil in tests that do not
// care about eviction.
func NewRefresher(st *store.Store, lister Lister, cfg *config.Holder, retain *Retention) *Refresher {
	return &Refresher{store: st, lister: lister, cfg: cfg, retain: retain}
}

// OnEpisodesQueued registers a wake signal fired whenever a refresh
// queued new work. Must be set before the scheduler starts.
func (r *Refresher) OnEpisodesQueued(fn func()) {
	r.onQueued = fn
}

// RefreshChannel refreshes one channel. A concurrent refresh of the same
// channel joins the in-flight run and receives its result. force bypasses
// the recency guard.
func (r *Refresher) RefreshChannel(ctx context.Context, channelID string, force bool) (*RefreshResult, error) {
	v, err, _ := r.group.Do(channelID, func() (any, error) {
		ch, err := r.store.GetChannel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return r.refreshOne(ctx, ch, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RefreshResult), nil
}

// RefreshAll sweeps every enabled channel, oldest refresh first, with
// bounded parallelism. A second concurrent sweep is refused with a state
// conflict. Per-channel failures are counted and logged; the sweep
// continues.
func (r *Refresher) RefreshAll(ctx context.Context, force bool) (*SweepResult, error) {
	if !r.sweeping.CompareAndSwap(false, true) {
		return nil, &core.StateConflictError{
			Op:      "refresh all",
			Current: "running",
			Message: "a full refresh is already in progress",
		}
	}
	defer r.sweeping.Store(false)

	ctx, span := telemetry.Tracer("vid2pod.jobs").Start(ctx, "refresh.sweep",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	logger := log.WithComponentFromContext(ctx, "jobs")
	start := time.Now()

	enabled := true
	channels, err := r.store.ListChannels(ctx, store.ChannelFilter{
		Enabled: &enabled,
		OrderBy: "last_refresh_at",
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("event", "sweep.start").
		Int("channels", len(channels)).
		Bool("force", force).
		Msg("starting full refresh")

	var (
		mu  sync.Mutex
		agg SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)

	for i := range channels {
		ch := &channels[i]
		g.Go(func() error {
			res, err := r.RefreshChannel(gctx, ch.ID, force)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				agg.Failed++
				logger.Error().
					Err(err).
					Str("event", "sweep.channel_failed").
					Str("channel_id", ch.ID).
					Str("url", ch.URL).
					Msg("channel refresh failed, sweep continues")
			case res.Skipped:
				agg.Skipped++
			default:
				agg.Channels++
				agg.VideosSeen += res.VideosSeen
				agg.EpisodesCreated += res.EpisodesCreated
				agg.EpisodesQueued += res.EpisodesQueued
			}
			return nil
		})
	}
	_ = g.Wait()

	agg.CompletedAt = time.Now().UTC().Truncate(time.Second)
	logger.Info().
		Str("event", "sweep.success").
		Int("channels", agg.Channels).
		Int("skipped", agg.Skipped).
		Int("failed", agg.Failed).
		Int("episodes_created", agg.EpisodesCreated).
		Dur("duration", time.Since(start)).
		Msg("full refresh completed")
	return &agg, nil
}

// Sweeping reports whether a full refresh is currently running.
func (r *Refresher) Sweeping() bool {
	return r.sweeping.Load()
}

// refreshOne runs the per-channel procedure: list upstream, truncate to
// the window, insert episodes keyed by video_id (duplicates skip), queue
// the new ones, stamp last_refresh_at. Idempotent.
func (r *Refresher) refreshOne(ctx context.Context, ch *core.Channel, force bool) (*RefreshResult, error) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	cfg := r.cfg.Get()

	if !force && ch.LastRefreshAt != nil {
		if guard := cfg.PollInterval / 2; time.Since(*ch.LastRefreshAt) < guard {
			logger.Debug().
				Str("event", "refresh.skip_recent").
				Str("channel_id", ch.ID).
				Time("last_refresh_at", *ch.LastRefreshAt).
				Msg("skipping recently refreshed channel")
			return &RefreshResult{
				ChannelID:   ch.ID,
				Skipped:     true,
				CompletedAt: time.Now().UTC().Truncate(time.Second),
			}, nil
		}
	}

	ctx, span := telemetry.Tracer("vid2pod.jobs").Start(ctx, "refresh.channel",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(telemetry.ChannelAttributes(ch.ID, ch.Slug)...)

	start := time.Now()
	logger.Info().
		Str("event", "refresh.start").
		Str("channel_id", ch.ID).
		Str("url", ch.URL).
		Int("window_size", ch.WindowSize).
		Msg("refreshing channel")

	refs, err := r.lister.ListChannelVideos(ctx, ch.URL, ch.WindowSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream listing failed")
		metrics.RecordRefresh("failure", time.Since(start))
		return nil, err
	}
	// Upstream returns newest first; the window keeps the head.
	if len(refs) > ch.WindowSize {
		refs = refs[:ch.WindowSize]
	}

	res := &RefreshResult{ChannelID: ch.ID, VideosSeen: len(refs)}
	for _, ref := range refs {
		ep := &core.Episode{
			VideoID:     ref.VideoID,
			ChannelID:   ch.ID,
			Title:       ref.Title,
			PublishedAt: ref.PublishedAt,
		}
		err := r.store.CreateEpisode(ctx, ep, true, core.DefaultPriority, cfg.Queue.MaxAttempts)
		if core.IsDuplicate(err) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "episode insert failed")
			metrics.RecordRefresh("failure", time.Since(start))
			return nil, err
		}
		res.EpisodesCreated++
		res.EpisodesQueued++
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := r.store.SetChannelRefreshedAt(ctx, ch.ID, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh stamp failed")
		metrics.RecordRefresh("failure", time.Since(start))
		return nil, err
	}
	res.CompletedAt = now

	span.SetAttributes(telemetry.RefreshAttributes(res.VideosSeen, res.EpisodesCreated, res.EpisodesQueued)...)
	metrics.RecordRefresh("success", time.Since(start))
	metrics.RecordRefreshCounts(res.EpisodesCreated, res.EpisodesQueued)

	if res.EpisodesQueued > 0 && r.onQueued != nil {
		r.onQueued()
	}

	// Retention piggybacks on refresh so windows shrink promptly after a
	// window_size change, not only after the next completion.
	if r.retain != nil {
		if _, err := r.retain.SweepChannel(ctx, ch); err != nil {
			logger.Warn().
				Err(err).
				Str("event", "refresh.retention_failed").
				Str("channel_id", ch.ID).
				Msg("retention sweep after refresh failed")
		}
	}

	logger.Info().
		Str("event", "refresh.success").
		Str("channel_id", ch.ID).
		Int("videos_seen", res.VideosSeen).
		Int("episodes_created", res.EpisodesCreated).
		Int("episodes_queued", res.EpisodesQueued).
		Dur("duration", time.Since(start)).
		Msg("channel refreshed")
	return res, nil
}
