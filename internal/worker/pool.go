// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package worker drains the download queue. A fixed pool of claim-driven
// workers runs each episode through download, transcode and publish; a
// per-claim heartbeat keeps the lease fresh while child processes run, and
// a reaper returns claims whose worker disappeared. Failures are retried
// on a fixed backoff schedule; not-found and forbidden bury an episode on
// first sight.
package worker

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/extractor"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
	"github.com/ManuGH/vid2pod/internal/telemetry"
	"github.com/ManuGH/vid2pod/internal/transcoder"
)

// Fetcher is the slice of the extractor the pipeline consumes.
type Fetcher interface {
	DownloadVideo(ctx context.Context, videoID, destDir string) (*extractor.Download, error)
	FetchVideoMetadata(ctx context.Context, videoID string) (*core.VideoMetadata, error)
}

// Encoder is the slice of the transcoder the pipeline consumes.
type Encoder interface {
	ToAudio(ctx context.Context, input, output string, spec transcoder.AudioSpec) (int64, error)
	ToVideo(ctx context.Context, input, output string, spec transcoder.VideoSpec) (int64, error)
}

// Pool owns the download workers. Start launches them, Stop cancels and
// waits. The pool size is fixed for its lifetime; the idle poll interval
// follows config reloads on the next lap.
type Pool struct {
	store  *store.Store
	fetch  Fetcher
	encode Encoder
	layout *fsutil.Layout
	cfg    *config.Holder
	retain *jobs.Retention

	wake chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool wires a pool over the store and the two tool adapters. retain
// may be nil in tests.
func NewPool(st *store.Store, fetch Fetcher, encode Encoder, layout *fsutil.Layout, cfg *config.Holder, retain *jobs.Retention) *Pool {
	return &Pool{
		store:  st,
		fetch:  fetch,
		encode: encode,
		layout: layout,
		cfg:    cfg,
		retain: retain,
		wake:   make(chan struct{}, 1),
	}
}

// Start launches max_concurrent_downloads workers under ctx.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		n := p.cfg.Get().MaxConcurrentDownloads
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i+1)
		}
		logger := log.WithComponent("worker")
		logger.Info().Int("workers", n).Msg("download workers started")
	})
}

// Stop cancels the workers and waits for the current steps to wind down.
// Outcome writes run on a detached context, so a claim in flight when the
// cancel lands is released rather than abandoned.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		logger := log.WithComponent("worker")
		logger.Info().Msg("download workers stopped")
	})
}

// Wake nudges one idle worker, typically right after a refresh queued new
// episodes. A wake is a hint; the poll ticker bounds how stale an idle
// worker can get without one.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := log.WithComponent("worker").With().Int("worker", id).Logger()

	interval := p.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		idle := true
		claim, err := p.store.ClaimNext(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Str("event", "worker.claim_failed").Msg("claim query failed")
		case claim != nil:
			idle = p.process(ctx, claim)
		}

		if !idle && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}

		if next := p.pollInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (p *Pool) pollInterval() time.Duration {
	d := p.cfg.Get().Queue.PollInterval
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// process runs one claim end to end and records the outcome. The return
// value tells the worker loop whether to sit out an idle lap before the
// next claim: true after a release or a lost claim, where claiming again
// immediately would grab the same entry back.
func (p *Pool) process(ctx context.Context, claim *store.Claim) bool {
	// Tool invocations build their loggers from ctx, so the job id rides
	// along into extractor and transcoder output.
	ctx = log.ContextWithJobID(ctx, claim.Entry.ID)
	logger := log.WithComponent("worker").With().
		Str("job_id", claim.Entry.ID).
		Str("episode_id", claim.Episode.ID).
		Str("video_id", claim.Episode.VideoID).
		Str("channel", claim.Channel.Slug).
		Int("attempt", claim.Entry.Attempts).
		Logger()

	tracer := telemetry.Tracer("vid2pod.worker")
	ctx, span := tracer.Start(ctx, "job.process",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()
	span.SetAttributes(telemetry.JobAttributes(claim.Entry.ID, claim.Episode.ID, claim.Episode.VideoID, claim.Entry.Attempts)...)
	span.SetAttributes(telemetry.ChannelAttributes(claim.Channel.ID, claim.Channel.Slug)...)

	logger.Info().Str("event", "job.start").Msg("claimed episode")
	started := time.Now()

	stopHeartbeat := p.startHeartbeat(ctx, claim)
	result, err := p.run(ctx, claim, logger)
	stopHeartbeat()

	if err != nil || !p.cfg.Get().Transcode.KeepOriginal {
		if cleanErr := p.layout.CleanWorkDir(claim.Entry.ID); cleanErr != nil {
			logger.Warn().Err(cleanErr).Str("event", "job.cleanup_failed").Msg("work dir left behind")
		}
	}

	if err != nil {
		span.RecordError(err)
		if ext, ok := core.AsExternal(err); ok {
			span.SetAttributes(telemetry.ErrorType(ext.Kind.String()))
		}
		span.SetStatus(codes.Error, "pipeline failed")
		return p.fail(ctx, claim, err, logger)
	}

	octx, cancel := outcomeContext(ctx)
	defer cancel()
	if err := p.store.CompleteClaim(octx, claim, result); err != nil {
		logger.Warn().Err(err).Str("event", "job.lost_claim").Msg("finished work discarded, claim no longer held")
		return true
	}

	logger.Info().
		Str("event", "job.success").
		Int64("audio_bytes", result.AudioSize).
		Int64("video_bytes", result.VideoSize).
		Dur("elapsed", time.Since(started)).
		Msg("episode completed")

	if p.retain != nil {
		if _, err := p.retain.SweepChannel(octx, claim.Channel); err != nil {
			logger.Warn().Err(err).Str("event", "job.retention_failed").Msg("retention sweep failed after completion")
		}
	}
	return false
}

// run executes the pipeline steps: download, lease touch, processing
// transition, metadata enrichment, one transcode per wanted variant, and
// the move into the library. It returns the artifacts for CompleteClaim.
func (p *Pool) run(ctx context.Context, claim *store.Claim, logger zerolog.Logger) (store.Artifacts, error) {
	var result store.Artifacts

	workDir, err := p.layout.WorkDir(claim.Entry.ID)
	if err != nil {
		return result, core.Internalf("worker.work_dir", err)
	}
	// Transcodes land in out/ so an output name can never collide with
	// the downloaded source.
	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return result, core.Internalf("worker.work_dir", err)
	}

	tracer := telemetry.Tracer("vid2pod.worker")

	dlStart := time.Now()
	dctx, dlSpan := tracer.Start(ctx, "job.download")
	dl, err := p.fetch.DownloadVideo(dctx, claim.Episode.VideoID, workDir)
	if err != nil {
		dlSpan.RecordError(err)
		dlSpan.SetStatus(codes.Error, "download failed")
		dlSpan.End()
		metrics.RecordDownload(failureOutcome(err), time.Since(dlStart))
		return result, err
	}
	dlSpan.End()
	metrics.RecordDownload("success", time.Since(dlStart))
	logger.Debug().Str("event", "job.downloaded").Dur("elapsed", time.Since(dlStart)).Msg("source on disk")

	// The download is usually the longest step; refresh the lease before
	// the transcodes start.
	if err := p.store.TouchClaim(ctx, claim); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("lease heartbeat failed")
	}

	if err := p.store.MarkProcessing(ctx, claim.Episode.ID); err != nil {
		return result, err
	}

	p.enrich(ctx, claim, &result, logger)

	spec := p.cfg.Get().Transcode.Apply(claim.Channel.TranscodeOverrides)

	if claim.Channel.FeedType.WantsAudio() {
		name := claim.Episode.VideoID + "." + spec.AudioFormat
		out := filepath.Join(outDir, name)
		start := time.Now()
		tctx, tspan := tracer.Start(ctx, "transcode.audio")
		tspan.SetAttributes(telemetry.TranscodeAttributes("audio", spec.AudioFormat)...)
		size, err := p.encode.ToAudio(tctx, dl.SourcePath, out, transcoder.AudioSpec{
			Format:     spec.AudioFormat,
			Bitrate:    spec.AudioBitrate,
			SampleRate: spec.AudioSampleRate,
			Threads:    spec.Threads,
		})
		if err != nil {
			tspan.RecordError(err)
			tspan.SetStatus(codes.Error, "transcode failed")
			tspan.End()
			metrics.RecordTranscode("audio", failureOutcome(err), time.Since(start))
			return result, err
		}
		tspan.End()
		metrics.RecordTranscode("audio", "success", time.Since(start))

		rel, err := p.publish(claim.Channel.Slug, fsutil.AudioDir, out, name)
		if err != nil {
			return result, err
		}
		result.AudioPath = rel
		result.AudioSize = size
	}

	if claim.Channel.FeedType.WantsVideo() {
		name := claim.Episode.VideoID + ".mp4"
		out := filepath.Join(outDir, name)
		start := time.Now()
		tctx, tspan := tracer.Start(ctx, "transcode.video")
		tspan.SetAttributes(telemetry.TranscodeAttributes("video", spec.VideoCodec)...)
		size, err := p.encode.ToVideo(tctx, dl.SourcePath, out, transcoder.VideoSpec{
			Codec:        spec.VideoCodec,
			Quality:      spec.VideoQuality,
			AudioBitrate: spec.AudioBitrate,
			Threads:      spec.Threads,
		})
		if err != nil {
			tspan.RecordError(err)
			tspan.SetStatus(codes.Error, "transcode failed")
			tspan.End()
			metrics.RecordTranscode("video", failureOutcome(err), time.Since(start))
			return result, err
		}
		tspan.End()
		metrics.RecordTranscode("video", "success", time.Since(start))

		rel, err := p.publish(claim.Channel.Slug, fsutil.VideoDir, out, name)
		if err != nil {
			return result, err
		}
		result.VideoPath = rel
		result.VideoSize = size
	}

	if dl.ThumbnailPath != "" {
		p.publishThumbnail(claim, dl.ThumbnailPath, result, logger)
	}

	return result, nil
}

// enrich pulls the full metadata document for the episode. The flat
// listing carries only id, title and date; description, thumbnail and
// duration arrive here. Failures degrade the feed item, they never fail
// the pipeline.
func (p *Pool) enrich(ctx context.Context, claim *store.Claim, result *store.Artifacts, logger zerolog.Logger) {
	md, err := p.fetch.FetchVideoMetadata(ctx, claim.Episode.VideoID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Str("event", "job.metadata_skipped").Msg("metadata lookup failed, keeping listing fields")
		}
		return
	}
	if err := p.store.UpdateEpisodeMetadata(ctx, claim.Episode.ID, md); err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Str("event", "job.metadata_skipped").Msg("metadata write failed")
		}
		return
	}
	result.DurationSeconds = md.DurationSeconds
}

// publish moves a finished artifact from the work dir into the library
// and returns its library-relative path in slash form, as stored.
func (p *Pool) publish(slug, variant, src, filename string) (string, error) {
	dir, err := p.layout.VariantDir(slug, variant)
	if err != nil {
		return "", core.Internalf("worker.publish", err)
	}
	if err := fsutil.MoveFile(src, filepath.Join(dir, filename)); err != nil {
		return "", core.Internalf("worker.publish", err)
	}
	return path.Join(slug, variant, filename), nil
}

// publishThumbnail parks the thumbnail sidecar next to the first artifact
// under the episode's stem, where the retention sidecar sweep finds it.
func (p *Pool) publishThumbnail(claim *store.Claim, thumbPath string, result store.Artifacts, logger zerolog.Logger) {
	variant := fsutil.AudioDir
	if result.AudioPath == "" {
		variant = fsutil.VideoDir
	}
	name := claim.Episode.VideoID + strings.ToLower(filepath.Ext(thumbPath))
	if _, err := p.publish(claim.Channel.Slug, variant, thumbPath, name); err != nil {
		logger.Warn().Err(err).Str("event", "job.thumbnail_skipped").Msg("thumbnail sidecar not published")
	}
}

// startHeartbeat refreshes the claim lease in the background until the
// returned stop function runs. The reaper only reverts claims whose
// updated_at went stale, so a long transcode needs the ticks.
func (p *Pool) startHeartbeat(ctx context.Context, claim *store.Claim) func() {
	interval := p.cfg.Get().Queue.StuckThreshold / 8
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				if err := p.store.TouchClaim(hctx, claim); err != nil && hctx.Err() == nil {
					logger := log.WithComponent("worker")
					logger.Debug().Err(err).
						Str("job_id", claim.Entry.ID).Msg("lease heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// fail records a failed run. Cancellation and internal errors hand the
// claim back with the attempt refunded; classified external failures burn
// the attempt and either reschedule with backoff or fail terminally.
func (p *Pool) fail(ctx context.Context, claim *store.Claim, cause error, logger zerolog.Logger) bool {
	octx, cancel := outcomeContext(ctx)
	defer cancel()

	switch {
	case errors.Is(cause, context.Canceled):
		if err := p.store.ReleaseClaim(octx, claim); err != nil {
			logger.Warn().Err(err).Str("event", "job.lost_claim").Msg("release failed, claim no longer held")
		} else {
			logger.Info().Str("event", "job.released").Msg("claim released, attempt refunded")
		}
		return true

	case core.IsStateConflict(cause):
		// The reaper took the claim mid-run; whoever holds the entry now
		// owns the outcome.
		logger.Warn().Err(cause).Str("event", "job.lost_claim").Msg("claim lost mid-run")
		return true
	}

	ext, isExternal := core.AsExternal(cause)
	if !isExternal {
		// Internal failures are the daemon's own (I/O, database); hand the
		// entry back without charging its budget and sit out a lap so a
		// persistent fault cannot spin hot on one entry.
		if err := p.store.ReleaseClaim(octx, claim); err != nil {
			logger.Warn().Err(err).Str("event", "job.lost_claim").Msg("release failed, claim no longer held")
		} else {
			logger.Error().Err(cause).Str("event", "job.internal_error").Msg("pipeline failed internally, attempt refunded")
		}
		return true
	}

	metrics.IncPipelineFailure(ext.Kind.String())

	if core.IsPermanentExternal(cause) || claim.Entry.Attempts >= claim.Entry.MaxAttempts {
		if err := p.store.FailClaimTerminal(octx, claim, cause.Error()); err != nil {
			logger.Warn().Err(err).Str("event", "job.lost_claim").Msg("terminal outcome discarded, claim no longer held")
			return true
		}
		logger.Error().Err(cause).
			Str("event", "job.failed").
			Str("kind", ext.Kind.String()).
			Int("attempts", claim.Entry.Attempts).
			Msg("episode failed terminally")
		return false
	}

	delay := retryBackoff(claim.Entry.Attempts)
	next := time.Now().UTC().Add(delay).Truncate(time.Second)
	if err := p.store.FailClaimRetry(octx, claim, cause.Error(), next); err != nil {
		logger.Warn().Err(err).Str("event", "job.lost_claim").Msg("retry outcome discarded, claim no longer held")
		return true
	}
	metrics.IncRetryScheduled()
	logger.Warn().Err(cause).
		Str("event", "job.retry").
		Str("kind", ext.Kind.String()).
		Dur("backoff", delay).
		Msg("episode requeued with backoff")
	return false
}

// outcomeContext detaches an outcome write from the run context so a
// shutdown that interrupted the pipeline cannot also interrupt recording
// what happened to the claim.
func outcomeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func failureOutcome(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "failure"
}
