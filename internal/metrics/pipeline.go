// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics exposes the Prometheus collectors for the pipeline, the
// library and the HTTP surface, with small helpers so callers never touch
// collector types directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refresh metrics
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_refresh_total",
		Help: "Channel refresh runs by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	refreshDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vid2pod_refresh_duration_seconds",
		Help:    "Duration of a single channel refresh",
		Buckets: prometheus.DefBuckets,
	})

	refreshEpisodesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_refresh_episodes_created_total",
		Help: "Episodes discovered and inserted by refresh runs",
	})

	refreshEpisodesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_refresh_episodes_queued_total",
		Help: "Queue entries created by refresh runs",
	})

	// Queue / worker metrics
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vid2pod_queue_depth",
		Help: "Queue entries by status",
	}, []string{"status"})

	episodesByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vid2pod_episodes",
		Help: "Episodes by status",
	}, []string{"status"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_downloads_total",
		Help: "Download attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|cancelled

	downloadDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vid2pod_download_duration_seconds",
		Help:    "Duration of source downloads",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	transcodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_transcodes_total",
		Help: "Transcode runs by variant and outcome",
	}, []string{"variant", "outcome"}) // variant=audio|video

	transcodeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vid2pod_transcode_duration_seconds",
		Help:    "Duration of transcode runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"variant"})

	pipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_pipeline_failures_total",
		Help: "Pipeline step failures by classification",
	}, []string{"kind"}) // kind=not_found|forbidden|transient_network|tool_failure|timeout

	retriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_retries_scheduled_total",
		Help: "Queue entries re-queued with a retry backoff",
	})

	reaperReverts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_reaper_reverts_total",
		Help: "Stuck in-progress queue entries reverted to pending",
	})

	// Retention metrics
	retentionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_retention_evictions_total",
		Help: "Episodes evicted by the rolling-window retention",
	})

	retentionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_retention_bytes_freed_total",
		Help: "Bytes of media removed by retention",
	})

	// Extractor throttle
	upstreamWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vid2pod_upstream_throttle_wait_seconds",
		Help:    "Time spent waiting on the upstream politeness throttle",
		Buckets: []float64{.001, .01, .1, .5, 1, 2, 5, 10, 30},
	})
)

func RecordRefresh(outcome string, d time.Duration) {
	refreshTotal.WithLabelValues(outcome).Inc()
	refreshDurationSeconds.Observe(d.Seconds())
}

func RecordRefreshCounts(created, queued int) {
	refreshEpisodesCreated.Add(float64(created))
	refreshEpisodesQueued.Add(float64(queued))
}

func SetQueueDepth(status string, n int) { queueDepth.WithLabelValues(status).Set(float64(n)) }

func SetEpisodeCount(status string, n int) {
	episodesByStatus.WithLabelValues(status).Set(float64(n))
}

func RecordDownload(outcome string, d time.Duration) {
	downloadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		downloadDurationSeconds.Observe(d.Seconds())
	}
}

func RecordTranscode(variant, outcome string, d time.Duration) {
	transcodesTotal.WithLabelValues(variant, outcome).Inc()
	if outcome == "success" {
		transcodeDurationSeconds.WithLabelValues(variant).Observe(d.Seconds())
	}
}

func IncPipelineFailure(kind string) { pipelineFailures.WithLabelValues(kind).Inc() }

func IncRetryScheduled() { retriesScheduled.Inc() }

func IncReaperRevert(n int) { reaperReverts.Add(float64(n)) }

func RecordEviction(bytesFreed int64) {
	retentionEvictions.Inc()
	if bytesFreed > 0 {
		retentionBytesFreed.Add(float64(bytesFreed))
	}
}

func ObserveUpstreamWait(d time.Duration) { upstreamWaitSeconds.Observe(d.Seconds()) }
