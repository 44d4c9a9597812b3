// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedRenders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_feed_renders_total",
		Help: "Feed documents rendered by variant",
	}, []string{"variant"})

	feedCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_feed_cache_hits_total",
		Help: "Feed requests served from the document cache",
	})

	feedCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_feed_cache_misses_total",
		Help: "Feed requests that required a render",
	})

	feedNotModified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vid2pod_feed_not_modified_total",
		Help: "Conditional feed requests answered with 304",
	})

	mediaRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_media_requests_total",
		Help: "Media file requests by outcome",
	}, []string{"outcome"}) // outcome=allowed|denied|not_found

	mediaRequestsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_media_requests_denied_total",
		Help: "Denied media file requests by reason",
	}, []string{"reason"})

	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vid2pod_ratelimit_rejections_total",
		Help: "Requests rejected by the HTTP rate limiter",
	}, []string{"class"}) // class=read|write|trigger
)

func IncFeedRender(variant string) { feedRenders.WithLabelValues(variant).Inc() }

func IncFeedCacheHit() { feedCacheHits.Inc() }

func IncFeedCacheMiss() { feedCacheMisses.Inc() }

func IncFeedNotModified() { feedNotModified.Inc() }

func IncMediaRequest(outcome string) { mediaRequests.WithLabelValues(outcome).Inc() }

func IncMediaRequestDenied(reason string) {
	mediaRequests.WithLabelValues("denied").Inc()
	mediaRequestsDenied.WithLabelValues(reason).Inc()
}

func IncRateLimitRejection(class string) { rateLimitRejections.WithLabelValues(class).Inc() }
