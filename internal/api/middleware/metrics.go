// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vid2pod_http_request_duration_seconds",
		Help:    "Time to serve an HTTP request, by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vid2pod_http_requests_in_flight",
		Help: "Requests currently being served.",
	})

	httpRequestSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vid2pod_http_request_size_bytes",
		Help:    "Request body sizes as reported by Content-Length.",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vid2pod_http_response_size_bytes",
		Help:    "Response body sizes actually written.",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path", "status"})
)

// Metrics records duration, in-flight count and body sizes per request,
// labelled by method, route pattern and status.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			// The pattern is only complete after the handler ran; sizes
			// are recorded here too so media filenames never become
			// label values.
			path := routePattern(r)
			status := strconv.Itoa(sw.status)

			httpRequestDuration.WithLabelValues(r.Method, path, status).
				Observe(time.Since(start).Seconds())
			if r.ContentLength > 0 {
				httpRequestSize.WithLabelValues(r.Method, path).
					Observe(float64(r.ContentLength))
			}
			if sw.bytes > 0 {
				httpResponseSize.WithLabelValues(r.Method, path, status).
					Observe(float64(sw.bytes))
			}
		})
	}
}
