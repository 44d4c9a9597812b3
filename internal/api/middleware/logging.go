// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/vid2pod/internal/log"
)

// AccessLog returns a middleware that writes one structured log line per
// request after the handler finishes, correlated by request id and, when
// tracing is active, trace id.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			logger := log.WithComponentFromContext(r.Context(), "api")
			evt := logger.Info()
			if sw.status >= http.StatusInternalServerError {
				evt = logger.Error()
			}

			traceID, _ := ExtractTraceContext(r)
			if traceID != "" {
				evt = evt.Str("trace_id", traceID)
			}

			evt.
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}
