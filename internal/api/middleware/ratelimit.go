// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
)

// RateLimitConfig holds configuration for one rate limit class.
type RateLimitConfig struct {
	// Class labels the limiter in metrics and logs: read, write, trigger.
	Class string
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the time window for rate limiting.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request.
	// If nil, defaults to IP-based rate limiting.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit creates a rate limiting middleware using the httprate library.
// It uses a sliding window counter per client IP; responses carry the
// X-RateLimit-Limit/Remaining/Reset headers, and rejections answer 429
// with Retry-After and the API error envelope.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncRateLimitRejection(cfg.Class)
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().
				Str("event", "ratelimit.rejected").
				Str("class", cfg.Class).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":       "RATE_LIMITED",
					"message":    "too many requests; retry later",
					"request_id": log.RequestIDFromContext(r.Context()),
				},
			})
		}),
	)
}

// ReadLimit returns the limiter for read endpoints: status, listings and
// feed fetches.
func ReadLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		Class:        "read",
		RequestLimit: 100,
		WindowSize:   time.Minute,
	})
}

// WriteLimit returns the limiter for mutating endpoints.
func WriteLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		Class:        "write",
		RequestLimit: 30,
		WindowSize:   time.Minute,
	})
}

// TriggerLimit returns the limiter for expensive trigger endpoints:
// per-channel refresh and the global sweep.
func TriggerLimit() func(http.Handler) http.Handler {
	return RateLimit(RateLimitConfig{
		Class:        "trigger",
		RequestLimit: 10,
		WindowSize:   time.Minute,
	})
}
