// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ratelimit provides the politeness throttle that gates every
// call to the upstream video site. Metadata listings and media downloads
// share one token bucket so the total request rate stays bounded no
// matter how many workers or refresh runs are active.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/vid2pod/internal/metrics"
)

// Throttle wraps a shared token bucket. All upstream calls block on Wait
// before touching the network.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a throttle allowing perSecond sustained requests
// with the given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or the context ends. The time
// spent waiting is recorded so saturation shows up on the dashboard
// before users notice slow refreshes.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	err := t.limiter.Wait(ctx)
	metrics.ObserveUpstreamWait(time.Since(start))
	return err
}

// SetRate adjusts the bucket in place. Called from the config reload
// listener so a rate change takes effect without a restart.
func (t *Throttle) SetRate(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	t.limiter.SetLimit(rate.Limit(perSecond))
	t.limiter.SetBurst(burst)
}

// Rate returns the current sustained rate, for the status endpoint.
func (t *Throttle) Rate() float64 { return float64(t.limiter.Limit()) }
