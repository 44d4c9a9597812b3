// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestThrottle_BurstPassesImmediately(t *testing.T) {
	th := NewThrottle(1, 2)

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := th.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("burst waits took %s, expected near-instant", elapsed)
	}
}

func TestThrottle_WaitHonorsCancellation(t *testing.T) {
	th := NewThrottle(0.001, 1)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if err := th.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail once the context is cancelled")
	}
}

func TestThrottle_SetRate(t *testing.T) {
	th := NewThrottle(0.001, 1)
	if err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	// At 0.001 req/s the next token is ~17 minutes away; raising the rate
	// must make it available within the test deadline.
	th.SetRate(1000, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("Wait after SetRate: %v", err)
	}

	if got := th.Rate(); got != 1000 {
		t.Fatalf("Rate() = %v, want 1000", got)
	}
}
