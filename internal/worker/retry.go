// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import "time"

// retryBackoff maps the attempt that just failed to the wait before the
// entry becomes claimable again. The first attempt of a fresh entry runs
// immediately; waits only apply after a failure.
//
//	attempt 1   5m
//	attempt 2   30m
//	attempt 3   2h
//	attempt 4+  8h
func retryBackoff(attempts int) time.Duration {
	switch {
	case attempts <= 1:
		return 5 * time.Minute
	case attempts == 2:
		return 30 * time.Minute
	case attempts == 3:
		return 2 * time.Hour
	default:
		return 8 * time.Hour
	}
}
