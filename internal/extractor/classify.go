// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package extractor

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuGH/vid2pod/internal/core"
)

// stderr fragments yt-dlp emits per failure class. Checked in order;
// first match wins.
var (
	notFoundPatterns = []string{
		"Video unavailable",
		"HTTP Error 404",
		"has been removed",
		"This channel does not exist",
		"does not exist",
	}
	forbiddenPatterns = []string{
		"Private video",
		"HTTP Error 403",
		"Sign in to confirm",
		"members-only",
		"This video is available to this channel's members",
		"age-restricted",
	}
	transientPatterns = []string{
		"HTTP Error 429",
		"HTTP Error 500",
		"HTTP Error 502",
		"HTTP Error 503",
		"timed out",
		"Connection refused",
		"Connection reset",
		"Temporary failure in name resolution",
		"Unable to download webpage",
	}
)

// classify turns a run() failure into a typed error. Plain context
// cancellation passes through untouched so shutdown never masquerades
// as an episode failure.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewExternalError(core.FailureTimeout, op, "operation deadline exceeded", err)
	}

	var ee *ExecError
	if !errors.As(err, &ee) {
		return core.NewExternalError(core.FailureTool, op, err.Error(), err)
	}

	kind := classifyStderr(ee.Stderr)
	return core.NewExternalError(kind, op, firstErrorLine(ee.Stderr), err)
}

func classifyStderr(stderr string) core.FailureKind {
	for _, p := range notFoundPatterns {
		if strings.Contains(stderr, p) {
			return core.FailureNotFound
		}
	}
	for _, p := range forbiddenPatterns {
		if strings.Contains(stderr, p) {
			return core.FailureForbidden
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(stderr, p) {
			return core.FailureTransientNetwork
		}
	}
	return core.FailureTool
}

// firstErrorLine picks the most useful stderr line for error_message:
// the first line starting with "ERROR", else the first non-empty line.
func firstErrorLine(stderr string) string {
	var fallback string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
		if fallback == "" {
			fallback = line
		}
	}
	if fallback == "" {
		return "yt-dlp failed without diagnostics"
	}
	return fallback
}
