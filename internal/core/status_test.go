// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    EpisodeStatus
		to      EpisodeStatus
		allowed bool
	}{
		{"claim", EpisodePending, EpisodeDownloading, true},
		{"download ok", EpisodeDownloading, EpisodeProcessing, true},
		{"download err terminal", EpisodeDownloading, EpisodeFailed, true},
		{"download err retry", EpisodeDownloading, EpisodePending, true},
		{"transcode ok", EpisodeProcessing, EpisodeCompleted, true},
		{"transcode err terminal", EpisodeProcessing, EpisodeFailed, true},
		{"transcode err retry", EpisodeProcessing, EpisodePending, true},
		{"evict", EpisodeCompleted, EpisodeDeleted, true},
		{"manual retry", EpisodeFailed, EpisodePending, true},

		{"skip download", EpisodePending, EpisodeProcessing, false},
		{"skip processing", EpisodeDownloading, EpisodeCompleted, false},
		{"complete from pending", EpisodePending, EpisodeCompleted, false},
		{"resurrect deleted", EpisodeDeleted, EpisodePending, false},
		{"fail completed", EpisodeCompleted, EpisodeFailed, false},
		{"fail failed", EpisodeFailed, EpisodeFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestEpisodeStatusValidity(t *testing.T) {
	for _, s := range AllEpisodeStatuses() {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, EpisodeStatus("bogus").IsValid())

	_, err := ParseEpisodeStatus("bogus")
	require.Error(t, err)

	got, err := ParseEpisodeStatus("downloading")
	require.NoError(t, err)
	assert.Equal(t, EpisodeDownloading, got)
}

func TestEpisodeStatusJSON(t *testing.T) {
	b, err := json.Marshal(EpisodeCompleted)
	require.NoError(t, err)
	assert.Equal(t, `"completed"`, string(b))

	var s EpisodeStatus
	require.NoError(t, json.Unmarshal([]byte(`"failed"`), &s))
	assert.Equal(t, EpisodeFailed, s)

	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &s))
}

func TestQueueStatusTerminal(t *testing.T) {
	assert.False(t, QueuePending.IsTerminal())
	assert.False(t, QueueInProgress.IsTerminal())
	assert.True(t, QueueCompleted.IsTerminal())
	assert.True(t, QueueFailed.IsTerminal())
	assert.True(t, QueueCancelled.IsTerminal())
}

func TestFeedTypeWants(t *testing.T) {
	assert.True(t, FeedAudio.WantsAudio())
	assert.False(t, FeedAudio.WantsVideo())
	assert.True(t, FeedVideo.WantsVideo())
	assert.False(t, FeedVideo.WantsAudio())
	assert.True(t, FeedBoth.WantsAudio())
	assert.True(t, FeedBoth.WantsVideo())

	_, err := ParseFeedType("podcast")
	assert.Error(t, err)
}

func TestFailureKindRetryable(t *testing.T) {
	assert.True(t, FailureTransientNetwork.Retryable())
	assert.True(t, FailureTool.Retryable())
	assert.True(t, FailureTimeout.Retryable())
	assert.False(t, FailureNotFound.Retryable())
	assert.False(t, FailureForbidden.Retryable())
}
