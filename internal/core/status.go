// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package core provides the domain model shared by the store, the pipeline
// and the HTTP surface: entities, typed status enumerations and error kinds.
package core

import (
	"encoding/json"
	"fmt"
)

// EpisodeStatus represents the pipeline state of a mirrored episode.
type EpisodeStatus string

const (
	// EpisodePending indicates the episode is discovered but not yet claimed.
	EpisodePending EpisodeStatus = "pending"

	// EpisodeDownloading indicates a worker is fetching the source media.
	EpisodeDownloading EpisodeStatus = "downloading"

	// EpisodeProcessing indicates the source is downloaded and transcoding.
	EpisodeProcessing EpisodeStatus = "processing"

	// EpisodeCompleted indicates all requested artifacts exist on disk.
	EpisodeCompleted EpisodeStatus = "completed"

	// EpisodeFailed indicates a terminal failure; only a manual retry re-enters
	// the pipeline.
	EpisodeFailed EpisodeStatus = "failed"

	// EpisodeDeleted indicates retention evicted the episode and removed its files.
	EpisodeDeleted EpisodeStatus = "deleted"
)

func (s EpisodeStatus) String() string { return string(s) }

// IsValid checks whether the status is one of the defined constants.
func (s EpisodeStatus) IsValid() bool {
	switch s {
	case EpisodePending, EpisodeDownloading, EpisodeProcessing,
		EpisodeCompleted, EpisodeFailed, EpisodeDeleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the pipeline is done with the episode.
// failed is terminal for the pipeline but can be re-entered by a manual retry.
func (s EpisodeStatus) IsTerminal() bool {
	switch s {
	case EpisodeCompleted, EpisodeFailed, EpisodeDeleted:
		return true
	default:
		return false
	}
}

// InFlight reports whether a worker currently owns the episode.
func (s EpisodeStatus) InFlight() bool {
	return s == EpisodeDownloading || s == EpisodeProcessing
}

// CanTransitionTo checks a transition against the episode state machine:
//
//	pending ──claim──► downloading ──ok──► processing ──ok──► completed
//	downloading|processing ──err──► failed | pending (retry)
//	completed ──evict──► deleted
//	failed ──manual retry──► pending
func (s EpisodeStatus) CanTransitionTo(target EpisodeStatus) bool {
	switch s {
	case EpisodePending:
		return target == EpisodeDownloading
	case EpisodeDownloading:
		return target == EpisodeProcessing || target == EpisodeFailed || target == EpisodePending
	case EpisodeProcessing:
		return target == EpisodeCompleted || target == EpisodeFailed || target == EpisodePending
	case EpisodeCompleted:
		return target == EpisodeDeleted
	case EpisodeFailed:
		return target == EpisodePending
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s EpisodeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *EpisodeStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := EpisodeStatus(str)
	if !status.IsValid() {
		return fmt.Errorf("invalid episode status: %q", str)
	}
	*s = status
	return nil
}

// ParseEpisodeStatus parses a string into an EpisodeStatus.
func ParseEpisodeStatus(s string) (EpisodeStatus, error) {
	status := EpisodeStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid episode status: %q (valid: pending, downloading, processing, completed, failed, deleted)", s)
	}
	return status, nil
}

// AllEpisodeStatuses returns all defined episode statuses.
func AllEpisodeStatuses() []EpisodeStatus {
	return []EpisodeStatus{
		EpisodePending,
		EpisodeDownloading,
		EpisodeProcessing,
		EpisodeCompleted,
		EpisodeFailed,
		EpisodeDeleted,
	}
}

// QueueStatus represents the state of a download queue entry.
type QueueStatus string

const (
	// QueuePending indicates the entry is claimable (subject to next_retry_at).
	QueuePending QueueStatus = "pending"

	// QueueInProgress indicates a worker holds the entry.
	QueueInProgress QueueStatus = "in_progress"

	// QueueCompleted indicates the download and transcode succeeded.
	QueueCompleted QueueStatus = "completed"

	// QueueFailed indicates the entry is terminally failed.
	QueueFailed QueueStatus = "failed"

	// QueueCancelled indicates the entry was withdrawn (episode deleted).
	QueueCancelled QueueStatus = "cancelled"
)

func (s QueueStatus) String() string { return string(s) }

// IsValid checks whether the status is one of the defined constants.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueuePending, QueueInProgress, QueueCompleted, QueueFailed, QueueCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the entry will never be claimed again.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueCancelled:
		return true
	default:
		return false
	}
}

// AllQueueStatuses returns all defined queue statuses.
func AllQueueStatuses() []QueueStatus {
	return []QueueStatus{
		QueuePending,
		QueueInProgress,
		QueueCompleted,
		QueueFailed,
		QueueCancelled,
	}
}

// FeedType selects which artifacts a channel mirrors and which feed variants
// it serves.
type FeedType string

const (
	// FeedAudio mirrors audio-only artifacts.
	FeedAudio FeedType = "audio"

	// FeedVideo mirrors video artifacts.
	FeedVideo FeedType = "video"

	// FeedBoth mirrors both artifacts.
	FeedBoth FeedType = "both"
)

func (t FeedType) String() string { return string(t) }

// IsValid checks whether the feed type is one of the defined constants.
func (t FeedType) IsValid() bool {
	switch t {
	case FeedAudio, FeedVideo, FeedBoth:
		return true
	default:
		return false
	}
}

// WantsAudio reports whether channels of this type produce audio artifacts.
func (t FeedType) WantsAudio() bool { return t == FeedAudio || t == FeedBoth }

// WantsVideo reports whether channels of this type produce video artifacts.
func (t FeedType) WantsVideo() bool { return t == FeedVideo || t == FeedBoth }

// ParseFeedType parses a string into a FeedType.
func ParseFeedType(s string) (FeedType, error) {
	t := FeedType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid feed type: %q (valid: audio, video, both)", s)
	}
	return t, nil
}
