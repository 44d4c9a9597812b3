// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the daemon.
const (
	// Channel attributes
	ChannelIDKey   = "channel.id"
	ChannelSlugKey = "channel.slug"

	// Refresh attributes
	RefreshVideosSeenKey      = "refresh.videos_seen"
	RefreshEpisodesCreatedKey = "refresh.episodes_created"
	RefreshEpisodesQueuedKey  = "refresh.episodes_queued"

	// Queue job attributes
	JobIDKey      = "job.id"
	EpisodeIDKey  = "episode.id"
	VideoIDKey    = "video.id"
	JobAttemptKey = "job.attempt"

	// Transcode attributes
	TranscodeVariantKey = "transcode.variant"
	TranscodeFormatKey  = "transcode.format"

	// Error attributes
	ErrorTypeKey = "error.type"
)

// ChannelAttributes identifies the channel a span works on.
func ChannelAttributes(id, slug string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ChannelIDKey, id),
		attribute.String(ChannelSlugKey, slug),
	}
}

// RefreshAttributes records what a channel refresh saw and queued.
func RefreshAttributes(seen, created, queued int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(RefreshVideosSeenKey, seen),
		attribute.Int(RefreshEpisodesCreatedKey, created),
		attribute.Int(RefreshEpisodesQueuedKey, queued),
	}
}

// JobAttributes identifies the queue entry a worker span processes.
func JobAttributes(jobID, episodeID, videoID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(EpisodeIDKey, episodeID),
		attribute.String(VideoIDKey, videoID),
		attribute.Int(JobAttemptKey, attempt),
	}
}

// TranscodeAttributes describes one transcode leg.
func TranscodeAttributes(variant, format string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TranscodeVariantKey, variant),
		attribute.String(TranscodeFormatKey, format),
	}
}

// ErrorType labels a failed span with its failure classification.
func ErrorType(kind string) attribute.KeyValue {
	return attribute.String(ErrorTypeKey, kind)
}
