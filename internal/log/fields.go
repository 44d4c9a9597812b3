// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldChannelID = "channel_id"
	FieldEpisodeID = "episode_id"
	FieldVideoID   = "video_id"
	FieldQueueID   = "queue_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldKind      = "kind"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Path / URL fields
	FieldPath    = "path"
	FieldURL     = "url"
	FieldBaseURL = "base_url"

	// Feed fields
	FieldVariant = "variant"
	FieldSlug    = "slug"
)
