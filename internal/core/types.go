// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package core

import "time"

// Default bounds shared by validation, the store schema and the HTTP surface.
const (
	DefaultWindowSize = 50
	MinWindowSize     = 1
	MaxWindowSize     = 1000

	DefaultPriority = 5
	MinPriority     = 1
	MaxPriority     = 10

	DefaultMaxAttempts = 3
)

// Channel is a monitored upstream source mirrored into the library.
type Channel struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	WindowSize  int       `json:"window_size"`
	FeedType    FeedType  `json:"feed_type"`
	Enabled     bool      `json:"enabled"`

	// Slug is derived from the title and names the on-disk directory and the
	// media URL segment.
	Slug string `json:"slug"`

	// TranscodeOverrides, when non-nil, shadow the global transcode settings
	// for this channel's episodes.
	TranscodeOverrides *TranscodeOverrides `json:"transcode_overrides,omitempty"`

	LastRefreshAt *time.Time `json:"last_refresh_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TranscodeOverrides carries per-channel transcode settings. Zero values mean
// "use the global setting"; VideoQuality is a pointer because CRF 0 is valid.
type TranscodeOverrides struct {
	AudioFormat     string `json:"audio_format,omitempty"`
	AudioBitrate    string `json:"audio_bitrate,omitempty"`
	AudioSampleRate int    `json:"audio_sample_rate,omitempty"`
	VideoCodec      string `json:"video_codec,omitempty"`
	VideoQuality    *int   `json:"video_quality,omitempty"`
}

// Episode is a single upstream video mirrored (or being mirrored) into the
// library. VideoID is the store-wide deduplication key.
type Episode struct {
	ID        string `json:"id"`
	VideoID   string `json:"video_id"`
	ChannelID string `json:"channel_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`

	// DurationSeconds is 0 when upstream did not report a duration.
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DownloadedAt    *time.Time `json:"downloaded_at,omitempty"`

	// Relative paths under the library root; empty means no artifact.
	FilePathAudio string `json:"file_path_audio,omitempty"`
	FilePathVideo string `json:"file_path_video,omitempty"`
	FileSizeAudio int64  `json:"file_size_audio,omitempty"`
	FileSizeVideo int64  `json:"file_size_video,omitempty"`

	Status     EpisodeStatus `json:"status"`
	RetryCount int           `json:"retry_count"`

	// ErrorMessage is non-empty exactly when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueEntry is the work item that drives an episode through the pipeline.
// At most one live entry exists per episode.
type QueueEntry struct {
	ID        string `json:"id"`
	EpisodeID string `json:"episode_id"`

	// Priority 1 (highest) to 10 (lowest).
	Priority int `json:"priority"`

	Status      QueueStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`

	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WatchURL returns the canonical upstream watch URL for a video id.
// Listing and download resolve through the same front end, so ids
// round-trip between the feed and the extractor.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// VideoRef is one entry of an upstream channel listing.
type VideoRef struct {
	VideoID     string
	Title       string
	PublishedAt *time.Time
}

// VideoMetadata is the per-video detail the extractor reports.
type VideoMetadata struct {
	Title           string
	Description     string
	ThumbnailURL    string
	DurationSeconds int
	PublishedAt     *time.Time
}
