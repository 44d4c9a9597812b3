// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads, validates and hot-reloads the daemon configuration.
// Precedence: environment > config file > built-in defaults.
package config

import (
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
)

// Config is the fully merged and validated runtime configuration.
type Config struct {
	Log      LogConfig
	Storage  StorageConfig
	Database DatabaseConfig

	// PollInterval is the periodic refresh interval (minimum 5 minutes).
	PollInterval time.Duration

	// MaxConcurrentDownloads bounds the worker pool (1-10).
	MaxConcurrentDownloads int

	Queue     QueueConfig
	Transcode TranscodeConfig
	Tools     ToolsConfig
	Server    ServerConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig

	// Channels is the optional declarative seed list, upserted by URL at boot.
	Channels []SeedChannel
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string // trace|debug|info|warn|error
	Format string // json|console
}

// StorageConfig names the library root and the in-flight download area.
type StorageConfig struct {
	DataDir string
	TempDir string // defaults to <DataDir>/temp
}

// DatabaseConfig names the SQLite file.
type DatabaseConfig struct {
	Path string // defaults to <DataDir>/vid2pod.db
}

// QueueConfig tunes the download queue.
type QueueConfig struct {
	MaxAttempts    int           // default attempts budget for new entries
	PollInterval   time.Duration // worker idle poll, default 5s
	StuckThreshold time.Duration // reaper threshold, default 2h
}

// TranscodeConfig carries the global transcode defaults. Channels may
// shadow individual fields via core.TranscodeOverrides.
type TranscodeConfig struct {
	AudioFormat     string // mp3|aac|ogg|m4a
	AudioBitrate    string // e.g. 128k
	AudioSampleRate int
	VideoCodec      string
	VideoQuality    int // CRF 0-51
	Threads         int // 0 = tool default
	KeepOriginal    bool
}

// Apply returns the transcode settings with per-channel overrides applied.
func (t TranscodeConfig) Apply(o *core.TranscodeOverrides) TranscodeConfig {
	if o == nil {
		return t
	}
	out := t
	if o.AudioFormat != "" {
		out.AudioFormat = o.AudioFormat
	}
	if o.AudioBitrate != "" {
		out.AudioBitrate = o.AudioBitrate
	}
	if o.AudioSampleRate > 0 {
		out.AudioSampleRate = o.AudioSampleRate
	}
	if o.VideoCodec != "" {
		out.VideoCodec = o.VideoCodec
	}
	if o.VideoQuality != nil {
		out.VideoQuality = *o.VideoQuality
	}
	return out
}

// ToolsConfig locates the external binaries and bounds their invocations.
type ToolsConfig struct {
	YtdlpPath  string
	FFmpegPath string

	ListTimeout      time.Duration // channel listing
	MetadataTimeout  time.Duration // per-video metadata lookup
	DownloadTimeout  time.Duration // source download
	TranscodeTimeout time.Duration
	KillGrace        time.Duration // SIGTERM to SIGKILL grace

	// Upstream politeness throttle shared by all extractor calls.
	UpstreamRate  float64 // calls per second
	UpstreamBurst int
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string // public URL prefix used in enclosure links

	// Basic auth; empty user disables the respective realm.
	AdminUser     string
	AdminPassword string
	FeedUser      string
	FeedPassword  string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxHeaderBytes  int
}

// ListenAddr joins host and port.
func (s ServerConfig) ListenAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return joinHostPort(host, s.Port)
}

// CacheConfig selects the feed document cache backend.
type CacheConfig struct {
	Backend string // memory|redis
	TTL     time.Duration
	Redis   RedisConfig
}

// RedisConfig holds the optional redis backend connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool
	Exporter string // grpc|http
	Endpoint string
	Sampling float64 // 0.0-1.0
}

// SeedChannel is a declaratively configured channel, upserted at startup.
type SeedChannel struct {
	URL        string `yaml:"url"`
	Title      string `yaml:"title"`
	WindowSize int    `yaml:"window_size"`
	FeedType   string `yaml:"feed_type"`
	Enabled    *bool  `yaml:"enabled"`
}
