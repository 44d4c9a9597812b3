// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/validate"
)

// Validate checks a fully merged configuration. All failures are collected
// so one load reports every bad field at once.
func Validate(cfg Config) error {
	v := validate.New()

	v.OneOf("log.level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})
	v.OneOf("log.format", cfg.Log.Format, []string{"json", "console"})

	v.Directory("storage.data_dir", cfg.Storage.DataDir, false)

	// Anything below five minutes hammers the upstream site; refuse it.
	v.MinDuration("poll_interval", cfg.PollInterval, 5*time.Minute)
	v.Range("max_concurrent_downloads", cfg.MaxConcurrentDownloads, 1, 10)

	v.Positive("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.PositiveDuration("queue.poll_interval", cfg.Queue.PollInterval)
	v.MinDuration("queue.stuck_threshold", cfg.Queue.StuckThreshold, 10*time.Minute)

	v.OneOf("transcode.audio_format", cfg.Transcode.AudioFormat, []string{"mp3", "aac", "ogg", "m4a"})
	v.Bitrate("transcode.audio_bitrate", cfg.Transcode.AudioBitrate)
	v.Positive("transcode.audio_sample_rate", cfg.Transcode.AudioSampleRate)
	v.OneOf("transcode.video_codec", cfg.Transcode.VideoCodec, []string{"h264", "hevc", "libx264", "libx265"})
	v.Range("transcode.video_quality", cfg.Transcode.VideoQuality, 0, 51)
	v.NonNegative("transcode.threads", cfg.Transcode.Threads)

	v.NotEmpty("tools.ytdlp_path", cfg.Tools.YtdlpPath)
	v.NotEmpty("tools.ffmpeg_path", cfg.Tools.FFmpegPath)
	v.PositiveDuration("tools.list_timeout", cfg.Tools.ListTimeout)
	v.PositiveDuration("tools.metadata_timeout", cfg.Tools.MetadataTimeout)
	v.PositiveDuration("tools.download_timeout", cfg.Tools.DownloadTimeout)
	v.PositiveDuration("tools.transcode_timeout", cfg.Tools.TranscodeTimeout)
	v.PositiveDuration("tools.kill_grace", cfg.Tools.KillGrace)
	if cfg.Tools.UpstreamRate <= 0 {
		v.AddError("tools.upstream_rate", "must be positive", cfg.Tools.UpstreamRate)
	}
	v.Positive("tools.upstream_burst", cfg.Tools.UpstreamBurst)

	v.Port("server.port", cfg.Server.Port)
	v.BaseURL("server.base_url", cfg.Server.BaseURL)
	if cfg.Server.AdminUser != "" && cfg.Server.AdminPassword == "" {
		v.AddError("server.admin_password", "must be set when admin_user is configured", "")
	}
	if cfg.Server.FeedUser != "" && cfg.Server.FeedPassword == "" {
		v.AddError("server.feed_password", "must be set when feed_user is configured", "")
	}

	v.OneOf("cache.backend", cfg.Cache.Backend, []string{"memory", "redis"})
	v.PositiveDuration("cache.ttl", cfg.Cache.TTL)
	if cfg.Cache.Backend == "redis" {
		v.NotEmpty("cache.redis.addr", cfg.Cache.Redis.Addr)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.Sampling < 0 || cfg.Telemetry.Sampling > 1 {
			v.AddError("telemetry.sampling", "must be between 0.0 and 1.0", cfg.Telemetry.Sampling)
		}
	}

	validateSeedChannels(v, cfg.Channels)

	return v.Err()
}

func validateSeedChannels(v *validate.Validator, channels []SeedChannel) {
	seen := make(map[string]struct{}, len(channels))
	for i, ch := range channels {
		field := func(name string) string {
			return "channels[" + strconv.Itoa(i) + "]." + name
		}
		v.URL(field("url"), ch.URL, []string{"http", "https"})
		normalized := strings.TrimRight(strings.TrimSpace(ch.URL), "/")
		if _, dup := seen[normalized]; dup && normalized != "" {
			v.AddError(field("url"), "duplicate channel url", ch.URL)
		}
		seen[normalized] = struct{}{}

		if ch.WindowSize != 0 {
			v.Range(field("window_size"), ch.WindowSize, core.MinWindowSize, core.MaxWindowSize)
		}
		if ch.FeedType != "" {
			v.OneOf(field("feed_type"), ch.FeedType, []string{
				string(core.FeedAudio), string(core.FeedVideo), string(core.FeedBoth),
			})
		}
	}
}
