// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"time"
)

// mergeFile overlays file values onto cfg. Only explicitly set fields
// override; zero values keep the previous layer.
func mergeFile(dst *Config, src *FileConfig) error {
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}

	if src.Storage.DataDir != "" {
		dst.Storage.DataDir = src.Storage.DataDir
	}
	if src.Storage.TempDir != "" {
		dst.Storage.TempDir = src.Storage.TempDir
	}
	if src.Database.Path != "" {
		dst.Database.Path = src.Database.Path
	}

	if err := mergeDuration(&dst.PollInterval, src.PollInterval, "poll_interval"); err != nil {
		return err
	}
	if src.MaxConcurrentDownloads != 0 {
		dst.MaxConcurrentDownloads = src.MaxConcurrentDownloads
	}

	if src.Queue.MaxAttempts != 0 {
		dst.Queue.MaxAttempts = src.Queue.MaxAttempts
	}
	if err := mergeDuration(&dst.Queue.PollInterval, src.Queue.PollInterval, "queue.poll_interval"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Queue.StuckThreshold, src.Queue.StuckThreshold, "queue.stuck_threshold"); err != nil {
		return err
	}

	mergeFileTranscode(dst, src)
	if err := mergeFileTools(dst, src); err != nil {
		return err
	}
	if err := mergeFileServer(dst, src); err != nil {
		return err
	}
	if err := mergeFileCache(dst, src); err != nil {
		return err
	}
	mergeFileTelemetry(dst, src)

	if len(src.Channels) > 0 {
		dst.Channels = src.Channels
	}

	return nil
}

func mergeFileTranscode(dst *Config, src *FileConfig) {
	if src.Transcode.AudioFormat != "" {
		dst.Transcode.AudioFormat = src.Transcode.AudioFormat
	}
	if src.Transcode.AudioBitrate != "" {
		dst.Transcode.AudioBitrate = src.Transcode.AudioBitrate
	}
	if src.Transcode.AudioSampleRate != 0 {
		dst.Transcode.AudioSampleRate = src.Transcode.AudioSampleRate
	}
	if src.Transcode.VideoCodec != "" {
		dst.Transcode.VideoCodec = src.Transcode.VideoCodec
	}
	if src.Transcode.VideoQuality != nil {
		dst.Transcode.VideoQuality = *src.Transcode.VideoQuality
	}
	if src.Transcode.Threads != 0 {
		dst.Transcode.Threads = src.Transcode.Threads
	}
	if src.Transcode.KeepOriginal != nil {
		dst.Transcode.KeepOriginal = *src.Transcode.KeepOriginal
	}
}

func mergeFileTools(dst *Config, src *FileConfig) error {
	if src.Tools.YtdlpPath != "" {
		dst.Tools.YtdlpPath = src.Tools.YtdlpPath
	}
	if src.Tools.FFmpegPath != "" {
		dst.Tools.FFmpegPath = src.Tools.FFmpegPath
	}
	if err := mergeDuration(&dst.Tools.ListTimeout, src.Tools.ListTimeout, "tools.list_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Tools.MetadataTimeout, src.Tools.MetadataTimeout, "tools.metadata_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Tools.DownloadTimeout, src.Tools.DownloadTimeout, "tools.download_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Tools.TranscodeTimeout, src.Tools.TranscodeTimeout, "tools.transcode_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Tools.KillGrace, src.Tools.KillGrace, "tools.kill_grace"); err != nil {
		return err
	}
	if src.Tools.UpstreamRate != 0 {
		dst.Tools.UpstreamRate = src.Tools.UpstreamRate
	}
	if src.Tools.UpstreamBurst != 0 {
		dst.Tools.UpstreamBurst = src.Tools.UpstreamBurst
	}
	return nil
}

func mergeFileServer(dst *Config, src *FileConfig) error {
	if src.Server.Host != "" {
		dst.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.Server.BaseURL != "" {
		dst.Server.BaseURL = src.Server.BaseURL
	}
	if src.Server.AdminUser != "" {
		dst.Server.AdminUser = src.Server.AdminUser
	}
	if src.Server.AdminPassword != "" {
		dst.Server.AdminPassword = src.Server.AdminPassword
	}
	if src.Server.FeedUser != "" {
		dst.Server.FeedUser = src.Server.FeedUser
	}
	if src.Server.FeedPassword != "" {
		dst.Server.FeedPassword = src.Server.FeedPassword
	}
	if err := mergeDuration(&dst.Server.ReadTimeout, src.Server.ReadTimeout, "server.read_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Server.WriteTimeout, src.Server.WriteTimeout, "server.write_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Server.IdleTimeout, src.Server.IdleTimeout, "server.idle_timeout"); err != nil {
		return err
	}
	if err := mergeDuration(&dst.Server.ShutdownTimeout, src.Server.ShutdownTimeout, "server.shutdown_timeout"); err != nil {
		return err
	}
	if src.Server.MaxHeaderBytes != 0 {
		dst.Server.MaxHeaderBytes = src.Server.MaxHeaderBytes
	}
	return nil
}

func mergeFileCache(dst *Config, src *FileConfig) error {
	if src.Cache.Backend != "" {
		dst.Cache.Backend = src.Cache.Backend
	}
	if err := mergeDuration(&dst.Cache.TTL, src.Cache.TTL, "cache.ttl"); err != nil {
		return err
	}
	if src.Cache.Redis.Addr != "" {
		dst.Cache.Redis.Addr = src.Cache.Redis.Addr
	}
	if src.Cache.Redis.Password != "" {
		dst.Cache.Redis.Password = src.Cache.Redis.Password
	}
	if src.Cache.Redis.DB != 0 {
		dst.Cache.Redis.DB = src.Cache.Redis.DB
	}
	return nil
}

func mergeFileTelemetry(dst *Config, src *FileConfig) {
	if src.Telemetry.Enabled != nil {
		dst.Telemetry.Enabled = *src.Telemetry.Enabled
	}
	if src.Telemetry.Exporter != "" {
		dst.Telemetry.Exporter = src.Telemetry.Exporter
	}
	if src.Telemetry.Endpoint != "" {
		dst.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.Sampling != 0 {
		dst.Telemetry.Sampling = src.Telemetry.Sampling
	}
}

func mergeDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// mergeEnv overlays VID2POD_* environment variables, the highest-precedence
// layer.
func mergeEnv(cfg *Config) {
	cfg.Log.Level = ParseString("VID2POD_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = ParseString("VID2POD_LOG_FORMAT", cfg.Log.Format)

	cfg.Storage.DataDir = ParseString("VID2POD_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.TempDir = ParseString("VID2POD_TEMP_DIR", cfg.Storage.TempDir)
	cfg.Database.Path = ParseString("VID2POD_DB_PATH", cfg.Database.Path)

	cfg.PollInterval = ParseDurationEnv("VID2POD_POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxConcurrentDownloads = ParseInt("VID2POD_MAX_CONCURRENT_DOWNLOADS", cfg.MaxConcurrentDownloads)

	cfg.Queue.MaxAttempts = ParseInt("VID2POD_QUEUE_MAX_ATTEMPTS", cfg.Queue.MaxAttempts)
	cfg.Queue.PollInterval = ParseDurationEnv("VID2POD_QUEUE_POLL_INTERVAL", cfg.Queue.PollInterval)
	cfg.Queue.StuckThreshold = ParseDurationEnv("VID2POD_QUEUE_STUCK_THRESHOLD", cfg.Queue.StuckThreshold)

	cfg.Transcode.AudioFormat = ParseString("VID2POD_AUDIO_FORMAT", cfg.Transcode.AudioFormat)
	cfg.Transcode.AudioBitrate = ParseString("VID2POD_AUDIO_BITRATE", cfg.Transcode.AudioBitrate)
	cfg.Transcode.AudioSampleRate = ParseInt("VID2POD_AUDIO_SAMPLE_RATE", cfg.Transcode.AudioSampleRate)
	cfg.Transcode.VideoCodec = ParseString("VID2POD_VIDEO_CODEC", cfg.Transcode.VideoCodec)
	cfg.Transcode.VideoQuality = ParseInt("VID2POD_VIDEO_QUALITY", cfg.Transcode.VideoQuality)
	cfg.Transcode.Threads = ParseInt("VID2POD_TRANSCODE_THREADS", cfg.Transcode.Threads)
	cfg.Transcode.KeepOriginal = ParseBool("VID2POD_KEEP_ORIGINAL", cfg.Transcode.KeepOriginal)

	cfg.Tools.YtdlpPath = ParseString("VID2POD_YTDLP_PATH", cfg.Tools.YtdlpPath)
	cfg.Tools.FFmpegPath = ParseString("VID2POD_FFMPEG_PATH", cfg.Tools.FFmpegPath)
	cfg.Tools.ListTimeout = ParseDurationEnv("VID2POD_LIST_TIMEOUT", cfg.Tools.ListTimeout)
	cfg.Tools.MetadataTimeout = ParseDurationEnv("VID2POD_METADATA_TIMEOUT", cfg.Tools.MetadataTimeout)
	cfg.Tools.DownloadTimeout = ParseDurationEnv("VID2POD_DOWNLOAD_TIMEOUT", cfg.Tools.DownloadTimeout)
	cfg.Tools.TranscodeTimeout = ParseDurationEnv("VID2POD_TRANSCODE_TIMEOUT", cfg.Tools.TranscodeTimeout)
	cfg.Tools.KillGrace = ParseDurationEnv("VID2POD_KILL_GRACE", cfg.Tools.KillGrace)
	cfg.Tools.UpstreamRate = ParseFloat("VID2POD_UPSTREAM_RATE", cfg.Tools.UpstreamRate)
	cfg.Tools.UpstreamBurst = ParseInt("VID2POD_UPSTREAM_BURST", cfg.Tools.UpstreamBurst)

	cfg.Server.Host = ParseString("VID2POD_HOST", cfg.Server.Host)
	cfg.Server.Port = ParseInt("VID2POD_PORT", cfg.Server.Port)
	cfg.Server.BaseURL = ParseString("VID2POD_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.AdminUser = ParseString("VID2POD_ADMIN_USER", cfg.Server.AdminUser)
	cfg.Server.AdminPassword = ParseString("VID2POD_ADMIN_PASSWORD", cfg.Server.AdminPassword)
	cfg.Server.FeedUser = ParseString("VID2POD_FEED_USER", cfg.Server.FeedUser)
	cfg.Server.FeedPassword = ParseString("VID2POD_FEED_PASSWORD", cfg.Server.FeedPassword)

	cfg.Cache.Backend = ParseString("VID2POD_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL = ParseDurationEnv("VID2POD_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.Redis.Addr = ParseString("VID2POD_REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = ParseString("VID2POD_REDIS_PASSWORD", cfg.Cache.Redis.Password)
	cfg.Cache.Redis.DB = ParseInt("VID2POD_REDIS_DB", cfg.Cache.Redis.DB)

	cfg.Telemetry.Enabled = ParseBool("VID2POD_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("VID2POD_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("VID2POD_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.Sampling = ParseFloat("VID2POD_OTEL_SAMPLING", cfg.Telemetry.Sampling)
}
