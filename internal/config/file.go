// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

// FileConfig is the YAML file shape. Durations are strings ("30s", "2h")
// parsed during merge; zero values mean "not set" and leave the default in
// place. Parsing is strict: unknown keys fail the load.
type FileConfig struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
		TempDir string `yaml:"temp_dir"`
	} `yaml:"storage"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	PollInterval           string `yaml:"poll_interval"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`

	Queue struct {
		MaxAttempts    int    `yaml:"max_attempts"`
		PollInterval   string `yaml:"poll_interval"`
		StuckThreshold string `yaml:"stuck_threshold"`
	} `yaml:"queue"`

	Transcode struct {
		AudioFormat     string `yaml:"audio_format"`
		AudioBitrate    string `yaml:"audio_bitrate"`
		AudioSampleRate int    `yaml:"audio_sample_rate"`
		VideoCodec      string `yaml:"video_codec"`
		VideoQuality    *int   `yaml:"video_quality"`
		Threads         int    `yaml:"threads"`
		KeepOriginal    *bool  `yaml:"keep_original"`
	} `yaml:"transcode"`

	Tools struct {
		YtdlpPath        string  `yaml:"ytdlp_path"`
		FFmpegPath       string  `yaml:"ffmpeg_path"`
		ListTimeout      string  `yaml:"list_timeout"`
		MetadataTimeout  string  `yaml:"metadata_timeout"`
		DownloadTimeout  string  `yaml:"download_timeout"`
		TranscodeTimeout string  `yaml:"transcode_timeout"`
		KillGrace        string  `yaml:"kill_grace"`
		UpstreamRate     float64 `yaml:"upstream_rate"`
		UpstreamBurst    int     `yaml:"upstream_burst"`
	} `yaml:"tools"`

	Server struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		BaseURL         string `yaml:"base_url"`
		AdminUser       string `yaml:"admin_user"`
		AdminPassword   string `yaml:"admin_password"`
		FeedUser        string `yaml:"feed_user"`
		FeedPassword    string `yaml:"feed_password"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		MaxHeaderBytes  int    `yaml:"max_header_bytes"`
	} `yaml:"server"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Telemetry struct {
		Enabled  *bool   `yaml:"enabled"`
		Exporter string  `yaml:"exporter"`
		Endpoint string  `yaml:"endpoint"`
		Sampling float64 `yaml:"sampling"`
	} `yaml:"telemetry"`

	Channels []SeedChannel `yaml:"channels"`
}
