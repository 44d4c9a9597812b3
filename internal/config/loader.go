// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence: ENV > file > defaults.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given config file path. An empty path
// skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load applies defaults, merges the config file (if any), overlays
// VID2POD_* environment variables and validates the result.
func (l *Loader) Load() (Config, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if err := finalize(&cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile reads and strictly parses a YAML config file. ${VAR} references
// are expanded against the process environment before decoding. Unknown keys
// cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	data, err = expandEnv(data)
	if err != nil {
		return nil, err
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// A config file is a single document.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		PollInterval:           1 * time.Hour,
		MaxConcurrentDownloads: 2,
		Queue: QueueConfig{
			MaxAttempts:    3,
			PollInterval:   5 * time.Second,
			StuckThreshold: 2 * time.Hour,
		},
		Transcode: TranscodeConfig{
			AudioFormat:     "mp3",
			AudioBitrate:    "128k",
			AudioSampleRate: 44100,
			VideoCodec:      "h264",
			VideoQuality:    23,
		},
		Tools: ToolsConfig{
			YtdlpPath:        "yt-dlp",
			FFmpegPath:       "ffmpeg",
			ListTimeout:      2 * time.Minute,
			MetadataTimeout:  1 * time.Minute,
			DownloadTimeout:  30 * time.Minute,
			TranscodeTimeout: 30 * time.Minute,
			KillGrace:        5 * time.Second,
			UpstreamRate:     1.0,
			UpstreamBurst:    2,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Exporter: "grpc",
			Sampling: 1.0,
		},
	}
}

// finalize derives dependent paths once all layers are merged.
func finalize(cfg *Config) error {
	if abs, err := filepath.Abs(cfg.Storage.DataDir); err == nil {
		cfg.Storage.DataDir = abs
	}
	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = filepath.Join(cfg.Storage.DataDir, "temp")
	} else if abs, err := filepath.Abs(cfg.Storage.TempDir); err == nil {
		cfg.Storage.TempDir = abs
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.Storage.DataDir, "vid2pod.db")
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	return nil
}
