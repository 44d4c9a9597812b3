// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Format  string    // "json" (default) or "console"
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the global zerolog logger exactly once. Later
// calls are no-ops; use SetLevel for runtime level changes.
func Configure(cfg Config) {
	once.Do(func() {
		zerolog.SetGlobalLevel(resolveLevel(cfg.Level))
		zerolog.TimeFieldFormat = time.RFC3339

		base = zerolog.New(resolveWriter(cfg)).With().
			Timestamp().
			Str("service", resolveService(cfg.Service)).
			Logger()
	})
}

// resolveLevel prefers the configured level, then LOG_LEVEL, then info.
// Unparseable values fall through rather than fail: logging must come up
// even when its own config is wrong.
func resolveLevel(configured string) zerolog.Level {
	for _, candidate := range []string{configured, os.Getenv("LOG_LEVEL")} {
		if candidate == "" {
			continue
		}
		if parsed, err := zerolog.ParseLevel(candidate); err == nil {
			return parsed
		}
	}
	return zerolog.InfoLevel
}

func resolveWriter(cfg Config) io.Writer {
	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Format == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

func resolveService(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("LOG_SERVICE"); env != "" {
		return env
	}
	return "vid2pod"
}

// SetLevel changes the global log level at runtime. Used by config hot reload.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// Base returns the configured base logger, configuring defaults first if
// nothing has called Configure yet.
func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}
