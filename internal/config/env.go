// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vid2pod/internal/log"
)

// ParseString reads a string from an environment variable or returns
// the default. An exported-but-empty variable counts as unset. The
// chosen source is logged at debug; values of credential-bearing keys
// stay out of the log.
func ParseString(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}

	logger := log.WithComponent("config")
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitiveKey(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		ev.Str("value", value).Msg("using environment variable")
	}
	return value
}

func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token")
}

// parseEnv looks up key and converts it with parse. Unset or empty
// variables yield the default silently; a value that fails to parse is
// logged and discarded so a typo cannot take the daemon down.
func parseEnv[T any](key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	value, err := parse(raw)
	if err != nil {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("key", key).
			Str("value", raw).
			Interface("default", defaultValue).
			Msgf("invalid %s in environment variable, using default", kind)
		return defaultValue
	}
	return value
}

// ParseInt reads an integer from an environment variable or returns the
// default, falling back to the default on parse errors.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, "integer", strconv.Atoi)
}

// ParseBool reads a boolean ("true"/"false", "1"/"0") from an
// environment variable or returns the default.
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, "boolean", strconv.ParseBool)
}

// ParseFloat reads a float from an environment variable or returns the default.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, "float", func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseDurationEnv reads a Go duration ("30s", "2h") from an
// environment variable or returns the default.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, "duration", time.ParseDuration)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
