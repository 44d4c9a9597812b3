// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package validate implements accumulating configuration validation.
// Checks record failures instead of returning them, so a single pass
// over a config reports every problem at once.
package validate

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Error is a single failed check.
type Error struct {
	Field   string
	Value   interface{}
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError is the combined result of a validation pass with at
// least one failure.
type ValidationError struct {
	errors []Error
}

// Errors returns the individual failures.
func (e ValidationError) Errors() []Error {
	return e.errors
}

func (e ValidationError) Error() string {
	switch len(e.errors) {
	case 0:
		return ""
	case 1:
		return e.errors[0].Error()
	}

	msgs := make([]string, len(e.errors))
	for i, err := range e.errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validator collects failures across any number of checks.
type Validator struct {
	errors []Error
}

// New returns an empty validator.
func New() *Validator {
	return &Validator{}
}

// AddError records a failure directly, for checks too specific to have
// their own method.
func (v *Validator) AddError(field, message string, value interface{}) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: message})
}

// fail is the formatted variant the built-in checks funnel through.
func (v *Validator) fail(field string, value interface{}, format string, args ...interface{}) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

// IsValid reports whether every check so far passed.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all recorded failures.
func (v *Validator) Errors() []Error {
	return v.errors
}

// Err returns nil when all checks passed, otherwise a ValidationError
// holding a copy of the recorded failures.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return ValidationError{errors: append([]Error(nil), v.errors...)}
}

// NotEmpty fails on empty or whitespace-only strings.
func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.fail(field, value, "value cannot be empty")
	}
}

// OneOf fails unless value exactly matches one of the allowed strings.
func (v *Validator) OneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.fail(field, value, "value must be one of %v, got %q", allowed, value)
}

// Positive fails on zero or negative values.
func (v *Validator) Positive(field string, value int) {
	if value <= 0 {
		v.fail(field, value, "value must be positive, got %d", value)
	}
}

// NonNegative fails on negative values.
func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.fail(field, value, "value cannot be negative, got %d", value)
	}
}

// Range fails when value lies outside [minVal, maxVal].
func (v *Validator) Range(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		v.fail(field, value, "value must be between %d and %d, got %d", minVal, maxVal, value)
	}
}

// Port fails unless the value is a bindable TCP port.
func (v *Validator) Port(field string, port int) {
	if port <= 0 || port > 65535 {
		v.fail(field, port, "port must be between 1 and 65535, got %d", port)
	}
}

// MinDuration fails when a duration is below the given floor.
func (v *Validator) MinDuration(field string, value, floor time.Duration) {
	if value < floor {
		v.fail(field, value.String(), "duration must be at least %s, got %s", floor, value)
	}
}

// PositiveDuration fails on zero or negative durations.
func (v *Validator) PositiveDuration(field string, value time.Duration) {
	if value <= 0 {
		v.fail(field, value.String(), "duration must be positive, got %s", value)
	}
}

var bitratePattern = regexp.MustCompile(`^[0-9]+[kKmM]?$`)

// Bitrate fails unless value is an ffmpeg-style bitrate ("128k", "1M", "96000").
func (v *Validator) Bitrate(field, value string) {
	if !bitratePattern.MatchString(value) {
		v.fail(field, value, "bitrate must match <digits>[k|M], got %q", value)
	}
}

// URL fails unless value parses as a URL with a host and, when
// allowedSchemes is non-empty, carries one of the listed schemes.
func (v *Validator) URL(field, value string, allowedSchemes []string) {
	u, ok := v.parseURL(field, value)
	if !ok || len(allowedSchemes) == 0 {
		return
	}
	for _, scheme := range allowedSchemes {
		if u.Scheme == scheme {
			return
		}
	}
	v.fail(field, value, "unsupported URL scheme %q (allowed: %v)", u.Scheme, allowedSchemes)
}

// BaseURL fails unless value is a clean public http(s) base: no query,
// no fragment, and a hostname that survives IDNA mapping. Enclosure
// links are built by string-prefixing this value, so junk here poisons
// every generated feed.
func (v *Validator) BaseURL(field, value string) {
	u, ok := v.parseURL(field, value)
	if !ok {
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.fail(field, value, "unsupported scheme %q (must be http or https)", u.Scheme)
		return
	}
	if u.RawQuery != "" || u.Fragment != "" {
		v.fail(field, value, "must not contain query or fragment")
		return
	}

	host := u.Hostname()
	if host == "" {
		v.fail(field, value, "URL must have a hostname")
		return
	}
	// Unicode hostnames must map to a valid ASCII form (RFC 5890).
	// Literal IPs are exempt, idna rejects them.
	if _, err := idna.Lookup.ToASCII(host); err != nil && !isIPLiteral(host) {
		v.fail(field, value, "invalid hostname %q: %v", host, err)
	}
}

// parseURL runs the checks shared by URL and BaseURL. A false return
// means a failure has already been recorded.
func (v *Validator) parseURL(field, value string) (*url.URL, bool) {
	if value == "" {
		v.fail(field, value, "URL cannot be empty")
		return nil, false
	}
	u, err := url.Parse(value)
	if err != nil {
		v.fail(field, value, "invalid URL: %v", err)
		return nil, false
	}
	if u.Host == "" {
		v.fail(field, value, "URL must have a host")
		return nil, false
	}
	return u, true
}

func isIPLiteral(host string) bool {
	for _, r := range host {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ':',
			r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return strings.ContainsAny(host, ".:")
}

// Directory fails unless path names a usable directory. With mustExist
// false a missing directory is created on the spot, mode 0750.
func (v *Validator) Directory(field, path string, mustExist bool) {
	if path == "" {
		v.fail(field, path, "directory path cannot be empty")
		return
	}
	if strings.Contains(path, "..") {
		v.fail(field, path, "path contains traversal sequences (..)")
		return
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		v.fail(field, path, "invalid path: %v", err)
		return
	}

	info, err := os.Stat(absPath)
	switch {
	case err == nil:
		if !info.IsDir() {
			v.fail(field, path, "path is not a directory")
		}
	case os.IsNotExist(err):
		if mustExist {
			v.fail(field, path, "directory does not exist")
			return
		}
		if err := os.MkdirAll(absPath, 0o750); err != nil {
			v.fail(field, path, "cannot create directory: %v", err)
		}
	default:
		v.fail(field, path, "cannot access directory: %v", err)
	}
}
