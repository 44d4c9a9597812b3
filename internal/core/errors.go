// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package core

import (
	"errors"
	"fmt"
)

// FailureKind classifies an external-tool failure. Adapters assign the kind;
// callers never parse stderr themselves.
type FailureKind string

const (
	// FailureNotFound means upstream reports the resource gone (4xx equivalent).
	FailureNotFound FailureKind = "not_found"

	// FailureForbidden means upstream refuses access (private/forbidden).
	FailureForbidden FailureKind = "forbidden"

	// FailureTransientNetwork means a network hiccup worth retrying.
	FailureTransientNetwork FailureKind = "transient_network"

	// FailureTool means the child process failed unexpectedly (non-zero exit,
	// malformed output).
	FailureTool FailureKind = "tool_failure"

	// FailureTimeout means the invocation exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
)

func (k FailureKind) String() string { return string(k) }

// Retryable reports whether the retry policy re-queues failures of this kind.
// not_found and forbidden are terminal on first occurrence.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTransientNetwork, FailureTool, FailureTimeout:
		return true
	default:
		return false
	}
}

// ValidationError reports bad input at a boundary. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// NewValidationError builds a field-scoped validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// DuplicateError reports a uniqueness collision (channel URL, episode video id).
type DuplicateError struct {
	Entity string
	Key    string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: %s", e.Entity, e.Key)
}

// NotFoundError reports an entity lookup miss.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// StateConflictError reports an operation that is illegal in the entity's
// current state (delete while downloading, retry of a non-failed episode,
// concurrent global refresh).
type StateConflictError struct {
	Op      string
	Current string
	Message string
}

func (e *StateConflictError) Error() string {
	if e.Current != "" {
		return fmt.Sprintf("%s: conflict in state %q: %s", e.Op, e.Current, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ExternalError is an adapter-classified child-process failure. Kind decides
// whether the retry policy re-queues (transient) or buries (permanent) the
// episode.
type ExternalError struct {
	Kind   FailureKind
	Op     string // "list", "metadata", "download", "transcode_audio", ...
	Detail string // short human-readable cause, safe for error_message
	Err    error  // underlying cause, often an *exec.ExitError chain
}

func (e *ExternalError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// NewExternalError builds a classified adapter error.
func NewExternalError(kind FailureKind, op, detail string, err error) *ExternalError {
	return &ExternalError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// InternalError wraps broken invariants and unexpected I/O failures.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal: %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internalf wraps err as an InternalError for op.
func Internalf(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsDuplicate reports whether err is a DuplicateError.
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsStateConflict reports whether err is a StateConflictError.
func IsStateConflict(err error) bool {
	var c *StateConflictError
	return errors.As(err, &c)
}

// AsExternal extracts an ExternalError from err's chain.
func AsExternal(err error) (*ExternalError, bool) {
	var e *ExternalError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient reports whether err is a retryable external failure.
func IsTransient(err error) bool {
	if e, ok := AsExternal(err); ok {
		return e.Kind.Retryable()
	}
	return false
}

// IsPermanentExternal reports whether err is an external failure that is
// terminal on first occurrence.
func IsPermanentExternal(err error) bool {
	if e, ok := AsExternal(err); ok {
		return !e.Kind.Retryable()
	}
	return false
}
