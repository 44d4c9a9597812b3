// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
)

// Stable machine-readable error codes carried in the envelope.
const (
	codeUnauthorized       = "UNAUTHORIZED"
	codeForbidden          = "FORBIDDEN"
	codeNotFound           = "NOT_FOUND"
	codeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	codeConflict           = "CONFLICT"
	codeValidation         = "VALIDATION_ERROR"
	codeRateLimited        = "RATE_LIMITED"
	codeInternal           = "INTERNAL_ERROR"
	codeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// errorBody is the inner object of the error envelope.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// errorEnvelope wraps every non-2xx/3xx JSON response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
// If encoding fails, headers are already sent so we can't change the status
// code, but we log the error for debugging.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.Base()
		logger.Error().
			Err(err).
			Int("status", code).
			Msg("failed to encode json response")
	}
}

// respondError writes the error envelope with the request id from context.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondFieldError(w, r, status, code, message, "")
}

// respondFieldError is respondError with a field name for validation failures.
func respondFieldError(w http.ResponseWriter, r *http.Request, status int, code, message, field string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Field:     field,
		RequestID: log.RequestIDFromContext(r.Context()),
	}})
}

// respondCoreError maps a typed domain error onto the envelope. Unclassified
// errors become a generic 500 so internal detail never leaks to clients.
func respondCoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		respondFieldError(w, r, http.StatusBadRequest, codeValidation, verr.Message, verr.Field)
		return
	}
	if core.IsNotFound(err) {
		respondError(w, r, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	if core.IsDuplicate(err) || core.IsStateConflict(err) {
		respondError(w, r, http.StatusConflict, codeConflict, err.Error())
		return
	}
	if ext, ok := core.AsExternal(err); ok {
		respondError(w, r, http.StatusServiceUnavailable, codeServiceUnavailable,
			"upstream operation failed: "+ext.Kind.String())
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Error().
		Err(err).
		Str("path", r.URL.Path).
		Msg("request failed")
	respondError(w, r, http.StatusInternalServerError, codeInternal, "an internal error occurred")
}

// notFoundHandler answers unknown routes in the envelope shape.
func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusNotFound, codeNotFound, "route not found")
}

// methodNotAllowedHandler answers wrong methods on known routes in the
// envelope shape.
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
