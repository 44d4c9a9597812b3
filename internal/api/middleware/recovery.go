// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/ManuGH/vid2pod/internal/log"
)

// Recoverer keeps a panicking handler from taking the process down: the
// panic is logged with its stack and the client gets a 500 in the API
// envelope shape.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				respondPanic(w, r, rec)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func respondPanic(w http.ResponseWriter, r *http.Request, rec any) {
	buf := make([]byte, 8192)
	stack := string(buf[:runtime.Stack(buf, false)])

	logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
	logger.Error().
		Str("event", "panic.recovered").
		Str("method", r.Method).
		Str("path", cleanUTF8(r.URL.Path)).
		Str("remote_addr", r.RemoteAddr).
		Interface("panic_value", rec).
		Str("stack_trace", stack).
		Msg("panic recovered in http handler")

	// Best effort: the handler may have written already.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":       "INTERNAL_ERROR",
			"message":    "an unexpected error occurred",
			"request_id": log.RequestIDFromContext(r.Context()),
		},
	})
}

// cleanUTF8 keeps hostile request paths from corrupting the log stream.
func cleanUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
