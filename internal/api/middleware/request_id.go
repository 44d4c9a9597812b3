// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/vid2pod/internal/log"
)

// HeaderRequestID carries the request correlation id on both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen caps inbound correlation ids; anything longer is
// replaced rather than truncated.
const maxRequestIDLen = 64

// RequestID tags every request with a correlation id. A well-formed
// incoming header wins so ids survive reverse proxies; an oversized or
// non-printable one is swapped for a fresh UUID before it can reach the
// log stream.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if !usableRequestID(reqID) {
			reqID = uuid.New().String()
		}

		w.Header().Set(HeaderRequestID, reqID)
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// usableRequestID accepts printable ASCII without spaces, at most
// maxRequestIDLen bytes.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= 0x20 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
