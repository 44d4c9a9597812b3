// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/ManuGH/vid2pod/internal/log"
)

// credentialFunc returns the configured user and password for a realm,
// read per request so hot-reloaded credentials take effect immediately.
type credentialFunc func() (user, password string)

// basicAuth enforces HTTP Basic authentication for a realm. An empty
// configured user disables the realm entirely.
func basicAuth(realm string, creds credentialFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wantUser, wantPass := creds()
			if wantUser == "" {
				next.ServeHTTP(w, r)
				return
			}

			logger := log.WithComponentFromContext(r.Context(), "auth")

			gotUser, gotPass, ok := r.BasicAuth()
			if !ok {
				logger.Warn().
					Str("event", "auth.missing_credentials").
					Str("realm", realm).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("authorization header missing")
				challenge(w, r, realm)
				return
			}

			// Evaluate both comparisons before branching so a username
			// mismatch costs the same as a password mismatch.
			userOK := authorize(gotUser, wantUser)
			passOK := authorize(gotPass, wantPass)
			if !userOK || !passOK {
				logger.Warn().
					Str("event", "auth.invalid_credentials").
					Str("realm", realm).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("invalid credentials")
				challenge(w, r, realm)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// authorize returns true if got matches expected using constant-time
// comparison. Empty expectations are always unauthorized.
func authorize(got, expected string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

func challenge(w http.ResponseWriter, r *http.Request, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
	respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
}
