// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/vid2pod/internal/feed"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
)

// mediaHandler serves downloaded media from the library with hardened
// path handling: traversal detection over multiple decode passes, a
// variant whitelist, and symlink-safe confinement to the data directory.
func (s *Server) mediaHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			metrics.IncMediaRequestDenied("method_not_allowed")
			w.Header().Set("Allow", "GET, HEAD")
			respondError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}

		slug := chi.URLParam(r, "slug")
		variant := chi.URLParam(r, "variant")
		filename := chi.URLParam(r, "filename")

		// Enhanced traversal detection including multiple URL-decode passes,
		// Unicode normalization, mixed-case encodings, and NUL bytes.
		if isPathTraversal(slug) || isPathTraversal(variant) || isPathTraversal(filename) {
			logger.Warn().
				Str("event", "media_req.denied").
				Str("path", r.URL.Path).
				Str("reason", "path_escape").
				Msg("detected traversal sequence")
			metrics.IncMediaRequestDenied("path_escape")
			respondError(w, r, http.StatusForbidden, codeForbidden, "forbidden")
			return
		}

		if variant != fsutil.AudioDir && variant != fsutil.VideoDir {
			metrics.IncMediaRequest("not_found")
			respondError(w, r, http.StatusNotFound, codeNotFound, "media not found")
			return
		}

		fullPath, err := s.layout.MediaPath(slug, variant, filename)
		if err != nil {
			if os.IsNotExist(err) {
				metrics.IncMediaRequest("not_found")
				respondError(w, r, http.StatusNotFound, codeNotFound, "media not found")
				return
			}
			logger.Warn().
				Str("event", "media_req.denied").
				Str("path", r.URL.Path).
				Str("reason", "path_escape").
				Msg("path escapes data directory")
			metrics.IncMediaRequestDenied("path_escape")
			respondError(w, r, http.StatusForbidden, codeForbidden, "forbidden")
			return
		}

		if err := fsutil.IsRegularFile(fullPath); err != nil {
			if os.IsNotExist(err) {
				logger.Info().
					Str("event", "media_req.not_found").
					Str("path", r.URL.Path).
					Msg("media file not found")
				metrics.IncMediaRequest("not_found")
				respondError(w, r, http.StatusNotFound, codeNotFound, "media not found")
				return
			}
			logger.Warn().
				Str("event", "media_req.denied").
				Str("path", r.URL.Path).
				Str("reason", "not_regular_file").
				Msg("resolved path is not a regular file")
			metrics.IncMediaRequestDenied("not_regular_file")
			respondError(w, r, http.StatusForbidden, codeForbidden, "forbidden")
			return
		}

		// #nosec G304 -- fullPath is confined to the data directory above
		f, err := os.Open(fullPath)
		if err != nil {
			logger.Error().Err(err).
				Str("event", "media_req.internal_error").
				Str("path", r.URL.Path).
				Msg("could not open media file")
			respondError(w, r, http.StatusInternalServerError, codeInternal, "an internal error occurred")
			return
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn().Err(err).Str("path", fullPath).Msg("failed to close media file")
			}
		}()

		info, err := f.Stat()
		if err != nil {
			logger.Error().Err(err).
				Str("event", "media_req.internal_error").
				Str("path", r.URL.Path).
				Msg("could not stat media file")
			respondError(w, r, http.StatusInternalServerError, codeInternal, "an internal error occurred")
			return
		}

		// Weak ETag from modtime and size. Media files are written once,
		// so this validator is stable for the life of the file.
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")

		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			metrics.IncMediaRequest("not_modified")
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", feed.MediaType(filename))

		metrics.IncMediaRequest("allowed")
		// ServeContent handles Range requests and Last-Modified for us.
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

// isPathTraversal performs robust checks against path traversal attempts.
// It decodes the input multiple times to catch double-encoding, applies
// Unicode normalization, and searches for dangerous sequences including NULs.
func isPathTraversal(p string) bool {
	decoded := p
	// Multiple decode passes catch double and triple encodings.
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	dangerSubstrings := []string{
		"..",        // parent traversal
		"/",         // segments must not nest
		"\\",        // windows-style backslash
		"%00",       // encoded NUL
		"%c0%ae",    // overlong UTF-8 for '.'
		"%e0%80%ae", // another overlong variant
	}
	for _, pat := range dangerSubstrings {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}

	// Normalize and check again for dot-dot.
	normalized := strings.ToLower(norm.NFC.String(decoded))
	return strings.Contains(normalized, "..")
}
