// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vid2pod/internal/feed"
	"github.com/ManuGH/vid2pod/internal/metrics"
)

const (
	contentTypeRSS  = "application/rss+xml; charset=utf-8"
	contentTypeAtom = "application/atom+xml; charset=utf-8"

	// feedCacheControl keeps podcast clients polling against the cached
	// document instead of re-rendering on every hit.
	feedCacheControl = "public, max-age=300"
)

func (s *Server) handleChannelFeed(variant feed.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.feeds.ChannelFeed(r.Context(), chi.URLParam(r, "channelID"), variant)
		if err != nil {
			respondCoreError(w, r, err)
			return
		}
		s.serveFeed(w, r, doc, contentTypeRSS)
	}
}

func (s *Server) handleChannelAtom(w http.ResponseWriter, r *http.Request) {
	doc, err := s.feeds.ChannelAtomFeed(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	s.serveFeed(w, r, doc, contentTypeAtom)
}

func (s *Server) handleCombinedFeed(variant feed.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.feeds.CombinedFeed(r.Context(), variant)
		if err != nil {
			respondCoreError(w, r, err)
			return
		}
		s.serveFeed(w, r, doc, contentTypeRSS)
	}
}

// serveFeed writes a rendered feed document with validators so clients
// can revalidate cheaply. The ETag is strong: documents are rendered
// deterministically and cached byte-for-byte.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, doc *feed.Document, contentType string) {
	etag := `"` + doc.ETag + `"`

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", feedCacheControl)
	if !doc.LastModified.IsZero() {
		w.Header().Set("Last-Modified", doc.LastModified.UTC().Format(http.TimeFormat))
	}

	if notModified(r, etag, doc) {
		metrics.IncFeedNotModified()
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(doc.Body)
	}
}

// notModified reports whether the client's cached copy is still fresh.
// If-None-Match wins over If-Modified-Since per RFC 9110.
func notModified(r *http.Request, etag string, doc *feed.Document) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etagMatches(inm, etag)
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" && !doc.LastModified.IsZero() {
		if t, err := http.ParseTime(ims); err == nil {
			// Last-Modified has second granularity on the wire.
			return !doc.LastModified.Truncate(time.Second).After(t)
		}
	}
	return false
}

// etagMatches checks an If-None-Match header value against our ETag.
// W/ prefixes are stripped on both sides: weak comparison is sufficient
// for 304s per RFC 9110.
func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}
	target := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == target {
			return true
		}
	}
	return false
}
