// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vid2pod/internal/log"
)

func (s *Server) handleRefreshChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	force := r.URL.Query().Get("force") == "true"

	result, err := s.refresher.RefreshChannel(r.Context(), channelID, force)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "refresh.triggered").
		Str("channel_id", channelID).
		Int("videos_seen", result.VideosSeen).
		Int("episodes_queued", result.EpisodesQueued).
		Msg("channel refresh triggered")

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	if s.refresher.Sweeping() {
		w.Header().Set("Retry-After", "30")
		respondError(w, r, http.StatusConflict, codeConflict,
			"a refresh sweep is already running")
		return
	}

	force := r.URL.Query().Get("force") == "true"

	result, err := s.refresher.RefreshAll(r.Context(), force)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "refresh.sweep_triggered").
		Int("channels", result.Channels).
		Int("episodes_queued", result.EpisodesQueued).
		Msg("refresh sweep triggered")

	writeJSON(w, http.StatusOK, result)
}
