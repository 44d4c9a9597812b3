// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/log"
)

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := s.store.GetEpisode(r.Context(), chi.URLParam(r, "episodeID"))
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) handleDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	paths, err := s.store.DeleteEpisode(r.Context(), episodeID)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	jobs.RemoveEpisodeFiles(r.Context(), s.layout, paths)

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "episode.deleted").
		Str("episode_id", episodeID).
		Int("files_removed", len(paths)).
		Msg("episode deleted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID := chi.URLParam(r, "episodeID")

	entry, err := s.store.RetryEpisode(r.Context(), episodeID)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	// Nudge the workers so the retry does not wait for the next poll lap.
	s.wake()

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "episode.retry").
		Str("episode_id", episodeID).
		Str("queue_entry_id", entry.ID).
		Msg("episode requeued")

	writeJSON(w, http.StatusOK, entry)
}
