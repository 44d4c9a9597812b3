// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/store"
)

// maxBodyBytes bounds JSON request bodies; channel payloads are tiny.
const maxBodyBytes = 1 << 20

// listDefaultLimit and listMaxLimit bound paginated listings.
const (
	listDefaultLimit = 50
	listMaxLimit     = 200
)

type createChannelRequest struct {
	URL                string                   `json:"url"`
	Title              string                   `json:"title"`
	Description        string                   `json:"description"`
	Thumbnail          string                   `json:"thumbnail"`
	WindowSize         int                      `json:"window_size"`
	FeedType           string                   `json:"feed_type"`
	Enabled            *bool                    `json:"enabled"`
	TranscodeOverrides *core.TranscodeOverrides `json:"transcode_overrides"`
}

type patchChannelRequest struct {
	Title              *string                  `json:"title"`
	Description        *string                  `json:"description"`
	Thumbnail          *string                  `json:"thumbnail"`
	WindowSize         *int                     `json:"window_size"`
	FeedType           *string                  `json:"feed_type"`
	Enabled            *bool                    `json:"enabled"`
	TranscodeOverrides *core.TranscodeOverrides `json:"transcode_overrides"`
}

type channelListResponse struct {
	Channels []core.Channel `json:"channels"`
	Count    int            `json:"count"`
}

type episodeListResponse struct {
	Episodes []core.Episode `json:"episodes"`
	Count    int            `json:"count"`
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateChannelURL(req.URL); err != nil {
		respondCoreError(w, r, err)
		return
	}

	feedType := core.FeedAudio
	if req.FeedType != "" {
		t, err := core.ParseFeedType(req.FeedType)
		if err != nil {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				err.Error(), "feed_type")
			return
		}
		feedType = t
	}

	window := req.WindowSize
	if window == 0 {
		window = core.DefaultWindowSize
	}
	if window < core.MinWindowSize || window > core.MaxWindowSize {
		respondFieldError(w, r, http.StatusBadRequest, codeValidation,
			"window_size out of range", "window_size")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = jobs.TitleFromURL(req.URL)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	ch := &core.Channel{
		URL:                req.URL,
		Title:              title,
		Description:        req.Description,
		Thumbnail:          req.Thumbnail,
		WindowSize:         window,
		FeedType:           feedType,
		Enabled:            enabled,
		TranscodeOverrides: req.TranscodeOverrides,
	}
	if err := jobs.CreateChannelUniqueSlug(r.Context(), s.store, ch); err != nil {
		respondCoreError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "channel.created").
		Str("channel_id", ch.ID).
		Str("slug", ch.Slug).
		Str("url", ch.URL).
		Msg("channel created")

	w.Header().Set("Location", "/api/v1/channels/"+ch.ID)
	writeJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ChannelFilter{
		OrderBy:    q.Get("order_by"),
		Descending: q.Get("order") == "desc",
	}

	if v := q.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				"must be true or false", "enabled")
			return
		}
		filter.Enabled = &enabled
	}
	if v := q.Get("feed_type"); v != "" {
		t, err := core.ParseFeedType(v)
		if err != nil {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				err.Error(), "feed_type")
			return
		}
		filter.FeedType = t
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	channels, err := s.store.ListChannels(r.Context(), filter)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	if channels == nil {
		channels = []core.Channel{}
	}

	writeJSON(w, http.StatusOK, channelListResponse{Channels: channels, Count: len(channels)})
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handlePatchChannel(w http.ResponseWriter, r *http.Request) {
	var req patchChannelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ch, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "channelID"))
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	// The slug is deliberately stable across title edits: it names the
	// media directory and every published enclosure URL.
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				"title must not be empty", "title")
			return
		}
		ch.Title = *req.Title
	}
	if req.Description != nil {
		ch.Description = *req.Description
	}
	if req.Thumbnail != nil {
		ch.Thumbnail = *req.Thumbnail
	}
	if req.WindowSize != nil {
		if *req.WindowSize < core.MinWindowSize || *req.WindowSize > core.MaxWindowSize {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				"window_size out of range", "window_size")
			return
		}
		ch.WindowSize = *req.WindowSize
	}
	if req.FeedType != nil {
		t, err := core.ParseFeedType(*req.FeedType)
		if err != nil {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				err.Error(), "feed_type")
			return
		}
		ch.FeedType = t
	}
	if req.Enabled != nil {
		ch.Enabled = *req.Enabled
	}
	if req.TranscodeOverrides != nil {
		ch.TranscodeOverrides = req.TranscodeOverrides
	}

	if err := s.store.UpdateChannel(r.Context(), ch); err != nil {
		respondCoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	paths, err := s.store.DeleteChannel(r.Context(), channelID)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	jobs.RemoveEpisodeFiles(r.Context(), s.layout, paths)

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "channel.deleted").
		Str("channel_id", channelID).
		Int("files_removed", len(paths)).
		Msg("channel deleted")

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChannelEpisodes(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	// A listing for an unknown channel is a 404, not an empty page.
	if _, err := s.store.GetChannel(r.Context(), channelID); err != nil {
		respondCoreError(w, r, err)
		return
	}

	filter := store.EpisodeFilter{ChannelID: channelID}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := core.ParseEpisodeStatus(v)
		if err != nil {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				err.Error(), "status")
			return
		}
		filter.Status = status
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = pagination(w, r); !ok {
		return
	}

	episodes, err := s.store.ListEpisodes(r.Context(), filter)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	if episodes == nil {
		episodes = []core.Episode{}
	}

	writeJSON(w, http.StatusOK, episodeListResponse{Episodes: episodes, Count: len(episodes)})
}

// decodeJSON reads a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return false
	}
	return true
}

// pagination parses limit/offset query params with bounded defaults.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()

	limit = listDefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				"must be a positive integer", "limit")
			return 0, 0, false
		}
		limit = min(n, listMaxLimit)
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondFieldError(w, r, http.StatusBadRequest, codeValidation,
				"must be a non-negative integer", "offset")
			return 0, 0, false
		}
		offset = n
	}

	return limit, offset, true
}

// validateChannelURL checks the upstream URL is an absolute http(s) URL.
func validateChannelURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return core.NewValidationError("url", "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return core.NewValidationError("url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return core.NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return core.NewValidationError("url", "host must not be empty")
	}
	return nil
}
