// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/store"
)

// queueListLimit bounds the entry lists on the queue endpoint; counts stay
// exact regardless.
const queueListLimit = 50

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type channelCounts struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Disabled int `json:"disabled"`
}

type storageInfo struct {
	Bytes int64  `json:"bytes"`
	Human string `json:"human"`
	Files int    `json:"files"`
}

type statusResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Channels      channelCounts  `json:"channels"`
	Episodes      map[string]int `json:"episodes"`
	Queue         map[string]int `json:"queue"`
	Storage       storageInfo    `json:"storage"`
	LastRefreshAt *time.Time     `json:"last_refresh_at,omitempty"`
	NextRefreshAt *time.Time     `json:"next_refresh_at,omitempty"`
}

type queueResponse struct {
	Counts     map[string]int    `json:"counts"`
	InProgress []core.QueueEntry `json:"in_progress"`
	Failed     []core.QueueEntry `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, enabled, err := s.store.CountChannels(ctx)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	episodeCounts, err := s.store.CountEpisodesByStatus(ctx)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	episodes := make(map[string]int, len(core.AllEpisodeStatuses()))
	for _, st := range core.AllEpisodeStatuses() {
		episodes[st.String()] = episodeCounts[st]
	}

	queueCounts, err := s.store.CountQueueByStatus(ctx)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	queue := make(map[string]int, len(core.AllQueueStatuses()))
	for _, st := range core.AllQueueStatuses() {
		queue[st.String()] = queueCounts[st]
	}

	usage, err := fsutil.ScanUsage(ctx, s.layout.DataDir)
	if err != nil {
		respondCoreError(w, r, core.Internalf("api.scan_usage", err))
		return
	}

	last, err := s.lastRefreshAt(ctx)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	resp := statusResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Channels:      channelCounts{Total: total, Enabled: enabled, Disabled: total - enabled},
		Episodes:      episodes,
		Queue:         queue,
		Storage: storageInfo{
			Bytes: usage.Bytes,
			Human: humanize.Bytes(uint64(usage.Bytes)),
			Files: usage.Files,
		},
	}

	if last != nil {
		resp.LastRefreshAt = last
		next := last.Add(s.cfg.Get().PollInterval)
		resp.NextRefreshAt = &next
	}

	writeJSON(w, http.StatusOK, resp)
}

// lastRefreshAt returns the newest channel refresh stamp, or nil when no
// channel has been refreshed yet.
func (s *Server) lastRefreshAt(ctx context.Context) (*time.Time, error) {
	channels, err := s.store.ListChannels(ctx, store.ChannelFilter{
		OrderBy:    "last_refresh_at",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, nil
	}
	return channels[0].LastRefreshAt, nil
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.store.CountQueueByStatus(ctx)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	byStatus := make(map[string]int, len(core.AllQueueStatuses()))
	for _, st := range core.AllQueueStatuses() {
		byStatus[st.String()] = counts[st]
	}

	inProgress, err := s.store.ListQueueEntries(ctx, core.QueueInProgress, queueListLimit)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}
	failed, err := s.store.ListQueueEntries(ctx, core.QueueFailed, queueListLimit)
	if err != nil {
		respondCoreError(w, r, err)
		return
	}

	if inProgress == nil {
		inProgress = []core.QueueEntry{}
	}
	if failed == nil {
		failed = []core.QueueEntry{}
	}

	writeJSON(w, http.StatusOK, queueResponse{
		Counts:     byStatus,
		InProgress: inProgress,
		Failed:     failed,
	})
}
