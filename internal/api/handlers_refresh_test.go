// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/jobs"
)

func TestRefreshChannel(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)

	w := ts.do(t, http.MethodPost, "/api/v1/channels/"+ch.ID+"/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var got jobs.RefreshResult
	decodeBody(t, w, &got)
	assert.Equal(t, ch.ID, got.ChannelID)
	assert.Equal(t, 3, got.VideosSeen)
	assert.Equal(t, 2, got.EpisodesQueued)
}

func TestRefreshChannel_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/channels/ch_missing/refresh", nil)
	requireErrorCode(t, w, http.StatusNotFound, codeNotFound)
}

func TestRefreshAll(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/refresh-all", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var got jobs.SweepResult
	decodeBody(t, w, &got)
	assert.Equal(t, 1, got.Channels)
	assert.Equal(t, int32(1), ts.refresher.sweeps.Load())
}

func TestRefreshAll_AlreadySweeping(t *testing.T) {
	ts := newTestServer(t)
	ts.refresher.sweeping.Store(true)

	w := ts.do(t, http.MethodPost, "/api/v1/refresh-all", nil)
	requireErrorCode(t, w, http.StatusConflict, codeConflict)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Zero(t, ts.refresher.sweeps.Load())
}
