// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vid2pod/internal/cache"
	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/feed"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/store"
)

// stubRefresher satisfies Refresher with scripted results. Channel lookups
// go through the real store so unknown ids produce the same not-found the
// production refresher would.
type stubRefresher struct {
	st       *store.Store
	sweeping atomic.Bool
	sweeps   atomic.Int32
}

func (f *stubRefresher) RefreshChannel(ctx context.Context, channelID string, force bool) (*jobs.RefreshResult, error) {
	ch, err := f.st.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &jobs.RefreshResult{
		ChannelID:       ch.ID,
		VideosSeen:      3,
		EpisodesCreated: 2,
		EpisodesQueued:  2,
		CompletedAt:     time.Now().UTC(),
	}, nil
}

func (f *stubRefresher) RefreshAll(ctx context.Context, force bool) (*jobs.SweepResult, error) {
	f.sweeps.Add(1)
	return &jobs.SweepResult{Channels: 1, CompletedAt: time.Now().UTC()}, nil
}

func (f *stubRefresher) Sweeping() bool { return f.sweeping.Load() }

type stubWaker struct{ wakes atomic.Int32 }

func (f *stubWaker) Wake() { f.wakes.Add(1) }

// testServer bundles a fully wired Server with the collaborators tests
// reach into.
type testServer struct {
	handler   http.Handler
	store     *store.Store
	layout    *fsutil.Layout
	refresher *stubRefresher
	waker     *stubWaker
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := cache.NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })

	feeds := feed.NewService(st, c, feed.NewGenerator("https://pod.example.com"), time.Minute)
	st.OnFeedChange(feeds.Invalidate)

	layout, err := fsutil.NewLayout(filepath.Join(dir, "data"), filepath.Join(dir, "temp"))
	require.NoError(t, err)

	cfg := config.Config{
		PollInterval: time.Hour,
		Storage:      config.StorageConfig{DataDir: layout.DataDir, TempDir: layout.TempDir},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	holder := config.NewHolder(cfg, config.NewLoader(""))

	ref := &stubRefresher{st: st}
	waker := &stubWaker{}

	srv, err := NewServer(Deps{
		Store:     st,
		Feeds:     feeds,
		Refresher: ref,
		Layout:    layout,
		Config:    holder,
		Pool:      waker,
		Version:   "test",
	})
	require.NoError(t, err)

	return &testServer{
		handler:   srv.Handler(),
		store:     st,
		layout:    layout,
		refresher: ref,
		waker:     waker,
	}
}

// do runs one request through the full middleware stack.
func (ts *testServer) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func requireErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	require.Equal(t, wantStatus, w.Code, "body: %s", w.Body.String())
	var env errorEnvelope
	decodeBody(t, w, &env)
	require.Equal(t, wantCode, env.Error.Code)
}

func seedChannel(t *testing.T, st *store.Store, slug string, feedType core.FeedType) *core.Channel {
	t.Helper()
	ch := &core.Channel{
		URL:        "https://www.youtube.com/@" + slug,
		Title:      "Seed " + slug,
		WindowSize: core.DefaultWindowSize,
		FeedType:   feedType,
		Enabled:    true,
		Slug:       slug,
	}
	require.NoError(t, st.CreateChannel(context.Background(), ch))
	return ch
}

func seedEpisode(t *testing.T, st *store.Store, ch *core.Channel, videoID string) *core.Episode {
	t.Helper()
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ep := &core.Episode{
		VideoID:     videoID,
		ChannelID:   ch.ID,
		Title:       "Episode " + videoID,
		PublishedAt: &published,
	}
	require.NoError(t, st.CreateEpisode(context.Background(), ep, true, core.DefaultPriority, core.DefaultMaxAttempts))
	return ep
}

// seedCompletedEpisode walks the episode through the real claim flow so it
// becomes feed-eligible.
func seedCompletedEpisode(t *testing.T, st *store.Store, ch *core.Channel, videoID string) *core.Episode {
	t.Helper()
	ctx := context.Background()

	ep := seedEpisode(t, st, ch, videoID)

	claim, err := st.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, ep.ID, claim.Episode.ID)
	require.NoError(t, st.MarkProcessing(ctx, claim.Episode.ID))

	artifacts := store.Artifacts{DurationSeconds: 300}
	if ch.FeedType.WantsAudio() {
		artifacts.AudioPath = ch.Slug + "/audio/" + videoID + ".mp3"
		artifacts.AudioSize = 1024
	}
	if ch.FeedType.WantsVideo() {
		artifacts.VideoPath = ch.Slug + "/video/" + videoID + ".mp4"
		artifacts.VideoSize = 4096
	}
	require.NoError(t, st.CompleteClaim(ctx, claim, artifacts))

	got, err := st.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	return got
}

// seedFailedEpisode claims the episode and fails it terminally.
func seedFailedEpisode(t *testing.T, st *store.Store, ch *core.Channel, videoID string) *core.Episode {
	t.Helper()
	ctx := context.Background()

	ep := seedEpisode(t, st, ch, videoID)

	claim, err := st.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, ep.ID, claim.Episode.ID)
	require.NoError(t, st.FailClaimTerminal(ctx, claim, "download failed: boom"))

	got, err := st.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	return got
}
