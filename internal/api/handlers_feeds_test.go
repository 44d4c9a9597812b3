// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vid2pod/internal/core"
)

func TestChannelFeed(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")

	w := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	assert.Equal(t, "application/rss+xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=300", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`),
		"feed etag should be a quoted strong validator, got %s", etag)

	body := w.Body.String()
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "vid-1")
}

func TestChannelFeed_ConditionalRequests(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")

	first := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	lastModified := first.Header().Get("Last-Modified")
	require.NotEmpty(t, etag)
	require.NotEmpty(t, lastModified)

	w := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil, func(r *http.Request) {
		r.Header.Set("If-None-Match", etag)
	})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
	// 304 responses keep the validators so clients can refresh their cache entry.
	assert.Equal(t, etag, w.Header().Get("ETag"))

	w = ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil, func(r *http.Request) {
		r.Header.Set("If-None-Match", `"deadbeef", `+etag)
	})
	assert.Equal(t, http.StatusNotModified, w.Code, "etag list should match")

	w = ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil, func(r *http.Request) {
		r.Header.Set("If-None-Match", `"deadbeef"`)
	})
	assert.Equal(t, http.StatusOK, w.Code, "stale etag should re-serve")

	w = ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil, func(r *http.Request) {
		r.Header.Set("If-Modified-Since", lastModified)
	})
	assert.Equal(t, http.StatusNotModified, w.Code)

	w = ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil, func(r *http.Request) {
		r.Header.Set("If-Modified-Since", "Thu, 01 Jan 1970 00:00:00 GMT")
	})
	assert.Equal(t, http.StatusOK, w.Code, "older client copy should re-serve")
}

func TestChannelFeed_VariantMismatch(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")

	// An audio-only channel has no video feed.
	w := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/video.rss", nil)
	requireErrorCode(t, w, http.StatusNotFound, codeNotFound)

	w = ts.do(t, http.MethodGet, "/feed/ch_missing/audio.rss", nil)
	requireErrorCode(t, w, http.StatusNotFound, codeNotFound)
}

func TestChannelAtomFeed(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")

	w := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/atom.xml", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	assert.Equal(t, "application/atom+xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<feed")
}

func TestCombinedFeed(t *testing.T) {
	ts := newTestServer(t)
	a := seedChannel(t, ts.store, "alpha", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, a, "vid-a")
	b := seedChannel(t, ts.store, "beta", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, b, "vid-b")

	w := ts.do(t, http.MethodGet, "/feeds/all.rss", nil)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	body := w.Body.String()
	assert.Contains(t, body, "vid-a")
	assert.Contains(t, body, "vid-b")
}

func TestCombinedFeed_VideoVariant(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedBoth)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")

	w := ts.do(t, http.MethodGet, "/feeds/all-video.rss", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vid-1.mp4")
}

func TestChannelFeed_InvalidatedAfterDelete(t *testing.T) {
	ts := newTestServer(t)
	ch := seedChannel(t, ts.store, "acme", core.FeedAudio)
	seedCompletedEpisode(t, ts.store, ch, "vid-1")
	ep2 := seedCompletedEpisode(t, ts.store, ch, "vid-2")

	first := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil)
	require.Equal(t, http.StatusOK, first.Code)
	require.Contains(t, first.Body.String(), "vid-2")

	w := ts.do(t, http.MethodDelete, "/api/v1/episodes/"+ep2.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	second := ts.do(t, http.MethodGet, "/feed/"+ch.ID+"/audio.rss", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.NotContains(t, second.Body.String(), "vid-2")
	assert.NotEqual(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
}
