// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package feed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vid2pod/internal/cache"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, cache.Cache) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "feeds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := cache.NewMemoryCache(0)
	t.Cleanup(func() { _ = c.Close() })

	svc := NewService(st, c, NewGenerator("https://pod.example.com"), time.Minute)
	st.OnFeedChange(svc.Invalidate)
	return svc, st, c
}

func seedChannel(t *testing.T, st *store.Store, slug string, feedType core.FeedType, enabled bool) *core.Channel {
	t.Helper()
	ch := &core.Channel{
		URL:        "https://www.youtube.com/@" + slug,
		Title:      "Seed " + slug,
		WindowSize: core.DefaultWindowSize,
		FeedType:   feedType,
		Enabled:    enabled,
		Slug:       slug,
	}
	require.NoError(t, st.CreateChannel(context.Background(), ch))
	return ch
}

// seedCompletedEpisode walks an episode through the real claim flow so
// the row satisfies every feed-eligibility condition.
func seedCompletedEpisode(t *testing.T, st *store.Store, ch *core.Channel, videoID string) {
	t.Helper()
	ctx := context.Background()

	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ep := &core.Episode{
		VideoID:     videoID,
		ChannelID:   ch.ID,
		Title:       "Episode " + videoID,
		PublishedAt: &published,
	}
	require.NoError(t, st.CreateEpisode(ctx, ep, true, core.DefaultPriority, core.DefaultMaxAttempts))

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
}

func TestChannelFeed_MissThenHit(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	ch := seedChannel(t, st, "acme", core.FeedAudio, true)
	seedCompletedEpisode(t, st, ch, "vid-1")

	doc1, err := svc.ChannelFeed(ctx, ch.ID, VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(doc1.Body), "vid2pod-vid-1")
	assert.Len(t, doc1.ETag, 64)

	doc2, err := svc.ChannelFeed(ctx, ch.ID, VariantAudio)
	require.NoError(t, err)
	assert.Equal(t, doc1.Body, doc2.Body)
	assert.Equal(t, doc1.ETag, doc2.ETag)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestChannelFeed_InvalidatedByWrites(t *testing.T) {
	svc, st, c := newTestService(t)
	ctx := context.Background()

	ch := seedChannel(t, st, "acme", core.FeedAudio, true)
	seedCompletedEpisode(t, st, ch, "vid-1")

	doc1, err := svc.ChannelFeed(ctx, ch.ID, VariantAudio)
	require.NoError(t, err)

	// A channel metadata write must drop the cached document; the next
	// read re-renders with the new title.
	ch.Title = "Renamed Channel"
	require.NoError(t, st.UpdateChannel(ctx, ch))

	doc2, err := svc.ChannelFeed(ctx, ch.ID, VariantAudio)
	require.NoError(t, err)
	assert.NotEqual(t, doc1.ETag, doc2.ETag)
	assert.Contains(t, string(doc2.Body), "Renamed Channel")

	// An episode status write invalidates as well.
	before := c.Stats().Sets
	seedCompletedEpisode(t, st, ch, "vid-2")
	doc3, err := svc.ChannelFeed(ctx, ch.ID, VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(doc3.Body), "vid2pod-vid-2")
	assert.Greater(t, c.Stats().Sets, before)
}

func TestChannelFeed_VariantNotOffered(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	ch := seedChannel(t, st, "acme", core.FeedAudio, true)

	_, err := svc.ChannelFeed(ctx, ch.ID, VariantVideo)
	assert.True(t, core.IsNotFound(err))

	_, err = svc.ChannelFeed(ctx, "missing", VariantAudio)
	assert.True(t, core.IsNotFound(err))

	_, err = svc.ChannelFeed(ctx, ch.ID, Variant("flac"))
	assert.True(t, core.IsValidation(err))
}

func TestChannelAtomFeed_FollowsFeedType(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	audioCh := seedChannel(t, st, "talk", core.FeedAudio, true)
	seedCompletedEpisode(t, st, audioCh, "vid-a")

	videoCh := seedChannel(t, st, "clips", core.FeedVideo, true)
	seedCompletedEpisode(t, st, videoCh, "vid-v")

	atomAudio, err := svc.ChannelAtomFeed(ctx, audioCh.ID)
	require.NoError(t, err)
	assert.Contains(t, string(atomAudio.Body), "urn:vid2pod:vid-a")
	assert.Contains(t, string(atomAudio.Body), "vid-a.mp3")

	atomVideo, err := svc.ChannelAtomFeed(ctx, videoCh.ID)
	require.NoError(t, err)
	assert.Contains(t, string(atomVideo.Body), "vid-v.mp4")
}

func TestCombinedFeed_EnabledChannelsOnly(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	onCh := seedChannel(t, st, "on-air", core.FeedBoth, true)
	seedCompletedEpisode(t, st, onCh, "vid-on")

	offCh := seedChannel(t, st, "off-air", core.FeedBoth, false)
	seedCompletedEpisode(t, st, offCh, "vid-off")

	combined, err := svc.CombinedFeed(ctx, VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(combined.Body), "vid2pod-vid-on")
	assert.NotContains(t, string(combined.Body), "vid2pod-vid-off")

	// Disabled channels still serve their own per-channel feed.
	own, err := svc.ChannelFeed(ctx, offCh.ID, VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(own.Body), "vid2pod-vid-off")
}

func TestCombinedFeed_InvalidatedByAnyChannel(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	ch1 := seedChannel(t, st, "first", core.FeedAudio, true)
	seedCompletedEpisode(t, st, ch1, "vid-1")

	doc1, err := svc.CombinedFeed(ctx, VariantAudio)
	require.NoError(t, err)
	assert.NotContains(t, string(doc1.Body), "vid2pod-vid-2")

	ch2 := seedChannel(t, st, "second", core.FeedAudio, true)
	seedCompletedEpisode(t, st, ch2, "vid-2")

	doc2, err := svc.CombinedFeed(ctx, VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(doc2.Body), "vid2pod-vid-1")
	assert.Contains(t, string(doc2.Body), "vid2pod-vid-2")
}

func TestCombinedFeed_EmptyLibrary(t *testing.T) {
	svc, _, _ := newTestService(t)

	doc, err := svc.CombinedFeed(context.Background(), VariantAudio)
	require.NoError(t, err)
	assert.Contains(t, string(doc.Body), "<title>All Channels</title>")
	assert.NotContains(t, string(doc.Body), "<item>")
	assert.NotEmpty(t, doc.ETag)
}
