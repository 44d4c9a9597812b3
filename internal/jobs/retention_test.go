// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/store"
)

func newTestRetention(t *testing.T) (*Retention, *store.Store, *fsutil.Layout) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "retention.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := fsutil.NewLayout(filepath.Join(dir, "data"), filepath.Join(dir, "temp"))
	require.NoError(t, err)

	return NewRetention(st, layout), st, layout
}

// completeEpisode runs one episode through the claim cycle and writes its
// media files, returning the stored episode.
func completeEpisode(t *testing.T, st *store.Store, layout *fsutil.Layout, ch *core.Channel, videoID string, published time.Time) *core.Episode {
	t.Helper()
	ctx := context.Background()

	ep := &core.Episode{
		VideoID:     videoID,
		ChannelID:   ch.ID,
		Title:       "Video " + videoID,
		PublishedAt: &published,
	}
	require.NoError(t, st.CreateEpisode(ctx, ep, true, core.DefaultPriority, core.DefaultMaxAttempts))

	claim, err := st.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	require.Equal(t, ep.ID, claim.Episode.ID)
	require.NoError(t, st.MarkProcessing(ctx, ep.ID))

	audioRel := ch.Slug + "/" + fsutil.AudioDir + "/" + videoID + ".mp3"
	videoRel := ch.Slug + "/" + fsutil.VideoDir + "/" + videoID + ".mp4"
	writeMediaFile(t, layout, ch.Slug, fsutil.AudioDir, videoID+".mp3")
	writeMediaFile(t, layout, ch.Slug, fsutil.AudioDir, videoID+".jpg") // thumbnail sidecar
	writeMediaFile(t, layout, ch.Slug, fsutil.VideoDir, videoID+".mp4")

	require.NoError(t, st.CompleteClaim(ctx, claim, store.Artifacts{
		AudioPath:       audioRel,
		VideoPath:       videoRel,
		AudioSize:       100,
		VideoSize:       400,
		DurationSeconds: 60,
	}))

	got, err := st.GetEpisode(ctx, ep.ID)
	require.NoError(t, err)
	return got
}

func writeMediaFile(t *testing.T, layout *fsutil.Layout, slug, variant, name string) {
	t.Helper()
	dir, err := layout.VariantDir(slug, variant)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("media"), 0o644))
}

func mediaExists(t *testing.T, layout *fsutil.Layout, slug, variant, name string) bool {
	t.Helper()
	path, err := layout.MediaPath(slug, variant, name)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true
	}
	require.True(t, os.IsNotExist(statErr))
	return false
}

func TestSweepChannel_EvictsBeyondWindow(t *testing.T) {
	ctx := context.Background()
	retain, st, layout := newTestRetention(t)

	ch := mkChannel(t, st, "https://www.youtube.com/@acme", "Acme Podcast", 2)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	completeEpisode(t, st, layout, ch, "vid-a", base)
	completeEpisode(t, st, layout, ch, "vid-b", base.Add(-time.Hour))
	oldest := completeEpisode(t, st, layout, ch, "vid-c", base.Add(-2*time.Hour))

	res, err := retain.SweepChannel(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, int64(500), res.BytesFreed)

	got, err := st.GetEpisode(ctx, oldest.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EpisodeDeleted, got.Status)
	assert.Empty(t, got.FilePathAudio)
	assert.Empty(t, got.FilePathVideo)

	assert.False(t, mediaExists(t, layout, ch.Slug, fsutil.AudioDir, "vid-c.mp3"))
	assert.False(t, mediaExists(t, layout, ch.Slug, fsutil.AudioDir, "vid-c.jpg"), "sidecar goes with the media")
	assert.False(t, mediaExists(t, layout, ch.Slug, fsutil.VideoDir, "vid-c.mp4"))

	assert.True(t, mediaExists(t, layout, ch.Slug, fsutil.AudioDir, "vid-a.mp3"))
	assert.True(t, mediaExists(t, layout, ch.Slug, fsutil.AudioDir, "vid-b.mp3"))
	assert.True(t, mediaExists(t, layout, ch.Slug, fsutil.VideoDir, "vid-a.mp4"))

	feed, err := st.ListFeedEpisodes(ctx, ch.ID, ch.WindowSize)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "vid-a", feed[0].VideoID)
	assert.Equal(t, "vid-b", feed[1].VideoID)
}

func TestSweepChannel_Idempotent(t *testing.T) {
	ctx := context.Background()
	retain, st, layout := newTestRetention(t)

	ch := mkChannel(t, st, "https://www.youtube.com/@acme", "Acme Podcast", 1)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	completeEpisode(t, st, layout, ch, "vid-a", base)
	completeEpisode(t, st, layout, ch, "vid-b", base.Add(-time.Hour))

	res, err := retain.SweepChannel(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)

	res, err = retain.SweepChannel(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evicted)
	assert.Zero(t, res.BytesFreed)
}

func TestSweepChannel_WithinWindowDoesNothing(t *testing.T) {
	ctx := context.Background()
	retain, st, layout := newTestRetention(t)

	ch := mkChannel(t, st, "https://www.youtube.com/@acme", "Acme Podcast", 10)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	completeEpisode(t, st, layout, ch, "vid-a", base)

	res, err := retain.SweepChannel(ctx, ch)
	require.NoError(t, err)
	assert.Zero(t, res.Evicted)
	assert.True(t, mediaExists(t, layout, ch.Slug, fsutil.AudioDir, "vid-a.mp3"))
}

func TestSweepChannel_ShrunkWindowEvictsPromptly(t *testing.T) {
	ctx := context.Background()
	retain, st, layout := newTestRetention(t)

	ch := mkChannel(t, st, "https://www.youtube.com/@acme", "Acme Podcast", 3)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"vid-a", "vid-b", "vid-c"} {
		completeEpisode(t, st, layout, ch, id, base.Add(-time.Duration(i)*time.Hour))
	}

	ch.WindowSize = 1
	require.NoError(t, st.UpdateChannel(ctx, ch))

	res, err := retain.SweepChannel(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evicted)

	feed, err := st.ListFeedEpisodes(ctx, ch.ID, ch.WindowSize)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, "vid-a", feed[0].VideoID)
}

func TestRemoveEpisodeFiles_ToleratesMissingAndMalformed(t *testing.T) {
	ctx := context.Background()
	_, _, layout := newTestRetention(t)

	// Nothing on disk and a path that does not fit the layout; both must
	// come back without touching anything outside the library.
	RemoveEpisodeFiles(ctx, layout, []string{
		"ghost/audio/never-written.mp3",
		"not-a-layout-path",
		"../escape/audio/x.mp3",
	})
}
