// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/extractor"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/jobs"
	"github.com/ManuGH/vid2pod/internal/store"
	"github.com/ManuGH/vid2pod/internal/transcoder"
)

// stubFetcher satisfies Fetcher without child processes. DownloadVideo
// writes a fake source file plus a thumbnail sidecar into the work dir.
type stubFetcher struct {
	mu        sync.Mutex
	dlErr     map[string]error
	metaErr   error
	dlCalls   []string
	metaCalls []string
	block     chan struct{} // non-nil: downloads wait for it (or ctx)
	thumbless bool
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{dlErr: map[string]error{}}
}

func (f *stubFetcher) DownloadVideo(ctx context.Context, videoID, destDir string) (*extractor.Download, error) {
	f.mu.Lock()
	f.dlCalls = append(f.dlCalls, videoID)
	errOut := f.dlErr[videoID]
	block := f.block
	thumbless := f.thumbless
	f.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if errOut != nil {
		return nil, errOut
	}

	src := filepath.Join(destDir, videoID+".webm")
	if err := os.WriteFile(src, []byte("source media"), 0o644); err != nil {
		return nil, err
	}
	dl := &extractor.Download{SourcePath: src}
	if !thumbless {
		thumb := filepath.Join(destDir, videoID+".jpg")
		if err := os.WriteFile(thumb, []byte("thumb"), 0o644); err != nil {
			return nil, err
		}
		dl.ThumbnailPath = thumb
	}
	return dl, nil
}

func (f *stubFetcher) FetchVideoMetadata(_ context.Context, videoID string) (*core.VideoMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaCalls = append(f.metaCalls, videoID)
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return &core.VideoMetadata{
		Title:           "Full " + videoID,
		Description:     "full description",
		ThumbnailURL:    "https://cdn.example.com/" + videoID + ".jpg",
		DurationSeconds: 90,
	}, nil
}

func (f *stubFetcher) downloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dlCalls)
}

// stubEncoder satisfies Encoder and writes real output files so the
// publish step has something to move.
type stubEncoder struct {
	mu         sync.Mutex
	audioErr   error
	videoErr   error
	audioSpecs []transcoder.AudioSpec
	videoSpecs []transcoder.VideoSpec
	gate       chan struct{} // non-nil: encodes wait for it (or ctx)
}

func (e *stubEncoder) ToAudio(ctx context.Context, _, output string, spec transcoder.AudioSpec) (int64, error) {
	e.mu.Lock()
	e.audioSpecs = append(e.audioSpecs, spec)
	gate := e.gate
	errOut := e.audioErr
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-gate:
		}
	}
	if errOut != nil {
		return 0, errOut
	}
	data := []byte("audio " + spec.Format)
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (e *stubEncoder) ToVideo(_ context.Context, _, output string, spec transcoder.VideoSpec) (int64, error) {
	e.mu.Lock()
	e.videoSpecs = append(e.videoSpecs, spec)
	errOut := e.videoErr
	e.mu.Unlock()

	if errOut != nil {
		return 0, errOut
	}
	data := []byte("video artifact")
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (e *stubEncoder) audioCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.audioSpecs)
}

func (e *stubEncoder) videoCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.videoSpecs)
}

type poolFixture struct {
	pool   *Pool
	store  *store.Store
	layout *fsutil.Layout
	fetch  *stubFetcher
	encode *stubEncoder
}

func newPoolFixture(t *testing.T, mutate ...func(*config.Config)) *poolFixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	layout, err := fsutil.NewLayout(filepath.Join(dir, "data"), filepath.Join(dir, "temp"))
	require.NoError(t, err)

	cfg := config.Config{MaxConcurrentDownloads: 2}
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.PollInterval = 20 * time.Millisecond
	cfg.Queue.StuckThreshold = 2 * time.Hour
	cfg.Transcode.AudioFormat = "mp3"
	cfg.Transcode.AudioBitrate = "128k"
	cfg.Transcode.VideoCodec = "h264"
	cfg.Transcode.VideoQuality = 23
	for _, m := range mutate {
		m(&cfg)
	}
	holder := config.NewHolder(cfg, config.NewLoader(""))

	fetch := newStubFetcher()
	encode := &stubEncoder{}
	return &poolFixture{
		pool:   NewPool(st, fetch, encode, layout, holder, jobs.NewRetention(st, layout)),
		store:  st,
		layout: layout,
		fetch:  fetch,
		encode: encode,
	}
}

func (f *poolFixture) seedChannel(t *testing.T, feedType core.FeedType, overrides *core.TranscodeOverrides) *core.Channel {
	t.Helper()
	ch := &core.Channel{
		URL:                "https://example.com/@acme",
		Title:              "Acme Clips",
		WindowSize:         10,
		FeedType:           feedType,
		Enabled:            true,
		TranscodeOverrides: overrides,
	}
	require.NoError(t, jobs.CreateChannelUniqueSlug(context.Background(), f.store, ch))
	return ch
}

func (f *poolFixture) seedEpisode(t *testing.T, ch *core.Channel, videoID string, maxAttempts int) *core.Episode {
	t.Helper()
	ep := &core.Episode{VideoID: videoID, ChannelID: ch.ID, Title: "Clip " + videoID}
	require.NoError(t, f.store.CreateEpisode(context.Background(), ep, true, core.DefaultPriority, maxAttempts))
	return ep
}

func (f *poolFixture) claim(t *testing.T) *store.Claim {
	t.Helper()
	claim, err := f.store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claim)
	return claim
}

func (f *poolFixture) entry(t *testing.T, episodeID string) *core.QueueEntry {
	t.Helper()
	entry, err := f.store.GetQueueEntryByEpisode(context.Background(), episodeID)
	require.NoError(t, err)
	return entry
}

func (f *poolFixture) episode(t *testing.T, id string) *core.Episode {
	t.Helper()
	ep, err := f.store.GetEpisode(context.Background(), id)
	require.NoError(t, err)
	return ep
}

func (f *poolFixture) mediaExists(t *testing.T, slug, variant, filename string) bool {
	t.Helper()
	path, err := f.layout.MediaPath(slug, variant, filename)
	require.NoError(t, err)
	_, err = os.Stat(path)
	if err != nil {
		require.True(t, os.IsNotExist(err))
		return false
	}
	return true
}

func TestProcess_CompletesBothVariants(t *testing.T) {
	f := newPoolFixture(t)
	ctx := context.Background()
	ch := f.seedChannel(t, core.FeedBoth, nil)
	ep := f.seedEpisode(t, ch, "vidboth01", 3)

	claim := f.claim(t)
	idle := f.pool.process(ctx, claim)
	assert.False(t, idle)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodeCompleted, got.Status)
	assert.Equal(t, "acme-clips/audio/vidboth01.mp3", got.FilePathAudio)
	assert.Equal(t, "acme-clips/video/vidboth01.mp4", got.FilePathVideo)
	assert.Equal(t, int64(len("audio mp3")), got.FileSizeAudio)
	assert.Equal(t, int64(len("video artifact")), got.FileSizeVideo)
	assert.Equal(t, 90, got.DurationSeconds, "duration arrives via metadata enrichment")
	assert.Equal(t, "Full vidboth01", got.Title, "enrichment replaces the listing title")
	require.NotNil(t, got.DownloadedAt)
	assert.Empty(t, got.ErrorMessage)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueueCompleted, entry.Status)

	assert.True(t, f.mediaExists(t, ch.Slug, fsutil.AudioDir, "vidboth01.mp3"))
	assert.True(t, f.mediaExists(t, ch.Slug, fsutil.VideoDir, "vidboth01.mp4"))
	assert.True(t, f.mediaExists(t, ch.Slug, fsutil.AudioDir, "vidboth01.jpg"),
		"thumbnail sidecar sits next to the audio artifact")

	_, err := os.Stat(filepath.Join(f.layout.TempDir, claim.Entry.ID))
	assert.True(t, os.IsNotExist(err), "work dir is removed after success")
}

func TestProcess_AudioOnlySkipsVideo(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidaud01", 3)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodeCompleted, got.Status)
	assert.NotEmpty(t, got.FilePathAudio)
	assert.Empty(t, got.FilePathVideo)
	assert.Zero(t, f.encode.videoCalls())

	_, err := os.Stat(filepath.Join(f.layout.DataDir, ch.Slug, fsutil.VideoDir))
	assert.True(t, os.IsNotExist(err), "no video dir for an audio-only channel")
}

func TestProcess_AppliesChannelOverrides(t *testing.T) {
	f := newPoolFixture(t)
	crf := 28
	ch := f.seedChannel(t, core.FeedBoth, &core.TranscodeOverrides{
		AudioFormat:  "m4a",
		AudioBitrate: "64k",
		VideoQuality: &crf,
	})
	ep := f.seedEpisode(t, ch, "vidover01", 3)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	require.Equal(t, 1, f.encode.audioCalls())
	assert.Equal(t, "m4a", f.encode.audioSpecs[0].Format)
	assert.Equal(t, "64k", f.encode.audioSpecs[0].Bitrate)

	require.Equal(t, 1, f.encode.videoCalls())
	assert.Equal(t, "h264", f.encode.videoSpecs[0].Codec, "unset override keeps the global codec")
	assert.Equal(t, 28, f.encode.videoSpecs[0].Quality)

	got := f.episode(t, ep.ID)
	assert.Equal(t, "acme-clips/audio/vidover01.m4a", got.FilePathAudio)
}

func TestProcess_TransientFailureSchedulesRetry(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidnet01", 3)
	f.fetch.dlErr["vidnet01"] = core.NewExternalError(core.FailureTransientNetwork,
		"extractor.download", "connection reset", nil)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueuePending, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Contains(t, entry.LastError, "connection reset")
	require.NotNil(t, entry.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *entry.NextRetryAt, 10*time.Second)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodePending, got.Status)
	assert.Empty(t, got.ErrorMessage, "episode error_message is reserved for terminal failures")
}

func TestProcess_NotFoundBuriesImmediately(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidgone01", 3)
	f.fetch.dlErr["vidgone01"] = core.NewExternalError(core.FailureNotFound,
		"extractor.download", "video deleted upstream", nil)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueueFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts, "terminal on the first attempt despite budget left")
	assert.Nil(t, entry.NextRetryAt)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodeFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "video deleted upstream")
}

func TestProcess_ExhaustedBudgetFailsTerminally(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidlast01", 1)
	f.fetch.dlErr["vidlast01"] = core.NewExternalError(core.FailureTimeout,
		"extractor.download", "download deadline exceeded", nil)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueueFailed, entry.Status)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodeFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestProcess_CancellationReleasesClaim(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidstop01", 3)
	f.fetch.block = make(chan struct{}) // never closed; download waits on ctx

	claim := f.claim(t)
	ctx, cancel := context.WithCancel(context.Background())

	idleCh := make(chan bool, 1)
	go func() { idleCh <- f.pool.process(ctx, claim) }()

	require.Eventually(t, func() bool { return f.fetch.downloads() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, <-idleCh)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueuePending, entry.Status)
	assert.Equal(t, 0, entry.Attempts, "shutdown refunds the attempt")
	assert.Empty(t, entry.LastError)
	assert.Nil(t, entry.NextRetryAt)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodePending, got.Status)

	_, err := os.Stat(filepath.Join(f.layout.TempDir, claim.Entry.ID))
	assert.True(t, os.IsNotExist(err), "work dir is removed on release")
}

func TestProcess_UnclassifiedFailureRefundsAttempt(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "viddisk01", 3)
	f.encode.audioErr = errors.New("scratch disk full")

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.True(t, idle, "the worker sits out a lap after an internal failure")

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueuePending, entry.Status)
	assert.Equal(t, 0, entry.Attempts)
	assert.Empty(t, entry.LastError)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodePending, got.Status)
}

func TestProcess_MetadataFailureDegradesGracefully(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidmeta01", 3)
	f.fetch.metaErr = core.NewExternalError(core.FailureTool,
		"extractor.metadata", "malformed metadata document", nil)

	idle := f.pool.process(context.Background(), f.claim(t))
	assert.False(t, idle)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodeCompleted, got.Status)
	assert.Equal(t, "Clip vidmeta01", got.Title, "listing title survives a failed enrichment")
	assert.Zero(t, got.DurationSeconds)
	require.NotNil(t, got.DownloadedAt)
}

func TestProcess_KeepOriginalRetainsWorkDir(t *testing.T) {
	f := newPoolFixture(t, func(c *config.Config) { c.Transcode.KeepOriginal = true })
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidkeep01", 3)

	claim := f.claim(t)
	idle := f.pool.process(context.Background(), claim)
	assert.False(t, idle)

	assert.Equal(t, core.EpisodeCompleted, f.episode(t, ep.ID).Status)
	assert.True(t, f.mediaExists(t, ch.Slug, fsutil.AudioDir, "vidkeep01.mp3"))

	source := filepath.Join(f.layout.TempDir, claim.Entry.ID, "vidkeep01.webm")
	_, err := os.Stat(source)
	assert.NoError(t, err, "keep_original leaves the downloaded source in place")
}

func TestProcess_LostClaimWritesNothing(t *testing.T) {
	f := newPoolFixture(t)
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidreap01", 3)

	claim := f.claim(t)

	// The reaper decides this worker is gone and hands the entry back.
	n, err := f.store.RevertStale(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	idle := f.pool.process(context.Background(), claim)
	assert.True(t, idle)

	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueuePending, entry.Status, "the reverted entry is untouched by the stale worker")
	assert.Equal(t, 1, entry.Attempts)

	got := f.episode(t, ep.ID)
	assert.Equal(t, core.EpisodePending, got.Status)
	assert.Empty(t, got.FilePathAudio)
}

func TestProcess_HeartbeatKeepsLeaseFresh(t *testing.T) {
	f := newPoolFixture(t, func(c *config.Config) {
		c.Queue.StuckThreshold = 160 * time.Millisecond // heartbeat every 20ms
	})
	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidslow01", 3)
	f.encode.gate = make(chan struct{})

	claim := f.claim(t)
	claimedAt := claim.Entry.UpdatedAt

	done := make(chan bool, 1)
	go func() { done <- f.pool.process(context.Background(), claim) }()

	// Stored timestamps have second resolution, so give the heartbeat
	// time to cross a second boundary.
	require.Eventually(t, func() bool {
		entry, err := f.store.GetQueueEntryByEpisode(context.Background(), ep.ID)
		return err == nil && entry.UpdatedAt.After(claimedAt)
	}, 3*time.Second, 20*time.Millisecond, "heartbeat advances the lease while the encode runs")

	close(f.encode.gate)
	assert.False(t, <-done)
	assert.Equal(t, core.EpisodeCompleted, f.episode(t, ep.ID).Status)
}

func TestPool_DrainsQueueUntilStopped(t *testing.T) {
	f := newPoolFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ch := f.seedChannel(t, core.FeedAudio, nil)
	ids := []string{"viddrain01", "viddrain02", "viddrain03", "viddrain04", "viddrain05"}
	for _, id := range ids {
		f.seedEpisode(t, ch, id, 3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pool.Start(ctx)
	f.pool.Wake()

	require.Eventually(t, func() bool {
		counts, err := f.store.CountEpisodesByStatus(context.Background())
		return err == nil && counts[core.EpisodeCompleted] == len(ids)
	}, 5*time.Second, 10*time.Millisecond)

	f.pool.Stop()

	for _, id := range ids {
		ep, err := f.store.GetEpisodeByVideoID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, core.EpisodeCompleted, ep.Status)
	}
}

func TestPool_WakeShortensIdleWait(t *testing.T) {
	f := newPoolFixture(t, func(c *config.Config) {
		c.Queue.PollInterval = 10 * time.Second // only a wake can beat this
	})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ch := f.seedChannel(t, core.FeedAudio, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pool.Start(ctx)

	// Let the workers find an empty queue and go idle, then enqueue.
	time.Sleep(50 * time.Millisecond)
	ep := f.seedEpisode(t, ch, "vidwake01", 3)
	f.pool.Wake()

	require.Eventually(t, func() bool {
		got, err := f.store.GetEpisode(context.Background(), ep.ID)
		return err == nil && got.Status == core.EpisodeCompleted
	}, 2*time.Second, 10*time.Millisecond)

	f.pool.Stop()
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 5 * time.Minute},
		{2, 30 * time.Minute},
		{3, 2 * time.Hour},
		{4, 8 * time.Hour},
		{9, 8 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryBackoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}
