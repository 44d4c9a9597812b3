// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
)

func newReaperFixture(t *testing.T, stuck time.Duration) (*poolFixture, *Reaper) {
	t.Helper()
	f := newPoolFixture(t, func(c *config.Config) { c.Queue.StuckThreshold = stuck })

	cfg := config.Config{MaxConcurrentDownloads: 1}
	cfg.Queue.StuckThreshold = stuck
	holder := config.NewHolder(cfg, config.NewLoader(""))
	return f, NewReaper(f.store, holder)
}

func TestReaper_RevertAbandonedSweepsEverything(t *testing.T) {
	f, reaper := newReaperFixture(t, 2*time.Hour)
	ctx := context.Background()
	ch := f.seedChannel(t, core.FeedAudio, nil)
	a := f.seedEpisode(t, ch, "vidboot01", 3)
	b := f.seedEpisode(t, ch, "vidboot02", 3)

	// Two claims left behind by a process that never came back.
	f.claim(t)
	f.claim(t)

	require.NoError(t, reaper.RevertAbandoned(ctx))

	for _, ep := range []*core.Episode{a, b} {
		entry := f.entry(t, ep.ID)
		assert.Equal(t, core.QueuePending, entry.Status)
		assert.Equal(t, 1, entry.Attempts, "the lost attempt stays consumed")
		assert.Equal(t, core.EpisodePending, f.episode(t, ep.ID).Status)
	}

	// The swept entries are claimable again.
	claim, err := f.store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, 2, claim.Entry.Attempts)
}

func TestReaper_RunRevertsStaleClaims(t *testing.T) {
	f, reaper := newReaperFixture(t, 400*time.Millisecond)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidstale01", 3)
	f.claim(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	// The claim never heartbeats; once its timestamp ages past the
	// threshold, a sweep lap returns it to the queue.
	require.Eventually(t, func() bool {
		entry, err := f.store.GetQueueEntryByEpisode(context.Background(), ep.ID)
		return err == nil && entry.Status == core.QueuePending
	}, 5*time.Second, 25*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaper_LeavesHeartbeatedClaimsAlone(t *testing.T) {
	f, reaper := newReaperFixture(t, 400*time.Millisecond)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ch := f.seedChannel(t, core.FeedAudio, nil)
	ep := f.seedEpisode(t, ch, "vidlive01", 3)
	claim := f.claim(t)

	ctx, cancel := context.WithCancel(context.Background())
	var running sync.WaitGroup

	running.Add(1)
	go func() {
		defer running.Done()
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = f.store.TouchClaim(context.Background(), claim)
			}
		}
	}()

	running.Add(1)
	go func() {
		defer running.Done()
		reaper.Run(ctx)
	}()

	time.Sleep(1200 * time.Millisecond)
	entry := f.entry(t, ep.ID)
	assert.Equal(t, core.QueueInProgress, entry.Status, "a live heartbeat keeps the claim")

	cancel()
	running.Wait()
}
