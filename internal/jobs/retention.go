// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/fsutil"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
)

// Retention enforces the per-channel rolling window: completed episodes
// beyond window_size are marked deleted and their media files removed.
type Retention struct {
	store  *store.Store
	layout *fsutil.Layout
}

// EvictionResult reports one retention sweep over one channel.
type EvictionResult struct {
	Evicted    int   `json:"evicted"`
	BytesFreed int64 `json:"bytes_freed"`
}

func NewRetention(st *store.Store, layout *fsutil.Layout) *Retention {
	return &Retention{store: st, layout: layout}
}

// SweepChannel evicts every completed episode beyond the channel's
// window, oldest first. The database row transitions before the files
// go; a crash in between leaves orphan files the next sweep cannot see,
// never a feed item pointing at a missing file. Idempotent.
func (r *Retention) SweepChannel(ctx context.Context, ch *core.Channel) (*EvictionResult, error) {
	candidates, err := r.store.ListEvictionCandidates(ctx, ch.ID, ch.WindowSize)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponentFromContext(ctx, "jobs")
	res := &EvictionResult{}
	for i := range candidates {
		ep := &candidates[i]
		paths, err := r.store.EvictEpisode(ctx, ep.ID)
		if core.IsStateConflict(err) || core.IsNotFound(err) {
			// Lost a race with a delete or retry; the episode no longer
			// holds files we own.
			continue
		}
		if err != nil {
			return res, err
		}

		RemoveEpisodeFiles(ctx, r.layout, paths)

		freed := ep.FileSizeAudio + ep.FileSizeVideo
		res.Evicted++
		res.BytesFreed += freed
		metrics.RecordEviction(freed)

		logger.Debug().
			Str("event", "retention.evict").
			Str("channel_id", ch.ID).
			Str("episode_id", ep.ID).
			Str("video_id", ep.VideoID).
			Int64("bytes_freed", freed).
			Msg("evicted episode beyond window")
	}

	if res.Evicted > 0 {
		logger.Info().
			Str("event", "retention.sweep").
			Str("channel_id", ch.ID).
			Int("evicted", res.Evicted).
			Int64("bytes_freed", res.BytesFreed).
			Int("window_size", ch.WindowSize).
			Msg("retention sweep evicted episodes")
	}
	return res, nil
}

// RemoveEpisodeFiles deletes the media files behind store-relative paths
// ("slug/variant/filename") plus same-stem sidecars such as thumbnails.
// Shared by retention and the episode delete endpoint. Missing files are
// fine; failures are logged and swallowed so state cleanup never blocks
// on the filesystem.
func RemoveEpisodeFiles(ctx context.Context, layout *fsutil.Layout, relPaths []string) {
	logger := log.WithComponentFromContext(ctx, "jobs")
	for _, rel := range relPaths {
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			logger.Warn().
				Str("path", rel).
				Msg("skipping media path outside the library layout")
			continue
		}
		slug, variant, filename := parts[0], parts[1], parts[2]

		removeSidecars(layout, slug, variant, filename, logger)
		if err := layout.RemoveMedia(slug, variant, filename); err != nil {
			logger.Warn().
				Err(err).
				Str("path", rel).
				Msg("failed to remove media file")
		}
	}
}

// removeSidecars deletes files sharing the media file's stem in the same
// variant dir, e.g. the episode thumbnail saved next to the audio.
func removeSidecars(layout *fsutil.Layout, slug, variant, filename string, logger zerolog.Logger) {
	path, err := layout.MediaPath(slug, variant, filename)
	if err != nil {
		return
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name == filename || e.IsDir() {
			continue
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) != stem {
			continue
		}
		if err := layout.RemoveMedia(slug, variant, name); err != nil {
			logger.Warn().
				Err(err).
				Str("path", filepath.Join(slug, variant, name)).
				Msg("failed to remove sidecar file")
		}
	}
}
