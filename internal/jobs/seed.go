// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package jobs

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/ManuGH/vid2pod/internal/config"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/store"
)

// maxSlugAttempts bounds the collision retry loop; the suffix counter
// makes a hit this deep implausible outside a pathological title set.
const maxSlugAttempts = 100

// SeedChannels reconciles the declarative channel list from the config
// against the store. Channels match by URL: missing ones are created,
// existing ones only pick up enabled and window_size when the seed lists
// them. Everything else belongs to the management API, so a seed never
// undoes an operator's edits. Bad entries are logged and skipped; a
// store failure aborts the boot.
func SeedChannels(ctx context.Context, st *store.Store, seeds []config.SeedChannel) error {
	logger := log.WithComponentFromContext(ctx, "jobs")

	for i, seed := range seeds {
		if strings.TrimSpace(seed.URL) == "" {
			logger.Warn().
				Int("index", i).
				Msg("skipping channel seed without url")
			continue
		}

		existing, err := st.GetChannelByURL(ctx, seed.URL)
		switch {
		case err == nil:
			if err := reconcileSeed(ctx, st, existing, seed); err != nil {
				return err
			}
		case core.IsNotFound(err):
			if err := createSeed(ctx, st, seed); err != nil {
				if core.IsDuplicate(err) || core.IsValidation(err) {
					logger.Warn().
						Err(err).
						Str("url", seed.URL).
						Msg("skipping channel seed")
					continue
				}
				return err
			}
			logger.Info().
				Str("event", "seed.channel_created").
				Str("url", seed.URL).
				Msg("seeded channel")
		default:
			return err
		}
	}
	return nil
}

func createSeed(ctx context.Context, st *store.Store, seed config.SeedChannel) error {
	feedType := core.FeedAudio
	if seed.FeedType != "" {
		t, err := core.ParseFeedType(seed.FeedType)
		if err != nil {
			return core.NewValidationError("feed_type", err.Error())
		}
		feedType = t
	}

	window := seed.WindowSize
	if window == 0 {
		window = core.DefaultWindowSize
	}
	if window < core.MinWindowSize || window > core.MaxWindowSize {
		return core.NewValidationError("window_size", "out of range")
	}

	enabled := true
	if seed.Enabled != nil {
		enabled = *seed.Enabled
	}

	title := strings.TrimSpace(seed.Title)
	if title == "" {
		title = TitleFromURL(seed.URL)
	}

	ch := &core.Channel{
		URL:        seed.URL,
		Title:      title,
		WindowSize: window,
		FeedType:   feedType,
		Enabled:    enabled,
	}
	return CreateChannelUniqueSlug(ctx, st, ch)
}

func reconcileSeed(ctx context.Context, st *store.Store, ch *core.Channel, seed config.SeedChannel) error {
	changed := false
	if seed.Enabled != nil && ch.Enabled != *seed.Enabled {
		ch.Enabled = *seed.Enabled
		changed = true
	}
	if seed.WindowSize >= core.MinWindowSize && seed.WindowSize <= core.MaxWindowSize && ch.WindowSize != seed.WindowSize {
		ch.WindowSize = seed.WindowSize
		changed = true
	}
	if !changed {
		return nil
	}

	if err := st.UpdateChannel(ctx, ch); err != nil {
		return err
	}
	logger := log.WithComponentFromContext(ctx, "jobs")
	logger.Info().
		Str("event", "seed.channel_updated").
		Str("channel_id", ch.ID).
		Str("url", ch.URL).
		Bool("enabled", ch.Enabled).
		Int("window_size", ch.WindowSize).
		Msg("reconciled seeded channel")
	return nil
}

// CreateChannelUniqueSlug inserts a channel with a slug derived from its
// title, extending the slug on collision until it is unique. The channel
// keeps whatever ID CreateChannel assigned.
func CreateChannelUniqueSlug(ctx context.Context, st *store.Store, ch *core.Channel) error {
	base := Slugify(ch.Title)
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		ch.Slug = NextSlug(base, attempt)
		err := st.CreateChannel(ctx, ch)
		var dup *core.DuplicateError
		if errors.As(err, &dup) && dup.Entity == "channel slug" {
			continue
		}
		return err
	}
	return &core.DuplicateError{Entity: "channel slug", Key: base}
}

// TitleFromURL derives a provisional title for channels created without
// one, using the channel handle or last path segment of the upstream URL.
func TitleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if s := strings.TrimPrefix(segs[i], "@"); s != "" {
			return s
		}
	}
	if u.Host != "" {
		return u.Host
	}
	return raw
}
