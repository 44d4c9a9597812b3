// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuGH/vid2pod/internal/cache"
	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/log"
	"github.com/ManuGH/vid2pod/internal/metrics"
	"github.com/ManuGH/vid2pod/internal/store"
)

// Service serves feed documents through the cache, re-rendering from the
// store on a miss. Invalidate is wired to store.OnFeedChange, so the TTL
// only backstops missed notifications.
type Service struct {
	store *store.Store
	cache cache.Cache
	gen   *Generator
	ttl   time.Duration
}

// NewService builds a feed service over the given store and cache.
func NewService(st *store.Store, c cache.Cache, gen *Generator, ttl time.Duration) *Service {
	return &Service{store: st, cache: c, gen: gen, ttl: ttl}
}

// ChannelFeed returns the RSS document for one channel and variant.
// Requesting a variant the channel's feed type does not produce is a
// not-found, same as an unknown channel.
func (s *Service) ChannelFeed(ctx context.Context, channelID string, variant Variant) (*Document, error) {
	if !variant.Valid() {
		return nil, core.NewValidationError("variant", "must be audio or video")
	}
	key := channelKey(channelID, string(variant))
	if doc, ok := s.cached(ctx, key); ok {
		metrics.IncFeedCacheHit()
		return doc, nil
	}
	metrics.IncFeedCacheMiss()

	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !offersVariant(ch.FeedType, variant) {
		return nil, &core.NotFoundError{Entity: "feed", Key: channelID + "/" + string(variant)}
	}
	episodes, err := s.store.ListFeedEpisodes(ctx, ch.ID, ch.WindowSize)
	if err != nil {
		return nil, err
	}
	doc, err := s.gen.ChannelRSS(ch, episodes, variant)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, doc)
	metrics.IncFeedRender(string(variant))
	return doc, nil
}

// ChannelAtomFeed returns the Atom document for one channel. The variant
// follows the channel's feed type: audio unless the channel is video-only.
func (s *Service) ChannelAtomFeed(ctx context.Context, channelID string) (*Document, error) {
	key := channelKey(channelID, "atom")
	if doc, ok := s.cached(ctx, key); ok {
		metrics.IncFeedCacheHit()
		return doc, nil
	}
	metrics.IncFeedCacheMiss()

	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	episodes, err := s.store.ListFeedEpisodes(ctx, ch.ID, ch.WindowSize)
	if err != nil {
		return nil, err
	}
	doc, err := s.gen.ChannelAtom(ch, episodes)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, doc)
	metrics.IncFeedRender("atom")
	return doc, nil
}

// CombinedFeed returns the cross-channel RSS document for a variant,
// covering enabled channels whose feed type produces that variant.
func (s *Service) CombinedFeed(ctx context.Context, variant Variant) (*Document, error) {
	if !variant.Valid() {
		return nil, core.NewValidationError("variant", "must be audio or video")
	}
	key := combinedKey(variant)
	if doc, ok := s.cached(ctx, key); ok {
		metrics.IncFeedCacheHit()
		return doc, nil
	}
	metrics.IncFeedCacheMiss()

	enabled := true
	channels, err := s.store.ListChannels(ctx, store.ChannelFilter{Enabled: &enabled})
	if err != nil {
		return nil, err
	}

	groups := make([]ChannelEpisodes, 0, len(channels))
	for i := range channels {
		ch := &channels[i]
		if !offersVariant(ch.FeedType, variant) {
			continue
		}
		episodes, err := s.store.ListFeedEpisodes(ctx, ch.ID, ch.WindowSize)
		if err != nil {
			return nil, err
		}
		groups = append(groups, ChannelEpisodes{Channel: ch, Episodes: episodes})
	}

	doc, err := s.gen.CombinedRSS(groups, variant)
	if err != nil {
		return nil, err
	}
	s.put(ctx, key, doc)
	metrics.IncFeedRender("combined-" + string(variant))
	return doc, nil
}

// Invalidate drops every cached document whose output could include the
// channel: the channel's own documents and both combined variants. Safe
// to call from the store's write path.
func (s *Service) Invalidate(channelID string) {
	ctx := context.Background()
	s.cache.DeletePrefix(ctx, "feed:"+channelID+":")
	s.cache.DeletePrefix(ctx, "feed:all:")
}

func (s *Service) cached(ctx context.Context, key string) (*Document, bool) {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Stale or foreign payload under our key. Drop it and re-render.
		logger := log.WithComponentFromContext(ctx, "feed")
		logger.Warn().
			Err(err).
			Str("key", key).
			Msg("discarding undecodable cached feed document")
		s.cache.Delete(ctx, key)
		return nil, false
	}
	return &doc, true
}

func (s *Service) put(ctx context.Context, key string, doc *Document) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	s.cache.Set(ctx, key, raw, s.ttl)
}

func offersVariant(t core.FeedType, v Variant) bool {
	if v == VariantVideo {
		return t.WantsVideo()
	}
	return t.WantsAudio()
}

func channelKey(id, kind string) string {
	return "feed:" + id + ":" + kind
}

func combinedKey(v Variant) string {
	return "feed:all:" + string(v)
}
