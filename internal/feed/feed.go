// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package feed renders podcast documents from library state. The
// generator is a pure function of (channel, episode set, base URL): the
// same inputs yield byte-identical output, which is what makes the
// document cache and strong ETags sound.
package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/vid2pod/internal/core"
	"github.com/ManuGH/vid2pod/internal/version"
)

// Variant selects which media artifact a document's enclosures point at.
type Variant string

const (
	VariantAudio Variant = "audio"
	VariantVideo Variant = "video"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantAudio || v == VariantVideo
}

const (
	// guidPrefix keeps item identifiers stable across re-downloads: the
	// upstream video id is the identity, not our episode row.
	guidPrefix = "vid2pod-"

	// entryIDPrefix is the Atom equivalent; Atom ids must be IRIs.
	entryIDPrefix = "urn:vid2pod:"

	// combinedItemCap bounds the cross-channel feeds.
	combinedItemCap = 100
)

// Document is a rendered feed plus the validators the HTTP layer needs
// for conditional requests.
type Document struct {
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag"` // hex sha256 of Body, unquoted
	LastModified time.Time `json:"last_modified"`
}

// ChannelEpisodes pairs a channel with its feed-eligible episodes, for
// the combined variants.
type ChannelEpisodes struct {
	Channel  *core.Channel
	Episodes []core.Episode
}

// Generator renders feed documents. Safe for concurrent use.
type Generator struct {
	baseURL string
}

// NewGenerator builds a generator. baseURL is the public prefix used in
// enclosure and self links, without a trailing slash.
func NewGenerator(baseURL string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/")}
}

// item is the dialect-neutral form of one episode.
type item struct {
	Title       string
	Description string
	Author      string
	GUID        string
	EntryID     string
	WatchURL    string
	Enclosure   enclosure
	Duration    string
	Published   *time.Time
	Created     time.Time
	Updated     time.Time
	Thumbnail   string
}

type enclosure struct {
	URL    string
	Length int64
	Type   string
}

// ChannelRSS renders the RSS 2.0 document for one channel and variant.
func (g *Generator) ChannelRSS(ch *core.Channel, episodes []core.Episode, variant Variant) (*Document, error) {
	items, lastMod := g.buildItems(ch, episodes, variant, ch.UpdatedAt)
	sortItems(items)
	self := g.channelFeedURL(ch.ID, variant, "rss")
	body, err := renderRSS(rssInput{
		Title:       ch.Title,
		Link:        ch.URL,
		Description: ch.Description,
		Image:       ch.Thumbnail,
		SelfURL:     self,
		Items:       items,
		LastMod:     lastMod,
	})
	if err != nil {
		return nil, core.Internalf("feed.channel_rss", err)
	}
	return finish(body, lastMod), nil
}

// ChannelAtom renders the Atom 1.0 document for one channel. The variant
// follows the channel's feed type: audio unless the channel is video-only.
func (g *Generator) ChannelAtom(ch *core.Channel, episodes []core.Episode) (*Document, error) {
	variant := VariantAudio
	if !ch.FeedType.WantsAudio() {
		variant = VariantVideo
	}
	items, lastMod := g.buildItems(ch, episodes, variant, ch.UpdatedAt)
	sortItems(items)
	self := g.channelFeedURL(ch.ID, variant, "atom")
	body, err := renderAtom(atomInput{
		Title:    ch.Title,
		Subtitle: ch.Description,
		SiteURL:  ch.URL,
		SelfURL:  self,
		Items:    items,
		LastMod:  lastMod,
	})
	if err != nil {
		return nil, core.Internalf("feed.channel_atom", err)
	}
	return finish(body, lastMod), nil
}

// CombinedRSS renders the cross-channel document for a variant: newest
// first across every group, capped at 100 items.
func (g *Generator) CombinedRSS(groups []ChannelEpisodes, variant Variant) (*Document, error) {
	var items []item
	lastMod := time.Time{}

	for _, grp := range groups {
		chItems, chMod := g.buildItems(grp.Channel, grp.Episodes, variant, grp.Channel.UpdatedAt)
		items = append(items, chItems...)
		if chMod.After(lastMod) {
			lastMod = chMod
		}
	}

	sortItems(items)
	if len(items) > combinedItemCap {
		items = items[:combinedItemCap]
	}

	title := "All Channels"
	if variant == VariantVideo {
		title = "All Channels (Video)"
	}
	body, err := renderRSS(rssInput{
		Title:       title,
		Link:        g.baseURL,
		Description: "Combined feed across all enabled channels",
		SelfURL:     g.combinedFeedURL(variant),
		Items:       items,
		LastMod:     lastMod.UTC(),
	})
	if err != nil {
		return nil, core.Internalf("feed.combined_rss", err)
	}
	return finish(body, lastMod.UTC()), nil
}

// buildItems converts feed-eligible episodes into items, skipping any
// without the variant's artifact, and folds the newest update time.
func (g *Generator) buildItems(ch *core.Channel, episodes []core.Episode, variant Variant, seed time.Time) ([]item, time.Time) {
	lastMod := seed.UTC()
	items := make([]item, 0, len(episodes))

	for i := range episodes {
		ep := &episodes[i]
		if ep.Status != core.EpisodeCompleted || ep.DownloadedAt == nil {
			continue
		}
		relPath, size := ep.FilePathAudio, ep.FileSizeAudio
		if variant == VariantVideo {
			relPath, size = ep.FilePathVideo, ep.FileSizeVideo
		}
		if relPath == "" {
			continue
		}

		if ep.UpdatedAt.After(lastMod) {
			lastMod = ep.UpdatedAt.UTC()
		}

		items = append(items, item{
			Title:       ep.Title,
			Description: ep.Description,
			Author:      ch.Title,
			GUID:        guidPrefix + ep.VideoID,
			EntryID:     entryIDPrefix + ep.VideoID,
			WatchURL:    core.WatchURL(ep.VideoID),
			Enclosure: enclosure{
				URL:    g.enclosureURL(ch.Slug, variant, relPath),
				Length: size,
				Type:   MediaType(relPath),
			},
			Duration:  formatDuration(ep.DurationSeconds),
			Published: ep.PublishedAt,
			Created:   ep.CreatedAt,
			Updated:   ep.UpdatedAt.UTC(),
			Thumbnail: ep.Thumbnail,
		})
	}
	return items, lastMod.Truncate(time.Second)
}

// sortItems orders newest-published first, unknown publish dates last,
// then newest-created, then GUID for a stable total order.
func sortItems(items []item) {
	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.Published != nil && b.Published == nil:
			return -1
		case a.Published == nil && b.Published != nil:
			return 1
		case a.Published != nil && b.Published != nil && !a.Published.Equal(*b.Published):
			if a.Published.After(*b.Published) {
				return -1
			}
			return 1
		}
		if !a.Created.Equal(b.Created) {
			if a.Created.After(b.Created) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.GUID, b.GUID)
	})
}

func (g *Generator) enclosureURL(slug string, variant Variant, relPath string) string {
	name := path.Base(filepath.ToSlash(relPath))
	return fmt.Sprintf("%s/feeds/%s/%s/%s", g.baseURL, slug, variant, url.PathEscape(name))
}

func (g *Generator) channelFeedURL(channelID string, variant Variant, dialect string) string {
	if dialect == "atom" {
		return fmt.Sprintf("%s/feed/%s/atom.xml", g.baseURL, channelID)
	}
	return fmt.Sprintf("%s/feed/%s/%s.rss", g.baseURL, channelID, variant)
}

func (g *Generator) combinedFeedURL(variant Variant) string {
	if variant == VariantVideo {
		return g.baseURL + "/feeds/all-video.rss"
	}
	return g.baseURL + "/feeds/all.rss"
}

func generatorTag() string {
	return "vid2pod " + version.Version
}

// finish seals a rendered body with its conditional-request validators.
func finish(body []byte, lastMod time.Time) *Document {
	sum := sha256.Sum256(body)
	return &Document{
		Body:         body,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: lastMod.UTC().Truncate(time.Second),
	}
}

// mediaTypes maps artifact extensions to enclosure MIME types.
var mediaTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
}

// MediaType returns the MIME type for a media file name, defaulting to
// application/octet-stream for anything unrecognized.
func MediaType(name string) string {
	if t, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// formatDuration renders seconds as H:MM:SS, or M:SS under one hour.
// Zero or negative durations render as empty (tag omitted).
func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	h := seconds / 3600
	m := seconds % 3600 / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
