// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package feed

import (
	"encoding/xml"
	"time"
)

// RSS 2.0 with the iTunes podcast namespace. Field order fixes the
// marshalled element order, so changing it changes every ETag.

type rssDoc struct {
	XMLName    xml.Name   `xml:"rss"`
	Version    string     `xml:"version,attr"`
	ITunesAttr string     `xml:"xmlns:itunes,attr"`
	AtomAttr   string     `xml:"xmlns:atom,attr"`
	Channel    rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language"`
	Generator     string    `xml:"generator"`
	LastBuildDate string    `xml:"lastBuildDate"`
	SelfLink      rssSelf   `xml:"atom:link"`
	Author        string    `xml:"itunes:author,omitempty"`
	Explicit      string    `xml:"itunes:explicit"`
	Image         *rssImage `xml:"itunes:image,omitempty"`
	Items         []rssItem `xml:"item"`
}

type rssSelf struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssImage struct {
	Href string `xml:"href,attr"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	Description string       `xml:"description,omitempty"`
	Author      string       `xml:"itunes:author,omitempty"`
	GUID        rssGUID      `xml:"guid"`
	PubDate     string       `xml:"pubDate,omitempty"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	Duration    string       `xml:"itunes:duration,omitempty"`
	Image       *rssImage    `xml:"itunes:image,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type rssInput struct {
	Title       string
	Link        string
	Description string
	Image       string
	SelfURL     string
	Items       []item
	LastMod     time.Time
}

func renderRSS(in rssInput) ([]byte, error) {
	ch := rssChannel{
		Title:         in.Title,
		Link:          in.Link,
		Description:   in.Description,
		Language:      "en",
		Generator:     generatorTag(),
		LastBuildDate: in.LastMod.UTC().Format(time.RFC1123Z),
		SelfLink:      rssSelf{Href: in.SelfURL, Rel: "self", Type: "application/rss+xml"},
		Explicit:      "false",
	}
	if in.Image != "" {
		ch.Image = &rssImage{Href: in.Image}
	}

	ch.Items = make([]rssItem, 0, len(in.Items))
	for _, it := range in.Items {
		ri := rssItem{
			Title:       it.Title,
			Link:        it.WatchURL,
			Description: it.Description,
			Author:      it.Author,
			GUID:        rssGUID{IsPermaLink: "false", Value: it.GUID},
			Enclosure: rssEnclosure{
				URL:    it.Enclosure.URL,
				Length: it.Enclosure.Length,
				Type:   it.Enclosure.Type,
			},
			Duration: it.Duration,
		}
		if it.Published != nil {
			ri.PubDate = it.Published.UTC().Format(time.RFC1123Z)
		}
		if it.Thumbnail != "" {
			ri.Image = &rssImage{Href: it.Thumbnail}
		}
		ch.Items = append(ch.Items, ri)
	}

	doc := rssDoc{
		Version:    "2.0",
		ITunesAttr: "http://www.itunes.com/dtds/podcast-1.0.dtd",
		AtomAttr:   "http://www.w3.org/2005/Atom",
		Channel:    ch,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
