// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package feed

import (
	"encoding/xml"
	"time"
)

// Atom 1.0. Entry ids are urn IRIs derived from the upstream video id,
// so they survive re-downloads the same way the RSS guids do.

type atomFeed struct {
	XMLName   xml.Name    `xml:"feed"`
	Xmlns     string      `xml:"xmlns,attr"`
	Title     string      `xml:"title"`
	Subtitle  string      `xml:"subtitle,omitempty"`
	ID        string      `xml:"id"`
	Updated   string      `xml:"updated"`
	Generator string      `xml:"generator"`
	Links     []atomLink  `xml:"link"`
	Entries   []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Length int64  `xml:"length,attr,omitempty"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	ID        string     `xml:"id"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published,omitempty"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary,omitempty"`
}

type atomInput struct {
	Title    string
	Subtitle string
	SiteURL  string
	SelfURL  string
	Items    []item
	LastMod  time.Time
}

func renderAtom(in atomInput) ([]byte, error) {
	doc := atomFeed{
		Xmlns:     "http://www.w3.org/2005/Atom",
		Title:     in.Title,
		Subtitle:  in.Subtitle,
		ID:        in.SelfURL,
		Updated:   in.LastMod.UTC().Format(time.RFC3339),
		Generator: generatorTag(),
		Links: []atomLink{
			{Rel: "self", Href: in.SelfURL, Type: "application/atom+xml"},
			{Rel: "alternate", Href: in.SiteURL, Type: "text/html"},
		},
	}

	doc.Entries = make([]atomEntry, 0, len(in.Items))
	for _, it := range in.Items {
		entry := atomEntry{
			Title:   it.Title,
			ID:      it.EntryID,
			Updated: it.Updated.UTC().Format(time.RFC3339),
			Links: []atomLink{
				{Rel: "alternate", Href: it.WatchURL, Type: "text/html"},
				{Rel: "enclosure", Href: it.Enclosure.URL, Type: it.Enclosure.Type, Length: it.Enclosure.Length},
			},
			Summary: it.Description,
		}
		if it.Published != nil {
			entry.Published = it.Published.UTC().Format(time.RFC3339)
		}
		doc.Entries = append(doc.Entries, entry)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
