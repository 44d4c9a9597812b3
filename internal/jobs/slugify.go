// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package jobs drives the library's background work: the refresh
// scheduler that discovers upstream videos, the rolling-window retention
// sweep, and the declarative channel seeding at startup.
package jobs

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxSlugLen keeps directory and URL segments readable.
const maxSlugLen = 50

// umlauts transliterates the characters NFKD would strip an ear off:
// decomposition turns ä into a, losing the trailing e German readers expect.
var umlauts = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

// Slugify converts a channel title into the slug used for its library
// directory and media URL segment. Lowercase, non-alphanumeric runs
// collapse to single dashes, trimmed, capped at 50 characters.
// Example: "Späße & Gadgets HD" → "spaesse-gadgets-hd".
func Slugify(title string) string {
	if title == "" {
		return "channel"
	}

	s := umlauts.Replace(strings.ToLower(title))

	// Decompose accents and drop the combining marks: é → e.
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	var result strings.Builder
	lastWasDash := true // swallows leading dashes
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			result.WriteRune(r)
			lastWasDash = false
		default:
			if !lastWasDash {
				result.WriteRune('-')
				lastWasDash = true
			}
		}
	}

	slug := strings.TrimRight(result.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "channel"
	}
	return slug
}

// NextSlug derives the candidate to try after a slug collision: base for
// attempt 0, base-2, base-3 and so on, keeping the total length capped.
func NextSlug(base string, attempt int) string {
	if attempt <= 0 {
		return base
	}
	suffix := fmt.Sprintf("-%d", attempt+1)
	if len(base)+len(suffix) > maxSlugLen {
		base = strings.TrimRight(base[:maxSlugLen-len(suffix)], "-")
	}
	return base + suffix
}
