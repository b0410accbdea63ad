package source

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// Title collapses whitespace in an already decoded item title. Angle
// brackets and ampersands are title text, not markup, and are kept.
func Title(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanText reduces an HTML fragment to single-spaced plain text.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style").Remove()
	// Keep words from adjacent block elements apart.
	doc.Find("br, p, div, li, h1, h2, h3, h4, h5, h6, tr, td").AppendHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// PublishedAt picks the item's publish time, then its update time, then a
// loose parse of the raw strings, and finally now.
func PublishedAt(it *gofeed.Item, now time.Time) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UTC()
	}
	for _, raw := range []string{it.Published, it.Updated} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if t, err := dateparse.ParseAny(strings.TrimSpace(raw)); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
