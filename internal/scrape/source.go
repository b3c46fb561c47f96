// Package scrape runs scrape jobs in the background and reports their
// progress and results into a storage.Store.
package scrape

import (
	"context"
	"strings"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// Search modes accepted in Query.Mode.
const (
	ModeTop    = "top"
	ModeLive   = "live"
	ModePeople = "people"
)

// Query describes what a Source should list.
type Query struct {
	Keyword  string
	Hashtags []string // normalized, each with a leading '#'
	Username string   // without a leading '@'
	TweetURL string
	Mode     string
}

// QueryFromParams normalizes job parameters into a Query.
func QueryFromParams(p storage.Params) Query {
	q := Query{
		Keyword:  strings.TrimSpace(p.Keyword),
		Username: strings.TrimPrefix(strings.TrimSpace(p.Username), "@"),
		TweetURL: strings.TrimSpace(p.TweetURL),
		Mode:     p.SearchMode,
	}
	if q.Mode == "" {
		q.Mode = ModeTop
	}
	for _, tag := range storage.ParseTags(p.Hashtag) {
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		q.Hashtags = append(q.Hashtags, tag)
	}
	return q
}

// SearchTerms returns the free-text search string for keyword and hashtag
// queries, including the mode-specific filter. It is empty when the query
// has neither.
func (q Query) SearchTerms() string {
	var parts []string
	if q.Keyword != "" {
		parts = append(parts, q.Keyword)
	}
	parts = append(parts, q.Hashtags...)
	if len(parts) == 0 {
		return ""
	}
	switch q.Mode {
	case ModeTop:
		parts = append(parts, "min_faves:10")
	case ModePeople:
		parts = append(parts, "filter:verified")
	}
	return strings.Join(parts, " ")
}

// Page is one batch of records returned by a Source.
type Page struct {
	Records []storage.Result
	// Next is an opaque cursor for the following page, empty when the
	// listing is exhausted.
	Next string
}

// Source lists scraped records page by page.
type Source interface {
	// Fetch returns the page at cursor. An empty cursor means the first page.
	Fetch(ctx context.Context, q Query, cursor string) (Page, error)
}
