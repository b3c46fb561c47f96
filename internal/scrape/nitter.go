package scrape

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/scrapejobs/internal/storage"
)

// canonicalHost is used for the tweet_url of every record so links stay
// valid regardless of which front-end was scraped.
const canonicalHost = "https://x.com"

var statusPath = regexp.MustCompile(`^/([^/]+)/status/(\d+)`)

// NitterSource scrapes Nitter-style HTML timelines.
type NitterSource struct {
	base    *url.URL
	fetcher Fetcher
}

// NewNitterSource creates a source rooted at baseURL.
func NewNitterSource(baseURL string, fetcher Fetcher) (*NitterSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &NitterSource{base: u, fetcher: fetcher}, nil
}

// BuildURL returns the first-page URL for q. A direct tweet URL wins over a
// username, which wins over search terms.
func (s *NitterSource) BuildURL(q Query) (string, error) {
	u := *s.base
	switch {
	case q.TweetURL != "":
		tweet, err := url.Parse(q.TweetURL)
		if err != nil || tweet.Path == "" {
			return "", fmt.Errorf("invalid tweet url %q", q.TweetURL)
		}
		u.Path = tweet.Path
	case q.Username != "":
		u.Path = "/" + q.Username
	default:
		terms := q.SearchTerms()
		if terms == "" {
			return "", errors.New("query has no search terms")
		}
		u.Path = "/search"
		u.RawQuery = url.Values{"f": {"tweets"}, "q": {terms}}.Encode()
	}
	return u.String(), nil
}

func (s *NitterSource) Fetch(ctx context.Context, q Query, cursor string) (Page, error) {
	pageURL := cursor
	if pageURL == "" {
		var err error
		if pageURL, err = s.BuildURL(q); err != nil {
			return Page{}, err
		}
	}

	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}
	return parseTimeline(html, pageURL)
}

// parseTimeline extracts records and the next-page cursor from a timeline page.
func parseTimeline(html, pageURL string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parsing timeline: %w", err)
	}
	current, err := url.Parse(pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("parsing page url: %w", err)
	}

	page := Page{Records: []storage.Result{}}
	doc.Find(".timeline-item").Each(func(_ int, item *goquery.Selection) {
		if item.HasClass("show-more") || item.Find(".unavailable").Length() > 0 {
			return
		}
		if r, ok := parseItem(item); ok {
			page.Records = append(page.Records, r)
		}
	})

	// Nitter renders both "Load newest" (no cursor) and "Load more" links.
	doc.Find(".show-more a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "cursor=") {
			return true
		}
		if next, err := current.Parse(href); err == nil {
			page.Next = next.String()
		}
		return false
	})

	return page, nil
}

func parseItem(item *goquery.Selection) (storage.Result, bool) {
	href, _ := item.Find("a.tweet-link").First().Attr("href")
	if href == "" {
		href, _ = item.Find(".tweet-date a").First().Attr("href")
	}
	m := statusPath.FindStringSubmatch(href)
	if m == nil {
		return storage.Result{}, false
	}
	username, id := m[1], m[2]

	header := item.Find(".tweet-header").First()
	if u := strings.TrimPrefix(strings.TrimSpace(header.Find(".username").First().Text()), "@"); u != "" {
		username = u
	}

	content := item.Find(".tweet-content").First()
	r := storage.Result{
		ID:          id,
		Username:    username,
		DisplayName: strings.TrimSpace(header.Find(".fullname").First().Text()),
		Text:        strings.TrimSpace(content.Text()),
		Kind:        classify(item),
		URL:         canonicalHost + "/" + username + "/status/" + id,
	}
	if title, ok := item.Find(".tweet-date a").First().Attr("title"); ok {
		r.Timestamp = parseTimestamp(title)
	}

	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		switch {
		case strings.HasPrefix(text, "#") && !slices.Contains(r.Hashtags, text):
			r.Hashtags = append(r.Hashtags, text)
		case strings.HasPrefix(text, "@") && !slices.Contains(r.Mentions, text):
			r.Mentions = append(r.Mentions, text)
		}
	})

	item.Find(".tweet-stats .tweet-stat").Each(func(_ int, stat *goquery.Selection) {
		n := parseCount(stat.Text())
		switch {
		case stat.Find(".icon-comment").Length() > 0:
			r.Replies = n
		case stat.Find(".icon-retweet").Length() > 0:
			r.Retweets = n
		case stat.Find(".icon-heart").Length() > 0:
			r.Likes = n
		}
	})

	return r, true
}

func classify(item *goquery.Selection) storage.Kind {
	switch {
	case item.Find(".retweet-header").Length() > 0:
		return storage.KindRepost
	case item.Find(".replying-to").Length() > 0:
		return storage.KindReply
	case item.Find(".quote").Length() > 0:
		return storage.KindQuote
	default:
		return storage.KindOriginal
	}
}

// nitterTimeLayout matches the title attribute of Nitter's tweet-date links,
// e.g. "Jan 2, 2006 · 3:04 PM UTC".
const nitterTimeLayout = "Jan 2, 2006 · 3:04 PM MST"

// parseTimestamp converts a Nitter date title to RFC 3339, returning the
// input unchanged when it does not match.
func parseTimestamp(s string) string {
	s = strings.TrimSpace(s)
	t, err := time.Parse(nitterTimeLayout, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339)
}

// parseCount parses engagement counters such as "1,234", "1.2K" or "3M".
// Anything unparseable counts as zero.
func parseCount(s string) int {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(math.Round(f * mult))
}
