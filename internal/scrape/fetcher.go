package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html/charset"
)

// DefaultUserAgent is sent by HTTPFetcher.
const DefaultUserAgent = "Mozilla/5.0 (compatible; scrapejobs/1.0)"

// maxPageBytes caps how much of a response body is read.
const maxPageBytes = 10 << 20

// Fetcher retrieves the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// FetchError describes a failed page retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetching %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// HTTPFetcher fetches pages with a plain HTTP GET, decoding the body to
// UTF-8 based on the response Content-Type and any <meta charset>.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: DefaultUserAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if u, err := url.Parse(pageURL); err != nil || u.Scheme == "" || u.Host == "" {
		return "", &FetchError{URL: pageURL, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &FetchError{URL: pageURL, Message: "creating request", Cause: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: pageURL, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &FetchError{
			URL:        pageURL,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", &FetchError{URL: pageURL, Message: "decoding body", Cause: err}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", &FetchError{URL: pageURL, Message: "reading body", Cause: err}
	}
	return string(data), nil
}

// BrowserFetcher renders pages in headless Chrome. It is needed for
// front-ends that build the timeline with JavaScript. Chrome or Chromium
// must be installed.
type BrowserFetcher struct {
	timeout time.Duration
	// settle is how long to wait after the body is ready for scripts to
	// finish rendering.
	settle time.Duration
}

func NewBrowserFetcher(timeout time.Duration) *BrowserFetcher {
	return &BrowserFetcher{timeout: timeout, settle: 2 * time.Second}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(DefaultUserAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, f.timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", &FetchError{URL: pageURL, Message: "browser rendering failed", Cause: err}
	}
	return html, nil
}
