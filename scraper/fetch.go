// Package scraper fetches listing portal pages and walks their search results.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Document is a parsed page together with the URL it resolved to after redirects.
type Document struct {
	*goquery.Document
	URL string
}

// FetchError indicates a network or HTTP failure.
type FetchError struct {
	Err    error
	URL    string
	Status int // 0 when no response was received
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Gone reports whether the server said the page does not exist.
func (e *FetchError) Gone() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// IsFetchError checks if an error is a fetch error.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// ParseError indicates a page whose markup did not have the expected shape.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// IsParseError checks if an error is a parse error.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Document, error)
}

// HTTPFetcher fetches pages with one attempt each. Retries belong to callers.
type HTTPFetcher struct {
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

// NewHTTPFetcher creates a fetcher. rps limits requests per host; 0 disables limiting.
func NewHTTPFetcher(client *http.Client, rps float64, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:   client,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.rps), 1)
		f.limiters[host] = l
	}
	return l
}

// Fetch performs one GET and parses the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: fmt.Errorf("create request: %w", err)}
	}

	if f.rps > 0 {
		if err := f.limiter(req.URL.Host).Wait(ctx); err != nil {
			return nil, &FetchError{URL: pageURL, Err: err}
		}
	}

	// Browser-like headers; some portals serve a stripped page otherwise
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		f.logger.Warn("HTTP request failed",
			"url", pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	f.logger.Debug("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: pageURL, Status: resp.StatusCode, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Reason: err.Error()}
	}

	return &Document{Document: doc, URL: resp.Request.URL.String()}, nil
}
