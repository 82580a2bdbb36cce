package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// page is a canned response of fakeFetcher.
type page struct {
	err      error  // Returned instead of a document
	html     string //
	resolved string // URL after redirects; defaults to the requested URL
	failures int    // Transient errors before the page loads
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*page
	calls map[string]int
}

func newFakeFetcher(pages map[string]*page) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pageURL]++

	p, ok := f.pages[pageURL]
	if !ok {
		return nil, &FetchError{URL: pageURL, Status: 404, Err: errors.New("HTTP 404")}
	}
	if p.failures > 0 {
		p.failures--
		return nil, &FetchError{URL: pageURL, Err: errors.New("connection reset")}
	}
	if p.err != nil {
		return nil, p.err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html))
	if err != nil {
		return nil, err
	}
	resolved := p.resolved
	if resolved == "" {
		resolved = pageURL
	}
	return &Document{Document: doc, URL: resolved}, nil
}

func (f *fakeFetcher) callCount(pageURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pageURL]
}
