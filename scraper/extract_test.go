package scraper

import (
	"context"
	"errors"
	"testing"

	"estate-notifier/pkg/estate"
)

func parseTitle(doc *Document) (estate.Attributes, error) {
	var attrs estate.Attributes
	if title := doc.Find("h1").First().Text(); title != "" {
		attrs.Set("Title", title)
	}
	return attrs, nil
}

func TestExtract(t *testing.T) {
	const listing = "https://portal.test/listing/1"

	tests := []struct {
		name      string
		page      *page
		parse     ParseFunc
		want      Status
		wantCalls int
	}{
		{
			name:      "found",
			page:      &page{html: "<h1>Flat</h1>"},
			parse:     parseTitle,
			want:      Found,
			wantCalls: 1,
		},
		{
			name:      "found after transient failure",
			page:      &page{html: "<h1>Flat</h1>", failures: 2},
			parse:     parseTitle,
			want:      Found,
			wantCalls: 3,
		},
		{
			name:      "empty page is missing",
			page:      &page{html: "<p>Listing removed</p>"},
			parse:     parseTitle,
			want:      Missing,
			wantCalls: 1,
		},
		{
			name:      "not found is missing without retry",
			page:      nil,
			parse:     parseTitle,
			want:      Missing,
			wantCalls: 1,
		},
		{
			name:      "gone is missing",
			page:      &page{err: &FetchError{URL: listing, Status: 410}},
			parse:     parseTitle,
			want:      Missing,
			wantCalls: 1,
		},
		{
			name:      "server errors exhaust attempts",
			page:      &page{err: &FetchError{URL: listing, Status: 503}},
			parse:     parseTitle,
			want:      Failed,
			wantCalls: 3,
		},
		{
			name: "parse errors exhaust attempts",
			page: &page{html: "<h1>Flat</h1>"},
			parse: func(*Document) (estate.Attributes, error) {
				return estate.Attributes{}, &ParseError{URL: listing, Reason: "no attribute table"}
			},
			want:      Failed,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := map[string]*page{}
			if tt.page != nil {
				pages[listing] = tt.page
			}
			fetcher := newFakeFetcher(pages)
			e := NewExtractor(fetcher, RetryPolicy{Attempts: 3}, testLogger())

			got := e.Extract(context.Background(), listing, tt.parse)
			if got.Status != tt.want {
				t.Errorf("Status = %v, want %v (err: %v)", got.Status, tt.want, got.Err)
			}
			if n := fetcher.callCount(listing); n != tt.wantCalls {
				t.Errorf("fetched %d times, want %d", n, tt.wantCalls)
			}
			if got.Status == Failed && got.Err == nil {
				t.Error("Failed result without error")
			}
			if got.Status == Found && got.Attrs.Get("Title") != "Flat" {
				t.Errorf("Attrs[Title] = %q, want Flat", got.Attrs.Get("Title"))
			}
		})
	}
}

func TestExtractFailedKeepsCause(t *testing.T) {
	const listing = "https://portal.test/listing/2"
	cause := &FetchError{URL: listing, Status: 500}
	fetcher := newFakeFetcher(map[string]*page{listing: {err: cause}})
	e := NewExtractor(fetcher, RetryPolicy{Attempts: 2}, testLogger())

	got := e.Extract(context.Background(), listing, parseTitle)

	var fe *FetchError
	if !errors.As(got.Err, &fe) || fe.Status != 500 {
		t.Errorf("Err = %v, want the 500 fetch error", got.Err)
	}
}
