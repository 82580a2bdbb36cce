package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"estate-notifier/metrics"
	"estate-notifier/pkg/estate"
	"estate-notifier/reconcile"
	"estate-notifier/scraper"
)

// siteFetcher serves canned pages; unknown URLs are 404 and "err" URLs are 500.
type siteFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func (f *siteFetcher) Fetch(_ context.Context, pageURL string) (*scraper.Document, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[pageURL]++
	html, ok := f.pages[pageURL]
	f.mu.Unlock()

	if strings.HasSuffix(pageURL, "err") {
		return nil, &scraper.FetchError{URL: pageURL, Status: 500, Err: errors.New("HTTP 500")}
	}
	if !ok {
		return nil, &scraper.FetchError{URL: pageURL, Status: 404, Err: errors.New("HTTP 404")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &scraper.Document{Document: doc, URL: pageURL}, nil
}

func (f *siteFetcher) called(pageURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pageURL]
}

type fakeSource struct {
	code      string
	searches  []string
	retention time.Duration // Zero keeps every listing
}

func (s *fakeSource) Code() string                      { return s.code }
func (s *fakeSource) Searches(context.Context) []string { return s.searches }
func (s *fakeSource) DateField() (string, string)       { return "Updated", time.DateOnly }

func (s *fakeSource) Deprecated(lastModified, now time.Time) bool {
	return s.retention > 0 && !lastModified.IsZero() && lastModified.Before(now.Add(-s.retention))
}

func (s *fakeSource) Paging() scraper.Paging {
	return scraper.Paging{
		Origin:  1,
		Anchors: "a.listing",
		PageURL: func(search string, page int) string { return fmt.Sprintf("%s/%d", search, page) },
		Link: func(href string) (scraper.Link, bool) {
			id, ok := strings.CutPrefix(href, "/l/")
			return scraper.Link{ID: id, URL: s.code + "/l/" + id}, ok
		},
	}
}

func (s *fakeSource) Parse(doc *scraper.Document) (estate.Attributes, error) {
	var attrs estate.Attributes
	if title := doc.Find("h1").Text(); title != "" {
		attrs.Set("Title", title)
	}
	if updated := doc.Find("time").Text(); updated != "" {
		attrs.Set("Updated", updated)
	}
	return attrs, nil
}

func (s *fakeSource) Apply(l *estate.Listing, attrs estate.Attributes) {
	l.City = attrs.Get("Title")
	l.Type = estate.Other
}

type memStore struct {
	mu       sync.Mutex
	listings map[estate.Key]estate.Listing
	deletes  int
}

func newMemStore(ls ...estate.Listing) *memStore {
	s := &memStore{listings: make(map[estate.Key]estate.Listing)}
	for _, l := range ls {
		s.listings[l.Key()] = l
	}
	return s
}

func (s *memStore) FindByKey(_ context.Context, key estate.Key) (*estate.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *memStore) Save(_ context.Context, l *estate.Listing) (*estate.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *l
	saved.UpdatedAt = time.Now()
	s.listings[saved.Key()] = saved
	return &saved, nil
}

func (s *memStore) FindAll(context.Context) ([]*estate.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*estate.Listing
	for _, l := range s.listings {
		out = append(out, &l)
	}
	return out, nil
}

func (s *memStore) DeleteAll(_ context.Context, keys []estate.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	for _, k := range keys {
		delete(s.listings, k)
	}
	return nil
}

func (s *memStore) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for k := range s.listings {
		ids = append(ids, k.String())
	}
	sort.Strings(ids)
	return ids
}

func links(ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, `<a class="listing" href="/l/%s">%s</a>`, id, id)
	}
	return b.String()
}

func newTestOrchestrator(fetcher scraper.Fetcher, store *memStore, sources ...Source) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := scraper.RetryPolicy{Attempts: 2}
	return New(Config{
		Collector:  scraper.NewCollector(fetcher, policy, 0, logger),
		Extractor:  scraper.NewExtractor(fetcher, policy, logger),
		Reconciler: reconcile.New(store, logger),
		Store:      store,
		Metrics:    metrics.New(prometheus.NewRegistry()),
		Logger:     logger,
		Sources:    sources,
		Workers:    2,
	})
}

func TestCrawl(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{
		"s1/1":   links("1", "2"),
		"s1/2":   "<p>No results</p>",
		"s2/1":   links("2", "3"),
		"a/l/1":  "<h1>Budva</h1><p>Updated: 2024-11-02</p>",
		"a/l/2":  "<h1>Kotor</h1>",
		"a/l/3":  "<p>Removed</p>",
		"b/s1/1": links("1"),
	}}
	store := newMemStore()
	good := &fakeSource{code: "a", searches: []string{"s1", "s2"}}
	broken := &fakeSource{code: "b", searches: []string{"down", "b/s1"}}

	reports := newTestOrchestrator(fetcher, store, good, broken).Crawl(context.Background())

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	want := Report{Source: "a", Searches: 2, Listings: 3, Saved: 2, Missing: 1}
	got := reports[0]
	got.Duration = 0
	if got != want {
		t.Errorf("report = %+v\nwant %+v", got, want)
	}

	// Source b collects one listing whose page is 404.
	if r := reports[1]; r.Listings != 1 || r.Missing != 1 || r.Saved != 0 {
		t.Errorf("broken source report = %+v", r)
	}

	if ids := strings.Join(store.ids(), ","); ids != "a/1,a/2" {
		t.Errorf("store = %s, want a/1,a/2", ids)
	}

	// Listing 2 appears in both searches but is extracted once.
	if n := fetcher.called("a/l/2"); n != 1 {
		t.Errorf("a/l/2 fetched %d times, want 1", n)
	}
}

func TestCrawlCanceled(t *testing.T) {
	fetcher := &siteFetcher{pages: map[string]string{"s1/1": links("1")}}
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := newTestOrchestrator(fetcher, store, &fakeSource{code: "a", searches: []string{"s1"}}).Crawl(ctx)
	if reports[0].Saved != 0 {
		t.Errorf("saved %d listings after cancel", reports[0].Saved)
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-24 * time.Hour)
	stale := now.AddDate(0, -3, 0)

	store := newMemStore(
		estate.Listing{SourceCode: "a", SourceID: "fresh", SourceLink: "a/l/fresh", UpdatedAt: fresh},
		estate.Listing{SourceCode: "a", SourceID: "expired", SourceLink: "a/l/expired", LastModified: now.AddDate(-3, 0, 0)},
		estate.Listing{SourceCode: "a", SourceID: "gone", SourceLink: "a/l/gone", UpdatedAt: stale},
		estate.Listing{SourceCode: "a", SourceID: "emptied", SourceLink: "a/l/emptied", UpdatedAt: stale},
		estate.Listing{SourceCode: "a", SourceID: "flaky", SourceLink: "a/l/err", UpdatedAt: stale},
		estate.Listing{SourceCode: "a", SourceID: "alive", SourceLink: "a/l/alive", UpdatedAt: stale},
		estate.Listing{SourceCode: "zz", SourceID: "orphan", SourceLink: "zz/l/orphan", UpdatedAt: stale},
	)
	fetcher := &siteFetcher{pages: map[string]string{
		"a/l/alive":   "<h1>Tivat</h1>",
		"a/l/expired": "<h1>Bar</h1>",
		"a/l/emptied": "<p>This listing is no longer available</p>",
	}}

	o := newTestOrchestrator(fetcher, store, &fakeSource{code: "a"})
	report, err := o.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	want := SweepReport{Records: 7, Candidates: 6, Expired: 1, Gone: 2, Refreshed: 1, Kept: 1, Skipped: 1}
	report.Duration = 0
	if report != want {
		t.Errorf("report = %+v\nwant %+v", report, want)
	}
	if ids := strings.Join(store.ids(), ","); ids != "a/alive,a/flaky,a/fresh,zz/orphan" {
		t.Errorf("store = %s", ids)
	}
	if store.deletes != 1 {
		t.Errorf("DeleteAll called %d times, want 1", store.deletes)
	}
	if n := fetcher.called("a/l/expired"); n != 0 {
		t.Errorf("expired listing fetched %d times, want 0", n)
	}
	if n := fetcher.called("a/l/fresh"); n != 0 {
		t.Errorf("fresh listing fetched %d times, want 0", n)
	}
	if l, _ := store.FindByKey(context.Background(), estate.Key{SourceCode: "a", SourceID: "alive"}); l.City != "Tivat" || !l.UpdatedAt.After(stale) {
		t.Errorf("alive listing not refreshed: %+v", l)
	}
}

func TestSweepOnlineButNotRefreshed(t *testing.T) {
	stale := time.Now().AddDate(0, -3, 0)
	store := newMemStore(
		estate.Listing{SourceCode: "a", SourceID: "old", SourceLink: "a/l/old", City: "Bar", UpdatedAt: stale},
	)
	fetcher := &siteFetcher{pages: map[string]string{
		"a/l/old": "<h1>Bar</h1><time>2020-01-02</time>",
	}}
	o := newTestOrchestrator(fetcher, store, &fakeSource{code: "a", retention: 365 * 24 * time.Hour})

	report, err := o.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	report.Duration = 0
	if want := (SweepReport{Records: 1, Candidates: 1, NotRefreshed: 1}); report != want {
		t.Errorf("report = %+v\nwant %+v", report, want)
	}
	if got := testutil.ToFloat64(o.metrics.SweepKeptTotal.WithLabelValues("a", "deprecated")); got != 1 {
		t.Errorf("kept deprecated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.metrics.SweepKeptTotal.WithLabelValues("a", "refreshed")); got != 0 {
		t.Errorf("kept refreshed = %v, want 0", got)
	}
	l, _ := store.FindByKey(context.Background(), estate.Key{SourceCode: "a", SourceID: "old"})
	if l == nil || !l.UpdatedAt.Equal(stale) {
		t.Errorf("listing = %+v, want kept untouched", l)
	}
}

func TestSweepNothingToDelete(t *testing.T) {
	store := newMemStore(estate.Listing{SourceCode: "a", SourceID: "1", UpdatedAt: time.Now()})
	o := newTestOrchestrator(&siteFetcher{}, store, &fakeSource{code: "a"})

	report, err := o.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Deleted() != 0 || store.deletes != 0 {
		t.Errorf("deleted %d, DeleteAll calls %d", report.Deleted(), store.deletes)
	}
}
