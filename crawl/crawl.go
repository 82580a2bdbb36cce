// Package crawl runs the crawl and sweep jobs across all listing sources.
package crawl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"estate-notifier/metrics"
	"estate-notifier/pkg/estate"
	"estate-notifier/reconcile"
	"estate-notifier/scraper"
)

const defaultWorkers = 4

// Source is one listing portal.
type Source interface {
	reconcile.Mapping
	Searches(ctx context.Context) []string
	Paging() scraper.Paging
	Parse(doc *scraper.Document) (estate.Attributes, error)
}

// Store interface for listing persistence.
type Store interface {
	reconcile.Store
	FindAll(ctx context.Context) ([]*estate.Listing, error)
	DeleteAll(ctx context.Context, keys []estate.Key) error
}

// Config holds orchestrator dependencies.
type Config struct {
	Collector  *scraper.Collector
	Extractor  *scraper.Extractor
	Reconciler *reconcile.Reconciler
	Store      Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Sources    []Source
	Workers    int // Concurrent listing extractions per source
}

// Orchestrator runs crawls and sweeps.
type Orchestrator struct {
	collector  *scraper.Collector
	extractor  *scraper.Extractor
	reconciler *reconcile.Reconciler
	store      Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	sources    []Source
	workers    int
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Orchestrator{
		collector:  cfg.Collector,
		extractor:  cfg.Extractor,
		reconciler: cfg.Reconciler,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
		sources:    cfg.Sources,
		workers:    workers,
	}
}

// Report summarizes the crawl of one source.
type Report struct {
	Source     string
	Duration   time.Duration
	Searches   int
	Listings   int
	Saved      int
	Deprecated int
	Missing    int
	Failed     int
	Errors     int
}

func (r *Report) add(o reconcile.Outcome) {
	switch o {
	case reconcile.OutcomeSaved:
		r.Saved++
	case reconcile.OutcomeDeprecated:
		r.Deprecated++
	case reconcile.OutcomeMissing:
		r.Missing++
	case reconcile.OutcomeFailed:
		r.Failed++
	default:
		r.Errors++
	}
}

// Crawl crawls all sources concurrently. A failing source never stops the others.
func (o *Orchestrator) Crawl(ctx context.Context) []Report {
	o.logger.Info("Crawl started", "sources", len(o.sources), "timestamp", o.now().Format(time.RFC3339))

	reports := make([]Report, len(o.sources))
	var g errgroup.Group
	for i, src := range o.sources {
		g.Go(func() error {
			reports[i] = o.crawlSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range reports {
		o.logger.Info("Crawl completed",
			"source", r.Source,
			"searches", r.Searches,
			"listings", r.Listings,
			"saved", r.Saved,
			"deprecated", r.Deprecated,
			"missing", r.Missing,
			"failed", r.Failed,
			"errors", r.Errors,
			"duration_ms", r.Duration.Milliseconds())
	}
	return reports
}

func (o *Orchestrator) crawlSource(ctx context.Context, src Source) Report {
	start := time.Now()
	code := src.Code()
	report := Report{Source: code}

	searches := src.Searches(ctx)
	report.Searches = len(searches)
	o.logger.Info("Collecting listings", "source", code, "searches", len(searches))

	// Searches overlap (district and settlement); each listing is reconciled once per crawl
	paging := src.Paging()
	seen := make(map[string]bool)
	var links []scraper.Link
	for _, search := range searches {
		if ctx.Err() != nil {
			break
		}
		for _, link := range o.collector.Collect(ctx, search, paging) {
			if seen[link.ID] {
				continue
			}
			seen[link.ID] = true
			links = append(links, link)
		}
	}
	report.Listings = len(links)
	o.logger.Info("Listings collected", "source", code, "count", len(links))

	var mu sync.Mutex
	o.fanOut(ctx, len(links), func(i int) {
		link := links[i]
		res := o.extractor.Extract(ctx, link.URL, src.Parse)
		outcome, _ := o.reconciler.Reconcile(ctx, src, link, res)

		o.metrics.ListingsTotal.WithLabelValues(code, outcome.String()).Inc()
		mu.Lock()
		report.add(outcome)
		mu.Unlock()
	})

	report.Duration = time.Since(start)
	o.metrics.ObserveCrawl(code, report.Duration)
	return report
}

// fanOut calls fn for 0..n-1 with at most o.workers calls in flight.
// It stops starting new calls once ctx is done.
func (o *Orchestrator) fanOut(ctx context.Context, n int, fn func(i int)) {
	sem := semaphore.NewWeighted(int64(o.workers))
	var wg sync.WaitGroup
	for i := range n {
		if err := sem.Acquire(ctx, 1); err != nil {
			o.logger.Info("Context cancelled, stopping", "remaining", n-i, "error", err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			fn(i)
		}()
	}
	wg.Wait()
}
