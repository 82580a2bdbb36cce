package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"estate-notifier/pkg/estate"
	"estate-notifier/reconcile"
	"estate-notifier/scraper"
)

const (
	sweepStaleMonths  = 2  // Records not refreshed for this long are re-checked
	sweepExpiryMonths = 24 // Records last modified before this are dropped unchecked
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	Duration     time.Duration
	Records      int
	Candidates   int
	Expired      int // Deleted without a check
	Gone         int // Deleted because the source no longer has them
	Refreshed    int
	NotRefreshed int // Online but not saved: past the source retention or a store error
	Kept         int // Check failed; retried next sweep
	Skipped      int // No source or no link to check
}

// Deleted returns the number of deleted records.
func (r SweepReport) Deleted() int { return r.Expired + r.Gone }

// Sweep deletes stale listings that expired or disappeared from their source.
// Listings whose check fails are kept. Deletion happens in one batch at the end.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	var report SweepReport

	all, err := o.store.FindAll(ctx)
	if err != nil {
		return report, fmt.Errorf("list listings: %w", err)
	}
	report.Records = len(all)

	now := o.now()
	staleBefore := now.AddDate(0, -sweepStaleMonths, 0)
	expireBefore := now.AddDate(0, -sweepExpiryMonths, 0)

	sources := make(map[string]Source, len(o.sources))
	for _, src := range o.sources {
		sources[src.Code()] = src
	}

	var candidates []*estate.Listing
	for _, l := range all {
		if !l.UpdatedAt.IsZero() && !l.UpdatedAt.Before(staleBefore) {
			continue
		}
		candidates = append(candidates, l)
	}
	report.Candidates = len(candidates)
	o.logger.Info("Sweep started", "records", len(all), "candidates", len(candidates))

	var mu sync.Mutex
	var keys []estate.Key
	o.fanOut(ctx, len(candidates), func(i int) {
		l := candidates[i]
		del, reason := o.check(ctx, l, sources, expireBefore)

		mu.Lock()
		defer mu.Unlock()
		switch reason {
		case "expired":
			report.Expired++
		case "missing":
			report.Gone++
		case "refreshed":
			report.Refreshed++
		case "deprecated", "not_refreshed":
			report.NotRefreshed++
		case "failed":
			report.Kept++
		default:
			report.Skipped++
		}
		if del {
			keys = append(keys, l.Key())
			o.metrics.SweepDeletedTotal.WithLabelValues(l.SourceCode, reason).Inc()
		} else {
			o.metrics.SweepKeptTotal.WithLabelValues(l.SourceCode, reason).Inc()
		}
	})

	if len(keys) > 0 {
		if err := o.store.DeleteAll(ctx, keys); err != nil {
			return report, fmt.Errorf("delete listings: %w", err)
		}
	}

	report.Duration = time.Since(start)
	o.logger.Info("Sweep completed",
		"records", report.Records,
		"candidates", report.Candidates,
		"deleted", report.Deleted(),
		"expired", report.Expired,
		"gone", report.Gone,
		"refreshed", report.Refreshed,
		"not_refreshed", report.NotRefreshed,
		"kept", report.Kept,
		"skipped", report.Skipped,
		"duration_ms", report.Duration.Milliseconds())
	return report, nil
}

// check decides the fate of one sweep candidate.
func (o *Orchestrator) check(ctx context.Context, l *estate.Listing, sources map[string]Source, expireBefore time.Time) (del bool, reason string) {
	if !l.LastModified.IsZero() && l.LastModified.Before(expireBefore) {
		o.logger.Info("Listing expired", "source", l.SourceCode, "id", l.SourceID, "last_modified", l.LastModified.Format(time.DateOnly))
		return true, "expired"
	}

	src, ok := sources[l.SourceCode]
	if !ok {
		o.logger.Warn("Unknown listing source, skipping", "source", l.SourceCode, "id", l.SourceID)
		return false, "unknown_source"
	}
	if l.SourceLink == "" {
		o.logger.Warn("Listing has no link, skipping", "source", l.SourceCode, "id", l.SourceID)
		return false, "no_link"
	}

	res := o.extractor.Extract(ctx, l.SourceLink, src.Parse)
	switch res.Status {
	case scraper.Missing:
		return true, "missing"
	case scraper.Failed:
		o.logger.Warn("Listing check failed, keeping", "source", l.SourceCode, "id", l.SourceID, "error", res.Err)
		return false, "failed"
	}

	outcome, _ := o.reconciler.Reconcile(ctx, src, scraper.Link{ID: l.SourceID, URL: l.SourceLink}, res)
	switch outcome {
	case reconcile.OutcomeSaved:
		return false, "refreshed"
	case reconcile.OutcomeDeprecated:
		return false, "deprecated"
	default:
		o.logger.Info("Listing still online but not refreshed", "source", l.SourceCode, "id", l.SourceID, "outcome", outcome.String())
		return false, "not_refreshed"
	}
}
