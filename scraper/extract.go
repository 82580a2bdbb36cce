package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeGROOVE-dev/retry"

	"estate-notifier/pkg/estate"
)

// Status is the outcome class of an extraction.
type Status int

const (
	// Found means the page yielded at least one attribute.
	Found Status = iota
	// Missing means the page loaded but holds no listing, or the portal answered 404/410.
	Missing
	// Failed means every attempt ended in a fetch or parse error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Missing:
		return "missing"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what an extraction produced.
type Result struct {
	Err    error // Set when Status is Failed
	URL    string
	Attrs  estate.Attributes
	Status Status
}

// ParseFunc turns a listing page into attributes.
type ParseFunc func(doc *Document) (estate.Attributes, error)

// Extractor loads a listing page and runs a source parser over it.
type Extractor struct {
	fetcher Fetcher
	logger  *slog.Logger
	retry   RetryPolicy
}

// NewExtractor creates an extractor. policy.Attempts is the total number of tries.
func NewExtractor(fetcher Fetcher, policy RetryPolicy, logger *slog.Logger) *Extractor {
	return &Extractor{fetcher: fetcher, retry: policy, logger: logger}
}

// Extract fetches pageURL and parses it, retrying fetch and parse errors within the budget.
func (e *Extractor) Extract(ctx context.Context, pageURL string, parse ParseFunc) Result {
	var attrs estate.Attributes
	var lastErr error

	err := retry.Do(
		func() error {
			e.logger.Debug("Loading listing", "url", pageURL)
			doc, err := e.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				lastErr = err
				var fe *FetchError
				if errors.As(err, &fe) && fe.Gone() {
					return retry.Unrecoverable(err)
				}
				return err
			}
			a, err := parse(doc)
			if err != nil {
				lastErr = err
				return err
			}
			attrs = a
			return nil
		},
		e.retry.options(ctx, func(n uint, err error) {
			e.logger.Warn("Can't load listing, retrying", "url", pageURL, "attempt", n, "error", err)
		})...,
	)

	switch {
	case err == nil && attrs.Len() > 0:
		return Result{URL: pageURL, Attrs: attrs, Status: Found}
	case err == nil, isGone(lastErr):
		return Result{URL: pageURL, Status: Missing}
	default:
		if lastErr == nil || ctx.Err() != nil {
			lastErr = err
		}
		e.logger.Error("Listing not loaded, retries exhausted", "url", pageURL, "error", lastErr)
		return Result{URL: pageURL, Status: Failed, Err: lastErr}
	}
}

func isGone(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Gone()
}
