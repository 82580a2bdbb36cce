package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// RetryPolicy bounds how often a page is tried and how long to wait in between.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

func (p RetryPolicy) options(ctx context.Context, onRetry func(n uint, err error)) []retry.Option {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.OnRetry(onRetry),
	}
}

// Paging describes how a source paginates its search results.
type Paging struct {
	// PageURL returns the URL of the given page of a search.
	PageURL func(searchURL string, page int) string
	// Link turns an anchor href into a listing reference; false drops the anchor.
	Link func(href string) (Link, bool)
	// Anchors selects the listing links on a results page.
	Anchors string
	// Origin is the number of the first page.
	Origin int
	// DetectRedirect ends pagination when the portal redirects past-the-end pages.
	DetectRedirect bool
}

// Link references one listing found on a results page.
type Link struct {
	ID  string
	URL string
}

// Collector enumerates listing identifiers across the pages of a search.
type Collector struct {
	fetcher  Fetcher
	logger   *slog.Logger
	retry    RetryPolicy
	maxPages int
}

// NewCollector creates a collector. maxPages caps pagination of a single search.
func NewCollector(fetcher Fetcher, policy RetryPolicy, maxPages int, logger *slog.Logger) *Collector {
	if maxPages <= 0 {
		maxPages = 1000
	}
	return &Collector{fetcher: fetcher, retry: policy, maxPages: maxPages, logger: logger}
}

// Collect returns the unique listings of a search in first-seen order.
// Pagination ends on an empty, redirected or repeated page.
func (c *Collector) Collect(ctx context.Context, searchURL string, p Paging) []Link {
	c.logger.Info("Collecting listing ids", "search", searchURL)

	seen := make(map[string]bool)
	var links []Link

	for page := p.Origin; page < p.Origin+c.maxPages; page++ {
		pageURL := p.PageURL(searchURL, page)

		doc, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) && fe.Gone() {
				c.logger.Info("Last page reached", "search", searchURL, "page", page, "status_code", fe.Status)
			} else {
				c.logger.Error("Pagination stopped", "search", searchURL, "page", page, "error", err)
			}
			return links
		}

		anchors := doc.Find(p.Anchors)
		if anchors.Length() == 0 {
			c.logger.Info("Last page reached", "search", searchURL, "page", page)
			return links
		}
		if p.DetectRedirect && doc.URL != pageURL {
			c.logger.Info("Last page reached (redirected)", "search", searchURL, "page", page, "resolved", doc.URL)
			return links
		}

		added := 0
		anchors.Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			link, ok := p.Link(href)
			if !ok || link.ID == "" || seen[link.ID] {
				return
			}
			seen[link.ID] = true
			links = append(links, link)
			added++
		})
		if added == 0 {
			c.logger.Info("Last page reached (no new listings)", "search", searchURL, "page", page)
			return links
		}

		c.logger.Debug("Loaded results page", "search", searchURL, "page", page, "new_ids", added)
	}

	c.logger.Warn("Page limit reached", "search", searchURL, "max_pages", c.maxPages)
	return links
}

func (c *Collector) fetchPage(ctx context.Context, pageURL string) (*Document, error) {
	var doc *Document
	var lastErr error
	err := retry.Do(
		func() error {
			d, err := c.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				lastErr = err
				var fe *FetchError
				if errors.As(err, &fe) && fe.Gone() {
					return retry.Unrecoverable(err)
				}
				return err
			}
			doc = d
			return nil
		},
		c.retry.options(ctx, func(n uint, err error) {
			c.logger.Warn("Can't load results page, retrying", "url", pageURL, "attempt", n, "error", err)
		})...,
	)
	if err != nil {
		if lastErr != nil && ctx.Err() == nil {
			return nil, lastErr
		}
		return nil, err
	}
	return doc, nil
}
