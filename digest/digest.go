package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"estate-notifier/notify"
	"estate-notifier/pkg/estate"
)

const defaultWindow = 24 * time.Hour

// Store interface for reading recently updated listings.
type Store interface {
	FindUpdatedSince(ctx context.Context, since time.Time) ([]*estate.Listing, error)
}

// Dispatcher sends one message to a set of recipients.
type Dispatcher interface {
	Send(ctx context.Context, recipients notify.Recipients, text string) notify.Summary
}

// Config holds digest service dependencies.
type Config struct {
	Store         Store
	Dispatcher    Dispatcher
	Logger        *slog.Logger
	Subscriptions []estate.Subscription
	Window        time.Duration // Trailing window of updates; defaults to 24h
}

// Service sends each subscriber the listings updated within the window.
type Service struct {
	store      Store
	dispatcher Dispatcher
	matcher    *Matcher
	logger     *slog.Logger
	now        func() time.Time
	subs       []estate.Subscription
	window     time.Duration
}

// NewService creates a digest service.
func NewService(cfg Config) *Service {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Service{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		matcher:    NewMatcher(cfg.Logger),
		logger:     cfg.Logger,
		now:        time.Now,
		subs:       cfg.Subscriptions,
		window:     window,
	}
}

// Report summarizes one digest run.
type Report struct {
	Listings      int
	Subscriptions int
	Digests       int // Subscriptions that received a digest
	Delivered     notify.Summary
}

// Run sends the digests. Subscriptions without matching listings get no message.
func (s *Service) Run(ctx context.Context) (Report, error) {
	since := s.now().Add(-s.window)
	report := Report{Subscriptions: len(s.subs)}

	listings, err := s.store.FindUpdatedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("find listings updated since %s: %w", since.Format(time.RFC3339), err)
	}
	report.Listings = len(listings)
	s.logger.Info("Sending digests", "listings", len(listings), "subscriptions", len(s.subs), "since", since.Format(time.RFC3339))

	for i := range s.subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sub := &s.subs[i]

		matched := s.matcher.Match(sub, listings)
		if len(matched) == 0 {
			s.logger.Debug("No listings for subscription", "subscription", sub.Name)
			continue
		}

		text := Format(since, matched)
		summary := s.dispatcher.Send(ctx, recipients(sub), text)
		report.Digests++
		report.Delivered.Sent += summary.Sent
		report.Delivered.Failed += summary.Failed
		report.Delivered.Skipped += summary.Skipped

		s.logger.Info("Digest sent",
			"subscription", sub.Name,
			"listings", len(matched),
			"sent", summary.Sent,
			"failed", summary.Failed,
			"skipped", summary.Skipped)
	}

	return report, nil
}

func recipients(sub *estate.Subscription) notify.Recipients {
	return notify.Recipients{
		notify.Telegram: sub.TelegramChatIDs,
		notify.Email:    sub.Emails,
		notify.WhatsApp: sub.Phones,
	}
}
