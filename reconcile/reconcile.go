// Package reconcile merges extracted listing attributes into the record store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"estate-notifier/pkg/estate"
	"estate-notifier/scraper"
)

// Mapping converts one source's raw attributes into listing fields.
type Mapping interface {
	Code() string
	// DateField returns the attribute holding the source modification date and its time layout.
	DateField() (key, layout string)
	// Deprecated reports whether a listing modified at lastModified is too old to keep.
	Deprecated(lastModified, now time.Time) bool
	// Apply overwrites every normalized field of l, including Type.
	Apply(l *estate.Listing, attrs estate.Attributes)
}

// Store is the part of the record store the reconciler needs.
type Store interface {
	// FindByKey returns nil and no error when the listing does not exist.
	FindByKey(ctx context.Context, key estate.Key) (*estate.Listing, error)
	// Save inserts or updates by key and returns the stored record.
	Save(ctx context.Context, l *estate.Listing) (*estate.Listing, error)
}

// Outcome is the result of one reconciliation.
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomeMissing
	OutcomeFailed
	OutcomeDeprecated
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeMissing:
		return "missing"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeprecated:
		return "deprecated"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reconciler applies extraction results to the store.
type Reconciler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a reconciler.
func New(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, now: time.Now}
}

// Reconcile saves the listing behind link when res carries attributes and the listing is
// recent enough. Store failures are logged and reported as OutcomeError.
func (r *Reconciler) Reconcile(ctx context.Context, m Mapping, link scraper.Link, res scraper.Result) (Outcome, *estate.Listing) {
	key := estate.Key{SourceID: link.ID, SourceCode: m.Code()}

	switch res.Status {
	case scraper.Missing:
		r.logger.Info("Listing not found", "source", key.SourceCode, "id", key.SourceID, "url", link.URL)
		return OutcomeMissing, nil
	case scraper.Failed:
		r.logger.Warn("Listing not loaded", "source", key.SourceCode, "id", key.SourceID, "url", link.URL, "error", res.Err)
		return OutcomeFailed, nil
	}

	lastModified := r.lastModified(m, key, res.Attrs)
	if m.Deprecated(lastModified, r.now()) {
		r.logger.Info("Listing deprecated", "source", key.SourceCode, "id", key.SourceID, "last_modified", lastModified.Format(time.DateOnly))
		return OutcomeDeprecated, nil
	}

	l, err := r.store.FindByKey(ctx, key)
	if err != nil {
		r.logger.Error("Failed to look up listing", "source", key.SourceCode, "id", key.SourceID, "error", err)
		return OutcomeError, nil
	}
	if l == nil {
		l = &estate.Listing{SourceID: key.SourceID, SourceCode: key.SourceCode}
	}

	m.Apply(l, res.Attrs)
	l.SourceLink = link.URL
	l.LastModified = lastModified

	saved, err := r.store.Save(ctx, l)
	if err != nil {
		r.logger.Error("Failed to save listing", "source", key.SourceCode, "id", key.SourceID, "error", err)
		return OutcomeError, nil
	}

	r.logger.Debug("Listing saved", "source", key.SourceCode, "id", key.SourceID, "type", saved.Type)
	return OutcomeSaved, saved
}

// lastModified parses the source date. A missing or malformed date is absent, not an error.
func (r *Reconciler) lastModified(m Mapping, key estate.Key, attrs estate.Attributes) time.Time {
	field, layout := m.DateField()
	raw, ok := attrs.Lookup(field)
	if !ok || raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		r.logger.Warn("Can't parse listing date", "source", key.SourceCode, "id", key.SourceID, "value", raw, "error", err)
		return time.Time{}
	}
	return t
}
