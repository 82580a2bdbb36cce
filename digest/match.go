// Package digest selects recently updated listings for each subscription and formats them.
package digest

import (
	"log/slog"
	"slices"
	"strconv"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"

	"estate-notifier/pkg/estate"
)

// locationThreshold is the largest Jaro-Winkler distance accepted as the same location.
const locationThreshold = 0.1

// Matcher filters listings against subscriptions.
type Matcher struct {
	logger *slog.Logger
	metric *strmetrics.JaroWinkler
}

// NewMatcher creates a matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	jw := strmetrics.NewJaroWinkler()
	jw.CaseSensitive = false
	return &Matcher{logger: logger, metric: jw}
}

// Match returns the listings that satisfy every configured criterion of sub.
// Unconfigured criteria and absent listing fields never exclude a listing.
func (m *Matcher) Match(sub *estate.Subscription, listings []*estate.Listing) []*estate.Listing {
	var out []*estate.Listing
	for _, l := range listings {
		if m.matches(sub, l) {
			out = append(out, l)
		}
	}
	return out
}

func (m *Matcher) matches(sub *estate.Subscription, l *estate.Listing) bool {
	if len(sub.Districts) > 0 && l.City != "" && !slices.Contains(sub.Districts, l.City) {
		return false
	}
	if len(sub.Locations) > 0 && l.Location != "" && !m.nearLocation(sub.Locations, l.Location) {
		return false
	}
	if len(sub.Types) > 0 && l.Type != "" && !slices.Contains(sub.Types, l.Type) {
		return false
	}

	return m.atMost(sub.PriceLessThan, l.Price, l) &&
		m.atLeast(sub.PriceMoreThan, l.Price, l) &&
		m.atMost(sub.BedroomsLessThan, l.Bedrooms, l) &&
		m.atLeast(sub.BedroomsMoreThan, l.Bedrooms, l) &&
		m.atMost(sub.LivingAreaLessThan, l.Size, l) &&
		m.atLeast(sub.LivingAreaMoreThan, l.Size, l)
}

// Distance returns the normalized Jaro-Winkler distance: 0 is identical, 1 unrelated.
func (m *Matcher) Distance(a, b string) float64 {
	return 1 - strutil.Similarity(a, b, m.metric)
}

func (m *Matcher) nearLocation(wanted []string, location string) bool {
	for _, w := range wanted {
		if m.Distance(w, location) < locationThreshold {
			return true
		}
	}
	return false
}

func (m *Matcher) atMost(bound *int, value string, l *estate.Listing) bool {
	n, ok := m.number(bound, value, l)
	return !ok || n <= *bound
}

func (m *Matcher) atLeast(bound *int, value string, l *estate.Listing) bool {
	n, ok := m.number(bound, value, l)
	return !ok || n >= *bound
}

// number parses value for comparison with bound. ok is false when the filter does not apply.
func (m *Matcher) number(bound *int, value string, l *estate.Listing) (n int, ok bool) {
	if bound == nil || value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(estate.Digits(value))
	if err != nil {
		m.logger.Warn("Can't compare listing value, filter skipped", "source", l.SourceCode, "id", l.SourceID, "value", value, "bound", *bound)
		return 0, false
	}
	return n, true
}
