package digest

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"estate-notifier/pkg/estate"
)

// Format renders a digest: one group per type, numbered lines of
// "district, location, area, price" with a Markdown link to the listing.
func Format(since time.Time, listings []*estate.Listing) string {
	groups := make(map[estate.Type][]*estate.Listing)
	for _, l := range listings {
		groups[l.Type] = append(groups[l.Type], l)
	}

	var sections []string
	for _, t := range estate.Types {
		group := groups[t]
		if len(group) == 0 {
			continue
		}
		sections = append(sections, formatGroup(t, group))
		delete(groups, t)
	}

	// Types outside the closed set go last, in label order
	var rest []estate.Type
	for t := range groups {
		rest = append(rest, t)
	}
	slices.Sort(rest)
	for _, t := range rest {
		sections = append(sections, formatGroup(t, groups[t]))
	}

	return fmt.Sprintf("New since %s\n\n%s", since.Format(time.DateOnly), strings.Join(sections, "\n\n"))
}

func formatGroup(t estate.Type, group []*estate.Listing) string {
	sorted := slices.Clone(group)
	slices.SortStableFunc(sorted, func(a, b *estate.Listing) int {
		return cmp.Or(
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Size, b.Size),
			cmp.Compare(a.Price, b.Price),
		)
	})

	var b strings.Builder
	b.WriteString(string(t))
	for i, l := range sorted {
		fmt.Fprintf(&b, "\n%d. %s, %s, %s, %se, [%s](%s)",
			i+1, orUnknown(l.City), orUnknown(l.Location), orUnknown(l.Size), orUnknown(l.Price), l.SourceID, l.SourceLink)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
