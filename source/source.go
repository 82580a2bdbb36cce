// Package source holds the portal-specific rules: where searches live, how pages
// paginate, how listing pages are parsed and how raw values map onto a Listing.
package source

import (
	"strings"
	"unicode"
)

func trimLabel(s string) string {
	return strings.Trim(strings.TrimSpace(s), ":")
}

// wordSet holds the lowercase words of a label.
type wordSet map[string]bool

// words splits s on anything that is not a letter. "Warehouse for Sale" yields warehouse, for, sale.
func words(s string) wordSet {
	set := make(wordSet)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) }) {
		set[w] = true
	}
	return set
}

func (ws wordSet) any(want ...string) bool {
	for _, w := range want {
		if ws[w] {
			return true
		}
	}
	return false
}

// joinURL joins a base URL and an href that may already be absolute.
func joinURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
}
