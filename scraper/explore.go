package scraper

import (
	"context"
	"log/slog"

	"estate-notifier/pkg/estate"
)

const maxExploreDepth = 6

// Area is one geography link found on an index page.
type Area struct {
	Label  string
	URL    string
	Nested bool // Has its own sub-areas worth visiting
}

// Geography describes how a hierarchical source lays out its search space.
type Geography interface {
	// Areas returns the geography links on an index page.
	Areas(doc *Document) []Area
	// BranchSearches returns the aggregate searches for a nested area.
	BranchSearches(label string) []estate.SearchNode
	// LeafSearches returns the searches for an area without sub-areas.
	// parent is "" at the top level.
	LeafSearches(parent, label string) []estate.SearchNode
}

// Explorer discovers the search URLs of a hierarchical source.
type Explorer struct {
	fetcher Fetcher
	geo     Geography
	logger  *slog.Logger
}

// NewExplorer creates an explorer for one source.
func NewExplorer(fetcher Fetcher, geo Geography, logger *slog.Logger) *Explorer {
	return &Explorer{fetcher: fetcher, geo: geo, logger: logger}
}

// Explore builds the search tree rooted at rootURL. Branches whose pages fail to load
// are left empty; discovery never fails as a whole.
func (e *Explorer) Explore(ctx context.Context, rootURL string) estate.SearchNode {
	visited := map[string]bool{}
	return estate.Branch("", e.explore(ctx, rootURL, "", 0, visited))
}

func (e *Explorer) explore(ctx context.Context, pageURL, parent string, depth int, visited map[string]bool) []estate.SearchNode {
	if depth > maxExploreDepth || visited[pageURL] || ctx.Err() != nil {
		return nil
	}
	visited[pageURL] = true

	doc, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		e.logger.Warn("Search space branch skipped", "url", pageURL, "parent", parent, "error", err)
		return nil
	}

	var nodes []estate.SearchNode
	if parent != "" {
		nodes = append(nodes, e.geo.BranchSearches(parent)...)
	}

	for _, area := range e.geo.Areas(doc) {
		if area.Label == "" {
			continue
		}
		if area.Nested && area.URL != "" {
			next := parent
			if next == "" {
				next = area.Label
			}
			children := e.explore(ctx, area.URL, next, depth+1, visited)
			nodes = append(nodes, estate.Branch(area.Label, children))
			continue
		}
		nodes = append(nodes, e.geo.LeafSearches(parent, area.Label)...)
	}

	e.logger.Debug("Search space page explored", "url", pageURL, "parent", parent, "nodes", len(nodes))
	return nodes
}
