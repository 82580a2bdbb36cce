package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"estate-notifier/pkg/estate"
	"estate-notifier/scraper"
)

// RealiticaCode identifies listings from realitica.com.
const RealiticaCode = "realitica"

var realiticaTypes = map[string]estate.Type{
	"Apartment For Sale":                   estate.ApartmentForSale,
	"Apartment Long Term Rental":           estate.ApartmentRental,
	"Room Long Term Rental":                estate.ApartmentRental,
	"House For Sale":                       estate.HouseForSale,
	"House Long Term Rental":               estate.HouseRental,
	"Land For Sale":                        estate.LandForSale,
	"Agricultural Land For Sale":           estate.LandForSale,
	"Land Long Term Rental":                estate.LandRental,
	"Residential Lot For Sale":             estate.ResidentialForSale,
	"Residential Lot Long Term Rental":     estate.ResidentialRental,
	"Commercial Property For Sale":         estate.CommercialForSale,
	"Hotel For Sale":                       estate.CommercialForSale,
	"Campground For Sale":                  estate.CommercialForSale,
	"Commercial Property Long Term Rental": estate.CommercialRental,
	"Hotel Long Term Rental":               estate.CommercialRental,
	"Garage For Sale":                      estate.GarageForSale,
	"Garage Long Term Rental":              estate.GarageRental,
}

// Realitica crawls realitica.com. Its searches are discovered by walking the
// country's district and settlement pages.
type Realitica struct {
	fetcher scraper.Fetcher
	logger  *slog.Logger
	baseURL string
}

// NewRealitica creates the realitica source. fetcher is used for search discovery.
func NewRealitica(baseURL string, fetcher scraper.Fetcher, logger *slog.Logger) *Realitica {
	return &Realitica{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetcher: fetcher,
		logger:  logger,
	}
}

// Code returns the source code stored on listings.
func (r *Realitica) Code() string { return RealiticaCode }

// Searches explores the geography tree and returns its search URLs, rentals and sales per area.
func (r *Realitica) Searches(ctx context.Context) []string {
	root := scraper.NewExplorer(r.fetcher, r, r.logger).Explore(ctx, r.baseURL+"/rentals/Montenegro/")
	searches := root.Flatten()
	r.logger.Info("Search space explored", "source", RealiticaCode, "searches", len(searches))
	return searches
}

// Areas implements scraper.Geography.
func (r *Realitica) Areas(doc *scraper.Document) []scraper.Area {
	var areas []scraper.Area
	doc.Find("#search_col2 span.geosel").Each(func(_ int, s *goquery.Selection) {
		label, _, _ := strings.Cut(s.Text(), " (")
		label = strings.ReplaceAll(strings.TrimSpace(label), " ", "+")
		if label == "" {
			return
		}

		link := s.Children().First()
		href, _ := link.Attr("href")
		areas = append(areas, scraper.Area{
			Label:  label,
			URL:    joinURL(r.baseURL, href),
			Nested: href != "" && (link.Contents().Length() > 1 || label == "Budva"),
		})
	})
	return areas
}

// BranchSearches implements scraper.Geography: every listing of a district.
func (r *Realitica) BranchSearches(label string) []estate.SearchNode {
	q := "&opa=" + label
	return []estate.SearchNode{
		estate.Leaf("All-Rental", r.search("DuziNajam", q)),
		estate.Leaf("All-Sale", r.search("Prodaja", q)),
	}
}

// LeafSearches implements scraper.Geography.
func (r *Realitica) LeafSearches(parent, label string) []estate.SearchNode {
	q := "&opa=" + label
	if parent != "" {
		q = "&opa=" + parent + "&cty=" + label
	}
	return []estate.SearchNode{
		estate.Leaf(label+"-Rental", r.search("DuziNajam", q)),
		estate.Leaf(label+"-Sale", r.search("Prodaja", q)),
	}
}

func (r *Realitica) search(purpose, query string) string {
	return r.baseURL + "/index.php?for=" + purpose + "&lng=en" + query
}

// Paging describes realitica result pages, numbered from zero.
func (r *Realitica) Paging() scraper.Paging {
	prefix := r.baseURL + "/en/listing/"
	return scraper.Paging{
		Origin:  0,
		Anchors: "div.thumb_div > a",
		PageURL: func(searchURL string, page int) string {
			return fmt.Sprintf("%s&cur_page=%d", searchURL, page)
		},
		Link: func(href string) (scraper.Link, bool) {
			id, ok := strings.CutPrefix(href, prefix)
			id = strings.Trim(id, "/")
			if !ok || id == "" {
				return scraper.Link{}, false
			}
			return scraper.Link{ID: id, URL: prefix + url.PathEscape(id)}, true
		},
	}
}

// Parse collects "<strong>Label</strong>: value" pairs from the listing page.
func (r *Realitica) Parse(doc *scraper.Document) (estate.Attributes, error) {
	var attrs estate.Attributes
	doc.Find("div").Each(func(_ int, div *goquery.Selection) {
		nodes := div.Contents()
		for i := 0; i+1 < nodes.Length(); i++ {
			if goquery.NodeName(nodes.Eq(i)) != "strong" {
				continue
			}
			next := nodes.Eq(i + 1)
			if goquery.NodeName(next) != "#text" {
				continue
			}
			value, ok := strings.CutPrefix(next.Text(), ": ")
			if !ok {
				continue
			}
			attrs.Set(strings.TrimSpace(nodes.Eq(i).Text()), strings.TrimSpace(value))
		}
	})
	return attrs, nil
}

// DateField names the modification date attribute and its layout.
func (r *Realitica) DateField() (key, layout string) {
	return "Last Modified", "2 Jan, 2006"
}

// Deprecated is always false: realitica removes stale listings itself.
func (r *Realitica) Deprecated(time.Time, time.Time) bool { return false }

// Apply overwrites the listing fields from raw attributes.
func (r *Realitica) Apply(l *estate.Listing, attrs estate.Attributes) {
	l.City = attrs.Get("District")
	l.Location = attrs.Get("Location")
	l.Address = attrs.Get("Address")
	l.Price = estate.Digits(attrs.Get("Price"))
	l.Bedrooms = estate.Digits(attrs.Get("Bedrooms"))
	l.Size = strings.TrimSpace(attrs.Get("Living Area"))
	l.Details = attrs.Get("More info at")
	l.Type = RealiticaType(attrs.Get("Type"))
}

// RealiticaType maps realitica's fixed type vocabulary. Unknown labels are Other.
func RealiticaType(raw string) estate.Type {
	if t, ok := realiticaTypes[strings.TrimSpace(raw)]; ok {
		return t
	}
	return estate.Other
}
