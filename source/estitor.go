package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"estate-notifier/pkg/estate"
	"estate-notifier/scraper"
)

// EstitorCode identifies listings from estitor.com.
const EstitorCode = "estitor"

var estitorIDRegex = regexp.MustCompile(`/id-(\d+)/?$`)

// Estitor crawls estitor.com. It has no geography tree: rent and sale are two flat searches.
type Estitor struct {
	baseURL string
}

// NewEstitor creates the estitor source.
func NewEstitor(baseURL string) *Estitor {
	return &Estitor{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Code returns the source code stored on listings.
func (e *Estitor) Code() string { return EstitorCode }

// Searches returns the fixed rent and sale searches.
func (e *Estitor) Searches(context.Context) []string {
	return []string{
		e.baseURL + "/me-en/real-estates/purpose-rent",
		e.baseURL + "/me-en/real-estates/purpose-sale",
	}
}

// Paging describes estitor result pages. Requests past the last page redirect to page 1.
func (e *Estitor) Paging() scraper.Paging {
	return scraper.Paging{
		Origin:         1,
		Anchors:        "div.items-start > div > a",
		DetectRedirect: true,
		PageURL:        buildPageURL,
		Link: func(href string) (scraper.Link, bool) {
			m := estitorIDRegex.FindStringSubmatch(href)
			if m == nil {
				return scraper.Link{}, false
			}
			return scraper.Link{ID: m[1], URL: joinURL(e.baseURL, href)}, true
		},
	}
}

// buildPageURL constructs a URL for a specific page number.
func buildPageURL(baseURL string, pageNum int) string {
	if pageNum <= 1 {
		return baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/page-%d", baseURL, pageNum)
}

// Parse reads the attribute list of a listing page:
//
//	"Updated" -> "25.11.2024"
//	"Neighborhood" -> "Zabjelo"
//	"Price" -> "180,000€"
//	"Square footage" -> "87m²"
//	"Number of rooms" -> "3"
//	"Type" -> "Three Bedroom Apartment for Sale"  (from the heading)
//	"City" -> "Podgorica"                         (from the heading)
func (e *Estitor) Parse(doc *scraper.Document) (estate.Attributes, error) {
	var attrs estate.Attributes

	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		spans := li.Find("span")
		if spans.Length() == 2 {
			attrs.Set(trimLabel(spans.Eq(0).Text()), strings.TrimSpace(spans.Eq(1).Text()))
		}
	})

	doc.Find("h2 + div > div").Each(func(_ int, div *goquery.Selection) {
		spans := div.Find("span")
		var span *goquery.Selection
		switch spans.Length() {
		case 1:
			span = spans.First()
		case 2:
			span = spans.Eq(1)
		default:
			return
		}
		parts := strings.Split(span.Text(), ":")
		if len(parts) == 2 {
			attrs.Set(trimLabel(parts[0]), strings.TrimSpace(parts[1]))
		}
	})

	// Heading: "<type>, <street>, <city>"
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		parts := strings.Split(h1, ",")
		attrs.Set("Type", strings.TrimSpace(parts[0]))
		attrs.Set("City", strings.TrimSpace(parts[len(parts)-1]))
	}

	return attrs, nil
}

// DateField names the modification date attribute and its layout.
func (e *Estitor) DateField() (key, layout string) {
	return "Updated", "02.01.2006"
}

// Deprecated reports listings not updated at the source for 18 months.
func (e *Estitor) Deprecated(lastModified, now time.Time) bool {
	return !lastModified.IsZero() && lastModified.Before(now.AddDate(0, -18, 0))
}

// Apply overwrites the listing fields from raw attributes.
func (e *Estitor) Apply(l *estate.Listing, attrs estate.Attributes) {
	l.City = attrs.Get("City")
	l.Location = attrs.Get("Neighborhood")
	l.Address = ""
	l.Price = estate.Digits(attrs.Get("Price"))
	l.Bedrooms = estate.Digits(attrs.Get("Number of rooms"))
	l.Size = estate.Digits(attrs.Get("Square footage"))
	l.Details = ""
	l.Type = EstitorType(attrs.Get("Type"))
}

// EstitorType classifies estitor's free-form type heading.
// Intent (sale/rent) is decided first, then the first matching category wins.
// Keywords match whole words only, so "Warehouse" is not a house.
func EstitorType(raw string) estate.Type {
	s := words(raw)

	if s.any("sale") {
		switch {
		case s.any("office", "commercial"):
			return estate.CommercialForSale
		case s.any("house"):
			return estate.HouseForSale
		case s.any("apartment", "studio"):
			return estate.ApartmentForSale
		case s.any("land"):
			return estate.LandForSale
		case s.any("garage"):
			return estate.GarageForSale
		}
	}

	if s.any("rent", "rental") {
		switch {
		case s.any("office", "commercial"):
			return estate.CommercialRental
		case s.any("apartment", "studio"):
			return estate.ApartmentRental
		case s.any("house"):
			return estate.HouseRental
		case s.any("land"):
			return estate.LandRental
		case s.any("garage"):
			return estate.GarageRental
		}
	}

	return estate.Other
}
