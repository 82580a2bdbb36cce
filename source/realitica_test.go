package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"estate-notifier/pkg/estate"
	"estate-notifier/scraper"
)

type mapFetcher map[string]string

func (m mapFetcher) Fetch(_ context.Context, pageURL string) (*scraper.Document, error) {
	html, ok := m[pageURL]
	if !ok {
		return nil, &scraper.FetchError{URL: pageURL, Status: 404, Err: errors.New("HTTP 404")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &scraper.Document{Document: doc, URL: pageURL}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRealiticaType(t *testing.T) {
	tests := []struct {
		raw  string
		want estate.Type
	}{
		{"Apartment For Sale", estate.ApartmentForSale},
		{"Apartment Long Term Rental", estate.ApartmentRental},
		{"Room Long Term Rental", estate.ApartmentRental},
		{"House For Sale", estate.HouseForSale},
		{"House Long Term Rental", estate.HouseRental},
		{"Land For Sale", estate.LandForSale},
		{"Agricultural Land For Sale", estate.LandForSale},
		{"Land Long Term Rental", estate.LandRental},
		{"Residential Lot For Sale", estate.ResidentialForSale},
		{"Residential Lot Long Term Rental", estate.ResidentialRental},
		{"Commercial Property For Sale", estate.CommercialForSale},
		{"Hotel For Sale", estate.CommercialForSale},
		{"Campground For Sale", estate.CommercialForSale},
		{"Commercial Property Long Term Rental", estate.CommercialRental},
		{"Hotel Long Term Rental", estate.CommercialRental},
		{"Garage For Sale", estate.GarageForSale},
		{"Garage Long Term Rental", estate.GarageRental},
		{" Apartment For Sale ", estate.ApartmentForSale},
		{"Apartment Short Term Rental", estate.Other},
		{"apartment for sale", estate.Other},
		{"", estate.Other},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := RealiticaType(tt.raw); got != tt.want {
				t.Errorf("RealiticaType(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

const realiticaListing = `<html><body>
<div id="listing_body">
  <h2>Two bedroom apartment in Becici</h2>
  <strong>Type</strong>: Apartment Long Term Rental<br>
  <strong>District</strong>: Budva<br>
  <strong>Location</strong>: Becici<br>
  <strong>Address</strong>: Mediteranska bb<br>
  <strong>Price</strong>: €1.450<br>
  <strong>Bedrooms</strong>: 2<br>
  <strong>Living Area</strong>: 60 m<br>
  <strong>More info at</strong>: www.agency.me<br>
  <strong>Last Modified</strong>: 3 Nov, 2024<br>
  <strong>Description</strong> without a value<br>
</div>
</body></html>`

func TestRealiticaParseAndApply(t *testing.T) {
	r := NewRealitica("https://realitica.test", mapFetcher{}, discardLogger())
	attrs, err := r.Parse(mustDoc(t, "https://realitica.test/en/listing/2238224", realiticaListing))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	wantKeys := []string{"Type", "District", "Location", "Address", "Price", "Bedrooms", "Living Area", "More info at", "Last Modified"}
	if !reflect.DeepEqual(attrs.Keys(), wantKeys) {
		t.Errorf("Keys() = %v\nwant %v", attrs.Keys(), wantKeys)
	}

	key, layout := r.DateField()
	lm, err := time.Parse(layout, attrs.Get(key))
	if err != nil || !lm.Equal(time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("last modified = %v, %v", lm, err)
	}

	var l estate.Listing
	r.Apply(&l, attrs)
	want := estate.Listing{
		Type:     estate.ApartmentRental,
		City:     "Budva",
		Location: "Becici",
		Address:  "Mediteranska bb",
		Price:    "1450",
		Bedrooms: "2",
		Size:     "60 m",
		Details:  "www.agency.me",
	}
	if l != want {
		t.Errorf("Apply() = %+v\nwant %+v", l, want)
	}
}

func TestRealiticaPaging(t *testing.T) {
	r := NewRealitica("https://realitica.test", mapFetcher{}, discardLogger())
	p := r.Paging()

	if got := p.PageURL("https://realitica.test/index.php?for=Prodaja&lng=en&opa=Bar", 0); got != "https://realitica.test/index.php?for=Prodaja&lng=en&opa=Bar&cur_page=0" {
		t.Errorf("PageURL(0) = %q", got)
	}
	if p.Origin != 0 || p.DetectRedirect {
		t.Errorf("Origin = %d, DetectRedirect = %v", p.Origin, p.DetectRedirect)
	}

	link, ok := p.Link("https://realitica.test/en/listing/2238224")
	if !ok || link.ID != "2238224" || link.URL != "https://realitica.test/en/listing/2238224" {
		t.Errorf("Link() = %+v, %v", link, ok)
	}
	for _, href := range []string{"https://realitica.test/en/agency/12", "/en/listing/1", "https://realitica.test/en/listing/"} {
		if _, ok := p.Link(href); ok {
			t.Errorf("Link(%q) accepted", href)
		}
	}
}

func TestRealiticaSearches(t *testing.T) {
	const base = "https://realitica.test"
	fetcher := mapFetcher{
		base + "/rentals/Montenegro/": `<div id="search_col2">
			<span class="geosel"><a href="/rentals/Montenegro/Budva/">Budva (1200)</a></span>
			<span class="geosel"><a href="/rentals/Montenegro/Bar/"><b>Bar</b> (300)</a></span>
			<span class="geosel"><a href="/rentals/Montenegro/Herceg-Novi/">Herceg Novi (80)</a></span>
		</div>`,
		base + "/rentals/Montenegro/Budva/": `<div id="search_col2">
			<span class="geosel"><a href="/rentals/Montenegro/Budva/Becici/">Becici (40)</a></span>
		</div>`,
	}
	r := NewRealitica(base, fetcher, discardLogger())

	got := r.Searches(context.Background())
	want := []string{
		base + "/index.php?for=DuziNajam&lng=en&opa=Budva",
		base + "/index.php?for=Prodaja&lng=en&opa=Budva",
		base + "/index.php?for=DuziNajam&lng=en&opa=Budva&cty=Becici",
		base + "/index.php?for=Prodaja&lng=en&opa=Budva&cty=Becici",
		base + "/index.php?for=DuziNajam&lng=en&opa=Herceg+Novi",
		base + "/index.php?for=Prodaja&lng=en&opa=Herceg+Novi",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Searches() =\n%v\nwant\n%v", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRealiticaAreas(t *testing.T) {
	r := NewRealitica("https://realitica.test", mapFetcher{}, discardLogger())
	doc := mustDoc(t, "https://realitica.test/rentals/Montenegro/", `<div id="search_col2">
		<span class="geosel"><a href="/rentals/Montenegro/Budva/">Budva (1200)</a></span>
		<span class="geosel"><a href="/rentals/Montenegro/Bar/"><b>Bar</b> (300)</a></span>
		<span class="geosel"><a href="/rentals/Montenegro/Herceg-Novi/">Herceg Novi (80)</a></span>
	</div>
	<span class="geosel"><a href="/elsewhere/">Outside (1)</a></span>`)

	want := []scraper.Area{
		{Label: "Budva", URL: "https://realitica.test/rentals/Montenegro/Budva/", Nested: true},
		{Label: "Bar", URL: "https://realitica.test/rentals/Montenegro/Bar/", Nested: true},
		{Label: "Herceg+Novi", URL: "https://realitica.test/rentals/Montenegro/Herceg-Novi/", Nested: false},
	}
	if got := r.Areas(doc); !reflect.DeepEqual(got, want) {
		t.Errorf("Areas() = %+v\nwant %+v", got, want)
	}
}
