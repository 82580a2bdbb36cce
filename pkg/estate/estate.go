// Package estate contains the core domain types for the real-estate notification service.
package estate

import (
	"strings"
	"time"
)

// Type is the normalized listing category.
type Type string

// Listing types. The values double as the labels shown in digests.
const (
	ApartmentForSale   Type = "Apartment For Sale"
	ApartmentRental    Type = "Apartment Long Term Rental"
	HouseForSale       Type = "House For Sale"
	HouseRental        Type = "House Long Term Rental"
	LandForSale        Type = "Land For Sale"
	LandRental         Type = "Land Long Term Rental"
	ResidentialForSale Type = "Residential Lot For Sale"
	ResidentialRental  Type = "Residential Long Term Rental"
	CommercialForSale  Type = "Commercial For Sale"
	CommercialRental   Type = "Commercial Long Term Rental"
	GarageForSale      Type = "Garage For Sale"
	GarageRental       Type = "Garage Long Term Rental"
	Other              Type = "Other"
)

// Types lists every listing type in display order.
var Types = []Type{
	ApartmentForSale, ApartmentRental,
	HouseForSale, HouseRental,
	LandForSale, LandRental,
	ResidentialForSale, ResidentialRental,
	CommercialForSale, CommercialRental,
	GarageForSale, GarageRental,
	Other,
}

// ParseType returns the Type with the given label, or Other.
func ParseType(s string) Type {
	for _, t := range Types {
		if string(t) == s {
			return t
		}
	}
	return Other
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// TypesMatching returns every type whose label contains fragment, plus Other.
func TypesMatching(fragment string) []Type {
	var out []Type
	for _, t := range Types {
		if t != Other && strings.Contains(string(t), fragment) {
			out = append(out, t)
		}
	}
	return append(out, Other)
}

// Listing is one advertisement, unique by (SourceID, SourceCode).
// Empty strings and zero times mean the value is absent.
type Listing struct {
	LastModified time.Time `json:"last_modified,omitzero"` // As reported by the source
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SourceID     string    `json:"source_id"`
	SourceCode   string    `json:"source_code"` // e.g. "estitor", "realitica"
	SourceLink   string    `json:"source_link"`
	Type         Type      `json:"type"`
	Price        string    `json:"price,omitempty"` // Digits only
	City         string    `json:"city,omitempty"`
	Location     string    `json:"location,omitempty"`
	Address      string    `json:"address,omitempty"`
	Bedrooms     string    `json:"bedrooms,omitempty"`
	Size         string    `json:"size,omitempty"`
	Details      string    `json:"details,omitempty"`
}

// Key returns the unique identity of the listing.
func (l *Listing) Key() Key {
	return Key{SourceID: l.SourceID, SourceCode: l.SourceCode}
}

// Key identifies a listing across sources.
type Key struct {
	SourceID   string
	SourceCode string
}

func (k Key) String() string {
	return k.SourceCode + "/" + k.SourceID
}

// Subscription is one subscriber's rule set. Nil bounds and empty sets are not filtered on.
type Subscription struct {
	PriceLessThan      *int     `yaml:"price_less_than"`
	PriceMoreThan      *int     `yaml:"price_more_than"`
	BedroomsLessThan   *int     `yaml:"bedrooms_less_than"`
	BedroomsMoreThan   *int     `yaml:"bedrooms_more_than"`
	LivingAreaLessThan *int     `yaml:"living_area_less_than"`
	LivingAreaMoreThan *int     `yaml:"living_area_more_than"`
	Name               string   `yaml:"name"`
	TelegramChatIDs    []string `yaml:"telegram_chat_ids"`
	Emails             []string `yaml:"emails"`
	Phones             []string `yaml:"phones"`
	Types              []Type   `yaml:"types"`
	Districts          []string `yaml:"districts"`
	Locations          []string `yaml:"locations"`
}

// Attributes is the ordered key/value map scraped from a listing page.
type Attributes struct {
	values map[string]string
	keys   []string
}

// Set stores value under key, keeping the position of the first insertion.
func (a *Attributes) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the value for key, or "".
func (a *Attributes) Get(key string) string {
	return a.values[key]
}

// Lookup returns the value for key and whether it was present.
func (a *Attributes) Lookup(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (a *Attributes) Keys() []string {
	return a.keys
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	return len(a.keys)
}

// AttributesOf builds Attributes from alternating key, value pairs.
func AttributesOf(kv ...string) Attributes {
	var a Attributes
	for i := 0; i+1 < len(kv); i += 2 {
		a.Set(kv[i], kv[i+1])
	}
	return a
}

// SearchNode is either a leaf holding one search URL or a branch of nested nodes.
type SearchNode struct {
	Label    string
	URL      string       // Leaf only
	Children []SearchNode // Branch only
}

// Leaf returns a terminal node.
func Leaf(label, url string) SearchNode {
	return SearchNode{Label: label, URL: url}
}

// Branch returns a node with nested children.
func Branch(label string, children []SearchNode) SearchNode {
	return SearchNode{Label: label, Children: children}
}

// IsLeaf reports whether n is a terminal search URL.
func (n SearchNode) IsLeaf() bool {
	return n.URL != ""
}

// Flatten returns the leaf URLs of the tree, depth first.
func (n SearchNode) Flatten() []string {
	if n.IsLeaf() {
		return []string{n.URL}
	}
	var urls []string
	for _, c := range n.Children {
		urls = append(urls, c.Flatten()...)
	}
	return urls
}

// Digits keeps only ASCII digits. "180,000€" becomes "180000", "87m²" becomes "87".
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
