package models

import "time"

// ListingKey identifies a retailer listing.
type ListingKey struct {
	Retailer   string `json:"retailer"`
	ExternalID string `json:"external_id"`
}

func (k ListingKey) String() string {
	return k.Retailer + ":" + k.ExternalID
}

// Listing is the last known state of one retailer listing mapped to a
// catalog entry.
type Listing struct {
	Retailer     string       `json:"retailer"`
	ExternalID   string       `json:"external_id"`
	SourceURL    string       `json:"source_url"`
	CurrentPrice *float64     `json:"current_price,omitempty"`
	Availability Availability `json:"availability"`
	ScrapedAt    time.Time    `json:"scraped_at"`
}

// Key returns the listing identity.
func (l Listing) Key() ListingKey {
	return ListingKey{Retailer: l.Retailer, ExternalID: l.ExternalID}
}

// CatalogEntry is one deduplicated product in the catalog together with every
// listing that was merged into it.
type CatalogEntry struct {
	CatalogID   string    `json:"catalog_id"`
	Product     *Product  `json:"product"`
	Listings    []Listing `json:"listings"`
	TitleKey    string    `json:"title_key"`
	TitleTokens []string  `json:"title_tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasRetailer reports whether any listing comes from retailer.
func (e *CatalogEntry) HasRetailer(retailer string) bool {
	for _, l := range e.Listings {
		if l.Retailer == retailer {
			return true
		}
	}
	return false
}

// HasListing reports whether key is mapped to this entry.
func (e *CatalogEntry) HasListing(key ListingKey) bool {
	for _, l := range e.Listings {
		if l.Key() == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entry.
func (e *CatalogEntry) Clone() *CatalogEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Product = e.Product.Clone()
	out.Listings = make([]Listing, len(e.Listings))
	for i, l := range e.Listings {
		l.CurrentPrice = cloneFloat(l.CurrentPrice)
		out.Listings[i] = l
	}
	out.TitleTokens = append([]string(nil), e.TitleTokens...)
	return &out
}
