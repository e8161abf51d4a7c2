// Package models defines data structures shared by the catalog pipeline.
package models

import (
	"math"
	"time"
)

// Availability is the canonical stock state of a listing.
type Availability string

const (
	InStock      Availability = "in_stock"
	OutOfStock   Availability = "out_of_stock"
	PreOrder     Availability = "pre_order"
	LimitedStock Availability = "limited_stock"
	Unknown      Availability = "unknown"
)

// RawRecord is one scrape event as emitted by a retailer adapter.
// Field values are loosely typed; the normalizer owns their interpretation.
type RawRecord struct {
	Retailer     string         `json:"retailer"`
	SourceURL    string         `json:"source_url"`
	Fields       map[string]any `json:"raw_fields"`
	ScrapedAt    time.Time      `json:"scraped_at"`
	CategoryHint string         `json:"category_hint,omitempty"`
}

// Field returns a raw field by name.
func (r RawRecord) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Variation is a selectable product option such as a size or color.
type Variation struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Product is the canonical, retailer-independent view of a listing.
type Product struct {
	CatalogID      string            `csv:"catalog_id" json:"catalog_id,omitempty"`
	ExternalID     string            `csv:"external_id" json:"external_id"`
	Retailer       string            `csv:"retailer" json:"retailer"`
	SourceURL      string            `csv:"source_url" json:"source_url"`
	Title          string            `csv:"title" json:"title"`
	Description    string            `csv:"description" json:"description,omitempty"`
	BulletPoints   []string          `csv:"-" json:"bullet_points,omitempty"`
	Brand          string            `csv:"brand" json:"brand,omitempty"`
	Model          string            `csv:"model" json:"model,omitempty"`
	Category       string            `csv:"category" json:"category,omitempty"`
	Subcategory    string            `csv:"subcategory" json:"subcategory,omitempty"`
	CurrentPrice   *float64          `csv:"current_price" json:"current_price,omitempty"`
	OriginalPrice  *float64          `csv:"original_price" json:"original_price,omitempty"`
	Rating         *float64          `csv:"rating" json:"rating,omitempty"`
	ReviewCount    *int              `csv:"review_count" json:"review_count,omitempty"`
	Availability   Availability      `csv:"availability" json:"availability"`
	Images         []string          `csv:"-" json:"images,omitempty"`
	Specifications map[string]string `csv:"-" json:"specifications,omitempty"`
	Variations     []Variation       `csv:"-" json:"variations,omitempty"`
	QualityScore   float64           `csv:"data_quality_score" json:"data_quality_score"`
	QualityFlags   []string          `csv:"-" json:"quality_flags,omitempty"`
	ScrapedAt      time.Time         `csv:"scraped_at" json:"scraped_at"`
}

// Key identifies the listing a product was normalized from.
func (p *Product) Key() ListingKey {
	return ListingKey{Retailer: p.Retailer, ExternalID: p.ExternalID}
}

// DiscountPercent reports how far the current price sits below the original
// price, rounded to two decimals. It returns false when either price is
// missing or there is no discount.
func (p *Product) DiscountPercent() (float64, bool) {
	if p.CurrentPrice == nil || p.OriginalPrice == nil || *p.OriginalPrice <= 0 {
		return 0, false
	}
	if *p.CurrentPrice >= *p.OriginalPrice {
		return 0, false
	}
	pct := (*p.OriginalPrice - *p.CurrentPrice) / *p.OriginalPrice * 100
	return math.Round(pct*100) / 100, true
}

// HasFlag reports whether the quality flag is set.
func (p *Product) HasFlag(flag string) bool {
	for _, f := range p.QualityFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	out.CurrentPrice = cloneFloat(p.CurrentPrice)
	out.OriginalPrice = cloneFloat(p.OriginalPrice)
	out.Rating = cloneFloat(p.Rating)
	if p.ReviewCount != nil {
		v := *p.ReviewCount
		out.ReviewCount = &v
	}
	out.BulletPoints = append([]string(nil), p.BulletPoints...)
	out.Images = append([]string(nil), p.Images...)
	out.Variations = append([]Variation(nil), p.Variations...)
	out.QualityFlags = append([]string(nil), p.QualityFlags...)
	if p.Specifications != nil {
		out.Specifications = make(map[string]string, len(p.Specifications))
		for k, v := range p.Specifications {
			out.Specifications[k] = v
		}
	}
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
