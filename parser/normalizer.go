package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/Techinsane-official/scrapper/models"
)

// ErrMissingRequiredField marks records that cannot be admitted.
var ErrMissingRequiredField = errors.New("missing required field")

// FlagPriceAboveOriginal is set when the current price exceeds the original.
const FlagPriceAboveOriginal = "price_above_original"

// maxImages caps the gallery kept per product.
const maxImages = 10

// RejectError describes a raw record the normalizer refused.
type RejectError struct {
	Field     string
	Retailer  string
	SourceURL string
}

func (e *RejectError) Error() string {
	return fmt.Errorf("reject %s record %q: %w: %s", e.Retailer, e.SourceURL, ErrMissingRequiredField, e.Field).Error()
}

func (e *RejectError) Unwrap() error {
	return ErrMissingRequiredField
}

// Reason returns the reject category recorded in batch results.
func (e *RejectError) Reason() models.RejectReason {
	return models.RejectMissingRequiredField
}

// Field aliases consulted in order when a value is not given explicitly.
var (
	brandSpecKeys    = []string{"brand", "manufacturer", "brand name"}
	modelSpecKeys    = []string{"model", "model number", "item model number", "model name", "sku", "part number", "mpn", "manufacturer part number"}
	categorySpecKeys = []string{"category"}
)

// Words that start many titles but are never brands.
var nonBrandWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "new": {}, "used": {}, "refurbished": {},
	"pack": {}, "set": {}, "for": {}, "with": {},
}

// Normalizer converts RawRecords into canonical products. It keeps no state
// between calls and is safe for concurrent use.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer builds a normalizer. A nil logger falls back to slog.Default.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize maps one raw record to a canonical product. The returned error is
// a *RejectError when a required field is missing. The result depends only on
// raw: a zero ScrapedAt stays zero, callers stamp a batch time beforehand.
func (n *Normalizer) Normalize(raw models.RawRecord) (*models.Product, error) {
	sourceURL := strings.TrimSpace(raw.SourceURL)
	if sourceURL == "" {
		return nil, &RejectError{Field: "source_url", Retailer: raw.Retailer}
	}

	retailer := strings.ToLower(strings.TrimSpace(raw.Retailer))
	if retailer == "" {
		retailer = RetailerFromURL(sourceURL)
	}
	if retailer == "" {
		return nil, &RejectError{Field: "retailer", SourceURL: sourceURL}
	}

	title := CleanTitle(stringField(raw.Fields, "title", "name"))
	if title == "" {
		return nil, &RejectError{Field: "title", Retailer: retailer, SourceURL: sourceURL}
	}

	specs := NormalizeSpecifications(raw.Fields["specifications"])

	p := &models.Product{
		ExternalID:     DeriveExternalID(retailer, sourceURL, raw.Fields),
		Retailer:       retailer,
		SourceURL:      sourceURL,
		Title:          title,
		Description:    CollapseWhitespace(stringField(raw.Fields, "description")),
		BulletPoints:   stringList(raw.Fields["bullet_points"]),
		Specifications: specs,
		Availability:   NormalizeAvailability(stringField(raw.Fields, "availability")),
		Images:         normalizeImages(sourceURL, raw.Fields),
		Variations:     normalizeVariations(raw.Fields["variations"]),
		ScrapedAt:      raw.ScrapedAt.UTC(),
	}

	if v, ok := NormalizePrice(firstField(raw.Fields, "current_price", "price")); ok {
		p.CurrentPrice = models.Float(v)
	}
	if v, ok := NormalizePrice(firstField(raw.Fields, "original_price", "list_price", "was_price")); ok {
		p.OriginalPrice = models.Float(v)
	}
	if v, ok := NormalizeRating(raw.Fields["rating"]); ok {
		p.Rating = models.Float(v)
	}
	if v, ok := ParseReviewCount(firstField(raw.Fields, "review_count", "reviews")); ok {
		p.ReviewCount = models.Int(v)
	}

	p.Brand = inferBrand(raw.Fields, specs, title)
	p.Model = inferModel(raw.Fields, specs)
	p.Category, p.Subcategory = inferCategory(raw.Fields, specs, raw.CategoryHint)

	if p.CurrentPrice != nil && p.OriginalPrice != nil && *p.CurrentPrice > *p.OriginalPrice {
		p.QualityFlags = append(p.QualityFlags, FlagPriceAboveOriginal)
	}

	n.log().Debug("record normalized",
		slog.String("retailer", p.Retailer),
		slog.String("external_id", p.ExternalID),
	)
	return p, nil
}

func (n *Normalizer) log() *slog.Logger {
	if n.logger == nil {
		return slog.Default()
	}
	return n.logger
}

func inferBrand(fields map[string]any, specs map[string]string, title string) string {
	if b := NormalizeBrand(stringField(fields, "brand")); b != "" {
		return b
	}
	if b := NormalizeBrand(specLookup(specs, brandSpecKeys)); b != "" {
		return b
	}
	return leadingBrandToken(title)
}

func inferModel(fields map[string]any, specs map[string]string) string {
	if m := CollapseWhitespace(stringField(fields, "model")); m != "" {
		return m
	}
	return specLookup(specs, modelSpecKeys)
}

// inferCategory returns category and subcategory. A breadcrumb list yields its
// first element as the category and its last as the subcategory.
func inferCategory(fields map[string]any, specs map[string]string, hint string) (string, string) {
	sub := CollapseWhitespace(stringField(fields, "subcategory"))
	switch v := fields["category"].(type) {
	case string:
		if c := CollapseWhitespace(v); c != "" {
			return c, sub
		}
	default:
		if crumbs := stringList(v); len(crumbs) > 0 {
			if sub == "" && len(crumbs) > 1 {
				sub = crumbs[len(crumbs)-1]
			}
			return crumbs[0], sub
		}
	}
	if c := specLookup(specs, categorySpecKeys); c != "" {
		return c, sub
	}
	return CollapseWhitespace(hint), sub
}

// leadingBrandToken returns the first title token when it looks like a proper
// noun: it starts with an upper case letter and is not a filler word.
func leadingBrandToken(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	tok := strings.Trim(fields[0], ",:;-")
	if len([]rune(tok)) < 2 {
		return ""
	}
	first := []rune(tok)[0]
	if !unicode.IsUpper(first) {
		return ""
	}
	if _, skip := nonBrandWords[strings.ToLower(tok)]; skip {
		return ""
	}
	return tok
}

func specLookup(specs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := specs[k]; v != "" {
			return v
		}
	}
	return ""
}

func normalizeImages(sourceURL string, fields map[string]any) []string {
	base, _ := url.Parse(sourceURL)
	candidates := stringList(fields["image"])
	candidates = append(candidates, stringList(fields["primary_image"])...)
	candidates = append(candidates, stringList(fields["images"])...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		abs := c
		if base != nil {
			if ref, err := url.Parse(c); err == nil {
				abs = base.ResolveReference(ref).String()
			}
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		if len(out) == maxImages {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeVariations(v any) []models.Variation {
	items, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]models.Variation); ok {
			items = make([]any, len(typed))
			for i, t := range typed {
				items[i] = map[string]any{"type": t.Type, "value": t.Value}
			}
		} else {
			return nil
		}
	}

	seen := make(map[string]struct{})
	var out []models.Variation
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		typ := strings.ToLower(CollapseWhitespace(stringField(m, "type", "variation_type")))
		val := CollapseWhitespace(stringField(m, "value", "variation_value"))
		if typ == "" || val == "" {
			continue
		}
		key := typ + "\x00" + strings.ToLower(val)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.Variation{Type: typ, Value: val})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func firstField(fields map[string]any, names ...string) any {
	for _, name := range names {
		if v, ok := fields[name]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(fields map[string]any, names ...string) string {
	for _, name := range names {
		if s := toString(fields[name]); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func stringList(v any) []string {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = []string{x}
	case []string:
		raw = x
	case []any:
		for _, item := range x {
			raw = append(raw, toString(item))
		}
	}
	var out []string
	for _, s := range raw {
		if s = CollapseWhitespace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
