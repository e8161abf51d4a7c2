package adapters

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Techinsane-official/scrapper/models"
	"github.com/Techinsane-official/scrapper/parser"
)

// schema.org availability values mapped to the phrases the normalizer reads.
var schemaAvailability = map[string]string{
	"instock":             "In Stock",
	"onlineonly":          "In Stock",
	"instoreonly":         "In Stock",
	"limitedavailability": "Limited availability",
	"outofstock":          "Out of Stock",
	"soldout":             "Out of Stock",
	"discontinued":        "Out of Stock",
	"preorder":            "Pre-order",
	"presale":             "Pre-order",
}

// JSONLD reads the schema.org Product block most storefronts embed for search
// engines. It accepts any host and takes the retailer name from the URL.
type JSONLD struct{}

// NewJSONLD returns the structured data adapter.
func NewJSONLD() *JSONLD { return &JSONLD{} }

// Retailer implements Adapter. The name is resolved per page.
func (*JSONLD) Retailer() string { return "" }

// Matches implements Adapter.
func (*JSONLD) Matches(u *url.URL) bool { return u != nil && u.Host != "" }

// Extract implements Adapter.
func (*JSONLD) Extract(doc *goquery.Document, pageURL *url.URL) (models.RawRecord, error) {
	var product map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		product = findProduct(decodeLD(s.Text()))
		return product == nil
	})
	if product == nil {
		return models.RawRecord{}, ErrNoProduct
	}

	title := ldString(product["name"])
	if title == "" {
		return models.RawRecord{}, ErrNoProduct
	}

	fields := map[string]any{"title": title}
	put := func(name string, value any) {
		switch v := value.(type) {
		case string:
			if v != "" {
				fields[name] = v
			}
		case []string:
			if len(v) > 0 {
				fields[name] = v
			}
		}
	}

	put("description", ldString(product["description"]))
	put("brand", ldString(product["brand"]))
	put("model", ldString(product["model"]))
	put("category", ldString(product["category"]))
	put("images", ldImages(product["image"], pageURL))
	for _, key := range []string{"sku", "productID", "mpn", "gtin13", "gtin"} {
		if id := ldString(product[key]); id != "" {
			fields["external_id"] = id
			break
		}
	}

	if offer := firstOffer(product["offers"]); offer != nil {
		if p := ldNumber(offer["price"]); p != nil {
			fields["price"] = p
		} else if p := ldNumber(offer["lowPrice"]); p != nil {
			fields["price"] = p
		}
		if spec, ok := offer["priceSpecification"].(map[string]any); ok {
			if p := ldNumber(spec["price"]); p != nil && fields["price"] == nil {
				fields["price"] = p
			}
		}
		put("availability", schemaAvailabilityText(ldString(offer["availability"])))
	}
	if rating, ok := product["aggregateRating"].(map[string]any); ok {
		if v := ldNumber(rating["ratingValue"]); v != nil {
			fields["rating"] = v
		}
		if v := ldNumber(rating["reviewCount"]); v != nil {
			fields["review_count"] = v
		} else if v := ldNumber(rating["ratingCount"]); v != nil {
			fields["review_count"] = v
		}
	}
	if props, ok := product["additionalProperty"].([]any); ok {
		specs := make(map[string]any)
		for _, p := range props {
			if m, ok := p.(map[string]any); ok {
				if name := ldString(m["name"]); name != "" {
					specs[name] = ldString(m["value"])
				}
			}
		}
		if len(specs) > 0 {
			fields["specifications"] = specs
		}
	}

	return models.RawRecord{
		Retailer:  parser.RetailerFromURL(pageURL.String()),
		SourceURL: pageURL.String(),
		Fields:    fields,
	}, nil
}

func decodeLD(body string) any {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(body)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// findProduct walks arrays and @graph containers for the first node typed
// Product.
func findProduct(v any) map[string]any {
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if p := findProduct(item); p != nil {
				return p
			}
		}
	case map[string]any:
		if isProductType(x["@type"]) {
			return x
		}
		if graph, ok := x["@graph"]; ok {
			return findProduct(graph)
		}
	}
	return nil
}

func isProductType(v any) bool {
	switch x := v.(type) {
	case string:
		return x == "Product" || strings.HasSuffix(x, "/Product")
	case []any:
		for _, item := range x {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func firstOffer(v any) map[string]any {
	switch x := v.(type) {
	case map[string]any:
		if offers, ok := x["offers"]; ok && x["@type"] == "AggregateOffer" {
			if inner := firstOffer(offers); inner != nil {
				if inner["price"] == nil && x["lowPrice"] != nil {
					inner["price"] = x["lowPrice"]
				}
				return inner
			}
		}
		return x
	case []any:
		for _, item := range x {
			if m := firstOffer(item); m != nil {
				return m
			}
		}
	}
	return nil
}

// ldString reads a text value that may be nested as {"name": ...} or
// {"@value": ...}.
func ldString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case map[string]any:
		for _, key := range []string{"name", "@value", "url"} {
			if s := ldString(x[key]); s != "" {
				return s
			}
		}
	case []any:
		if len(x) > 0 {
			return ldString(x[0])
		}
	}
	return ""
}

func ldNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		return x
	case string:
		if strings.TrimSpace(x) != "" {
			return x
		}
	case float64:
		return x
	}
	return nil
}

func ldImages(v any, base *url.URL) []string {
	var out []string
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s := ldString(item); s != "" {
				out = append(out, resolve(base, s))
			}
		}
	default:
		if s := ldString(x); s != "" {
			out = append(out, resolve(base, s))
		}
	}
	return out
}

func schemaAvailabilityText(v string) string {
	if v == "" {
		return ""
	}
	key := v
	if i := strings.LastIndexAny(key, "/:"); i >= 0 {
		key = key[i+1:]
	}
	if phrase, ok := schemaAvailability[strings.ToLower(key)]; ok {
		return phrase
	}
	return v
}
