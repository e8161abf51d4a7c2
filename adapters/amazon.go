package adapters

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Techinsane-official/scrapper/models"
)

const (
	maxImages  = 10
	maxBullets = 10
	minBullet  = 10
)

var asinRe = regexp.MustCompile(`/(?:dp|gp/product|product)/([A-Z0-9]{10})(?:[/?]|$)`)

// Thumbnail size tokens swapped for the full size rendition.
var highResReplacer = strings.NewReplacer(
	"._AC_SX38_", "._AC_SX1000_",
	"._AC_SY38_", "._AC_SY1000_",
	"._AC_SX50_", "._AC_SX1000_",
	"._AC_SY50_", "._AC_SY1000_",
)

var (
	amazonTitle = []string{
		"#productTitle",
		"h1.a-size-large",
		".product-title",
	}
	amazonPrice = []string{
		"#corePrice_feature_div .a-offscreen",
		"#priceblock_dealprice",
		"#priceblock_ourprice",
		".a-price:not(.a-text-price) .a-offscreen",
		".a-price-whole",
	}
	amazonOriginalPrice = []string{
		".a-price-was .a-offscreen",
		".a-text-price .a-offscreen",
		".a-text-strike",
		".was-price .a-offscreen",
	}
	amazonRating = []string{
		"#acrPopover .a-icon-alt",
		".a-icon-star .a-icon-alt",
		".a-icon-alt",
	}
	amazonReviews = []string{
		"#acrCustomerReviewText",
		".review-count",
	}
	amazonAvailability = []string{
		"#availability span",
		"#availability",
		".a-size-medium.a-color-success",
		".a-size-medium.a-color-price",
	}
	amazonBrand = []string{
		"#bylineInfo",
		".brand",
		`a.a-link-normal[href*="/brand/"]`,
	}
	amazonPrimaryImage = []string{
		"#landingImage",
		"#imgBlkFront",
		"img.a-dynamic-image",
	}
	amazonGallery = []string{
		"#altImages img",
		".imageThumbnail img",
	}
	amazonBullets = []string{
		"#feature-bullets .a-list-item",
		".product-features li",
	}
	amazonSpecRows = []string{
		"#prodDetails tr",
		"#productOverview_feature_div tr",
	}
	amazonBreadcrumbs = []string{
		"#wayfinding-breadcrumbs_feature_div a",
		".breadcrumb a",
	}
	amazonResultLinks = []string{
		`[data-component-type="s-search-result"] h2 a`,
		".s-result-item h2 a",
		".s-search-result h2 a",
	}
	amazonNextPage = []string{
		"a.s-pagination-next",
		"li.a-last a",
	}
	amazonVariations = map[string][]string{
		"size": {
			"#variation_size_name .a-button-text",
			"#variation_size_name .selection",
		},
		"color": {
			"#variation_color_name .a-button-text",
			"#variation_color_name img[alt]",
		},
	}
)

// Amazon extracts product detail pages from any Amazon storefront.
type Amazon struct{}

// NewAmazon returns the Amazon adapter.
func NewAmazon() *Amazon { return &Amazon{} }

// Retailer implements Adapter.
func (*Amazon) Retailer() string { return "amazon" }

// Matches implements Adapter.
func (*Amazon) Matches(u *url.URL) bool {
	return u != nil && hostMatches(u.Hostname(), "amazon.")
}

// Extract implements Adapter. Prices, ratings and counts are returned as the
// page text; the normalizer parses them.
func (a *Amazon) Extract(doc *goquery.Document, pageURL *url.URL) (models.RawRecord, error) {
	title := firstText(doc, amazonTitle...)
	if title == "" {
		return models.RawRecord{}, ErrNoProduct
	}

	fields := map[string]any{"title": title}
	if asin := amazonASIN(doc, pageURL); asin != "" {
		fields["external_id"] = asin
	}
	put := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}
	put("price", firstText(doc, amazonPrice...))
	put("original_price", firstText(doc, amazonOriginalPrice...))
	put("rating", firstText(doc, amazonRating...))
	put("review_count", firstText(doc, amazonReviews...))
	put("availability", firstText(doc, amazonAvailability...))
	put("brand", firstText(doc, amazonBrand...))

	bullets := allText(doc, minBullet, maxBullets, amazonBullets...)
	if len(bullets) > 0 {
		fields["bullet_points"] = bullets
	}
	if desc := firstText(doc, "#productDescription"); desc != "" {
		fields["description"] = desc
	} else if len(bullets) > 0 {
		fields["description"] = strings.Join(bullets, " ")
	}

	if images := amazonImages(doc, pageURL); len(images) > 0 {
		fields["images"] = images
	}
	if specs := specTable(doc, amazonSpecRows...); len(specs) > 0 {
		fields["specifications"] = specs
	}
	if variations := amazonVariationList(doc); len(variations) > 0 {
		fields["variations"] = variations
	}
	for _, sel := range amazonBreadcrumbs {
		if crumbs := allText(doc, 1, 0, sel); len(crumbs) > 0 {
			fields["category"] = crumbs
			break
		}
	}

	return models.RawRecord{
		Retailer:  a.Retailer(),
		SourceURL: pageURL.String(),
		Fields:    fields,
	}, nil
}

// ProductLinks implements Linker for search result pages. Only links to
// product detail pages are returned, in page order without repeats.
func (*Amazon) ProductLinks(doc *goquery.Document, pageURL *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sel := range amazonResultLinks {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if !strings.Contains(href, "/dp/") {
				return
			}
			abs := resolve(pageURL, strings.TrimSpace(href))
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		})
	}
	return out
}

// NextPage implements Linker.
func (*Amazon) NextPage(doc *goquery.Document, pageURL *url.URL) string {
	for _, sel := range amazonNextPage {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			return resolve(pageURL, strings.TrimSpace(href))
		}
	}
	return ""
}

func amazonASIN(doc *goquery.Document, pageURL *url.URL) string {
	if pageURL != nil {
		if m := asinRe.FindStringSubmatch(pageURL.Path); m != nil {
			return m[1]
		}
	}
	if v, ok := doc.Find("input#ASIN").Attr("value"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// HighResImage rewrites an Amazon thumbnail URL to its large rendition.
func HighResImage(src string) string {
	return highResReplacer.Replace(src)
}

func amazonImages(doc *goquery.Document, pageURL *url.URL) []string {
	var images []string
	seen := make(map[string]struct{})
	add := func(src string) bool {
		if src == "" {
			return false
		}
		src = HighResImage(resolve(pageURL, src))
		if _, dup := seen[src]; dup {
			return false
		}
		seen[src] = struct{}{}
		images = append(images, src)
		return true
	}

	for _, sel := range amazonPrimaryImage {
		if add(imageSrc(doc.Find(sel).First())) {
			break
		}
	}
	for _, sel := range amazonGallery {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			add(imageSrc(s))
			return len(images) < maxImages
		})
	}
	if len(images) > maxImages {
		images = images[:maxImages]
	}
	return images
}

// specTable reads label/value rows. A row contributes when it has at least
// two cells; the first is the label and the last the value.
func specTable(doc *goquery.Document, selectors ...string) map[string]string {
	specs := make(map[string]string)
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return
			}
			label := text(cells.First())
			value := text(cells.Last())
			if label != "" && value != "" {
				specs[label] = value
			}
		})
	}
	return specs
}

func amazonVariationList(doc *goquery.Document) []models.Variation {
	var out []models.Variation
	for _, typ := range []string{"size", "color"} {
		for _, sel := range amazonVariations[typ] {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				v := text(s)
				if v == "" {
					v, _ = s.Attr("alt")
					v = strings.TrimSpace(v)
				}
				if v != "" {
					out = append(out, models.Variation{Type: typ, Value: v})
				}
			})
		}
	}
	return out
}
