package dedup

import (
	"math"
	"sort"
	"strings"

	"github.com/Techinsane-official/scrapper/models"
)

// flagPriceAboveOriginal mirrors the normalizer flag; it is recomputed after
// prices change.
const flagPriceAboveOriginal = "price_above_original"

// mergeProducts combines a catalog product with a newer or older observation
// of the same item. Volatile fields follow the most recent scrape; static
// fields follow the higher quality side when both sides carry a value. The
// returned map records which side each field came from.
func mergeProducts(existing, candidate *models.Product) (*models.Product, map[string]string, *models.PriceChange) {
	out := existing.Clone()
	sources := make(map[string]string)
	newer := candidate.ScrapedAt.After(existing.ScrapedAt)
	preferCandidate := candidate.QualityScore > existing.QualityScore

	pickFloat := func(name string, dst **float64, cand *float64) {
		switch {
		case cand != nil && (newer || *dst == nil):
			*dst = cloneFloat(cand)
			sources[name] = models.SourceCandidate
		default:
			sources[name] = models.SourceExisting
		}
	}
	pickFloat("current_price", &out.CurrentPrice, candidate.CurrentPrice)
	pickFloat("original_price", &out.OriginalPrice, candidate.OriginalPrice)
	pickFloat("rating", &out.Rating, candidate.Rating)

	if candidate.ReviewCount != nil && (newer || out.ReviewCount == nil) {
		v := *candidate.ReviewCount
		out.ReviewCount = &v
		sources["review_count"] = models.SourceCandidate
	} else {
		sources["review_count"] = models.SourceExisting
	}

	if candidate.Availability != "" && candidate.Availability != models.Unknown &&
		(newer || out.Availability == "" || out.Availability == models.Unknown) {
		out.Availability = candidate.Availability
		sources["availability"] = models.SourceCandidate
	} else {
		sources["availability"] = models.SourceExisting
	}

	pickString := func(name string, dst *string, cand string) {
		switch {
		case cand == "" || cand == *dst:
			sources[name] = models.SourceExisting
		case *dst == "" || preferCandidate:
			*dst = cand
			sources[name] = models.SourceCandidate
		default:
			sources[name] = models.SourceExisting
		}
	}
	pickString("title", &out.Title, candidate.Title)
	pickString("description", &out.Description, candidate.Description)
	pickString("brand", &out.Brand, candidate.Brand)
	pickString("model", &out.Model, candidate.Model)
	pickString("category", &out.Category, candidate.Category)
	pickString("subcategory", &out.Subcategory, candidate.Subcategory)

	if len(candidate.BulletPoints) > 0 && (len(out.BulletPoints) == 0 || preferCandidate) {
		out.BulletPoints = append([]string(nil), candidate.BulletPoints...)
		sources["bullet_points"] = models.SourceCandidate
	} else {
		sources["bullet_points"] = models.SourceExisting
	}

	out.Images, sources["images"] = unionImages(out.Images, candidate.Images, preferCandidate)
	out.Specifications, sources["specifications"] = unionSpecs(out.Specifications, candidate.Specifications, preferCandidate)
	out.Variations = unionVariations(out.Variations, candidate.Variations)
	sources["variations"] = models.SourceExisting
	if len(out.Variations) > len(existing.Variations) {
		sources["variations"] = models.SourceCandidate
	}

	// The canonical listing moves with the freshest scrape of the same key.
	if newer && existing.Key() == candidate.Key() {
		out.SourceURL = candidate.SourceURL
	}
	if newer {
		out.ScrapedAt = candidate.ScrapedAt
	}

	out.QualityFlags = removeFlag(out.QualityFlags, flagPriceAboveOriginal)
	if out.CurrentPrice != nil && out.OriginalPrice != nil && *out.CurrentPrice > *out.OriginalPrice {
		out.QualityFlags = append(out.QualityFlags, flagPriceAboveOriginal)
	}

	var change *models.PriceChange
	if newer && existing.CurrentPrice != nil && candidate.CurrentPrice != nil &&
		*existing.CurrentPrice != *candidate.CurrentPrice && *existing.CurrentPrice > 0 {
		pct := (*candidate.CurrentPrice - *existing.CurrentPrice) / *existing.CurrentPrice * 100
		change = &models.PriceChange{
			Old:     *existing.CurrentPrice,
			New:     *candidate.CurrentPrice,
			Percent: math.Round(pct*100) / 100,
		}
	}
	return out, sources, change
}

func unionImages(existing, candidate []string, preferCandidate bool) ([]string, string) {
	first, second, source := existing, candidate, models.SourceExisting
	if preferCandidate && len(candidate) > 0 {
		first, second, source = candidate, existing, models.SourceCandidate
	}
	seen := make(map[string]struct{}, len(first)+len(second))
	var out []string
	for _, list := range [][]string{first, second} {
		for _, img := range list {
			if _, dup := seen[img]; dup {
				continue
			}
			seen[img] = struct{}{}
			out = append(out, img)
		}
	}
	if len(existing) == 0 && len(candidate) > 0 {
		source = models.SourceCandidate
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out, source
}

func unionSpecs(existing, candidate map[string]string, preferCandidate bool) (map[string]string, string) {
	if len(existing) == 0 && len(candidate) == 0 {
		return nil, models.SourceExisting
	}
	out := make(map[string]string, len(existing)+len(candidate))
	for k, v := range existing {
		out[k] = v
	}
	source := models.SourceExisting
	for k, v := range candidate {
		if cur, ok := out[k]; ok && cur != v && !preferCandidate {
			continue
		}
		if out[k] != v {
			source = models.SourceCandidate
		}
		out[k] = v
	}
	return out, source
}

func unionVariations(existing, candidate []models.Variation) []models.Variation {
	seen := make(map[string]struct{})
	var out []models.Variation
	for _, list := range [][]models.Variation{existing, candidate} {
		for _, v := range list {
			key := strings.ToLower(v.Type) + "\x00" + strings.ToLower(v.Value)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func removeFlag(flags []string, flag string) []string {
	var out []string
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
