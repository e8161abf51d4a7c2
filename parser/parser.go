// Package parser turns loosely typed retailer fields into canonical values.
package parser

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Techinsane-official/scrapper/models"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	decimalRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	countRe      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

	// Site prefixes some retailers prepend to the page title.
	sitePrefixRe = regexp.MustCompile(`(?i)^(?:amazon\.com|walmart\.com|target\.com|best buy)\s*:\s*`)
	bracketRe    = regexp.MustCompile(`^(?:\[[^\]]*\]|\([^)]*\))\s+`)
	conditionRe  = regexp.MustCompile(`(?i)^(?:new|used|refurbished)(?:\s*[:\-]\s+|\s+)`)

	brandPrefixRe = regexp.MustCompile(`(?i)^(?:visit the\s+(.+?)\s+store|brand:\s*(.+))$`)
	brandSuffixRe = regexp.MustCompile(`(?i)(?:\s+brand|\.com|,?\s+inc\.?|,?\s+llc|,?\s+corp\.?|,?\s+ltd\.?)$`)
)

// CollapseWhitespace trims s and folds internal whitespace runs to one space.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanTitle collapses whitespace and strips retailer site prefixes and a
// leading condition marker (New, Used, Refurbished). The marker is only
// removed when it is a whole token followed by a separator, so "Newton" is
// left alone.
func CleanTitle(title string) string {
	t := CollapseWhitespace(title)
	t = sitePrefixRe.ReplaceAllString(t, "")
	t = bracketRe.ReplaceAllString(t, "")
	if stripped := conditionRe.ReplaceAllString(t, ""); stripped != "" {
		t = stripped
	}
	return strings.TrimSpace(t)
}

// NormalizePrice converts a numeric or textual price into a non-negative
// float. Strings are reduced to their digits and decimal points before
// parsing. The boolean is false when no usable price exists.
func NormalizePrice(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		var b strings.Builder
		for _, r := range x {
			if (r >= '0' && r <= '9') || r == '.' {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return 0, false
		}
		return validPrice(f)
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		return validPrice(f)
	}
}

func validPrice(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// NormalizeRating returns the first decimal number in v clamped to [0, 5].
func NormalizeRating(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		m := decimalRe.FindString(x)
		if m == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		parsed, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return math.Max(0, math.Min(5, f)), true
}

// ParseReviewCount extracts a review count from values like "1,234 ratings".
// Decimal numbers are ratings, not counts, so the last whole number wins:
// "4.5 out of 5 (1,234)" gives 1234.
func ParseReviewCount(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		matches := countRe.FindAllString(x, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			if strings.Contains(matches[i], ".") {
				continue
			}
			n, err := strconv.Atoi(strings.ReplaceAll(matches[i], ",", ""))
			if err != nil || n < 0 || n > math.MaxInt32 {
				return 0, false
			}
			return n, true
		}
		return 0, false
	default:
		f, ok := toFloat(v)
		if !ok || f < 0 || math.IsNaN(f) || f > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	}
}

// availabilityRule maps a set of phrases to a canonical state.
type availabilityRule struct {
	state   models.Availability
	phrases []string
	pattern *regexp.Regexp
}

// availabilityRules is evaluated top to bottom; the first matching rule wins.
// The more specific states come first so that "available for pre-order",
// "unavailable" and "no longer in stock" are not read as in stock.
var availabilityRules = []availabilityRule{
	{state: models.PreOrder, phrases: []string{"pre-order", "preorder", "pre order", "coming soon"}},
	{state: models.OutOfStock, phrases: []string{
		"out of stock", "out-of-stock", "unavailable", "not available", "sold out",
		"no longer in stock", "no longer available", "discontinued",
	}},
	{state: models.LimitedStock, phrases: []string{"limited", "low stock", "few left"}, pattern: regexp.MustCompile(`only \d+ left`)},
	{state: models.InStock, phrases: []string{"in stock", "in-stock", "available"}},
}

// NormalizeAvailability maps free-form stock text to a canonical state.
func NormalizeAvailability(text string) models.Availability {
	t := strings.ToLower(CollapseWhitespace(text))
	if t == "" {
		return models.Unknown
	}
	for _, rule := range availabilityRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(t, phrase) {
				return rule.state
			}
		}
		if rule.pattern != nil && rule.pattern.MatchString(t) {
			return rule.state
		}
	}
	return models.Unknown
}

// NormalizeBrand strips byline decorations and company suffixes.
func NormalizeBrand(brand string) string {
	b := CollapseWhitespace(brand)
	if m := brandPrefixRe.FindStringSubmatch(b); m != nil {
		if m[1] != "" {
			b = m[1]
		} else {
			b = m[2]
		}
	}
	for {
		stripped := strings.TrimSpace(brandSuffixRe.ReplaceAllString(b, ""))
		if stripped == b || stripped == "" {
			break
		}
		b = stripped
	}
	return b
}

// NormalizeSpecKey lowercases a specification key, removes invisible format
// characters and trailing colons, and collapses whitespace.
func NormalizeSpecKey(key string) string {
	k := strings.TrimRight(CollapseWhitespace(stripFormat(key)), ": ")
	return strings.ToLower(k)
}

// NormalizeSpecifications normalizes keys and drops empty values.
func NormalizeSpecifications(v any) map[string]string {
	out := make(map[string]string)
	put := func(key string, value any) {
		k := NormalizeSpecKey(key)
		val := CollapseWhitespace(stripFormat(toString(value)))
		if k == "" || val == "" {
			return
		}
		out[k] = val
	}
	switch x := v.(type) {
	case map[string]string:
		for k, val := range x {
			put(k, val)
		}
	case map[string]any:
		for k, val := range x {
			put(k, val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stripFormat(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
