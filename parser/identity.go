package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// idPattern extracts a retailer product identifier from a URL.
type idPattern struct {
	re *regexp.Regexp
	// matchQuery applies the pattern to the raw URL including the query.
	matchQuery bool
}

// retailerPatterns are tried before the generic patterns for known retailers.
var retailerPatterns = map[string][]idPattern{
	"amazon": {
		{re: regexp.MustCompile(`/dp/([A-Z0-9]{10})(?:[/?]|$)`)},
		{re: regexp.MustCompile(`/gp/product/([A-Z0-9]{10})(?:[/?]|$)`)},
		{re: regexp.MustCompile(`/product/([A-Z0-9]{10})(?:[/?]|$)`)},
	},
	"walmart": {
		{re: regexp.MustCompile(`/ip/(?:[^/]+/)?(\d+)(?:[/?]|$)`)},
	},
	"target": {
		{re: regexp.MustCompile(`/A-(\d+)(?:[/?]|$)`)},
	},
	"bestbuy": {
		{re: regexp.MustCompile(`[?&]skuId=(\d+)`), matchQuery: true},
		{re: regexp.MustCompile(`/(\d{6,8})\.p(?:[/?]|$)`)},
	},
}

var (
	productCodeRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	numericIDRe   = regexp.MustCompile(`^\d{5,}$`)
	hasDigitRe    = regexp.MustCompile(`\d`)
)

// idFields are raw fields that carry an identifier assigned by the adapter.
var idFields = []string{"external_id", "asin", "sku", "item_id", "product_id"}

// DeriveExternalID returns a stable identifier for a listing. An explicit
// identifier field wins, then retailer URL patterns, then generic URL segment
// patterns. When nothing matches the identifier is a hash of the normalized
// URL, so the same URL always yields the same identifier.
func DeriveExternalID(retailer, rawURL string, fields map[string]any) string {
	for _, name := range idFields {
		if id := CollapseWhitespace(toString(fields[name])); id != "" {
			return id
		}
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil {
		for _, p := range retailerPatterns[strings.ToLower(retailer)] {
			target := u.EscapedPath()
			if p.matchQuery {
				target = u.String()
			}
			if m := p.re.FindStringSubmatch(target); m != nil {
				return m[1]
			}
		}
		if id := genericID(u.Path); id != "" {
			return id
		}
	}

	sum := sha256.Sum256([]byte(NormalizeURL(rawURL)))
	return "h" + hex.EncodeToString(sum[:8])
}

// genericID looks for a 10 character product code segment first and a long
// numeric item segment second.
func genericID(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, seg := range segments {
		if productCodeRe.MatchString(seg) && hasDigitRe.MatchString(seg) {
			return seg
		}
	}
	for _, seg := range segments {
		if numericIDRe.MatchString(seg) {
			return seg
		}
	}
	return ""
}

// NormalizeURL lowercases scheme and host and drops the query, fragment and
// trailing slash. Unparseable input is only trimmed and lowercased.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// RetailerFromURL derives a retailer name from the URL host, for example
// "www.amazon.co.uk" becomes "amazon".
func RetailerFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Single label hosts and bare suffixes.
		return strings.Split(host, ".")[0]
	}
	return site[:strings.IndexByte(site, '.')]
}
