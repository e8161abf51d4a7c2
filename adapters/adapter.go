// Package adapters turns fetched product pages into raw records. Each adapter
// knows the markup of one retailer; the registry picks the adapter for a URL.
package adapters

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/Techinsane-official/scrapper/models"
)

var (
	// ErrNoAdapter is returned when no registered adapter accepts a URL.
	ErrNoAdapter = errors.New("adapters: no adapter for url")
	// ErrNoProduct is returned when a page carries no recognizable product.
	ErrNoProduct = errors.New("adapters: no product on page")
)

// Adapter extracts one raw record from a product page.
type Adapter interface {
	Retailer() string
	Matches(u *url.URL) bool
	Extract(doc *goquery.Document, pageURL *url.URL) (models.RawRecord, error)
}

// Linker is implemented by adapters that can read search and category pages.
// ProductLinks returns absolute product page URLs; NextPage returns the
// absolute URL of the following results page or "".
type Linker interface {
	ProductLinks(doc *goquery.Document, pageURL *url.URL) []string
	NextPage(doc *goquery.Document, pageURL *url.URL) string
}

// Registry holds adapters in registration order. The first adapter whose
// Matches returns true handles the page.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
}

// NewRegistry returns a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Default returns the built-in adapters with the JSON-LD adapter last, so it
// only sees pages no retailer specific adapter claims.
func Default() *Registry {
	return NewRegistry(NewAmazon(), NewJSONLD())
}

// Register appends an adapter. Nil adapters are ignored.
func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.adapters = append(r.adapters, a)
	r.mu.Unlock()
}

// Prepend registers adapters ahead of the existing ones.
func (r *Registry) Prepend(adapters ...Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]Adapter, 0, len(adapters)+len(r.adapters))
	for _, a := range adapters {
		if a != nil {
			kept = append(kept, a)
		}
	}
	r.adapters = append(kept, r.adapters...)
}

// Lookup returns the adapter responsible for u.
func (r *Registry) Lookup(u *url.URL) (Adapter, error) {
	if u == nil {
		return nil, ErrNoAdapter
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.Matches(u) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAdapter, u.Host)
}

// Extract finds the adapter for pageURL and runs it. The record's retailer
// and source URL default to the adapter's retailer and the page URL.
func (r *Registry) Extract(doc *goquery.Document, pageURL *url.URL) (models.RawRecord, error) {
	a, err := r.Lookup(pageURL)
	if err != nil {
		return models.RawRecord{}, err
	}
	rec, err := a.Extract(doc, pageURL)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("%s: %w", a.Retailer(), err)
	}
	if rec.Retailer == "" {
		rec.Retailer = a.Retailer()
	}
	if rec.SourceURL == "" {
		rec.SourceURL = pageURL.String()
	}
	return rec, nil
}

// Links returns the product links and next page of a listing page. Both are
// empty when the responsible adapter does not implement Linker.
func (r *Registry) Links(doc *goquery.Document, pageURL *url.URL) ([]string, string) {
	a, err := r.Lookup(pageURL)
	if err != nil {
		return nil, ""
	}
	l, ok := a.(Linker)
	if !ok {
		return nil, ""
	}
	return l.ProductLinks(doc, pageURL), l.NextPage(doc, pageURL)
}

// hostMatches reports whether host is domain or one of its subdomains. A
// domain ending in a dot, such as "amazon.", matches any suffix.
func hostMatches(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	if strings.HasSuffix(domain, ".") {
		return strings.HasPrefix(host, domain) || strings.Contains(host, "."+domain)
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// firstText returns the text of the first selector that yields non-empty text.
func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := text(doc.Find(sel).First()); t != "" {
			return t
		}
	}
	return ""
}

// allText collects the text of every element matched by any selector,
// skipping entries shorter than minLen and exact repeats.
func allText(doc *goquery.Document, minLen, limit int, selectors ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sel := range selectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := text(s)
			if len(t) < minLen {
				return true
			}
			if _, dup := seen[t]; dup {
				return true
			}
			seen[t] = struct{}{}
			out = append(out, t)
			return limit <= 0 || len(out) < limit
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// imageSrc returns the src of an image, falling back to lazy loading
// attributes. Inline data URIs are ignored.
func imageSrc(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-old-hires"} {
		if v, ok := s.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
