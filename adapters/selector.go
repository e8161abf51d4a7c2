package adapters

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/Techinsane-official/scrapper/models"
)

// Selector file validation errors.
var (
	ErrNoSelectorAdapters  = errors.New("at least one adapter is required")
	ErrSelectorNoRetailer  = errors.New("retailer is required")
	ErrSelectorNoDomains   = errors.New("at least one domain is required")
	ErrSelectorNoTitleRule = errors.New("fields.title needs at least one selector")
)

// SelectorFile is the YAML document listing selector driven adapters.
type SelectorFile struct {
	Adapters []SelectorSpec `yaml:"adapters"`
}

// SelectorSpec describes how to read one retailer's product page.
type SelectorSpec struct {
	Retailer string               `yaml:"retailer"`
	Domains  []string             `yaml:"domains"`
	Fields   map[string]FieldRule `yaml:"fields"`
	// Specifications is a row selector for a label/value table.
	Specifications string `yaml:"specifications"`
}

// FieldRule lists CSS selectors tried in order. With Attr set the attribute
// value is read instead of the text. Multiple collects every match.
type FieldRule struct {
	Selectors []string `yaml:"selectors"`
	Attr      string   `yaml:"attr"`
	Multiple  bool     `yaml:"multiple"`
}

// Validate checks required keys and that every selector parses.
func (s SelectorSpec) Validate() error {
	if strings.TrimSpace(s.Retailer) == "" {
		return ErrSelectorNoRetailer
	}
	if len(s.Domains) == 0 {
		return ErrSelectorNoDomains
	}
	if len(s.Fields["title"].Selectors) == 0 {
		return ErrSelectorNoTitleRule
	}
	for name, rule := range s.Fields {
		for _, sel := range rule.Selectors {
			if _, err := cascadia.ParseGroup(sel); err != nil {
				return fmt.Errorf("fields.%s selector %q: %w", name, sel, err)
			}
		}
	}
	if s.Specifications != "" {
		if _, err := cascadia.ParseGroup(s.Specifications); err != nil {
			return fmt.Errorf("specifications selector %q: %w", s.Specifications, err)
		}
	}
	return nil
}

// LoadSelectorAdapters reads adapters from a YAML file.
func LoadSelectorAdapters(path string) ([]*Selector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read adapters file: %w", err)
	}
	return ParseSelectorAdapters(data)
}

// ParseSelectorAdapters decodes and validates a YAML adapters document.
func ParseSelectorAdapters(data []byte) ([]*Selector, error) {
	var file SelectorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Adapters) == 0 {
		return nil, ErrNoSelectorAdapters
	}

	out := make([]*Selector, 0, len(file.Adapters))
	for i, spec := range file.Adapters {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("adapters[%d]: %w", i, err)
		}
		out = append(out, &Selector{spec: spec})
	}
	return out, nil
}

// Selector is an Adapter driven by a SelectorSpec.
type Selector struct {
	spec SelectorSpec
}

// NewSelector validates spec and wraps it as an adapter.
func NewSelector(spec SelectorSpec) (*Selector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Selector{spec: spec}, nil
}

// Retailer implements Adapter.
func (s *Selector) Retailer() string { return strings.ToLower(strings.TrimSpace(s.spec.Retailer)) }

// Matches implements Adapter.
func (s *Selector) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, d := range s.spec.Domains {
		if hostMatches(u.Hostname(), d) {
			return true
		}
	}
	return false
}

// Extract implements Adapter.
func (s *Selector) Extract(doc *goquery.Document, pageURL *url.URL) (models.RawRecord, error) {
	fields := make(map[string]any, len(s.spec.Fields)+1)
	for name, rule := range s.spec.Fields {
		if rule.Multiple {
			if values := collect(doc, pageURL, rule); len(values) > 0 {
				fields[name] = values
			}
			continue
		}
		if v := first(doc, pageURL, rule); v != "" {
			fields[name] = v
		}
	}
	if _, ok := fields["title"]; !ok {
		return models.RawRecord{}, ErrNoProduct
	}
	if s.spec.Specifications != "" {
		if specs := specTable(doc, s.spec.Specifications); len(specs) > 0 {
			fields["specifications"] = specs
		}
	}

	return models.RawRecord{
		Retailer:  s.Retailer(),
		SourceURL: pageURL.String(),
		Fields:    fields,
	}, nil
}

func first(doc *goquery.Document, base *url.URL, rule FieldRule) string {
	for _, sel := range rule.Selectors {
		if v := ruleValue(doc.Find(sel).First(), base, rule.Attr); v != "" {
			return v
		}
	}
	return ""
}

func collect(doc *goquery.Document, base *url.URL, rule FieldRule) []string {
	var out []string
	for _, sel := range rule.Selectors {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if v := ruleValue(el, base, rule.Attr); v != "" {
				out = append(out, v)
			}
		})
		if len(out) > 0 {
			break
		}
	}
	return out
}

func ruleValue(el *goquery.Selection, base *url.URL, attr string) string {
	if el.Length() == 0 {
		return ""
	}
	switch attr {
	case "":
		return text(el)
	case "src":
		return resolve(base, imageSrc(el))
	case "href":
		v, _ := el.Attr("href")
		return resolve(base, strings.TrimSpace(v))
	default:
		v, _ := el.Attr(attr)
		return strings.TrimSpace(v)
	}
}
