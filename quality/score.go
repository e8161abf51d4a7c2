// Package quality scores how complete a canonical product is.
package quality

import (
	"fmt"
	"math"

	"github.com/Techinsane-official/scrapper/models"
)

// DefaultRequiredWeight is the share of the score carried by required fields.
const DefaultRequiredWeight = 0.7

// field reports whether a product attribute is populated.
type field struct {
	name    string
	present func(*models.Product) bool
}

var requiredFields = []field{
	{name: "title", present: func(p *models.Product) bool { return p.Title != "" }},
	{name: "price", present: func(p *models.Product) bool { return p.CurrentPrice != nil }},
	{name: "url", present: func(p *models.Product) bool { return p.SourceURL != "" }},
}

var optionalFields = []field{
	{name: "description", present: func(p *models.Product) bool { return p.Description != "" }},
	{name: "rating", present: func(p *models.Product) bool { return p.Rating != nil }},
	{name: "images", present: func(p *models.Product) bool { return len(p.Images) > 0 }},
	{name: "specifications", present: func(p *models.Product) bool { return len(p.Specifications) > 0 }},
}

// Weights splits the score between required and optional fields.
type Weights struct {
	Required float64 `mapstructure:"required_field_weight"`
}

// Validate checks the weight lies in [0, 1].
func (w Weights) Validate() error {
	if w.Required < 0 || w.Required > 1 || math.IsNaN(w.Required) {
		return fmt.Errorf("required field weight must be between 0 and 1, got %v", w.Required)
	}
	return nil
}

// Scorer computes data quality scores. It is pure and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// NewScorer returns a scorer using w.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// DefaultScorer uses the default 70/30 split.
func DefaultScorer() *Scorer {
	return NewScorer(Weights{Required: DefaultRequiredWeight})
}

// Score returns a value in [0, 1]. Required fields share the required weight
// evenly and optional fields share the remainder evenly.
func (s *Scorer) Score(p *models.Product) float64 {
	if p == nil {
		return 0
	}
	required := s.weights.Required
	optional := 1 - required

	var score, total float64
	if len(requiredFields) > 0 {
		per := required / float64(len(requiredFields))
		for _, f := range requiredFields {
			total += per
			if f.present(p) {
				score += per
			}
		}
	}
	if len(optionalFields) > 0 {
		per := optional / float64(len(optionalFields))
		for _, f := range optionalFields {
			total += per
			if f.present(p) {
				score += per
			}
		}
	}
	if total == 0 {
		return 0
	}
	return round(math.Max(0, math.Min(1, score/total)))
}

// Apply scores p and stores the result on it.
func (s *Scorer) Apply(p *models.Product) float64 {
	if p == nil {
		return 0
	}
	p.QualityScore = s.Score(p)
	return p.QualityScore
}

// Missing lists the unpopulated fields, required ones first.
func Missing(p *models.Product) []string {
	var out []string
	for _, group := range [][]field{requiredFields, optionalFields} {
		for _, f := range group {
			if !f.present(p) {
				out = append(out, f.name)
			}
		}
	}
	return out
}

// Grade maps a score to a letter grade.
func Grade(score float64) string {
	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

// round trims float noise so that boundary scores compare exactly.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
