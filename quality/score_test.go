package quality

import (
	"reflect"
	"testing"

	"github.com/Techinsane-official/scrapper/models"
)

func requiredOnly() *models.Product {
	return &models.Product{
		Title:        "Sony WH-1000XM4 Headphones",
		CurrentPrice: models.Float(278),
		SourceURL:    "https://www.amazon.com/dp/B0863TXGM3",
	}
}

func TestScoreBoundaries(t *testing.T) {
	full := requiredOnly()
	full.Description = "Noise cancelling"
	full.Rating = models.Float(4.7)
	full.Images = []string{"https://example.com/a.jpg"}
	full.Specifications = map[string]string{"color": "black"}

	partial := requiredOnly()
	partial.Rating = models.Float(4.7)
	partial.Images = []string{"https://example.com/a.jpg"}

	noPrice := requiredOnly()
	noPrice.CurrentPrice = nil

	tests := []struct {
		name    string
		product *models.Product
		want    float64
	}{
		{name: "required only", product: requiredOnly(), want: 0.7},
		{name: "all fields", product: full, want: 1.0},
		{name: "two optional", product: partial, want: 0.85},
		{name: "missing price", product: noPrice, want: 0.466667},
		{name: "empty", product: &models.Product{}, want: 0},
		{name: "nil", product: nil, want: 0},
	}

	s := DefaultScorer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.product); got != tt.want {
				t.Fatalf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreCustomWeight(t *testing.T) {
	s := NewScorer(Weights{Required: 1})
	if got := s.Score(requiredOnly()); got != 1 {
		t.Fatalf("Score = %v, want 1 when optional fields carry no weight", got)
	}
}

func TestApplyStoresScore(t *testing.T) {
	p := requiredOnly()
	DefaultScorer().Apply(p)
	if p.QualityScore != 0.7 {
		t.Fatalf("QualityScore = %v, want 0.7", p.QualityScore)
	}
}

func TestMissing(t *testing.T) {
	p := requiredOnly()
	p.CurrentPrice = nil
	p.Rating = models.Float(3)
	want := []string{"price", "description", "images", "specifications"}
	if got := Missing(p); !reflect.DeepEqual(got, want) {
		t.Fatalf("Missing = %v, want %v", got, want)
	}
}

func TestGrade(t *testing.T) {
	tests := map[float64]string{1: "A", 0.9: "A", 0.85: "B", 0.7: "C", 0.65: "D", 0.2: "F"}
	for score, want := range tests {
		if got := Grade(score); got != want {
			t.Fatalf("Grade(%v) = %q, want %q", score, got, want)
		}
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := (Weights{Required: 1.5}).Validate(); err == nil {
		t.Fatalf("expected error for weight above 1")
	}
	if err := (Weights{Required: DefaultRequiredWeight}).Validate(); err != nil {
		t.Fatalf("default weight should validate: %v", err)
	}
}
