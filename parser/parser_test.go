package parser

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Techinsane-official/scrapper/models"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "condition prefix and whitespace", input: "  New   Sony WH-1000XM4   Headphones ", want: "Sony WH-1000XM4 Headphones"},
		{name: "used with colon", input: "Used: Kindle Paperwhite", want: "Kindle Paperwhite"},
		{name: "refurbished lower case", input: "refurbished iPad Air", want: "iPad Air"},
		{name: "word starting with marker", input: "Newton's Cradle Desk Toy", want: "Newton's Cradle Desk Toy"},
		{name: "marker only", input: "New", want: "New"},
		{name: "site prefix", input: "Amazon.com: Echo Dot (5th Gen)", want: "Echo Dot (5th Gen)"},
		{name: "bracket prefix", input: "[Sponsored] Anker Charger", want: "Anker Charger"},
		{name: "empty", input: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanTitle(tt.input); got != tt.want {
				t.Fatalf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{name: "currency with thousands", input: "$1,299.99", want: 1299.99, wantOK: true},
		{name: "pound sign", input: "£51.77", want: 51.77, wantOK: true},
		{name: "free", input: "Free", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "float", input: 19.5, want: 19.5, wantOK: true},
		{name: "int", input: 20, want: 20, wantOK: true},
		{name: "json number", input: json.Number("4.25"), want: 4.25, wantOK: true},
		{name: "negative number", input: -3.0, wantOK: false},
		{name: "two decimal points", input: "1.2.3", wantOK: false},
		{name: "nil", input: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePrice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("NormalizePrice(%v) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("NormalizePrice(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeRating(t *testing.T) {
	tests := []struct {
		input  any
		want   float64
		wantOK bool
	}{
		{input: "4.5 out of 5 stars", want: 4.5, wantOK: true},
		{input: "Rated 3 stars", want: 3, wantOK: true},
		{input: "9.1", want: 5, wantOK: true},
		{input: -1.0, want: 0, wantOK: true},
		{input: 4, want: 4, wantOK: true},
		{input: "no reviews", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := NormalizeRating(tt.input)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Fatalf("NormalizeRating(%v) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeAvailability(t *testing.T) {
	tests := []struct {
		input string
		want  models.Availability
	}{
		{input: "In Stock.", want: models.InStock},
		{input: "Available", want: models.InStock},
		{input: "Temporarily out of stock", want: models.OutOfStock},
		{input: "Currently unavailable.", want: models.OutOfStock},
		{input: "No longer in stock", want: models.OutOfStock},
		{input: "Ships in 2-3 weeks, available for pre-order", want: models.PreOrder},
		{input: "Only 3 left in stock - order soon.", want: models.LimitedStock},
		{input: "Limited quantities", want: models.LimitedStock},
		{input: "Ships from and sold by Example", want: models.Unknown},
		{input: "", want: models.Unknown},
	}

	for _, tt := range tests {
		if got := NormalizeAvailability(tt.input); got != tt.want {
			t.Fatalf("NormalizeAvailability(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseReviewCount(t *testing.T) {
	tests := []struct {
		input  any
		want   int
		wantOK bool
	}{
		{input: "1,234 ratings", want: 1234, wantOK: true},
		{input: "(87)", want: 87, wantOK: true},
		{input: 12.0, want: 12, wantOK: true},
		{input: "no ratings yet", wantOK: false},
		{input: "4.5 out of 5 (1,234)", want: 1234, wantOK: true},
		{input: "4.7", wantOK: false},
		{input: "99999999999999999999 reviews", wantOK: false},
		{input: 1e300, wantOK: false},
		{input: -3, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ParseReviewCount(tt.input)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Fatalf("ParseReviewCount(%v) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeBrand(t *testing.T) {
	tests := map[string]string{
		"Visit the Sony Store": "Sony",
		"Brand: Anker":         "Anker",
		"Acme, Inc.":           "Acme",
		"Logitech Brand":       "Logitech",
		"  Bose  ":             "Bose",
	}

	for input, want := range tests {
		if got := NormalizeBrand(input); got != want {
			t.Fatalf("NormalizeBrand(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeSpecifications(t *testing.T) {
	got := NormalizeSpecifications(map[string]any{
		"Item Weight\u200e :": "  250   g ",
		"Color":              "Black",
		"Empty":              "   ",
		"Wattage":            json.Number("20"),
	})
	want := map[string]string{
		"item weight": "250 g",
		"color":       "Black",
		"wattage":     "20",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeSpecifications = %v, want %v", got, want)
	}

	if got := NormalizeSpecifications(map[string]any{"x": ""}); got != nil {
		t.Fatalf("expected nil for all-empty specs, got %v", got)
	}
}
