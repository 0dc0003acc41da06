package parser

import (
	"errors"
	"testing"

	"github.com/aluiziolira/go-scrape-units/models"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		record  *models.PropertyRecord
		wantErr bool
	}{
		{
			name:    "unit and project",
			record:  &models.PropertyRecord{Project: "Marina Vista", UnitNo: "MV-1204"},
			wantErr: false,
		},
		{
			name:    "unit only",
			record:  &models.PropertyRecord{UnitNo: "MV-1204"},
			wantErr: false,
		},
		{
			name:    "project only",
			record:  &models.PropertyRecord{Project: "Marina Vista"},
			wantErr: false,
		},
		{
			name: "neither unit nor project",
			record: &models.PropertyRecord{
				ProjectCategory: "Residential",
				UnitType:        "2BR",
				StartingPrice:   "1,234,567 AED",
			},
			wantErr: true,
		},
		{
			name:    "whitespace only",
			record:  &models.PropertyRecord{Project: "  ", UnitNo: "\t"},
			wantErr: true,
		},
		{
			name:    "nil record",
			record:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecord(tt.record)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRecord() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *float64
	}{
		{name: "currency with separators", input: "1,234,567 AED", want: floatPtr(1234567)},
		{name: "area with decimals", input: "1,250.50 sq ft", want: floatPtr(1250.5)},
		{name: "currency prefix", input: "AED 890,000", want: floatPtr(890000)},
		{name: "negative", input: "-3.5", want: floatPtr(-3.5)},
		{name: "empty string", input: "", want: nil},
		{name: "no digits", input: "Price on request", want: nil},
		{name: "lone dash", input: "AED -", want: nil},
		{name: "two decimal points", input: "1.2.3", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFloat(tt.input)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseFloat(%q) = %v, want nil", tt.input, *got)
			case tt.want != nil && got == nil:
				t.Errorf("ParseFloat(%q) = nil, want %v", tt.input, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("ParseFloat(%q) = %v, want %v", tt.input, *got, *tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *int
	}{
		{name: "plain", input: "12", want: intPtr(12)},
		{name: "labelled", input: "Floor 7", want: intPtr(7)},
		{name: "ground floor letter", input: "G", want: nil},
		{name: "fractional", input: "3.5", want: nil},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseInt(tt.input)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseInt(%q) = %d, want nil", tt.input, *got)
			case tt.want != nil && got == nil:
				t.Errorf("ParseInt(%q) = nil, want %d", tt.input, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("ParseInt(%q) = %d, want %d", tt.input, *got, *tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "surrounding whitespace", input: "  Marina Vista  ", expected: "Marina Vista"},
		{name: "inner newlines", input: "Marina\n\t Vista", expected: "Marina Vista"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.expected {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRowParseErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := RowParseError{Row: 3, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected RowParseError to unwrap to its cause")
	}
	if err.Error() != "row 3: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }
