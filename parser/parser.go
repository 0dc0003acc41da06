package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-units/models"
)

// RowParseError is a single table row that could not be turned into a
// record. The row is skipped; extraction carries on.
type RowParseError struct {
	Row int
	Err error
}

func (e RowParseError) Error() string {
	return fmt.Errorf("row %d: %w", e.Row, e.Err).Error()
}

func (e RowParseError) Unwrap() error {
	return e.Err
}

// ValidateRecord ensures the row identified a unit.
func ValidateRecord(p *models.PropertyRecord) error {
	if p == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(p.UnitNo) == "" && strings.TrimSpace(p.Project) == "" {
		return fmt.Errorf("record missing both unit number and project")
	}
	return nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// numericOnly keeps digits, the decimal point and a leading minus sign.
func numericOnly(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseFloat reads a number out of display text such as "1,234,567 AED".
// It returns nil when nothing numeric remains.
func ParseFloat(text string) *float64 {
	cleaned := numericOnly(text)
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseInt reads a whole number out of display text such as "Floor 12".
func ParseInt(text string) *int {
	f := ParseFloat(text)
	if f == nil || *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil
	}
	v := int(*f)
	return &v
}
