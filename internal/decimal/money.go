package decimal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// FromInt creates decimal from int
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromFloat creates decimal from float with rounding to 2 places (BRL cents)
func FromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// NormalizeLocale rewrites a monetary string to dot-decimal notation.
// Fiscal documents show up with either "1234.56", "1234,56" or the fully
// localized "1.234,56"; all three normalize to "1234.56".
func NormalizeLocale(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma > lastDot:
		// comma is the decimal separator; dots (if any) group thousands
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		// dot is the decimal separator; commas group thousands
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

// ParseAmount parses a monetary field tolerating comma-decimal notation.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = NormalizeLocale(s)
	if s == "" {
		return Zero, fmt.Errorf("empty amount")
	}
	return decimal.NewFromString(s)
}

// ParseAmountOrZero parses a monetary field, degrading to zero when the
// value is absent or unparsable. The lossy fallback is the caller's
// decision; strict callers use ParseAmount.
func ParseAmountOrZero(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		return Zero
	}
	return d
}

// Mul multiplies two decimals, rounds to 2 places
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(2)
}

// Div divides a by b, rounds to 2 places
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	return a.Div(b).Round(2)
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// RoundBRL rounds to cents
func RoundBRL(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
