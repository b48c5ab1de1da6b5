// Package amount sanitizes and converts user-entered decimal strings.
// Nothing here panics on malformed input. Sanitize always returns a
// best-effort normalized value; Parse refuses signed input, since amounts
// are never negative.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Sanitize normalizes a typed amount for a token with the given precision.
// "01,50abc" becomes "1.50" and "1,234.5" becomes "1234.5"; fractions longer
// than decimals are truncated.
func Sanitize(input string, decimals int32) string {
	input = stripGrouping(strings.TrimSpace(input))
	if input == "" {
		return ""
	}

	var b strings.Builder
	seenDot := false
	fracDigits := int32(0)
	for _, r := range input {
		switch {
		case r >= '0' && r <= '9':
			if seenDot {
				if fracDigits >= decimals {
					continue
				}
				fracDigits++
			}
			b.WriteRune(r)
		case (r == '.' || r == ',') && !seenDot:
			if decimals <= 0 {
				// no fractional part allowed; drop everything after the separator
				seenDot = true
				fracDigits = decimals
				continue
			}
			seenDot = true
			b.WriteRune('.')
		}
	}

	out := b.String()
	if out == "" || out == "." {
		return ""
	}

	intPart, fracPart, hasDot := strings.Cut(out, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasDot {
		return intPart
	}
	return intPart + "." + fracPart
}

// Parse converts a possibly messy amount to a decimal.
// The second return is false when nothing numeric could be recovered or the
// input carries a sign.
func Parse(input string) (decimal.Decimal, bool) {
	if Signed(input) {
		return decimal.Zero, false
	}
	clean := Sanitize(input, 36)
	clean = strings.TrimSuffix(clean, ".")
	if clean == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Signed reports whether input carries a plus or minus sign
func Signed(input string) bool {
	return strings.ContainsAny(input, "+-−")
}

// stripGrouping drops thousands separators: a comma after a non-zero integer
// part that is followed by exactly three digits. "1,250" is 1250 while "1,25"
// and "0,125" keep the comma as their decimal separator.
func stripGrouping(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	nonZero := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.':
			b.WriteString(s[i:])
			return b.String()
		case c == ',':
			if !nonZero || !groupOfThree(s[i+1:]) {
				b.WriteString(s[i:])
				return b.String()
			}
			continue
		case c >= '1' && c <= '9':
			nonZero = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

func groupOfThree(rest string) bool {
	if len(rest) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return len(rest) == 3 || rest[3] < '0' || rest[3] > '9'
}

// IsPositive reports whether input parses to a value greater than zero
func IsPositive(input string) bool {
	d, ok := Parse(input)
	return ok && d.IsPositive()
}

// Fixed renders d with exactly places fractional digits
func Fixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// Display renders d for humans: at most 6 fractional digits, no trailing zeros
func Display(d decimal.Decimal) string {
	return d.Truncate(6).String()
}

// DisplayString re-renders a backend amount string, falling back to the raw input
func DisplayString(raw string) string {
	d, ok := Parse(raw)
	if !ok {
		return strings.TrimSpace(raw)
	}
	return Display(d)
}

// ToSmallestUnit converts a human amount into integer base units
func ToSmallestUnit(input string, decimals int32) (*big.Int, error) {
	if Signed(input) {
		return nil, fmt.Errorf("amount must not be signed: %q", input)
	}
	d, ok := Parse(input)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %q", input)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// FromSmallestUnit converts integer base units back into a human amount
func FromSmallestUnit(units string, decimals int32) (decimal.Decimal, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(units), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid base-unit amount: %q", units)
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// ClampDown lowers input to max when it exceeds it; it never raises a value.
// The second return is true when the input was changed.
func ClampDown(input string, max decimal.Decimal, decimals int32) (string, bool) {
	d, ok := Parse(input)
	if !ok || !d.GreaterThan(max) {
		return input, false
	}
	if max.IsNegative() {
		max = decimal.Zero
	}
	return max.Truncate(decimals).String(), true
}
