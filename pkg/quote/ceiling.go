package quote

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"tradeflow/pkg/amount"
)

var (
	rangePattern = regexp.MustCompile(`(?i)range\s+of\s+~?\s*([0-9][0-9.,]*)\s*(?:[a-z]+\s*)?to\s+~?\s*([0-9][0-9.,]*)`)
	maxPattern   = regexp.MustCompile(`(?i)max(?:imum)?\s*(?:is\s*)?~\s*([0-9][0-9.,]*)`)
)

// ParseLiquidityCeiling extracts an embedded liquidity ceiling from a provider
// error such as "amount must be in range of 0.01 to 2.5" or "max ~120 STRK".
func ParseLiquidityCeiling(msg string) (decimal.Decimal, bool) {
	if m := rangePattern.FindStringSubmatch(msg); m != nil {
		return parseNumber(m[2])
	}
	if m := maxPattern.FindStringSubmatch(msg); m != nil {
		return parseNumber(m[1])
	}
	return decimal.Zero, false
}

// parseNumber reads "1,200" as 1200 and "0,75" as 0.75
func parseNumber(raw string) (decimal.Decimal, bool) {
	d, ok := amount.Parse(strings.TrimRight(raw, ".,"))
	if !ok || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}
