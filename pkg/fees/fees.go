// Package fees computes the effective fee breakdown and loyalty points for a
// quote. Every function here is pure.
package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/types"
)

// PointsPerUSD is the loyalty points earned per USD of traded value
var PointsPerUSD = decimal.NewFromInt(10)

// Breakdown is the effective fee and points estimate for a quote
type Breakdown struct {
	Protocol decimal.Decimal
	Network  decimal.Decimal
	MEV      decimal.Decimal
	Total    decimal.Decimal
	Unit     types.FeeUnit
	Points   decimal.Decimal
	Saved    decimal.Decimal
}

// Calculate applies discountRate (0..1) to the protocol and MEV fees and
// derives the points estimate. Network fees are never discounted.
func Calculate(q *types.Quote, discountRate, stakeMultiplier decimal.Decimal) Breakdown {
	if q == nil {
		return Breakdown{Unit: types.FeeUnitToken}
	}
	rate := clampRate(discountRate)
	keep := decimal.NewFromInt(1).Sub(rate)

	b := Breakdown{
		Protocol: q.ProtocolFee.Mul(keep),
		Network:  q.NetworkFee,
		MEV:      q.MEVFee.Mul(keep),
		Unit:     q.FeeUnit,
	}
	if b.Unit == "" {
		b.Unit = types.FeeUnitToken
	}
	b.Total = b.Protocol.Add(b.Network).Add(b.MEV)
	b.Saved = q.ProtocolFee.Add(q.MEVFee).Mul(rate)
	b.Points = Points(q.ValueUSD, rate, stakeMultiplier)
	return b
}

// Points returns floor(valueUSD × 10 × stake × (1 + rate)), never negative
func Points(valueUSD, discountRate, stakeMultiplier decimal.Decimal) decimal.Decimal {
	if !stakeMultiplier.IsPositive() {
		stakeMultiplier = decimal.NewFromInt(1)
	}
	rate := clampRate(discountRate)
	p := valueUSD.Mul(PointsPerUSD).Mul(stakeMultiplier).Mul(decimal.NewFromInt(1).Add(rate)).Floor()
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

func clampRate(rate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	switch {
	case rate.IsNegative():
		return decimal.Zero
	case rate.GreaterThan(one):
		return one
	default:
		return rate
	}
}

// Tier is a discount NFT tier
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
	TierOnyx
	TierReserved
)

var tierDiscounts = map[Tier]int64{
	TierBronze:   5,
	TierSilver:   10,
	TierGold:     25,
	TierPlatinum: 35,
	TierOnyx:     50,
	TierReserved: 50,
}

var tierNames = map[string]Tier{
	"bronze":   TierBronze,
	"silver":   TierSilver,
	"gold":     TierGold,
	"platinum": TierPlatinum,
	"onyx":     TierOnyx,
}

// DiscountRate returns the tier's discount as a fraction
func (t Tier) DiscountRate() decimal.Decimal {
	pct, ok := tierDiscounts[t]
	if !ok {
		return decimal.Zero
	}
	return decimal.New(pct, -2)
}

func (t Tier) String() string {
	for name, tier := range tierNames {
		if tier == t {
			return name
		}
	}
	if t == TierReserved {
		return "reserved"
	}
	return "none"
}

// ParseTier accepts a tier name or its number (1-6)
func ParseTier(raw string) (Tier, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "none" || raw == "0" {
		return TierNone, nil
	}
	if t, ok := tierNames[raw]; ok {
		return t, nil
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && n >= int(TierBronze) && n <= int(TierReserved) {
		return Tier(n), nil
	}
	return TierNone, fmt.Errorf("unknown NFT tier: %s", raw)
}

var stakeTiers = []struct {
	min        decimal.Decimal
	multiplier int64
}{
	{decimal.NewFromInt(10_000), 5},
	{decimal.NewFromInt(1_000), 3},
	{decimal.NewFromInt(100), 2},
}

// StakeMultiplier maps a staked CAREL amount to its points multiplier
func StakeMultiplier(stakedCarel decimal.Decimal) decimal.Decimal {
	for _, tier := range stakeTiers {
		if !stakedCarel.LessThan(tier.min) {
			return decimal.NewFromInt(tier.multiplier)
		}
	}
	return decimal.NewFromInt(1)
}

// Reconcile compares the estimate shown before a trade with what the backend
// reported afterwards
func Reconcile(estimate Breakdown, resp *types.ExecuteSwapResponse) string {
	if resp == nil {
		return fmt.Sprintf("Estimated points: %s", estimate.Points.String())
	}
	earned, ok := amount.Parse(resp.EstimatedPointsEarned)
	if !ok {
		return fmt.Sprintf("Estimated points: %s (awaiting confirmation)", estimate.Points.String())
	}

	msg := fmt.Sprintf("Points earned: %s", amount.Display(earned))
	diff := earned.Sub(estimate.Points)
	if !diff.IsZero() {
		sign := "+"
		if diff.IsNegative() {
			sign = ""
		}
		msg += fmt.Sprintf(" (%s%s vs estimate)", sign, amount.Display(diff))
	}
	if saved, ok := amount.Parse(resp.FeeDiscountSaved); ok && saved.IsPositive() {
		msg += fmt.Sprintf("; NFT discount %s%% saved %s", amount.DisplayString(resp.NFTDiscountPercent), amount.Display(saved))
	}
	return msg
}
