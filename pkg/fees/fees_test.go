package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateAppliesDiscountToProtocolAndMEV(t *testing.T) {
	q := &types.Quote{ProtocolFee: d("10"), MEVFee: d("2"), FeeUnit: types.FeeUnitUSD}

	b := Calculate(q, d("0.5"), d("1"))
	assert.True(t, b.Total.Equal(d("6")), b.Total.String())
	assert.True(t, b.Saved.Equal(d("6")))
	assert.Equal(t, types.FeeUnitUSD, b.Unit)
}

func TestCalculateNeverDiscountsNetworkFee(t *testing.T) {
	q := &types.Quote{ProtocolFee: d("0.003"), NetworkFee: d("0.0012"), FeeUnit: types.FeeUnitToken}

	b := Calculate(q, d("0.25"), d("1"))
	assert.True(t, b.Network.Equal(d("0.0012")))
	assert.True(t, b.Protocol.Equal(d("0.00225")))
	assert.True(t, b.Total.Equal(d("0.00345")))
}

func TestCalculateIsIdempotent(t *testing.T) {
	q := &types.Quote{ProtocolFee: d("1"), MEVFee: d("0.5"), ValueUSD: d("100")}
	a := Calculate(q, d("0.1"), d("2"))
	b := Calculate(q, d("0.1"), d("2"))
	assert.Equal(t, a, b)
	assert.True(t, q.ProtocolFee.Equal(d("1")), "quote must not be mutated")
}

func TestPoints(t *testing.T) {
	cases := []struct {
		name  string
		usd   string
		rate  string
		stake string
		want  string
	}{
		{"base", "12.34", "0", "1", "123"},
		{"stake and discount", "100", "0.25", "2", "2500"},
		{"floor", "0.19", "0", "1", "1"},
		{"negative value floored at zero", "-5", "0", "1", "0"},
		{"missing stake treated as one", "1", "0", "0", "10"},
		{"rate clamped", "1", "3", "1", "20"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Points(d(tc.usd), d(tc.rate), d(tc.stake))
			assert.True(t, got.Equal(d(tc.want)), got.String())
		})
	}
}

func TestTiers(t *testing.T) {
	tier, err := ParseTier("gold")
	require.NoError(t, err)
	assert.True(t, tier.DiscountRate().Equal(d("0.25")))

	tier, err = ParseTier("5")
	require.NoError(t, err)
	assert.Equal(t, TierOnyx, tier)
	assert.True(t, tier.DiscountRate().Equal(d("0.5")))

	assert.True(t, TierNone.DiscountRate().IsZero())
	_, err = ParseTier("diamond")
	assert.Error(t, err)
}

func TestStakeMultiplier(t *testing.T) {
	assert.True(t, StakeMultiplier(d("99.9")).Equal(d("1")))
	assert.True(t, StakeMultiplier(d("100")).Equal(d("2")))
	assert.True(t, StakeMultiplier(d("5000")).Equal(d("3")))
	assert.True(t, StakeMultiplier(d("10000")).Equal(d("5")))
}

func TestReconcile(t *testing.T) {
	est := Breakdown{Points: d("120")}

	msg := Reconcile(est, &types.ExecuteSwapResponse{
		EstimatedPointsEarned: "125",
		NFTDiscountPercent:    "10",
		FeeDiscountSaved:      "0.003",
	})
	assert.Equal(t, "Points earned: 125 (+5 vs estimate); NFT discount 10% saved 0.003", msg)

	assert.Equal(t, "Points earned: 120", Reconcile(est, &types.ExecuteSwapResponse{EstimatedPointsEarned: "120"}))
	assert.Contains(t, Reconcile(est, nil), "Estimated points: 120")
}
