package guard

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strkToCarel() types.TradeRoute {
	return types.NewRoute("starknet", "starknet", "STRK", "CAREL")
}

func TestMaxExecutableAppliesReserveToNativeAssetOnly(t *testing.T) {
	g := New(WithReserve("STRK", d("0.5")))
	g.UpdateBalance("starknet", "STRK", d("10"))
	g.UpdateBalance("starknet", "CAREL", d("10"))

	max, ok := g.MaxExecutable(strkToCarel())
	require.True(t, ok)
	assert.True(t, max.Equal(d("9.5")), max.String())

	carel := types.NewRoute("starknet", "starknet", "CAREL", "STRK")
	max, ok = g.MaxExecutable(carel)
	require.True(t, ok)
	assert.True(t, max.Equal(d("10")), max.String())
}

func TestMaxExecutableNeverNegative(t *testing.T) {
	g := New(WithReserve("STRK", d("1")))
	g.UpdateBalance("starknet", "STRK", d("0.4"))

	max, ok := g.MaxExecutable(strkToCarel())
	require.True(t, ok)
	assert.True(t, max.IsZero())
}

func TestMaxExecutableMonotonicInCeiling(t *testing.T) {
	route := strkToCarel()
	g := New()
	g.UpdateBalance("starknet", "STRK", d("100"))

	input := "80"
	prev, _ := g.MaxExecutable(route)
	for _, c := range []string{"120", "90", "75", "40", "40", "5", "0"} {
		g.SetLiquidityCeiling(route, d(c))
		max, ok := g.MaxExecutable(route)
		require.True(t, ok)
		assert.False(t, max.GreaterThan(prev), "max grew from %s to %s", prev, max)
		prev = max

		clamped, _ := g.Clamp(route, input)
		v := d(clamped)
		assert.False(t, v.GreaterThan(max), "input %s not re-clamped below %s", clamped, max)
		input = clamped
	}
}

func TestClampNeverRaises(t *testing.T) {
	route := strkToCarel()
	g := New()
	g.UpdateBalance("starknet", "STRK", d("5"))

	out, changed := g.Clamp(route, "1.2")
	assert.False(t, changed)
	assert.Equal(t, "1.2", out)

	out, changed = g.Clamp(route, "7")
	assert.True(t, changed)
	assert.Equal(t, "5", out)
}

func TestClampWithoutBoundIsNoop(t *testing.T) {
	out, changed := New().Clamp(strkToCarel(), "1000")
	assert.False(t, changed)
	assert.Equal(t, "1000", out)
}

func TestCheckUsesLastKnownBalanceDuringRefreshGap(t *testing.T) {
	route := strkToCarel()
	g := New()
	g.UpdateBalance("starknet", "STRK", d("3"))
	g.MarkBalanceUnavailable("starknet", "STRK")

	assert.NoError(t, g.Check(route, "2"))

	err := g.Check(route, "4")
	var limit *LimitError
	require.True(t, errors.As(err, &limit))
	assert.True(t, limit.Max.Equal(d("3")))
	assert.Equal(t, txerror.KindLiquidity, txerror.KindOf(err))
}

func TestCheckBlocksWhenNoBalanceKnown(t *testing.T) {
	g := New()
	g.MarkBalanceUnavailable("starknet", "STRK")

	err := g.Check(strkToCarel(), "1")
	assert.ErrorIs(t, err, ErrBalanceUnavailable)
}

func TestCheckLiquidityCeilingMessage(t *testing.T) {
	route := strkToCarel()
	g := New()
	g.UpdateBalance("starknet", "STRK", d("100"))
	g.SetLiquidityCeiling(route, d("12.5"))

	err := g.Check(route, "20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum is 12.5 STRK")
	assert.Contains(t, err.Error(), "liquidity")

	g.ClearLiquidityCeiling(route)
	assert.NoError(t, g.Check(route, "20"))
}

func TestCheckRejectsEmptyAmount(t *testing.T) {
	err := New().CheckLiquidity(strkToCarel(), "")
	assert.ErrorIs(t, err, ErrEmptyAmount)
	assert.Equal(t, txerror.KindInput, txerror.KindOf(err))
}
