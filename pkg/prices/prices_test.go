package prices

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveFeed struct {
	price decimal.Decimal
	err   error
	calls int
}

func (l *liveFeed) PriceUSD(context.Context, string) (decimal.Decimal, error) {
	l.calls++
	return l.price, l.err
}

func TestStaticDefaults(t *testing.T) {
	s, err := NewStatic(nil)
	require.NoError(t, err)

	tests := map[string]string{"btc": "65000", "ETH": "1900", "strk": "0.05", "USDC": "1", "CAREL": "1"}
	for sym, want := range tests {
		p, err := s.PriceUSD(context.Background(), sym)
		require.NoError(t, err, sym)
		assert.Equal(t, want, p.String(), sym)
	}

	_, err = s.PriceUSD(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestStaticOverrides(t *testing.T) {
	s, err := NewStatic(map[string]string{"eth": "2500"})
	require.NoError(t, err)
	p, _ := s.PriceUSD(context.Background(), "ETH")
	assert.Equal(t, "2500", p.String())

	_, err = NewStatic(map[string]string{"ETH": "-1"})
	assert.Error(t, err)
}

func TestFallbackPrefersLive(t *testing.T) {
	s, _ := NewStatic(nil)
	live := &liveFeed{price: decimal.RequireFromString("0.07")}
	f := NewFallback(live, s, nil)

	p, err := f.PriceUSD(context.Background(), "STRK")
	require.NoError(t, err)
	assert.Equal(t, "0.07", p.String())

	live.err = errors.New("feed down")
	p, err = f.PriceUSD(context.Background(), "STRK")
	require.NoError(t, err)
	assert.Equal(t, "0.07", p.String(), "last live price is kept")
	assert.Equal(t, 2, live.calls)
}

func TestFallbackWithoutLive(t *testing.T) {
	s, _ := NewStatic(nil)
	f := NewFallback(nil, s, nil)
	p, err := f.PriceUSD(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "65000", p.String())
}
