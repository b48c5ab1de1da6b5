// Package prices provides USD prices for fee conversion when the live chart
// feed cannot answer.
package prices

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/pkg/types"
)

// Feed returns a token's USD price
type Feed interface {
	PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

var defaultPrices = map[string]string{
	"BTC":   "65000",
	"WBTC":  "65000",
	"ETH":   "1900",
	"STRK":  "0.05",
	"USDT":  "1",
	"USDC":  "1",
	"CAREL": "1",
}

// Static is a fixed price table
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic returns the default table with overrides applied
func NewStatic(overrides map[string]string) (*Static, error) {
	s := &Static{prices: make(map[string]decimal.Decimal, len(defaultPrices))}
	for sym, v := range defaultPrices {
		s.prices[sym] = decimal.RequireFromString(v)
	}
	for sym, v := range overrides {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("invalid price for %s: %q", sym, v)
		}
		s.prices[types.NormalizeTokenSymbol(sym)] = d
	}
	return s, nil
}

func (s *Static) PriceUSD(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[types.NormalizeTokenSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

// Set records the latest known price of symbol
func (s *Static) Set(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	s.mu.Lock()
	s.prices[types.NormalizeTokenSymbol(symbol)] = price
	s.mu.Unlock()
}

// Fallback asks the live feed first and falls back to the static table.
// Live answers refresh the table so later fallbacks use the last seen price.
type Fallback struct {
	live   Feed
	static *Static
	logger *zap.Logger
}

func NewFallback(live Feed, static *Static, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{live: live, static: static, logger: logger}
}

func (f *Fallback) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.live != nil {
		p, err := f.live.PriceUSD(ctx, symbol)
		if err == nil && p.IsPositive() {
			f.static.Set(symbol, p)
			return p, nil
		}
		f.logger.Debug("live price unavailable, using fallback", zap.String("symbol", symbol), zap.Error(err))
	}
	return f.static.PriceUSD(ctx, symbol)
}
