// Package guard derives the largest executable input amount from live
// balances, gas reserves and the route's liquidity ceiling.
package guard

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

var (
	ErrBalanceUnavailable = errors.New("balance unavailable")
	ErrEmptyAmount        = errors.New("amount is required")
)

// LimitError reports that an amount exceeds what can be executed
type LimitError struct {
	Requested decimal.Decimal
	Max       decimal.Decimal
	Token     string
	Liquidity bool
}

func (e *LimitError) Error() string {
	what := "balance"
	if e.Liquidity {
		what = "available liquidity"
	}
	return fmt.Sprintf("amount %s %s exceeds %s; maximum is %s %s",
		amount.Display(e.Requested), e.Token, what, amount.Display(e.Max), e.Token)
}

type balance struct {
	live      decimal.Decimal
	hasLive   bool
	lastKnown decimal.Decimal
}

// Guard tracks balances per chain/token and a liquidity ceiling per route
type Guard struct {
	mu       sync.RWMutex
	reserves map[string]decimal.Decimal
	balances map[string]*balance
	ceilings map[string]decimal.Decimal
	logger   *zap.Logger
}

// Option configures a Guard
type Option func(*Guard)

// WithLogger installs a logger
func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithReserve sets the gas buffer kept back on a native asset
func WithReserve(symbol string, reserve decimal.Decimal) Option {
	return func(g *Guard) {
		g.reserves[types.NormalizeTokenSymbol(symbol)] = reserve
	}
}

// New creates a guard
func New(opts ...Option) *Guard {
	g := &Guard{
		reserves: make(map[string]decimal.Decimal),
		balances: make(map[string]*balance),
		ceilings: make(map[string]decimal.Decimal),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func balanceKey(chain, token string) string {
	return types.NormalizeChain(chain) + "|" + types.NormalizeTokenSymbol(token)
}

func ceilingKey(route types.TradeRoute) string {
	return route.String()
}

// UpdateBalance records a fresh live balance
func (g *Guard) UpdateBalance(chain, token string, value decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.balanceLocked(chain, token)
	b.live = value
	b.hasLive = true
	if value.IsPositive() {
		b.lastKnown = value
	}
}

// MarkBalanceUnavailable drops the live balance while keeping the last known good one
func (g *Guard) MarkBalanceUnavailable(chain, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.balanceLocked(chain, token)
	b.hasLive = false
}

func (g *Guard) balanceLocked(chain, token string) *balance {
	key := balanceKey(chain, token)
	b, ok := g.balances[key]
	if !ok {
		b = &balance{}
		g.balances[key] = b
	}
	return b
}

// SetLiquidityCeiling records the maximum size a route currently supports
func (g *Guard) SetLiquidityCeiling(route types.TradeRoute, ceiling decimal.Decimal) {
	if ceiling.IsNegative() {
		ceiling = decimal.Zero
	}
	g.mu.Lock()
	g.ceilings[ceilingKey(route)] = ceiling
	g.mu.Unlock()

	g.logger.Debug("liquidity ceiling updated",
		zap.String("route", route.String()),
		zap.String("ceiling", ceiling.String()))
}

// ClearLiquidityCeiling forgets the route's ceiling
func (g *Guard) ClearLiquidityCeiling(route types.TradeRoute) {
	g.mu.Lock()
	delete(g.ceilings, ceilingKey(route))
	g.mu.Unlock()
}

// LiquidityCeiling returns the current ceiling for the route, if any
func (g *Guard) LiquidityCeiling(route types.TradeRoute) (decimal.Decimal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.ceilings[ceilingKey(route)]
	return c, ok
}

// Reserve returns the gas buffer applied to token on chain
func (g *Guard) Reserve(chain, token string) decimal.Decimal {
	if !types.IsNativeAsset(chain, token) {
		return decimal.Zero
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reserves[types.NormalizeTokenSymbol(token)]
}

// spendable returns the balance usable for the route's source asset.
// The bool is false when neither a live nor a positive last-known balance exists.
func (g *Guard) spendable(route types.TradeRoute) (decimal.Decimal, bool) {
	g.mu.RLock()
	b, ok := g.balances[balanceKey(route.SourceChain, route.SourceToken)]
	var value decimal.Decimal
	known := false
	if ok {
		switch {
		case b.hasLive:
			value, known = b.live, true
		case b.lastKnown.IsPositive():
			value, known = b.lastKnown, true
		}
	}
	g.mu.RUnlock()

	if !known {
		return decimal.Zero, false
	}
	value = value.Sub(g.Reserve(route.SourceChain, route.SourceToken))
	if value.IsNegative() {
		value = decimal.Zero
	}
	return value, true
}

// MaxExecutable returns min(balance - reserve, ceiling). The bool is false when
// no balance is known and no ceiling applies, meaning there is no bound.
func (g *Guard) MaxExecutable(route types.TradeRoute) (decimal.Decimal, bool) {
	bal, hasBal := g.spendable(route)
	ceiling, hasCeiling := g.LiquidityCeiling(route)

	switch {
	case hasBal && hasCeiling:
		return decimal.Min(bal, ceiling), true
	case hasBal:
		return bal, true
	case hasCeiling:
		return ceiling, true
	default:
		return decimal.Zero, false
	}
}

// Clamp lowers input to the executable maximum. It never raises a value, so a
// user typing a smaller number is left alone.
func (g *Guard) Clamp(route types.TradeRoute, input string) (string, bool) {
	max, bounded := g.MaxExecutable(route)
	if !bounded {
		return input, false
	}
	out, changed := amount.ClampDown(input, max, types.TokenDecimals(route.SourceToken))
	if changed {
		g.logger.Info("input clamped to executable maximum",
			zap.String("route", route.String()),
			zap.String("input", input),
			zap.String("max", max.String()))
	}
	return out, changed
}

// CheckLiquidity validates value against the route ceiling only
func (g *Guard) CheckLiquidity(route types.TradeRoute, value string) error {
	requested, ok := amount.Parse(value)
	if !ok || !requested.IsPositive() {
		return txerror.New(txerror.KindInput, ErrEmptyAmount)
	}
	if ceiling, ok := g.LiquidityCeiling(route); ok && requested.GreaterThan(ceiling) {
		return txerror.New(txerror.KindLiquidity, &LimitError{
			Requested: requested,
			Max:       ceiling,
			Token:     strings.ToUpper(route.SourceToken),
			Liquidity: true,
		})
	}
	return nil
}

// Check validates that value can be executed on the route
func (g *Guard) Check(route types.TradeRoute, value string) error {
	if err := g.CheckLiquidity(route, value); err != nil {
		return err
	}
	requested, _ := amount.Parse(value)
	token := strings.ToUpper(route.SourceToken)

	bal, known := g.spendable(route)
	if !known {
		return txerror.New(txerror.KindLiquidity, fmt.Errorf("%w for %s on %s", ErrBalanceUnavailable, token, route.SourceChain))
	}
	if requested.GreaterThan(bal) {
		return txerror.New(txerror.KindLiquidity, &LimitError{Requested: requested, Max: bal, Token: token})
	}
	return nil
}
