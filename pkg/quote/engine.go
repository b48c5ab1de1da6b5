// Package quote acquires priced quotes for swaps and bridges. Requests are
// debounced, cached per canonical key, and ordered by ticket so that a late
// response never overwrites a newer one.
package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/pkg/metrics"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

const (
	DefaultDebounce       = 350 * time.Millisecond
	DefaultRequestTimeout = 15 * time.Second
)

// DefaultReprojectionThreshold is the relative deviation from the live-price
// reference beyond which a swap estimate is replaced
var DefaultReprojectionThreshold = decimal.RequireFromString("0.35")

// PricingBackend prices swaps and bridges
type PricingBackend interface {
	GetSwapQuote(ctx context.Context, req types.SwapQuoteRequest) (*types.SwapQuoteResponse, error)
	GetBridgeQuote(ctx context.Context, req types.BridgeQuoteRequest) (*types.BridgeQuoteResponse, error)
}

// PriceFeed returns a token's USD price
type PriceFeed interface {
	PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// BridgeFees is a live estimate of the fees paid on a bridge, in source token units
type BridgeFees struct {
	Protocol decimal.Decimal
	Network  decimal.Decimal
}

// FeeEstimator estimates bridge fees from current network conditions
type FeeEstimator interface {
	EstimateBridgeFees(ctx context.Context, route types.TradeRoute, amount decimal.Decimal) (BridgeFees, error)
}

// CeilingSink receives liquidity ceilings found in quote errors
type CeilingSink interface {
	SetLiquidityCeiling(route types.TradeRoute, ceiling decimal.Decimal)
}

// Result is the outcome of one quote acquisition
type Result struct {
	Ticket    uint64
	Key       string
	Request   types.TradeRequest
	Quote     *types.Quote
	Err       error
	FromCache bool
	Stale     bool
}

// Engine acquires quotes
type Engine struct {
	backend  PricingBackend
	cache    *Cache
	prices   PriceFeed
	fees     FeeEstimator
	ceilings CeilingSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	debounce       time.Duration
	requestTimeout time.Duration
	threshold      decimal.Decimal

	// notify serializes apply so listeners observe results in ticket order
	notify sync.Mutex

	mu        sync.Mutex
	tickets   Ticketer
	timer     *time.Timer
	latest    *Result
	listeners []func(Result)
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures an Engine
type Option func(*Engine)

func WithCache(c *Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

func WithPriceFeed(p PriceFeed) Option {
	return func(e *Engine) { e.prices = p }
}

func WithFeeEstimator(f FeeEstimator) Option {
	return func(e *Engine) { e.fees = f }
}

func WithCeilingSink(s CeilingSink) Option {
	return func(e *Engine) { e.ceilings = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithReprojectionThreshold sets the tolerated deviation (0.35 means ±35%)
func WithReprojectionThreshold(t decimal.Decimal) Option {
	return func(e *Engine) {
		if t.IsPositive() {
			e.threshold = t
		}
	}
}

// NewEngine creates a quote engine backed by backend
func NewEngine(backend PricingBackend, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		backend:        backend,
		logger:         zap.NewNop(),
		debounce:       DefaultDebounce,
		requestTimeout: DefaultRequestTimeout,
		threshold:      DefaultReprojectionThreshold,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewCache(DefaultCacheSize, DefaultCacheTTL)
	}
	return e
}

// OnResult registers a listener for applied (non-stale) results. Listeners
// must not call Acquire.
func (e *Engine) OnResult(fn func(Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Submit schedules a quote for req after the debounce interval. Each call
// restarts the interval, so only the last input of a burst is requested.
func (e *Engine) Submit(req types.TradeRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		ticket := e.tickets.Next()
		e.mu.Unlock()
		e.apply(e.resolve(e.ctx, ticket, req))
	})
}

// Acquire requests a quote immediately, bypassing the debounce. The returned
// result is always the caller's own, even when a newer request superseded it.
func (e *Engine) Acquire(ctx context.Context, req types.TradeRequest) Result {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	ticket := e.tickets.Next()
	e.mu.Unlock()

	return e.apply(e.resolve(ctx, ticket, req))
}

// Latest returns the most recently applied result
func (e *Engine) Latest() (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latest == nil {
		return Result{}, false
	}
	return *e.latest, true
}

// Close cancels the pending debounce and marks in-flight requests stale
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.tickets.Invalidate()
	e.mu.Unlock()

	e.cancel()
}

func (e *Engine) apply(res Result) Result {
	e.notify.Lock()
	defer e.notify.Unlock()

	// the ticket check and the write share one critical section, so a newer
	// ticket cannot be issued and applied in between
	e.mu.Lock()
	if !e.tickets.IsCurrent(res.Ticket) {
		e.mu.Unlock()
		res.Stale = true
		e.metrics.IncStaleQuote()
		e.logger.Debug("dropping stale quote",
			zap.Uint64("ticket", res.Ticket),
			zap.String("request", describe(res.Request)))
		return res
	}
	stored := res
	e.latest = &stored
	listeners := append([]func(Result){}, e.listeners...)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
	return res
}

func (e *Engine) resolve(ctx context.Context, ticket uint64, req types.TradeRequest) Result {
	res := Result{Ticket: ticket, Request: req}

	if err := validate(req); err != nil {
		res.Err = err
		return res
	}
	key, err := Key(req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Key = key

	if entry, ok := e.cache.Get(key); ok {
		res.FromCache = true
		e.metrics.ObserveQuote("cache")
		if entry.Err != "" {
			e.applyCeiling(req.Route, entry.Err)
			res.Err = txerror.New(txerror.KindQuote, errors.New(entry.Err))
			return res
		}
		res.Quote = entry.Quote
		return res
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	q, err := e.fetch(reqCtx, req)
	if err != nil {
		e.metrics.ObserveQuote("error")
		// cancellation says nothing about the route, so it is not cached
		if ctx.Err() == nil {
			e.cache.Set(key, Entry{Err: err.Error()})
		}
		e.applyCeiling(req.Route, err.Error())
		if txerror.KindOf(err) == txerror.KindUnknown {
			err = txerror.New(txerror.KindQuote, err)
		}
		e.logger.Warn("quote failed", zap.String("request", describe(req)), zap.Error(err))
		res.Err = err
		return res
	}

	e.metrics.ObserveQuote("network")
	e.cache.Set(key, Entry{Quote: q, DisplayAmount: q.DestAmount})
	res.Quote = q
	return res
}

func (e *Engine) applyCeiling(route types.TradeRoute, msg string) {
	if e.ceilings == nil {
		return
	}
	if ceiling, ok := ParseLiquidityCeiling(msg); ok {
		e.ceilings.SetLiquidityCeiling(route, ceiling)
	}
}

func (e *Engine) fetch(ctx context.Context, req types.TradeRequest) (*types.Quote, error) {
	if e.backend == nil {
		return nil, fmt.Errorf("no pricing backend configured")
	}
	if req.Route.CrossChain() {
		return e.fetchBridge(ctx, req)
	}
	return e.fetchSwap(ctx, req)
}

// price returns a positive live USD price, or false when unavailable
func (e *Engine) price(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if e.prices == nil {
		return decimal.Zero, false
	}
	p, err := e.prices.PriceUSD(ctx, symbol)
	if err != nil {
		e.logger.Debug("live price unavailable", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero, false
	}
	if !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}
