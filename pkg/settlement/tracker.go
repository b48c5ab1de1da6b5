// Package settlement follows cross-chain orders until they complete or are
// refunded and exposes the manual recovery actions for stuck orders.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeflow/pkg/metrics"
	"tradeflow/pkg/types"
)

const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxAttempts  = 18

	// txHashLen is the length of a 0x-prefixed 32 byte hash; longer instant
	// refund values are pre-signed transactions
	txHashLen = 66
)

var (
	ErrUnknownOrder  = errors.New("order is not tracked")
	ErrNotRefundable = errors.New("order is not eligible for a refund")
	ErrNoDeposit     = errors.New("order has no deposit address")
)

// StatusSource returns the raw order-status payload of an order
type StatusSource interface {
	GetOrderByID(ctx context.Context, orderID string) ([]byte, error)
}

// RefundBackend serves the refund recovery action
type RefundBackend interface {
	GetRefundHash(ctx context.Context, orderID string) (string, error)
	BroadcastRefund(ctx context.Context, chain, rawTx string) (string, error)
}

// OrderStore persists pending orders across restarts
type OrderStore interface {
	Save(ctx context.Context, o *types.BridgeOrder) error
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context) ([]*types.BridgeOrder, error)
}

// Depositor performs the funds-first transfer
type Depositor interface {
	Deposit(ctx context.Context, order *types.BridgeOrder) (string, error)
}

// Notification is emitted once per observed status change
type Notification struct {
	Order    types.BridgeOrder
	Previous types.OrderStatus
}

// RefundResult is either a broadcast refund transaction or a refund
// authorization hash the user completes manually
type RefundResult struct {
	TxHash     string
	RefundHash string
}

type session struct {
	stop chan struct{}
	done chan struct{}
}

// Tracker holds the orders being settled
type Tracker struct {
	source      StatusSource
	refunds     RefundBackend
	store       OrderStore
	depositor   Depositor
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu          sync.Mutex
	orders      map[string]*types.BridgeOrder
	lastSeen    map[string]types.OrderStatus
	sessions    map[string]*session
	listeners   []func(Notification)
	onCompleted []func(types.BridgeOrder)
	onRefunded  []func(types.BridgeOrder)
}

// Option configures a Tracker
type Option func(*Tracker)

func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

func WithStore(s OrderStore) Option {
	return func(t *Tracker) { t.store = s }
}

func WithRefunds(r RefundBackend) Option {
	return func(t *Tracker) { t.refunds = r }
}

func WithDepositor(d Depositor) Option {
	return func(t *Tracker) { t.depositor = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker reading order status from source
func NewTracker(source StatusSource, opts ...Option) *Tracker {
	t := &Tracker{
		source:      source,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
		now:         time.Now,
		orders:      make(map[string]*types.BridgeOrder),
		lastSeen:    make(map[string]types.OrderStatus),
		sessions:    make(map[string]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnStatusChange registers a listener for status changes
func (t *Tracker) OnStatusChange(fn func(Notification)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// OnCompleted registers a hook run once when an order completes
func (t *Tracker) OnCompleted(fn func(types.BridgeOrder)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCompleted = append(t.onCompleted, fn)
}

// OnRefunded registers a hook run once when an order is refunded
func (t *Tracker) OnRefunded(fn func(types.BridgeOrder)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRefunded = append(t.onRefunded, fn)
}

// Track starts following order. The order's current status is the baseline
// for change notifications.
func (t *Tracker) Track(ctx context.Context, order *types.BridgeOrder) error {
	if order == nil || order.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	o := *order
	if o.Status == "" {
		o.Status = types.OrderPendingDeposit
	}
	if o.LastUpdated.IsZero() {
		o.LastUpdated = t.now()
	}
	if o.Status.IsTerminal() {
		return nil
	}

	t.mu.Lock()
	t.orders[o.OrderID] = &o
	t.lastSeen[o.OrderID] = o.Status
	t.mu.Unlock()

	t.persist(ctx, &o)
	t.logger.Info("tracking bridge order", zap.String("order", o.OrderID), zap.String("status", string(o.Status)))
	return nil
}

// StartPolling begins a poll session for orderID. It returns false when the
// order is unknown or a session is already running.
func (t *Tracker) StartPolling(ctx context.Context, orderID string) bool {
	t.mu.Lock()
	if _, ok := t.orders[orderID]; !ok {
		t.mu.Unlock()
		return false
	}
	if _, running := t.sessions[orderID]; running {
		t.mu.Unlock()
		return false
	}
	s := &session{stop: make(chan struct{}), done: make(chan struct{})}
	t.sessions[orderID] = s
	t.mu.Unlock()

	t.metrics.PollStarted()
	go t.poll(ctx, orderID, s)
	return true
}

// StopPolling ends the poll session of orderID, if any
func (t *Tracker) StopPolling(orderID string) bool {
	t.mu.Lock()
	s, ok := t.sessions[orderID]
	if ok {
		delete(t.sessions, orderID)
	}
	t.mu.Unlock()
	if ok {
		close(s.stop)
	}
	return ok
}

// HasActiveSession reports whether a poll loop is running for orderID
func (t *Tracker) HasActiveSession(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[orderID]
	return ok
}

// Wait blocks until the poll session of orderID ends or ctx is done
func (t *Tracker) Wait(ctx context.Context, orderID string) error {
	t.mu.Lock()
	s, ok := t.sessions[orderID]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) poll(ctx context.Context, orderID string, s *session) {
	log := t.logger.With(zap.String("order", orderID))
	ticker := time.NewTicker(t.interval)
	defer func() {
		ticker.Stop()
		t.mu.Lock()
		if t.sessions[orderID] == s {
			delete(t.sessions, orderID)
		}
		t.mu.Unlock()
		close(s.done)
		t.metrics.PollStopped()
	}()

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
		}

		order, err := t.PollOnce(ctx, orderID)
		if errors.Is(err, ErrUnknownOrder) {
			return
		}
		if err != nil {
			log.Warn("order status check failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if order.Status.IsTerminal() {
			return
		}
	}
	log.Info("poll session ended with order still settling; refresh to check again")
}

// PollOnce fetches the order status once and applies it
func (t *Tracker) PollOnce(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	t.mu.Lock()
	_, ok := t.orders[orderID]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownOrder
	}

	raw, err := t.source.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}
	update, ok := ParseStatus(raw)
	if !ok {
		return nil, fmt.Errorf("order %s: unrecognized status payload", orderID)
	}

	t.mu.Lock()
	o, ok := t.orders[orderID]
	if !ok {
		t.mu.Unlock()
		return nil, ErrUnknownOrder
	}
	update.apply(o)
	o.LastUpdated = t.now()
	prev := t.lastSeen[orderID]
	changed := prev != o.Status
	t.lastSeen[orderID] = o.Status
	snapshot := *o
	terminal := o.Status.IsTerminal()
	if terminal {
		delete(t.orders, orderID)
		delete(t.lastSeen, orderID)
	}
	listeners := append([]func(Notification){}, t.listeners...)
	var hooks []func(types.BridgeOrder)
	switch snapshot.Status {
	case types.OrderCompleted:
		hooks = append(hooks, t.onCompleted...)
	case types.OrderRefunded:
		hooks = append(hooks, t.onRefunded...)
	}
	t.mu.Unlock()

	if terminal {
		t.forget(ctx, orderID)
	} else {
		t.persist(ctx, &snapshot)
	}

	if changed {
		t.metrics.ObserveSettlementStatus(string(snapshot.Status))
		t.logger.Info("bridge order status changed",
			zap.String("order", orderID), zap.String("from", string(prev)), zap.String("to", string(snapshot.Status)))
		for _, fn := range listeners {
			fn(Notification{Order: snapshot, Previous: prev})
		}
	}
	if terminal {
		for _, fn := range hooks {
			fn(snapshot)
		}
	}
	return &snapshot, nil
}

// Refresh checks an order on demand. A running poll loop is authoritative, so
// while one exists the last observed state is returned without a fetch.
func (t *Tracker) Refresh(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	if t.HasActiveSession(orderID) {
		o, ok := t.Order(orderID)
		if !ok {
			return nil, ErrUnknownOrder
		}
		return &o, nil
	}
	return t.PollOnce(ctx, orderID)
}

// Order returns a copy of a tracked order
func (t *Tracker) Order(orderID string) (types.BridgeOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[orderID]
	if !ok {
		return types.BridgeOrder{}, false
	}
	return *o, true
}

// Orders returns copies of all tracked orders, oldest update first
func (t *Tracker) Orders() []types.BridgeOrder {
	t.mu.Lock()
	out := make([]types.BridgeOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].LastUpdated.Before(out[j].LastUpdated)
	})
	return out
}

// ClaimRefund broadcasts a pre-signed instant refund when one is available,
// otherwise it fetches the refund hash for the user to complete manually
func (t *Tracker) ClaimRefund(ctx context.Context, orderID string) (*RefundResult, error) {
	o, ok := t.Order(orderID)
	if !ok {
		return nil, ErrUnknownOrder
	}
	if !o.RefundEligible() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, o.Status)
	}
	if t.refunds == nil {
		return nil, fmt.Errorf("refunds are not configured")
	}

	if len(o.InstantRefund) > txHashLen {
		hash, err := t.refunds.BroadcastRefund(ctx, o.SourceChain, o.InstantRefund)
		if err != nil {
			return nil, fmt.Errorf("failed to broadcast instant refund: %w", err)
		}
		t.update(ctx, orderID, func(o *types.BridgeOrder) { o.RefundTx = hash })
		t.logger.Info("instant refund broadcast", zap.String("order", orderID), zap.String("tx_hash", hash))
		return &RefundResult{TxHash: hash}, nil
	}

	hash, err := t.refunds.GetRefundHash(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch refund hash: %w", err)
	}
	if hash == "" {
		return nil, fmt.Errorf("no refund hash available yet for order %s", orderID)
	}
	return &RefundResult{RefundHash: hash}, nil
}

// ResendDeposit re-attempts the funds-first transfer of a pending order
func (t *Tracker) ResendDeposit(ctx context.Context, orderID string) (string, error) {
	o, ok := t.Order(orderID)
	if !ok {
		return "", ErrUnknownOrder
	}
	if !o.FundsFirst() {
		return "", ErrNoDeposit
	}
	if o.Status != types.OrderPendingDeposit {
		return "", fmt.Errorf("order %s is %s; deposit already observed", orderID, o.Status)
	}
	if t.depositor == nil {
		return "", fmt.Errorf("automatic deposits are not configured; send %s to %s manually", o.DepositAmount, o.DepositAddress)
	}

	hash, err := t.depositor.Deposit(ctx, &o)
	if err != nil {
		return "", fmt.Errorf("deposit for order %s failed: %w", orderID, err)
	}
	t.update(ctx, orderID, func(o *types.BridgeOrder) { o.DepositTx = hash })
	t.logger.Info("deposit resent", zap.String("order", orderID), zap.String("tx_hash", hash))
	return hash, nil
}

// Restore re-tracks persisted pending orders without polling them and
// returns their ids. Stored terminal orders are dropped.
func (t *Tracker) Restore(ctx context.Context) ([]string, error) {
	if t.store == nil {
		return nil, nil
	}
	orders, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending orders: %w", err)
	}

	var ids []string
	for _, o := range orders {
		if o.Status.IsTerminal() {
			t.forget(ctx, o.OrderID)
			continue
		}
		if err := t.Track(ctx, o); err != nil {
			t.logger.Warn("skipping stored order", zap.String("order", o.OrderID), zap.Error(err))
			continue
		}
		ids = append(ids, o.OrderID)
	}
	return ids, nil
}

// Resume restores persisted pending orders and starts a poll session for each
func (t *Tracker) Resume(ctx context.Context) (int, error) {
	ids, err := t.Restore(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		t.StartPolling(ctx, id)
	}
	return len(ids), nil
}

func (t *Tracker) update(ctx context.Context, orderID string, fn func(*types.BridgeOrder)) {
	t.mu.Lock()
	o, ok := t.orders[orderID]
	if !ok {
		t.mu.Unlock()
		return
	}
	fn(o)
	o.LastUpdated = t.now()
	snapshot := *o
	t.mu.Unlock()
	t.persist(ctx, &snapshot)
}

func (t *Tracker) persist(ctx context.Context, o *types.BridgeOrder) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, o); err != nil {
		t.logger.Warn("failed to persist order", zap.String("order", o.OrderID), zap.Error(err))
	}
}

func (t *Tracker) forget(ctx context.Context, orderID string) {
	if t.store == nil {
		return
	}
	if err := t.store.Delete(ctx, orderID); err != nil {
		t.logger.Warn("failed to remove settled order", zap.String("order", orderID), zap.Error(err))
	}
}
