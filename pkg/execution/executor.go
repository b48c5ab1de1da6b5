// Package execution drives a single trade attempt from quote to finalized
// submission and hands cross-chain orders to settlement tracking.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/calls"
	"tradeflow/pkg/fees"
	"tradeflow/pkg/metrics"
	"tradeflow/pkg/quote"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// DefaultAckTimeout bounds the wait for the backend to acknowledge a signed swap
const DefaultAckTimeout = 45 * time.Second

// QuoteAcquirer returns an authoritative quote
type QuoteAcquirer interface {
	Acquire(ctx context.Context, req types.TradeRequest) quote.Result
}

// LimitGuard enforces balance and liquidity limits
type LimitGuard interface {
	UpdateBalance(chain, token string, value decimal.Decimal)
	MarkBalanceUnavailable(chain, token string)
	Check(route types.TradeRoute, value string) error
	CheckLiquidity(route types.TradeRoute, value string) error
}

// BalanceSource reads a live wallet balance
type BalanceSource interface {
	Balance(ctx context.Context, chain, token string) (decimal.Decimal, error)
}

// PrivacyResolver provides the payload for balance-hiding swaps
type PrivacyResolver interface {
	Resolve(ctx context.Context, req types.PrivacyActionRequest) (*types.PrivacyPayload, error)
	EnsureSpendable(ctx context.Context) (*types.PrivacyPayload, error)
	Consume(ctx context.Context) error
}

// CallBuilder assembles the calls of a swap
type CallBuilder interface {
	Build(ctx context.Context, req calls.Request) (*calls.Plan, error)
}

// CallSubmitter sends calls through the wallet
type CallSubmitter interface {
	Submit(ctx context.Context, calls []types.OnchainCall, hint string) (*calls.Submission, error)
}

// Backend finalizes swaps and opens bridge orders
type Backend interface {
	ExecuteSwap(ctx context.Context, req types.ExecuteSwapRequest) (*types.ExecuteSwapResponse, error)
	ExecuteBridge(ctx context.Context, req types.ExecuteBridgeRequest) (*types.ExecuteBridgeResponse, error)
}

// EVMSender signs and broadcasts an EVM transaction descriptor
type EVMSender interface {
	SendTransaction(ctx context.Context, tx types.EVMTransaction) (string, error)
}

// Depositor performs the funds-first transfer to a deposit address
type Depositor interface {
	Deposit(ctx context.Context, order *types.BridgeOrder) (string, error)
}

// Tracker follows a bridge order to a terminal state
type Tracker interface {
	Track(ctx context.Context, order *types.BridgeOrder) error
	StartPolling(ctx context.Context, orderID string) bool
}

// Outcome reports what an Execute call did
type Outcome struct {
	AttemptID  string
	Flow       types.FlowKind
	State      State
	Settling   bool
	Optimistic bool
	Quote      *types.Quote
	Fees       fees.Breakdown
	TxHash     string
	Submission *calls.Submission
	Swap       *types.ExecuteSwapResponse
	Order      *types.BridgeOrder
	Message    string
}

// Deps are the collaborators of an Executor. Balances, Privacy, EVM,
// Depositor and Tracker are optional.
type Deps struct {
	Quotes    QuoteAcquirer
	Guard     LimitGuard
	Balances  BalanceSource
	Privacy   PrivacyResolver
	Builder   CallBuilder
	Submitter CallSubmitter
	Backend   Backend
	EVM       EVMSender
	Depositor Depositor
	Tracker   Tracker
}

// Settings tune an Executor
type Settings struct {
	DiscountRate    decimal.Decimal
	StakeMultiplier decimal.Decimal
	AckTimeout      time.Duration
	ProviderHint    string
	Verifier        string
}

// Executor runs trade attempts through the state machine
type Executor struct {
	deps     Deps
	settings Settings
	machine  *Machine
	logger   *zap.Logger
	metrics  *metrics.Metrics
	pollCtx  context.Context
	now      func() time.Time
}

// NewExecutor creates an executor. pollCtx scopes settlement poll loops,
// which outlive a single Execute call.
func NewExecutor(pollCtx context.Context, deps Deps, settings Settings, machine *Machine, logger *zap.Logger, m *metrics.Metrics) *Executor {
	if machine == nil {
		machine = NewMachine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollCtx == nil {
		pollCtx = context.Background()
	}
	if settings.AckTimeout <= 0 {
		settings.AckTimeout = DefaultAckTimeout
	}
	return &Executor{
		deps:     deps,
		settings: settings,
		machine:  machine,
		logger:   logger,
		metrics:  m,
		pollCtx:  pollCtx,
		now:      time.Now,
	}
}

// Machine exposes the state machine for observers
func (e *Executor) Machine() *Machine {
	return e.machine
}

// Execute runs one trade attempt. The returned outcome is non-nil whenever
// the attempt got past confirmation, including failed attempts.
func (e *Executor) Execute(ctx context.Context, req types.TradeRequest) (*Outcome, error) {
	if err := e.machine.Confirm(); err != nil {
		return nil, err
	}
	out := &Outcome{AttemptID: uuid.NewString(), Flow: req.Route.Flow}
	log := e.logger.With(zap.String("attempt", out.AttemptID), zap.String("route", req.Route.String()))

	if err := e.machine.Process(); err != nil {
		return nil, err
	}

	err := e.run(ctx, log, req, out)
	if err != nil {
		_ = e.machine.Fail()
		out.State = StateError
		e.metrics.ObserveExecution(string(out.Flow), string(StateError))
		log.Warn("trade failed", zap.String("kind", string(txerror.KindOf(err))), zap.Error(err))
		return out, err
	}

	switch {
	case out.Settling:
		_ = e.machine.Settle()
		out.State = StateIdle
		e.metrics.ObserveExecution(string(out.Flow), "settling")
	default:
		_ = e.machine.Succeed()
		out.State = StateSuccess
		outcome := "success"
		if out.Optimistic {
			outcome = "optimistic"
		}
		e.metrics.ObserveExecution(string(out.Flow), outcome)
	}
	log.Info("trade finished", zap.String("state", string(out.State)), zap.String("tx_hash", out.TxHash))
	return out, nil
}

func (e *Executor) run(ctx context.Context, log *zap.Logger, req types.TradeRequest, out *Outcome) error {
	res := e.deps.Quotes.Acquire(ctx, req)
	if res.Err != nil {
		return res.Err
	}
	out.Quote = res.Quote
	out.Fees = fees.Calculate(res.Quote, e.settings.DiscountRate, e.settings.StakeMultiplier)

	if err := e.checkLimits(ctx, req); err != nil {
		return err
	}

	if req.Route.CrossChain() {
		return e.runBridge(ctx, log, req, out)
	}
	return e.runSwap(ctx, log, req, out)
}

func (e *Executor) checkLimits(ctx context.Context, req types.TradeRequest) error {
	if e.deps.Guard == nil {
		return nil
	}
	route := req.Route
	if e.deps.Balances == nil {
		return e.deps.Guard.CheckLiquidity(route, req.Amount)
	}
	bal, err := e.deps.Balances.Balance(ctx, route.SourceChain, route.SourceToken)
	if err != nil {
		e.logger.Warn("balance refresh failed, using last known balance",
			zap.String("chain", route.SourceChain), zap.String("token", route.SourceToken), zap.Error(err))
		e.deps.Guard.MarkBalanceUnavailable(route.SourceChain, route.SourceToken)
	} else {
		e.deps.Guard.UpdateBalance(route.SourceChain, route.SourceToken, bal)
	}
	return e.deps.Guard.Check(route, req.Amount)
}

func (e *Executor) runSwap(ctx context.Context, log *zap.Logger, req types.TradeRequest, out *Outcome) error {
	var payload *types.PrivacyPayload
	if req.HideBalance {
		p, err := e.preparePrivacy(ctx, req)
		if err != nil {
			return err
		}
		payload = p
	}

	if e.deps.Builder == nil || e.deps.Submitter == nil {
		return fmt.Errorf("no wallet signer configured for %s", req.Route.SourceChain)
	}
	plan, err := e.deps.Builder.Build(ctx, calls.Request{
		Trade:    req,
		Quote:    out.Quote,
		Payload:  payload,
		Verifier: e.settings.Verifier,
	})
	if err != nil {
		return err
	}
	if plan.Payload != nil {
		payload = plan.Payload
	}

	sub, err := e.deps.Submitter.Submit(ctx, plan.Calls, e.settings.ProviderHint)
	if err != nil {
		return err
	}
	out.Submission = sub
	out.TxHash = sub.TxHash
	log.Info("swap submitted", zap.String("tx_hash", sub.TxHash), zap.Bool("private_executor", plan.PrivateExecutor))

	ackCtx, cancel := context.WithTimeout(ctx, e.settings.AckTimeout)
	defer cancel()

	resp, err := e.deps.Backend.ExecuteSwap(ackCtx, types.ExecuteSwapRequest{
		FromToken:   req.Route.SourceToken,
		ToToken:     req.Route.DestToken,
		Amount:      req.Amount,
		MinOut:      minOut(out.Quote, req),
		Slippage:    req.Slippage,
		Mode:        req.Mode(),
		TxHash:      sub.TxHash,
		Recipient:   req.Recipient,
		HideBalance: req.HideBalance,
		Privacy:     payload,
	})
	switch {
	case err == nil:
		out.Swap = resp
		out.Message = fees.Reconcile(out.Fees, resp)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// the transaction is already on chain; reporting failure would invite a resubmit
		out.Optimistic = true
		out.Message = fees.Reconcile(out.Fees, nil)
		log.Warn("backend acknowledgment timed out, treating submitted swap as successful",
			zap.String("tx_hash", sub.TxHash), zap.Duration("timeout", e.settings.AckTimeout))
	default:
		return fmt.Errorf("swap %s submitted but finalize failed: %w", sub.TxHash, err)
	}

	if req.HideBalance && e.deps.Privacy != nil {
		if err := e.deps.Privacy.Consume(ctx); err != nil {
			log.Warn("failed to invalidate spent privacy payload", zap.Error(err))
		}
	}
	return nil
}

// preparePrivacy resolves and checks the payload before any signature is requested
func (e *Executor) preparePrivacy(ctx context.Context, req types.TradeRequest) (*types.PrivacyPayload, error) {
	if e.deps.Privacy == nil {
		return nil, txerror.Newf(txerror.KindPrivacy, "balance hiding is not available")
	}
	_, err := e.deps.Privacy.Resolve(ctx, types.PrivacyActionRequest{
		Verifier:     e.settings.Verifier,
		FromToken:    req.Route.SourceToken,
		ToToken:      req.Route.DestToken,
		Amount:       req.Amount,
		Recipient:    req.Recipient,
		Denomination: req.Denomination,
	})
	if err != nil {
		return nil, err
	}
	return e.deps.Privacy.EnsureSpendable(ctx)
}

func minOut(q *types.Quote, req types.TradeRequest) string {
	if q == nil {
		return ""
	}
	out, ok := amount.Parse(q.DestAmount)
	if !ok {
		return ""
	}
	slip, ok := amount.Parse(req.Slippage)
	if !ok {
		slip, _ = amount.Parse(quote.DefaultSlippage)
	}
	keep := decimal.NewFromInt(1).Sub(slip.Div(decimal.NewFromInt(100)))
	return out.Mul(keep).Truncate(types.TokenDecimals(req.Route.DestToken)).String()
}

func (e *Executor) runBridge(ctx context.Context, log *zap.Logger, req types.TradeRequest, out *Outcome) error {
	if req.HideBalance {
		log.Warn("balance hiding is not applied to bridges")
	}

	resp, err := e.deps.Backend.ExecuteBridge(ctx, types.ExecuteBridgeRequest{
		FromChain:     req.Route.SourceChain,
		ToChain:       req.Route.DestChain,
		Token:         req.Route.SourceToken,
		ToToken:       req.Route.DestToken,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		RefundAddress: req.RefundAddress,
	})
	if err != nil {
		return txerror.Classify(fmt.Errorf("bridge execution failed: %w", err))
	}
	if resp == nil || resp.BridgeID == "" {
		return fmt.Errorf("bridge execution returned no order id")
	}

	provider := resp.Provider
	if provider == "" && out.Quote != nil {
		provider = out.Quote.Provider
	}
	order := &types.BridgeOrder{
		OrderID:        resp.BridgeID,
		Provider:       provider,
		SourceChain:    req.Route.SourceChain,
		SourceToken:    req.Route.SourceToken,
		DestChain:      req.Route.DestChain,
		DestToken:      req.Route.DestToken,
		DepositAddress: resp.DepositAddress,
		DepositAmount:  resp.DepositAmount,
		Status:         types.ParseOrderStatus(resp.Status),
		LastUpdated:    e.now(),
	}
	out.Order = order

	if err := e.signBridge(ctx, log, resp, order); err != nil {
		return err
	}
	out.TxHash = order.SourceInitiateTx
	if out.TxHash == "" {
		out.TxHash = order.DepositTx
	}

	if order.Status == types.OrderCompleted {
		return nil
	}

	out.Settling = true
	if e.deps.Tracker != nil {
		if err := e.deps.Tracker.Track(ctx, order); err != nil {
			log.Warn("failed to track bridge order", zap.String("order", order.OrderID), zap.Error(err))
		}
		e.deps.Tracker.StartPolling(e.pollCtx, order.OrderID)
	}
	return nil
}

// signBridge signs whatever the backend returned for the source leg
func (e *Executor) signBridge(ctx context.Context, log *zap.Logger, resp *types.ExecuteBridgeResponse, order *types.BridgeOrder) error {
	switch {
	case resp.EVMTransaction != nil:
		if e.deps.EVM == nil {
			return fmt.Errorf("no EVM signer configured")
		}
		hash, err := e.deps.EVM.SendTransaction(ctx, *resp.EVMTransaction)
		if err != nil {
			return txerror.Classify(fmt.Errorf("source transaction failed: %w", err))
		}
		order.SourceInitiateTx = hash

	case len(resp.StarknetCalls) > 0:
		if e.deps.Submitter == nil {
			return fmt.Errorf("no Starknet signer configured")
		}
		sub, err := e.deps.Submitter.Submit(ctx, resp.StarknetCalls, e.settings.ProviderHint)
		if err != nil {
			return err
		}
		order.SourceInitiateTx = sub.TxHash

	case order.FundsFirst():
		if e.deps.Depositor == nil {
			log.Info("deposit required", zap.String("address", order.DepositAddress), zap.String("amount", order.DepositAmount))
			return nil
		}
		hash, err := e.deps.Depositor.Deposit(ctx, order)
		if err != nil {
			// the order stays open; the user can resend the deposit
			log.Warn("automatic deposit failed", zap.String("order", order.OrderID), zap.Error(err))
			return nil
		}
		order.DepositTx = hash
	}
	return nil
}
