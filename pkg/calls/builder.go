// Package calls assembles the ordered contract calls for a trade and submits
// them through a wallet signer with a structured retry policy.
package calls

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tradeflow/pkg/quote"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// VerificationEntrypoint is the privacy router entrypoint that checks a proof
const VerificationEntrypoint = "submit_private_action"

var ErrNoCalls = errors.New("quote carries no executable calls")

// QuoteSource re-acquires a quote when the cached one has no calls
type QuoteSource interface {
	Acquire(ctx context.Context, req types.TradeRequest) quote.Result
}

// PrivateExecutor wraps a swap action inside the private execution flow
type PrivateExecutor interface {
	PreparePrivateExecution(ctx context.Context, req types.PrivateExecutionRequest) (*types.PrivateExecutionResponse, error)
}

// Request is what the builder needs to assemble a trade's calls
type Request struct {
	Trade    types.TradeRequest
	Quote    *types.Quote
	Payload  *types.PrivacyPayload
	Verifier string
}

// Plan is the assembled call list
type Plan struct {
	Calls           []types.OnchainCall
	PrivateExecutor bool
	Payload         *types.PrivacyPayload
}

// Builder assembles call plans
type Builder struct {
	quotes        QuoteSource
	executor      PrivateExecutor
	privacyRouter string
	logger        *zap.Logger
}

// NewBuilder creates a builder. privacyRouter is the contract receiving
// standalone verification calls.
func NewBuilder(quotes QuoteSource, executor PrivateExecutor, privacyRouter string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		quotes:        quotes,
		executor:      executor,
		privacyRouter: privacyRouter,
		logger:        logger,
	}
}

// Build returns the ordered calls for req
func (b *Builder) Build(ctx context.Context, req Request) (*Plan, error) {
	base, err := b.baseCalls(ctx, req)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Calls: base, Payload: req.Payload}

	if !req.Trade.HideBalance || req.Trade.Route.CrossChain() {
		return plan, nil
	}
	if req.Payload == nil {
		return nil, txerror.Newf(txerror.KindPrivacy, "balance hiding requested without a privacy payload")
	}

	idx := actionIndex(base)
	spliced, payload, err := b.privateExecution(ctx, req, base, idx)
	if err == nil {
		plan.Calls = spliced
		plan.PrivateExecutor = true
		if payload != nil {
			plan.Payload = payload
		}
		return plan, nil
	}
	b.logger.Warn("private executor unavailable, falling back to verification call", zap.Error(err))

	calls, err := b.withVerification(base, idx, req.Payload)
	if err != nil {
		return nil, err
	}
	plan.Calls = calls
	return plan, nil
}

func (b *Builder) baseCalls(ctx context.Context, req Request) ([]types.OnchainCall, error) {
	q := req.Quote
	if !q.HasCalls() {
		if b.quotes == nil {
			return nil, txerror.New(txerror.KindQuote, ErrNoCalls)
		}
		res := b.quotes.Acquire(ctx, req.Trade)
		if res.Err != nil {
			return nil, res.Err
		}
		q = res.Quote
	}
	if !q.HasCalls() {
		return nil, txerror.New(txerror.KindQuote, ErrNoCalls)
	}
	return append([]types.OnchainCall(nil), q.Calls...), nil
}

// actionIndex locates the swap action: the first call that is not an approval
func actionIndex(calls []types.OnchainCall) int {
	for i, c := range calls {
		if !c.IsApproval() {
			return i
		}
	}
	return len(calls) - 1
}

func (b *Builder) privateExecution(ctx context.Context, req Request, base []types.OnchainCall, idx int) ([]types.OnchainCall, *types.PrivacyPayload, error) {
	if b.executor == nil {
		return nil, nil, fmt.Errorf("no private executor configured")
	}
	resp, err := b.executor.PreparePrivateExecution(ctx, types.PrivateExecutionRequest{
		Verifier: req.Verifier,
		Payload:  req.Payload,
		Action:   base[idx],
		Amount:   req.Trade.Amount,
	})
	if err != nil {
		return nil, nil, err
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("empty private execution response")
	}
	if err := types.ValidateCalls(resp.OnchainCalls); err != nil {
		return nil, nil, fmt.Errorf("private execution returned invalid calls: %w", err)
	}

	out := make([]types.OnchainCall, 0, len(base)-1+len(resp.OnchainCalls))
	out = append(out, base[:idx]...)
	out = append(out, resp.OnchainCalls...)
	out = append(out, base[idx+1:]...)
	return out, resp.Payload, nil
}

// withVerification inserts a verification call ahead of the action unless an
// equivalent call is already present
func (b *Builder) withVerification(base []types.OnchainCall, idx int, p *types.PrivacyPayload) ([]types.OnchainCall, error) {
	if b.privacyRouter == "" {
		return nil, txerror.Newf(txerror.KindPrivacy, "privacy router address is not configured")
	}
	verify := VerificationCall(b.privacyRouter, p)
	for _, c := range base {
		if c.SameTarget(verify) {
			return base, nil
		}
	}

	out := make([]types.OnchainCall, 0, len(base)+1)
	out = append(out, base[:idx]...)
	out = append(out, verify)
	out = append(out, base[idx:]...)
	return out, nil
}

// VerificationCall builds the standalone proof verification call. Calldata is
// nullifier, commitment, then the length-prefixed proof and public inputs.
func VerificationCall(router string, p *types.PrivacyPayload) types.OnchainCall {
	data := []string{p.Nullifier, p.Commitment}
	data = append(data, fmt.Sprintf("0x%x", len(p.Proof)))
	data = append(data, p.Proof...)
	data = append(data, fmt.Sprintf("0x%x", len(p.PublicInputs)))
	data = append(data, p.PublicInputs...)
	return types.OnchainCall{
		ContractAddress: router,
		Entrypoint:      VerificationEntrypoint,
		Calldata:        data,
	}
}
