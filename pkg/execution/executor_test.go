package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/calls"
	"tradeflow/pkg/guard"
	"tradeflow/pkg/quote"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

type fixedQuotes struct {
	q   *types.Quote
	err error
}

func (f fixedQuotes) Acquire(context.Context, types.TradeRequest) quote.Result {
	return quote.Result{Quote: f.q, Err: f.err}
}

type fakeBackend struct {
	swapResp   *types.ExecuteSwapResponse
	swapErr    error
	blockSwap  bool
	bridgeResp *types.ExecuteBridgeResponse
	bridgeErr  error

	swapReq   types.ExecuteSwapRequest
	bridgeReq types.ExecuteBridgeRequest
}

func (b *fakeBackend) ExecuteSwap(ctx context.Context, req types.ExecuteSwapRequest) (*types.ExecuteSwapResponse, error) {
	b.swapReq = req
	if b.blockSwap {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.swapResp, b.swapErr
}

func (b *fakeBackend) ExecuteBridge(_ context.Context, req types.ExecuteBridgeRequest) (*types.ExecuteBridgeResponse, error) {
	b.bridgeReq = req
	return b.bridgeResp, b.bridgeErr
}

type recordingSigner struct {
	mu    sync.Mutex
	calls [][]types.OnchainCall
}

func (s *recordingSigner) InvokeCalls(_ context.Context, c []types.OnchainCall, _ calls.InvokeOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return "0xswap", nil
}

type fakeEVM struct {
	sent []types.EVMTransaction
}

func (f *fakeEVM) SendTransaction(_ context.Context, tx types.EVMTransaction) (string, error) {
	f.sent = append(f.sent, tx)
	return "0xevm", nil
}

type fakeTracker struct {
	tracked []*types.BridgeOrder
	polled  []string
}

func (f *fakeTracker) Track(_ context.Context, o *types.BridgeOrder) error {
	f.tracked = append(f.tracked, o)
	return nil
}

func (f *fakeTracker) StartPolling(_ context.Context, id string) bool {
	f.polled = append(f.polled, id)
	return true
}

type fakePrivacy struct {
	payload     *types.PrivacyPayload
	resolveErr  error
	spendErr    error
	consumed    int
	resolveReqs []types.PrivacyActionRequest
}

func (f *fakePrivacy) Resolve(_ context.Context, req types.PrivacyActionRequest) (*types.PrivacyPayload, error) {
	f.resolveReqs = append(f.resolveReqs, req)
	return f.payload, f.resolveErr
}

func (f *fakePrivacy) EnsureSpendable(context.Context) (*types.PrivacyPayload, error) {
	if f.spendErr != nil {
		return nil, f.spendErr
	}
	return f.payload, nil
}

func (f *fakePrivacy) Consume(context.Context) error {
	f.consumed++
	return nil
}

type fixedBalance struct {
	value decimal.Decimal
	err   error
}

func (f fixedBalance) Balance(context.Context, string, string) (decimal.Decimal, error) {
	return f.value, f.err
}

type fakeDepositor struct {
	err    error
	orders []*types.BridgeOrder
}

func (f *fakeDepositor) Deposit(_ context.Context, o *types.BridgeOrder) (string, error) {
	f.orders = append(f.orders, o)
	return "0xdeposit", f.err
}

func idleMachine() *Machine {
	return NewMachine(WithScheduler(func(time.Duration, func()) {}))
}

func bridgeQuote() *types.Quote {
	return &types.Quote{
		Flow:          types.FlowBridge,
		Route:         types.NewRoute("ethereum", "starknet", "ETH", "STRK"),
		SourceAmount:  decimal.RequireFromString("0.05"),
		DestAmount:    "37620",
		FeeAmount:     decimal.RequireFromString("0.0042"),
		FeeUnit:       types.FeeUnitToken,
		ProtocolFee:   decimal.RequireFromString("0.00015"),
		NetworkFee:    decimal.RequireFromString("0.00405"),
		EstimatedTime: "~12-20 min",
		Provider:      "layerswap",
		ValueUSD:      decimal.NewFromInt(150),
	}
}

func bridgeRequest() types.TradeRequest {
	return types.TradeRequest{
		Route:         types.NewRoute("ethereum", "starknet", "ETH", "STRK"),
		Amount:        "0.05",
		Slippage:      "0.5",
		Recipient:     "0x0123",
		RefundAddress: "0xabc",
	}
}

func TestExecuteBridgeCompletedImmediately(t *testing.T) {
	backend := &fakeBackend{bridgeResp: &types.ExecuteBridgeResponse{
		BridgeID:       "br_1",
		Status:         "completed",
		EVMTransaction: &types.EVMTransaction{To: "0xbridge", Value: "0xb1a2bc2ec50000"},
	}}
	evm := &fakeEVM{}
	tracker := &fakeTracker{}
	m := idleMachine()
	ex := NewExecutor(context.Background(), Deps{
		Quotes:  fixedQuotes{q: bridgeQuote()},
		Backend: backend,
		EVM:     evm,
		Tracker: tracker,
	}, Settings{}, m, nil, nil)

	out, err := ex.Execute(context.Background(), bridgeRequest())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, StateSuccess, m.State())
	assert.False(t, out.Settling)
	assert.Equal(t, "0xevm", out.TxHash)
	assert.Equal(t, types.OrderCompleted, out.Order.Status)
	assert.Equal(t, "layerswap", out.Order.Provider)
	assert.NotEmpty(t, out.AttemptID)
	assert.Len(t, evm.sent, 1)
	assert.Empty(t, tracker.tracked)
	assert.Equal(t, "0x0123", backend.bridgeReq.Recipient)
	assert.Equal(t, "STRK", backend.bridgeReq.ToToken)
}

func TestExecuteBridgeInitiatedHandsOffToSettlement(t *testing.T) {
	backend := &fakeBackend{bridgeResp: &types.ExecuteBridgeResponse{
		BridgeID:       "br_2",
		Status:         "initiated",
		Provider:       "atomiq",
		EVMTransaction: &types.EVMTransaction{To: "0xbridge"},
	}}
	tracker := &fakeTracker{}
	m := idleMachine()
	ex := NewExecutor(context.Background(), Deps{
		Quotes:  fixedQuotes{q: bridgeQuote()},
		Backend: backend,
		EVM:     &fakeEVM{},
		Tracker: tracker,
	}, Settings{}, m, nil, nil)

	out, err := ex.Execute(context.Background(), bridgeRequest())
	require.NoError(t, err)
	assert.True(t, out.Settling)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, StateIdle, m.State())
	require.Len(t, tracker.tracked, 1)
	assert.Equal(t, "atomiq", tracker.tracked[0].Provider)
	assert.Equal(t, "0xevm", tracker.tracked[0].SourceInitiateTx)
	assert.Equal(t, []string{"br_2"}, tracker.polled)
}

func TestExecuteBridgeFundsFirstDepositFailureKeepsOrder(t *testing.T) {
	backend := &fakeBackend{bridgeResp: &types.ExecuteBridgeResponse{
		BridgeID:       "br_3",
		Status:         "pending_deposit",
		DepositAddress: "0xdeposit",
		DepositAmount:  "0.05",
	}}
	depositor := &fakeDepositor{err: errors.New("insufficient funds for gas")}
	tracker := &fakeTracker{}
	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: bridgeQuote()},
		Backend:   backend,
		Depositor: depositor,
		Tracker:   tracker,
	}, Settings{}, idleMachine(), nil, nil)

	out, err := ex.Execute(context.Background(), bridgeRequest())
	require.NoError(t, err)
	assert.True(t, out.Settling)
	assert.Len(t, depositor.orders, 1)
	assert.Empty(t, out.Order.DepositTx)
	assert.Equal(t, []string{"br_3"}, tracker.polled)
}

func swapQuote() *types.Quote {
	return &types.Quote{
		Flow:        types.FlowSwap,
		Route:       types.NewRoute("starknet", "starknet", "STRK", "CAREL"),
		DestAmount:  "200",
		ProtocolFee: decimal.RequireFromString("0.03"),
		MEVFee:      decimal.RequireFromString("0.015"),
		ValueUSD:    decimal.NewFromInt(5),
		Calls: []types.OnchainCall{
			{ContractAddress: "0x0a", Entrypoint: "approve", Calldata: []string{"0x1", "0x2", "0x0"}},
			{ContractAddress: "0x0b", Entrypoint: "swap", Calldata: []string{"0x1"}},
		},
	}
}

func privateSwapRequest() types.TradeRequest {
	return types.TradeRequest{
		Route:       types.NewRoute("starknet", "starknet", "STRK", "CAREL"),
		Amount:      "10",
		Slippage:    "1",
		HideBalance: true,
	}
}

func validPayload() *types.PrivacyPayload {
	return &types.PrivacyPayload{
		Nullifier:    "0xaa",
		Commitment:   "0xbb",
		Proof:        []string{"0x1"},
		PublicInputs: []string{"0x2"},
	}
}

func TestExecutePrivateSwap(t *testing.T) {
	signer := &recordingSigner{}
	backend := &fakeBackend{swapResp: &types.ExecuteSwapResponse{
		TxHash:                "0xswap",
		ToAmount:              "199",
		EstimatedPointsEarned: "50",
	}}
	priv := &fakePrivacy{payload: validPayload()}
	q := swapQuote()

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: q},
		Privacy:   priv,
		Builder:   calls.NewBuilder(nil, nil, "0x0700", nil),
		Submitter: calls.NewSubmitter(signer, nil, nil),
		Backend:   backend,
	}, Settings{Verifier: "garaga"}, idleMachine(), nil, nil)

	out, err := ex.Execute(context.Background(), privateSwapRequest())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "0xswap", out.TxHash)
	assert.False(t, out.Optimistic)

	require.Len(t, signer.calls, 1)
	require.Len(t, signer.calls[0], 3)
	assert.Equal(t, calls.VerificationEntrypoint, signer.calls[0][1].Entrypoint)

	assert.Equal(t, "198", backend.swapReq.MinOut)
	assert.Equal(t, types.ModePrivate, backend.swapReq.Mode)
	assert.True(t, backend.swapReq.HideBalance)
	assert.Equal(t, "0xaa", backend.swapReq.Privacy.Nullifier)
	assert.Equal(t, "garaga", priv.resolveReqs[0].Verifier)
	assert.Equal(t, 1, priv.consumed)
	assert.Contains(t, out.Message, "Points earned: 50")
}

func TestExecutePrivacyFailureNeverReachesSigner(t *testing.T) {
	signer := &recordingSigner{}
	priv := &fakePrivacy{payload: validPayload(), spendErr: txerror.Newf(txerror.KindPrivacy, "mixing window still open")}
	m := idleMachine()

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: swapQuote()},
		Privacy:   priv,
		Builder:   calls.NewBuilder(nil, nil, "0x0700", nil),
		Submitter: calls.NewSubmitter(signer, nil, nil),
		Backend:   &fakeBackend{},
	}, Settings{}, m, nil, nil)

	out, err := ex.Execute(context.Background(), privateSwapRequest())
	require.Error(t, err)
	assert.Equal(t, txerror.KindPrivacy, txerror.KindOf(err))
	assert.Equal(t, StateError, out.State)
	assert.Equal(t, StateError, m.State())
	assert.Empty(t, signer.calls)
	assert.Zero(t, priv.consumed)
}

func TestExecuteOptimisticSuccessOnAckTimeout(t *testing.T) {
	signer := &recordingSigner{}
	req := privateSwapRequest()
	req.HideBalance = false

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: swapQuote()},
		Builder:   calls.NewBuilder(nil, nil, "", nil),
		Submitter: calls.NewSubmitter(signer, nil, nil),
		Backend:   &fakeBackend{blockSwap: true},
	}, Settings{AckTimeout: 20 * time.Millisecond}, idleMachine(), nil, nil)

	out, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Optimistic)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, "0xswap", out.TxHash)
}

func TestExecuteBackendRejectionFails(t *testing.T) {
	req := privateSwapRequest()
	req.HideBalance = false

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: swapQuote()},
		Builder:   calls.NewBuilder(nil, nil, "", nil),
		Submitter: calls.NewSubmitter(&recordingSigner{}, nil, nil),
		Backend:   &fakeBackend{swapErr: errors.New("slippage exceeded")},
	}, Settings{}, idleMachine(), nil, nil)

	out, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0xswap")
	assert.Equal(t, StateError, out.State)
}

func TestExecuteGuardBlocksBeforeSigning(t *testing.T) {
	signer := &recordingSigner{}
	g := guard.New()
	req := privateSwapRequest()
	req.HideBalance = false

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: swapQuote()},
		Guard:     g,
		Balances:  fixedBalance{value: decimal.NewFromInt(5)},
		Builder:   calls.NewBuilder(nil, nil, "", nil),
		Submitter: calls.NewSubmitter(signer, nil, nil),
		Backend:   &fakeBackend{},
	}, Settings{}, idleMachine(), nil, nil)

	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, txerror.KindLiquidity, txerror.KindOf(err))
	assert.Empty(t, signer.calls)
}

func TestExecuteUnknownBalanceBlocks(t *testing.T) {
	signer := &recordingSigner{}
	req := privateSwapRequest()
	req.HideBalance = false

	ex := NewExecutor(context.Background(), Deps{
		Quotes:    fixedQuotes{q: swapQuote()},
		Guard:     guard.New(),
		Balances:  fixedBalance{err: errors.New("rpc down")},
		Builder:   calls.NewBuilder(nil, nil, "", nil),
		Submitter: calls.NewSubmitter(signer, nil, nil),
		Backend:   &fakeBackend{},
	}, Settings{}, idleMachine(), nil, nil)

	_, err := ex.Execute(context.Background(), req)
	assert.ErrorIs(t, err, guard.ErrBalanceUnavailable)
	assert.Empty(t, signer.calls)
}

func TestExecuteQuoteErrorFails(t *testing.T) {
	ex := NewExecutor(context.Background(), Deps{
		Quotes: fixedQuotes{err: txerror.Newf(txerror.KindQuote, "no route")},
	}, Settings{}, idleMachine(), nil, nil)

	out, err := ex.Execute(context.Background(), bridgeRequest())
	require.Error(t, err)
	assert.Equal(t, StateError, out.State)
}

func TestExecuteRejectsWhileBusy(t *testing.T) {
	m := idleMachine()
	require.NoError(t, m.Confirm())
	ex := NewExecutor(context.Background(), Deps{Quotes: fixedQuotes{q: bridgeQuote()}}, Settings{}, m, nil, nil)

	out, err := ex.Execute(context.Background(), bridgeRequest())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Nil(t, out)
}
