package calls

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/quote"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

const router = "0x0700"

var (
	approveCall = types.OnchainCall{ContractAddress: "0x0a", Entrypoint: "approve", Calldata: []string{"0x5", "0x64", "0x0"}}
	swapCall    = types.OnchainCall{ContractAddress: "0x0b", Entrypoint: "swap", Calldata: []string{"0x1"}}
)

func payload() *types.PrivacyPayload {
	return &types.PrivacyPayload{
		Nullifier:    "0xn",
		Commitment:   "0xc",
		Proof:        []string{"0x10", "0x11"},
		PublicInputs: []string{"0x20"},
	}
}

func privateTrade() types.TradeRequest {
	return types.TradeRequest{
		Route:       types.NewRoute("starknet", "starknet", "STRK", "CAREL"),
		Amount:      "1",
		HideBalance: true,
	}
}

type stubQuotes struct {
	calls int
	res   quote.Result
}

func (s *stubQuotes) Acquire(context.Context, types.TradeRequest) quote.Result {
	s.calls++
	return s.res
}

type stubExecutor struct {
	resp *types.PrivateExecutionResponse
	err  error
	got  types.PrivateExecutionRequest
}

func (s *stubExecutor) PreparePrivateExecution(_ context.Context, req types.PrivateExecutionRequest) (*types.PrivateExecutionResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestBuildTransparentUsesQuoteCalls(t *testing.T) {
	b := NewBuilder(nil, nil, router, nil)
	q := &types.Quote{Calls: []types.OnchainCall{approveCall, swapCall}}

	plan, err := b.Build(context.Background(), Request{Trade: types.TradeRequest{Amount: "1"}, Quote: q})
	require.NoError(t, err)
	assert.Equal(t, []types.OnchainCall{approveCall, swapCall}, plan.Calls)
	assert.False(t, plan.PrivateExecutor)
}

func TestBuildRequotesWhenQuoteHasNoCalls(t *testing.T) {
	quotes := &stubQuotes{res: quote.Result{Quote: &types.Quote{Calls: []types.OnchainCall{swapCall}}}}
	b := NewBuilder(quotes, nil, router, nil)

	plan, err := b.Build(context.Background(), Request{Trade: types.TradeRequest{Amount: "1"}, Quote: &types.Quote{}})
	require.NoError(t, err)
	assert.Equal(t, 1, quotes.calls)
	assert.Equal(t, []types.OnchainCall{swapCall}, plan.Calls)

	quotes.res = quote.Result{Quote: &types.Quote{}}
	_, err = b.Build(context.Background(), Request{Trade: types.TradeRequest{Amount: "1"}})
	assert.ErrorIs(t, err, ErrNoCalls)
}

func TestBuildSplicesPrivateExecution(t *testing.T) {
	wrapped := []types.OnchainCall{
		{ContractAddress: router, Entrypoint: "execute_private_swap", Calldata: []string{"0x1", "0x2"}},
	}
	exec := &stubExecutor{resp: &types.PrivateExecutionResponse{OnchainCalls: wrapped}}
	b := NewBuilder(nil, exec, router, nil)

	plan, err := b.Build(context.Background(), Request{
		Trade:    privateTrade(),
		Quote:    &types.Quote{Calls: []types.OnchainCall{approveCall, swapCall}},
		Payload:  payload(),
		Verifier: "garaga",
	})
	require.NoError(t, err)
	assert.True(t, plan.PrivateExecutor)
	assert.Equal(t, []types.OnchainCall{approveCall, wrapped[0]}, plan.Calls)
	assert.Equal(t, swapCall, exec.got.Action)
	assert.Equal(t, "garaga", exec.got.Verifier)
}

func TestBuildFallsBackToVerificationCall(t *testing.T) {
	exec := &stubExecutor{err: errors.New("executor offline")}
	b := NewBuilder(nil, exec, router, nil)

	plan, err := b.Build(context.Background(), Request{
		Trade:   privateTrade(),
		Quote:   &types.Quote{Calls: []types.OnchainCall{approveCall, swapCall}},
		Payload: payload(),
	})
	require.NoError(t, err)
	assert.False(t, plan.PrivateExecutor)
	require.Len(t, plan.Calls, 3)
	assert.Equal(t, approveCall, plan.Calls[0])
	assert.Equal(t, VerificationEntrypoint, plan.Calls[1].Entrypoint)
	assert.Equal(t, []string{"0xn", "0xc", "0x2", "0x10", "0x11", "0x1", "0x20"}, plan.Calls[1].Calldata)
	assert.Equal(t, swapCall, plan.Calls[2])
}

func TestVerificationInsertionIsIdempotent(t *testing.T) {
	b := NewBuilder(nil, nil, router, nil)
	existing := VerificationCall("0x000700", payload())

	plan, err := b.Build(context.Background(), Request{
		Trade:   privateTrade(),
		Quote:   &types.Quote{Calls: []types.OnchainCall{existing, swapCall}},
		Payload: payload(),
	})
	require.NoError(t, err)
	assert.Equal(t, []types.OnchainCall{existing, swapCall}, plan.Calls)
}

func TestBuildPrivateRequiresPayload(t *testing.T) {
	b := NewBuilder(nil, nil, router, nil)
	_, err := b.Build(context.Background(), Request{
		Trade: privateTrade(),
		Quote: &types.Quote{Calls: []types.OnchainCall{swapCall}},
	})
	assert.Equal(t, txerror.KindPrivacy, txerror.KindOf(err))
}

type scriptedSigner struct {
	results []error
	seen    [][]types.OnchainCall
	opts    []InvokeOptions
}

func (s *scriptedSigner) InvokeCalls(_ context.Context, calls []types.OnchainCall, opts InvokeOptions) (string, error) {
	i := len(s.seen)
	s.seen = append(s.seen, calls)
	s.opts = append(s.opts, opts)
	if i < len(s.results) && s.results[i] != nil {
		return "", s.results[i]
	}
	return "0xhash" + string(rune('0'+i)), nil
}

func TestSubmitSucceedsFirstTime(t *testing.T) {
	signer := &scriptedSigner{}
	sub, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{swapCall}, "argent")
	require.NoError(t, err)
	assert.Equal(t, "0xhash0", sub.TxHash)
	assert.False(t, sub.Retried)
	assert.Equal(t, "argent", signer.opts[0].ProviderHint)
}

func TestSubmitSplitsApprovalOnAllowanceError(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("ERC20: insufficient allowance")}}
	sub, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{approveCall, swapCall}, "")
	require.NoError(t, err)

	require.Len(t, signer.seen, 3)
	assert.Equal(t, []types.OnchainCall{approveCall}, signer.seen[1])
	assert.Equal(t, []types.OnchainCall{swapCall}, signer.seen[2])
	assert.Equal(t, "0xhash1", sub.ApprovalTxHash)
	assert.Equal(t, "0xhash2", sub.TxHash)
	assert.Equal(t, txerror.KindInsufficientAllowance, sub.RetryKind)
}

func TestSubmitRefreshesValidityOnInvalidSignature(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("invalid signature")}}
	sub, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{swapCall}, "")
	require.NoError(t, err)
	assert.True(t, sub.Retried)
	require.Len(t, signer.opts, 2)
	assert.False(t, signer.opts[0].RefreshValidity)
	assert.True(t, signer.opts[1].RefreshValidity)
}

func TestSubmitSplitsMulticallOnEntrypointNotFound(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("ENTRYPOINT_NOT_FOUND")}}
	sub, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{approveCall, swapCall}, "")
	require.NoError(t, err)
	require.Len(t, signer.seen, 3)
	assert.Len(t, signer.seen[1], 1)
	assert.Len(t, signer.seen[2], 1)
	assert.Equal(t, "0xhash2", sub.TxHash)
}

func TestSubmitStopsOnUserRejection(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("User rejected the request")}}
	_, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{approveCall, swapCall}, "")
	require.Error(t, err)
	assert.Equal(t, txerror.KindUserRejected, txerror.KindOf(err))
	assert.Len(t, signer.seen, 1)
}

func TestSubmitRetriesAtMostOnce(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("invalid signature"), errors.New("invalid signature")}}
	_, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{swapCall}, "")
	require.Error(t, err)
	assert.Len(t, signer.seen, 2)
	assert.Equal(t, txerror.KindInvalidSignature, txerror.KindOf(err))
}

func TestSubmitAllowanceWithoutApprovalIsNotRetried(t *testing.T) {
	signer := &scriptedSigner{results: []error{errors.New("insufficient allowance")}}
	_, err := NewSubmitter(signer, nil, nil).Submit(context.Background(), []types.OnchainCall{swapCall}, "")
	require.Error(t, err)
	assert.Len(t, signer.seen, 1)
}
