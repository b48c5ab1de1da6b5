package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/store"
	"tradeflow/pkg/types"
)

type scriptedSource struct {
	mu       sync.Mutex
	payloads []string
	calls    int
	err      error
}

func (s *scriptedSource) GetOrderByID(context.Context, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.payloads) {
		i = len(s.payloads) - 1
	}
	return []byte(s.payloads[i]), nil
}

func (s *scriptedSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRefunds struct {
	hash      string
	broadcast []string
}

func (f *fakeRefunds) GetRefundHash(context.Context, string) (string, error) {
	return f.hash, nil
}

func (f *fakeRefunds) BroadcastRefund(_ context.Context, chain, raw string) (string, error) {
	f.broadcast = append(f.broadcast, chain+":"+raw)
	return "0xrefund", nil
}

type fakeDepositor struct {
	calls int
}

func (f *fakeDepositor) Deposit(context.Context, *types.BridgeOrder) (string, error) {
	f.calls++
	return "0xdep", nil
}

func newOrderStore(t *testing.T) *store.OrderStore {
	t.Helper()
	kv, err := store.NewMemLevelKV()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return store.NewOrderStore(kv, nil)
}

func order(id string, status types.OrderStatus) *types.BridgeOrder {
	return &types.BridgeOrder{
		OrderID:     id,
		SourceChain: types.ChainEthereum,
		SourceToken: "ETH",
		DestChain:   types.ChainStarknet,
		Status:      status,
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		want    types.OrderStatus
	}{
		{"flat", `{"status":"completed"}`, true, types.OrderCompleted},
		{"api envelope", `{"success":true,"data":{"status":"in_progress"}}`, true, types.OrderProcessing},
		{"nested order", `{"data":{"order":{"status":"Refunded"}}}`, true, types.OrderRefunded},
		{"derived redeem", `{"data":{"source_swap":{"initiate_tx_hash":"0x1"},"destination_swap":{"redeem_tx_hash":"0x2"}}}`, true, types.OrderCompleted},
		{"derived refund", `{"source_swap":{"initiate_tx_hash":"0x1","refund_tx_hash":"0x3"}}`, true, types.OrderRefunded},
		{"derived initiate", `{"result":{"source_swap":{"initiate_tx_hash":"0x1"}}}`, true, types.OrderInitiated},
		{"bridge status", `{"success":true,"data":{"bridge_id":"b1","status":"submitted_onchain","is_completed":false}}`, true, types.OrderInitiated},
		{"bridge completed flag", `{"data":{"bridge_id":"b1","status":"submitted_onchain","is_completed":true}}`, true, types.OrderCompleted},
		{"empty", `{"data":{}}`, false, ""},
		{"invalid", `not json`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := ParseStatus([]byte(tt.payload))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, u.Status)
		})
	}
}

func TestParseStatusReadsTransactions(t *testing.T) {
	u, ok := ParseStatus([]byte(`{"data":{"status":"processing","source_swap":{"initiate_tx_hash":"0xa"},"destination_swap":{"initiate_tx_hash":"0xb"},"instant_refund_tx":"0xc"}}`))
	require.True(t, ok)
	assert.Equal(t, "0xa", u.SourceInitiateTx)
	assert.Equal(t, "0xb", u.DestinationInitiate)
	assert.Equal(t, "0xc", u.InstantRefund)
}

func TestPollOnceNotifiesOncePerChange(t *testing.T) {
	src := &scriptedSource{payloads: []string{
		`{"status":"processing"}`,
		`{"status":"processing"}`,
		`{"status":"completed","destination_swap":{"redeem_tx_hash":"0xdone"}}`,
	}}
	orders := newOrderStore(t)
	tr := NewTracker(src, WithStore(orders))

	var notes []Notification
	tr.OnStatusChange(func(n Notification) { notes = append(notes, n) })
	var completed []types.BridgeOrder
	tr.OnCompleted(func(o types.BridgeOrder) { completed = append(completed, o) })

	ctx := context.Background()
	require.NoError(t, tr.Track(ctx, order("o1", types.OrderInitiated)))
	stored, err := orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	for i := 0; i < 3; i++ {
		_, err := tr.PollOnce(ctx, "o1")
		require.NoError(t, err)
	}

	require.Len(t, notes, 2)
	assert.Equal(t, types.OrderInitiated, notes[0].Previous)
	assert.Equal(t, types.OrderProcessing, notes[0].Order.Status)
	assert.Equal(t, types.OrderCompleted, notes[1].Order.Status)

	require.Len(t, completed, 1)
	assert.Equal(t, "0xdone", completed[0].DestinationRedeemTx)

	_, ok := tr.Order("o1")
	assert.False(t, ok)
	stored, err = orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = tr.PollOnce(ctx, "o1")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestRefundedRunsRefundHook(t *testing.T) {
	src := &scriptedSource{payloads: []string{`{"status":"refunded"}`}}
	tr := NewTracker(src)
	refunded := 0
	tr.OnRefunded(func(types.BridgeOrder) { refunded++ })

	require.NoError(t, tr.Track(context.Background(), order("o1", types.OrderProcessing)))
	_, err := tr.PollOnce(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, refunded)
	assert.Empty(t, tr.Orders())
}

func TestSinglePollerPerOrder(t *testing.T) {
	src := &scriptedSource{payloads: []string{`{"status":"processing"}`, `{"status":"completed"}`}}
	tr := NewTracker(src, WithInterval(time.Millisecond))
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, order("o1", types.OrderInitiated)))
	assert.True(t, tr.StartPolling(ctx, "o1"))
	assert.False(t, tr.StartPolling(ctx, "o1"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(waitCtx, "o1"))

	assert.False(t, tr.HasActiveSession("o1"))
	assert.Equal(t, 2, src.count())
	assert.False(t, tr.StartPolling(ctx, "o1"))
}

func TestPollSessionIsBounded(t *testing.T) {
	src := &scriptedSource{payloads: []string{`{"status":"processing"}`}}
	tr := NewTracker(src, WithInterval(time.Millisecond), WithMaxAttempts(3))
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, order("o1", types.OrderInitiated)))
	require.True(t, tr.StartPolling(ctx, "o1"))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(waitCtx, "o1"))

	assert.Equal(t, 3, src.count())
	o, ok := tr.Order("o1")
	require.True(t, ok)
	assert.Equal(t, types.OrderProcessing, o.Status)
	assert.True(t, tr.StartPolling(ctx, "o1"))
	tr.StopPolling("o1")
}

func TestPollErrorsDoNotEndSession(t *testing.T) {
	src := &scriptedSource{err: errors.New("gateway timeout")}
	tr := NewTracker(src, WithInterval(time.Millisecond), WithMaxAttempts(4))
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, order("o1", types.OrderInitiated)))
	require.True(t, tr.StartPolling(ctx, "o1"))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Wait(waitCtx, "o1"))
	assert.Equal(t, 4, src.count())
}

func TestRefreshDefersToRunningLoop(t *testing.T) {
	src := &scriptedSource{payloads: []string{`{"status":"processing"}`}}
	tr := NewTracker(src, WithInterval(time.Hour))
	ctx := context.Background()

	require.NoError(t, tr.Track(ctx, order("o1", types.OrderInitiated)))
	require.True(t, tr.StartPolling(ctx, "o1"))
	defer tr.StopPolling("o1")

	o, err := tr.Refresh(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderInitiated, o.Status)
	assert.Zero(t, src.count())

	tr.StopPolling("o1")
	o, err = tr.Refresh(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderProcessing, o.Status)
	assert.Equal(t, 1, src.count())
}

func TestClaimRefund(t *testing.T) {
	ctx := context.Background()
	refunds := &fakeRefunds{hash: "0xauth"}
	tr := NewTracker(&scriptedSource{}, WithRefunds(refunds))

	require.NoError(t, tr.Track(ctx, order("pending", types.OrderProcessing)))
	_, err := tr.ClaimRefund(ctx, "pending")
	assert.ErrorIs(t, err, ErrNotRefundable)

	require.NoError(t, tr.Track(ctx, order("expired", types.OrderExpired)))
	res, err := tr.ClaimRefund(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, "0xauth", res.RefundHash)
	assert.Empty(t, refunds.broadcast)

	raw := "0x" + strings.Repeat("ab", 120)
	instant := order("instant", types.OrderProcessing)
	instant.InstantRefund = raw
	require.NoError(t, tr.Track(ctx, instant))
	res, err = tr.ClaimRefund(ctx, "instant")
	require.NoError(t, err)
	assert.Equal(t, "0xrefund", res.TxHash)
	assert.Equal(t, []string{"ethereum:" + raw}, refunds.broadcast)

	o, _ := tr.Order("instant")
	assert.Equal(t, "0xrefund", o.RefundTx)

	_, err = tr.ClaimRefund(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestResendDeposit(t *testing.T) {
	ctx := context.Background()
	dep := &fakeDepositor{}
	tr := NewTracker(&scriptedSource{}, WithDepositor(dep))

	require.NoError(t, tr.Track(ctx, order("no-address", types.OrderPendingDeposit)))
	_, err := tr.ResendDeposit(ctx, "no-address")
	assert.ErrorIs(t, err, ErrNoDeposit)

	o := order("funds-first", types.OrderPendingDeposit)
	o.DepositAddress = "0xdeposit"
	o.DepositAmount = "50000000000000000"
	require.NoError(t, tr.Track(ctx, o))

	hash, err := tr.ResendDeposit(ctx, "funds-first")
	require.NoError(t, err)
	assert.Equal(t, "0xdep", hash)
	assert.Equal(t, 1, dep.calls)

	got, _ := tr.Order("funds-first")
	assert.Equal(t, "0xdep", got.DepositTx)
}

func TestResumeFromStore(t *testing.T) {
	ctx := context.Background()
	orders := newOrderStore(t)
	require.NoError(t, orders.Save(ctx, order("live", types.OrderProcessing)))
	require.NoError(t, orders.Save(ctx, order("done", types.OrderCompleted)))

	tr := NewTracker(&scriptedSource{payloads: []string{`{"status":"processing"}`}},
		WithStore(orders), WithInterval(time.Hour))

	n, err := tr.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, tr.HasActiveSession("live"))
	tr.StopPolling("live")

	stored, err := orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "live", stored[0].OrderID)
}

func TestRestoreDoesNotPoll(t *testing.T) {
	ctx := context.Background()
	orders := newOrderStore(t)
	require.NoError(t, orders.Save(ctx, order("pending", types.OrderPendingDeposit)))

	src := &scriptedSource{payloads: []string{`{"status":"processing"}`}}
	tr := NewTracker(src, WithStore(orders), WithInterval(time.Millisecond))

	ids, err := tr.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pending"}, ids)
	assert.False(t, tr.HasActiveSession("pending"))
	assert.Equal(t, 0, src.count())

	o, ok := tr.Order("pending")
	require.True(t, ok)
	assert.Equal(t, types.OrderPendingDeposit, o.Status)
}
