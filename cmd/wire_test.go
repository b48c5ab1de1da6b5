package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradeflow/config"
	"tradeflow/pkg/calls"
	"tradeflow/pkg/guard"
	"tradeflow/pkg/quote"
	"tradeflow/pkg/store"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

func TestExecutionSettings(t *testing.T) {
	cfg := &config.Config{
		Fees:      config.FeesConfig{NFTTier: "gold", StakedCarel: "1500"},
		Wallet:    config.WalletConfig{ProviderHint: "braavos"},
		Privacy:   config.PrivacyConfig{Verifier: "tongo"},
		Execution: config.ExecutionConfig{AckTimeout: 30},
	}

	s, err := executionSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "0.25", s.DiscountRate.String())
	assert.Equal(t, "3", s.StakeMultiplier.String())
	assert.Equal(t, "braavos", s.ProviderHint)
	assert.Equal(t, "tongo", s.Verifier)

	cfg.Fees.NFTTier = "diamond"
	_, err = executionSettings(cfg)
	assert.Error(t, err)
}

func TestRefundsRequireEVMSigner(t *testing.T) {
	_, err := refunds{}.BroadcastRefund(context.Background(), types.ChainEthereum, "0x01")
	assert.Error(t, err)
}

func TestNoSignerRejectsAsInput(t *testing.T) {
	_, err := noSigner{}.InvokeCalls(context.Background(), nil, calls.InvokeOptions{})
	assert.Equal(t, txerror.KindInput, txerror.KindOf(err))
}

func TestOpenStoreScopesByAccount(t *testing.T) {
	cfg := &config.Config{
		Store:  config.StoreConfig{Driver: store.DriverFile, Path: filepath.Join(t.TempDir(), "state.json")},
		Wallet: config.WalletConfig{StarknetAddress: "0xABC"},
	}
	a := &app{cfg: cfg, logger: zap.NewNop()}
	require.NoError(t, a.openStore())
	defer a.Close()

	_, scoped := a.kv.(*store.Scoped)
	assert.True(t, scoped)

	cfg.Wallet.StarknetAddress = ""
	b := &app{cfg: cfg, logger: zap.NewNop()}
	require.NoError(t, b.openStore())
	defer b.Close()
	_, scoped = b.kv.(*store.Scoped)
	assert.False(t, scoped)
}

func TestParseTrade(t *testing.T) {
	defer func() { fromChain, toChain, slippage, hideBalance = "", "", "", false }()

	tests := []struct {
		name string
		args []string
		from string
		flow types.FlowKind
		err  bool
	}{
		{name: "swap", args: []string{"100", "STRK", "to", "USDC"}, flow: types.FlowSwap},
		{name: "bridge", args: []string{"0.5", "ETH", "on", "ethereum", "to", "STRK"}, flow: types.FlowBridge},
		{name: "flag chain", args: []string{"0.5", "ETH", "to", "STRK"}, from: "eth", flow: types.FlowBridge},
		{name: "same token", args: []string{"1", "STRK", "to", "STRK"}, err: true},
		{name: "garbage", args: []string{"buy", "everything"}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromChain = tt.from
			slippage = "1"
			hideBalance = true
			req, err := parseTrade(tt.args)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.flow, req.Route.Flow)
			assert.Equal(t, "1", req.Slippage)
			assert.True(t, req.HideBalance)
		})
	}
}

type stubBalances struct {
	mu     sync.Mutex
	values map[string]string
	reads  []string
}

func (s *stubBalances) Balance(_ context.Context, chain, token string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = append(s.reads, chain+"|"+token)
	raw, ok := s.values[chain+"|"+token]
	if !ok {
		return decimal.Zero, errors.New("unavailable")
	}
	return decimal.RequireFromString(raw), nil
}

func newRefresher(balances balanceReader) (*settlementRefresher, *guard.Guard, *quote.Cache) {
	g := guard.New()
	cache := quote.NewCache(8, time.Minute)
	cache.Set("k", quote.Entry{DisplayAmount: "1"})
	return &settlementRefresher{
		ctx:      context.Background(),
		balances: balances,
		guard:    g,
		cache:    cache,
		logger:   zap.NewNop(),
		timeout:  time.Second,
	}, g, cache
}

func TestCompletedOrderRefreshesBothLegs(t *testing.T) {
	balances := &stubBalances{values: map[string]string{
		"ethereum|ETH":  "0.4",
		"starknet|STRK": "250",
	}}
	r, g, cache := newRefresher(balances)

	r.completed(types.BridgeOrder{
		OrderID:     "o-1",
		SourceChain: "eth",
		SourceToken: "eth",
		DestChain:   "starknet",
		DestToken:   "strk",
		Status:      types.OrderCompleted,
	})

	_, cached := cache.Get("k")
	assert.False(t, cached)
	assert.ElementsMatch(t, []string{"ethereum|ETH", "starknet|STRK"}, balances.reads)

	max, ok := g.MaxExecutable(types.NewRoute("starknet", "ethereum", "STRK", "ETH"))
	require.True(t, ok)
	assert.Equal(t, "250", max.String())
	max, ok = g.MaxExecutable(types.NewRoute("ethereum", "starknet", "ETH", "STRK"))
	require.True(t, ok)
	assert.Equal(t, "0.4", max.String())
}

func TestRefundedOrderRefreshesSourceOnly(t *testing.T) {
	balances := &stubBalances{values: map[string]string{"ethereum|ETH": "1"}}
	r, _, cache := newRefresher(balances)

	r.refunded(types.BridgeOrder{OrderID: "o-2", SourceChain: "ethereum", SourceToken: "ETH", DestChain: "starknet", DestToken: "STRK"})

	_, cached := cache.Get("k")
	assert.False(t, cached)
	assert.Equal(t, []string{"ethereum|ETH"}, balances.reads)
}

func TestRefresherWithoutWalletOnlyPurges(t *testing.T) {
	r, g, cache := newRefresher(nil)
	r.completed(types.BridgeOrder{OrderID: "o-3", SourceChain: "ethereum", SourceToken: "ETH", DestChain: "starknet", DestToken: "STRK"})

	_, cached := cache.Get("k")
	assert.False(t, cached)
	_, ok := g.MaxExecutable(types.NewRoute("ethereum", "starknet", "ETH", "STRK"))
	assert.False(t, ok)
}
