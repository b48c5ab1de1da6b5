package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/config"
	"tradeflow/pkg/calls"
	"tradeflow/pkg/client"
	"tradeflow/pkg/deposit"
	"tradeflow/pkg/execution"
	"tradeflow/pkg/fees"
	"tradeflow/pkg/gas"
	"tradeflow/pkg/guard"
	"tradeflow/pkg/metrics"
	"tradeflow/pkg/prices"
	"tradeflow/pkg/privacy"
	"tradeflow/pkg/quote"
	"tradeflow/pkg/settlement"
	"tradeflow/pkg/store"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
	"tradeflow/pkg/wallet"
)

const defaultLevelDir = ".tradeflow-db"

// app holds the components shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	kv       store.KV
	closeKV  func() error
	backend  *client.Backend
	oneClick *client.OneClick
	bridges  *routedBackend
	evm      *wallet.EVMSigner

	guard    *guard.Guard
	privacy  *privacy.Manager
	cache    *quote.Cache
	quotes   *quote.Engine
	tracker  *settlement.Tracker
	deposits *deposit.Manager
	executor *execution.Executor

	cancel context.CancelFunc
}

// routedBackend sends bridge traffic to 1Click when it is enabled and
// everything else to the trading backend
type routedBackend struct {
	*client.Backend
	oneClick *client.OneClick
}

func (r *routedBackend) GetBridgeQuote(ctx context.Context, req types.BridgeQuoteRequest) (*types.BridgeQuoteResponse, error) {
	if r.oneClick != nil {
		return r.oneClick.GetBridgeQuote(ctx, req)
	}
	return r.Backend.GetBridgeQuote(ctx, req)
}

func (r *routedBackend) ExecuteBridge(ctx context.Context, req types.ExecuteBridgeRequest) (*types.ExecuteBridgeResponse, error) {
	if r.oneClick != nil {
		return r.oneClick.ExecuteBridge(ctx, req)
	}
	return r.Backend.ExecuteBridge(ctx, req)
}

func (r *routedBackend) GetOrderByID(ctx context.Context, orderID string) ([]byte, error) {
	if r.oneClick != nil {
		return r.oneClick.GetOrderByID(ctx, orderID)
	}
	return r.Backend.GetOrderByID(ctx, orderID)
}

// refunds pairs the backend's refund hash lookup with the EVM broadcaster
type refunds struct {
	backend *client.Backend
	evm     *wallet.EVMSigner
}

func (r refunds) GetRefundHash(ctx context.Context, orderID string) (string, error) {
	return r.backend.GetRefundHash(ctx, orderID)
}

func (r refunds) BroadcastRefund(ctx context.Context, chain, rawTx string) (string, error) {
	if r.evm == nil {
		return "", fmt.Errorf("no EVM signer configured to broadcast the %s refund", chain)
	}
	return r.evm.BroadcastRefund(ctx, chain, rawTx)
}

// noSigner stands in when no Starknet relay is configured
type noSigner struct{}

func (noSigner) InvokeCalls(context.Context, []types.OnchainCall, calls.InvokeOptions) (string, error) {
	return "", txerror.Newf(txerror.KindInput, "no Starknet signer configured (set wallet.relay_url)")
}

// newApp builds every component from cfg. The returned app must be closed.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.metrics = metrics.New(a.registry)

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	backend, err := client.NewBackend(cfg.Backend.URL,
		client.WithToken(cfg.Backend.Token),
		client.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.Burst),
		client.WithAddresses(client.WalletAddresses{
			Starknet: cfg.Wallet.StarknetAddress,
			EVM:      cfg.Wallet.EVMAddress,
			BTC:      cfg.Wallet.BTCAddress,
		}),
		client.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.backend = backend
	a.bridges = &routedBackend{Backend: backend}
	if cfg.OneClick.Enabled {
		a.oneClick = client.NewOneClick(cfg.OneClick.JWTToken, cfg.OneClick.Recipient, cfg.OneClick.RefundTo, logger)
		a.bridges.oneClick = a.oneClick
	}

	if evm := cfg.Deposit.EVM; evm.Configured() {
		signer, err := wallet.DialEVMSigner(ctx, evm.RPCURL, evm.PrivateKey, evm.ChainID, evm.GasLimit, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.evm = signer
	}

	guardOpts := []guard.Option{guard.WithLogger(logger)}
	for sym, raw := range cfg.Reserves {
		reserve, err := decimal.NewFromString(raw)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid reserve for %s: %w", sym, err)
		}
		guardOpts = append(guardOpts, guard.WithReserve(types.NormalizeTokenSymbol(sym), reserve))
	}
	a.guard = guard.New(guardOpts...)

	verifier, err := privacy.ParseVerifier(cfg.Privacy.Verifier)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.privacy = privacy.NewManager(backend, store.NewPayloadStore(a.kv),
		privacy.WithVerifier(verifier),
		privacy.WithMinNoteAge(cfg.Privacy.MinNoteAge),
		privacy.WithResolveTimeout(cfg.Quote.RequestTimeout),
		privacy.WithLogger(logger),
	)

	static, err := prices.NewStatic(cfg.Prices)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = quote.NewCache(cfg.Quote.CacheSize, cfg.Quote.CacheTTL)
	quoteOpts := []quote.Option{
		quote.WithCache(a.cache),
		quote.WithPriceFeed(prices.NewFallback(backend, static, logger)),
		quote.WithCeilingSink(a.guard),
		quote.WithLogger(logger),
		quote.WithMetrics(a.metrics),
		quote.WithDebounce(cfg.Quote.Debounce),
		quote.WithRequestTimeout(cfg.Quote.RequestTimeout),
		quote.WithReprojectionThreshold(decimal.NewFromFloat(cfg.Quote.ReprojectionThreshold)),
	}
	if cfg.Deposit.EVM.RPCURL != "" {
		estimator, err := gas.Dial(ctx, cfg.Deposit.EVM.RPCURL, 0)
		if err != nil {
			logger.Warn("gas estimator unavailable, using quoted bridge fees", zap.Error(err))
		} else {
			if cfg.Quote.StarknetRPCURL != "" {
				if sn, err := gas.DialStarknet(ctx, cfg.Quote.StarknetRPCURL); err != nil {
					logger.Warn("starknet gas pricer unavailable, pricing bridge gas on the source chain", zap.Error(err))
				} else {
					estimator.WithDestination(types.ChainStarknet, sn)
				}
			}
			quoteOpts = append(quoteOpts, quote.WithFeeEstimator(estimator))
		}
	}
	a.quotes = quote.NewEngine(a.bridges, quoteOpts...)

	a.deposits = deposit.NewManager(cfg.Deposit, logger)
	if a.oneClick != nil {
		a.deposits.WithNotifier(client.OneClickProvider, a.oneClick)
	}

	a.tracker = settlement.NewTracker(a.bridges,
		settlement.WithInterval(cfg.Settlement.PollInterval),
		settlement.WithMaxAttempts(cfg.Settlement.MaxAttempts),
		settlement.WithStore(store.NewOrderStore(a.kv, logger)),
		settlement.WithRefunds(refunds{backend: backend, evm: a.evm}),
		settlement.WithDepositor(a.deposits),
		settlement.WithLogger(logger),
		settlement.WithMetrics(a.metrics),
	)
	settled := &settlementRefresher{ctx: pollCtx, guard: a.guard, cache: a.cache, logger: logger, timeout: cfg.Quote.RequestTimeout}
	if walletConfigured(cfg) {
		settled.balances = backend
	}
	a.tracker.OnCompleted(settled.completed)
	a.tracker.OnRefunded(settled.refunded)

	var signer calls.Signer = noSigner{}
	if cfg.Wallet.RelayURL != "" {
		relay, err := wallet.NewRelaySigner(cfg.Wallet.RelayURL, cfg.Wallet.StarknetAddress, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		signer = relay
	}

	settings, err := executionSettings(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := execution.Deps{
		Quotes:    a.quotes,
		Guard:     a.guard,
		Privacy:   a.privacy,
		Builder:   calls.NewBuilder(a.quotes, backend, cfg.Privacy.Router, logger),
		Submitter: calls.NewSubmitter(signer, logger, a.metrics),
		Backend:   a.bridges,
		Depositor: a.deposits,
		Tracker:   a.tracker,
	}
	// optional collaborators stay nil interfaces when absent
	if a.evm != nil {
		deps.EVM = a.evm
	}
	if walletConfigured(cfg) {
		deps.Balances = backend
	}

	a.executor = execution.NewExecutor(pollCtx, deps, settings,
		execution.NewMachine(execution.WithCooldown(cfg.Execution.Cooldown)), logger, a.metrics)
	return a, nil
}

func (a *app) openStore() error {
	path := a.cfg.Store.Path
	if a.cfg.Store.Driver == store.DriverLevelDB && path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, defaultLevelDir)
	}
	kv, err := store.Open(a.cfg.Store.Driver, path)
	if err != nil {
		return err
	}
	// one state namespace per account
	if account := a.cfg.Wallet.StarknetAddress; account != "" {
		a.kv = store.NewScoped(kv, types.NormalizeAddress(account))
		a.closeKV = kv.Close
		return nil
	}
	a.kv = kv
	a.closeKV = kv.Close
	return nil
}

func executionSettings(cfg *config.Config) (execution.Settings, error) {
	tier, err := fees.ParseTier(cfg.Fees.NFTTier)
	if err != nil {
		return execution.Settings{}, err
	}
	staked := decimal.Zero
	if cfg.Fees.StakedCarel != "" {
		if staked, err = decimal.NewFromString(cfg.Fees.StakedCarel); err != nil {
			return execution.Settings{}, fmt.Errorf("invalid staked amount: %w", err)
		}
	}
	return execution.Settings{
		DiscountRate:    tier.DiscountRate(),
		StakeMultiplier: fees.StakeMultiplier(staked),
		AckTimeout:      cfg.Execution.AckTimeout,
		ProviderHint:    cfg.Wallet.ProviderHint,
		Verifier:        cfg.Privacy.Verifier,
	}, nil
}

// Close stops background polling and releases connections
func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.quotes != nil {
		a.quotes.Close()
	}
	if a.deposits != nil {
		a.deposits.Close()
	}
	if a.closeKV != nil {
		if err := a.closeKV(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

func walletConfigured(cfg *config.Config) bool {
	return cfg.Wallet.StarknetAddress != "" || cfg.Wallet.EVMAddress != "" || cfg.Wallet.BTCAddress != ""
}

type balanceReader interface {
	Balance(ctx context.Context, chain, token string) (decimal.Decimal, error)
}

// settlementRefresher reacts to orders leaving the pipeline. Settled value
// moves balances, so cached quotes are dropped and the balances the order
// touched are read again. Points and the NFT discount are derived from the
// configured tier and stake on every quote and need no refresh here.
type settlementRefresher struct {
	ctx      context.Context
	balances balanceReader
	guard    *guard.Guard
	cache    *quote.Cache
	logger   *zap.Logger
	timeout  time.Duration
}

func (r *settlementRefresher) completed(o types.BridgeOrder) {
	r.logger.Info("order completed", zap.String("order", o.OrderID))
	r.refresh(o, [2]string{o.SourceChain, o.SourceToken}, [2]string{o.DestChain, o.DestToken})
}

// refunded restores the source asset only; the destination never received anything
func (r *settlementRefresher) refunded(o types.BridgeOrder) {
	r.logger.Info("order refunded", zap.String("order", o.OrderID), zap.String("refund_tx", o.RefundTx))
	r.refresh(o, [2]string{o.SourceChain, o.SourceToken})
}

func (r *settlementRefresher) refresh(o types.BridgeOrder, assets ...[2]string) {
	r.cache.Purge()
	if r.balances == nil {
		return
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = quote.DefaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	for _, asset := range assets {
		chain, token := types.NormalizeChain(asset[0]), types.NormalizeTokenSymbol(asset[1])
		if chain == "" || token == "" {
			continue
		}
		bal, err := r.balances.Balance(ctx, chain, token)
		if err != nil {
			r.logger.Debug("balance refresh failed",
				zap.String("order", o.OrderID),
				zap.String("chain", chain),
				zap.String("token", token),
				zap.Error(err))
			continue
		}
		r.guard.UpdateBalance(chain, token, bal)
	}
}
