// Package deposit sends the funds-first transfer of a bridge order to its
// deposit address from a locally configured wallet.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tradeflow/config"
	"tradeflow/pkg/amount"
	"tradeflow/pkg/types"
)

var (
	// ErrManualDeposit means the chain has no auto-deposit and the user must
	// send the funds themselves
	ErrManualDeposit = errors.New("deposit must be sent manually")
	ErrDisabled      = errors.New("auto-deposit is not enabled in configuration")
)

// chainDepositor sends units of token to a deposit address on one chain
type chainDepositor interface {
	Send(ctx context.Context, to, token string, units *big.Int) (string, error)
	Close()
}

// Notifier is told about deposit transactions of orders from its provider
type Notifier interface {
	SubmitDepositTx(ctx context.Context, depositAddress, txHash string) error
}

// Manager handles auto-deposit for different blockchains
type Manager struct {
	config config.DepositConfig
	logger *zap.Logger

	notifier         Notifier
	notifierProvider string

	mu         sync.Mutex
	depositors map[string]chainDepositor
	factories  map[string]func(context.Context) (chainDepositor, error)
}

// NewManager creates a new deposit manager
func NewManager(cfg config.DepositConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		config:     cfg,
		logger:     logger,
		depositors: make(map[string]chainDepositor),
	}
	m.factories = map[string]func(context.Context) (chainDepositor, error){
		types.ChainEthereum: func(ctx context.Context) (chainDepositor, error) {
			return DialEVMDepositor(ctx, cfg.EVM, logger)
		},
		types.ChainSolana: func(ctx context.Context) (chainDepositor, error) {
			return NewSolanaDepositor(cfg.Solana)
		},
	}
	return m
}

// WithNotifier reports deposits of provider's orders to n
func (m *Manager) WithNotifier(provider string, n Notifier) *Manager {
	m.notifier = n
	m.notifierProvider = provider
	return m
}

// IsEnabled returns whether auto-deposit is enabled globally
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

// IsEnabledForChain returns whether auto-deposit is enabled for a specific blockchain
func (m *Manager) IsEnabledForChain(chain string) bool {
	if !m.config.Enabled {
		return false
	}
	switch types.NormalizeChain(chain) {
	case types.ChainEthereum:
		return m.config.EVM.Configured()
	case types.ChainSolana:
		return m.config.Solana.RPCURL != "" && m.config.Solana.PrivateKey != ""
	default:
		return false
	}
}

// GetSupportedChains returns a list of chains that support auto-deposit
func (m *Manager) GetSupportedChains() []string {
	supported := make([]string, 0, 2)
	for _, chain := range []string{types.ChainEthereum, types.ChainSolana} {
		if m.IsEnabledForChain(chain) {
			supported = append(supported, chain)
		}
	}
	return supported
}

// Deposit sends the order's deposit amount to its deposit address and returns
// the transaction hash
func (m *Manager) Deposit(ctx context.Context, order *types.BridgeOrder) (string, error) {
	if !order.FundsFirst() {
		return "", fmt.Errorf("order %s has no deposit address", order.OrderID)
	}
	chain := types.NormalizeChain(order.SourceChain)
	if chain == types.ChainBitcoin {
		return "", fmt.Errorf("%w: send %s BTC to %s", ErrManualDeposit, order.DepositAmount, order.DepositAddress)
	}
	if !m.IsEnabled() {
		return "", ErrDisabled
	}
	if !m.IsEnabledForChain(chain) {
		return "", fmt.Errorf("%w: no wallet configured for %s", ErrManualDeposit, chain)
	}

	units, err := depositUnits(order)
	if err != nil {
		return "", err
	}

	d, err := m.depositor(ctx, chain)
	if err != nil {
		return "", err
	}
	hash, err := d.Send(ctx, strings.TrimSpace(order.DepositAddress), order.SourceToken, units)
	if err != nil {
		return "", fmt.Errorf("deposit for order %s failed: %w", order.OrderID, err)
	}
	m.logger.Info("deposit sent",
		zap.String("order_id", order.OrderID),
		zap.String("chain", chain),
		zap.String("tx_hash", hash))

	if m.notifier != nil && order.Provider == m.notifierProvider {
		if err := m.notifier.SubmitDepositTx(ctx, order.DepositAddress, hash); err != nil {
			m.logger.Warn("failed to report deposit", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	return hash, nil
}

func (m *Manager) depositor(ctx context.Context, chain string) (chainDepositor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.depositors[chain]; ok {
		return d, nil
	}
	factory, ok := m.factories[chain]
	if !ok {
		return nil, fmt.Errorf("auto-deposit not supported for chain: %s", chain)
	}
	d, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	m.depositors[chain] = d
	return d, nil
}

// Close releases open RPC connections
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chain, d := range m.depositors {
		d.Close()
		delete(m.depositors, chain)
	}
}

// depositUnits reads the deposit amount in the token's smallest unit. Amounts
// with a fractional part are display units and are converted.
func depositUnits(order *types.BridgeOrder) (*big.Int, error) {
	raw := strings.TrimSpace(order.DepositAmount)
	if raw == "" {
		return nil, fmt.Errorf("order %s has no deposit amount", order.OrderID)
	}
	if strings.Contains(raw, ".") {
		return amount.ToSmallestUnit(raw, types.TokenDecimals(order.SourceToken))
	}
	units, ok := new(big.Int).SetString(raw, 10)
	if !ok || units.Sign() <= 0 {
		return nil, fmt.Errorf("invalid deposit amount %q", raw)
	}
	return units, nil
}
