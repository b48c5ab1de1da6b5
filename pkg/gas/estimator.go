// Package gas estimates bridge fees from live EVM network conditions.
package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"tradeflow/pkg/quote"
	"tradeflow/pkg/types"
)

const (
	// DefaultBridgeGas is the gas used by a bridge deposit on the source chain
	DefaultBridgeGas = uint64(150000)
	weiDecimals      = 18
)

var protocolFeeRate = decimal.RequireFromString("0.003")

// GasPricer suggests the current gas price in wei
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Estimator prices the protocol and network fee of a native-asset bridge.
// The network fee is priced on the destination chain when a pricer for it is
// registered, and on the source chain otherwise.
type Estimator struct {
	client       GasPricer
	destinations map[string]GasPricer
	gasUsed      uint64
}

func NewEstimator(client GasPricer, gasUsed uint64) *Estimator {
	if gasUsed == 0 {
		gasUsed = DefaultBridgeGas
	}
	return &Estimator{client: client, destinations: make(map[string]GasPricer), gasUsed: gasUsed}
}

// WithDestination prices the network fee of bridges into chain with pricer
func (e *Estimator) WithDestination(chain string, pricer GasPricer) *Estimator {
	if pricer != nil {
		e.destinations[types.NormalizeChain(chain)] = pricer
	}
	return e
}

// Dial connects to rpcURL and returns an estimator on it
func Dial(ctx context.Context, rpcURL string, gasUsed uint64) (*Estimator, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return NewEstimator(client, gasUsed), nil
}

// EstimateBridgeFees returns 0.3% of amount as protocol fee and the current
// gas price times the bridge gas as network fee, both in the native asset.
func (e *Estimator) EstimateBridgeFees(ctx context.Context, route types.TradeRoute, amount decimal.Decimal) (quote.BridgeFees, error) {
	if !types.IsEVMChain(route.SourceChain) {
		return quote.BridgeFees{}, fmt.Errorf("no fee estimate for %s", route.SourceChain)
	}
	pricer, ok := e.destinations[types.NormalizeChain(route.DestChain)]
	if !ok {
		pricer = e.client
	}
	price, err := pricer.SuggestGasPrice(ctx)
	if err != nil {
		return quote.BridgeFees{}, fmt.Errorf("failed to get gas price for %s: %w", route.DestChain, err)
	}
	wei := new(big.Int).Mul(price, new(big.Int).SetUint64(e.gasUsed))
	return quote.BridgeFees{
		Protocol: amount.Mul(protocolFeeRate),
		Network:  decimal.NewFromBigInt(wei, -weiDecimals),
	}, nil
}
