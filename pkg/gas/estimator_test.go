package gas

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/pkg/types"
)

type fixedPrice struct {
	wei *big.Int
	err error
}

func (f fixedPrice) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.wei, f.err
}

func TestEstimateBridgeFees(t *testing.T) {
	e := NewEstimator(fixedPrice{wei: big.NewInt(20_000_000_000)}, 0)
	route := types.NewRoute("ethereum", "starknet", "ETH", "ETH")

	fees, err := e.EstimateBridgeFees(context.Background(), route, decimal.RequireFromString("2"))
	require.NoError(t, err)
	assert.Equal(t, "0.006", fees.Protocol.String())
	// 20 gwei * 150k gas
	assert.Equal(t, "0.003", fees.Network.String())
}

func TestEstimateBridgeFeesErrors(t *testing.T) {
	e := NewEstimator(fixedPrice{err: errors.New("rpc down")}, 0)

	_, err := e.EstimateBridgeFees(context.Background(), types.NewRoute("ethereum", "starknet", "ETH", "ETH"), decimal.NewFromInt(1))
	assert.Error(t, err)

	_, err = e.EstimateBridgeFees(context.Background(), types.NewRoute("bitcoin", "starknet", "BTC", "WBTC"), decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestEstimateBridgeFeesPricesDestination(t *testing.T) {
	source := fixedPrice{wei: big.NewInt(20_000_000_000)}
	e := NewEstimator(source, 0).
		WithDestination("strk", fixedPrice{wei: big.NewInt(2_000_000_000)})

	fees, err := e.EstimateBridgeFees(context.Background(), types.NewRoute("ethereum", "starknet", "ETH", "ETH"), decimal.NewFromInt(1))
	require.NoError(t, err)
	// 2 gwei * 150k gas on the destination
	assert.Equal(t, "0.0003", fees.Network.String())

	fees, err = e.EstimateBridgeFees(context.Background(), types.NewRoute("ethereum", "solana", "ETH", "SOL"), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "0.003", fees.Network.String(), "unpriced destinations fall back to the source chain")

	_, err = NewEstimator(source, 0).
		WithDestination("starknet", fixedPrice{err: errors.New("rpc down")}).
		EstimateBridgeFees(context.Background(), types.NewRoute("ethereum", "starknet", "ETH", "ETH"), decimal.NewFromInt(1))
	assert.ErrorContains(t, err, "starknet")
}

type fakeStarknetRPC struct {
	block  string
	method string
	args   []interface{}
}

func (f *fakeStarknetRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.method, f.args = method, args
	*result.(*json.RawMessage) = json.RawMessage(f.block)
	return nil
}

func TestStarknetPricer(t *testing.T) {
	rpc := &fakeStarknetRPC{block: `{"block_number":1,"l1_gas_price":{"price_in_fri":"0x1","price_in_wei":"0x77359400"}}`}
	price, err := NewStarknetPricer(rpc).SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2000000000", price.String())
	assert.Equal(t, "starknet_getBlockWithTxHashes", rpc.method)
	assert.Equal(t, []interface{}{"latest"}, rpc.args)

	rpc.block = `{"block_number":1}`
	_, err = NewStarknetPricer(rpc).SuggestGasPrice(context.Background())
	assert.Error(t, err)
}
