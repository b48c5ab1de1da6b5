package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/tidwall/gjson"
)

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// StarknetPricer reads the L1 gas price, in wei, of the latest Starknet block
type StarknetPricer struct {
	client rpcCaller
}

func NewStarknetPricer(client rpcCaller) *StarknetPricer {
	return &StarknetPricer{client: client}
}

// DialStarknet connects to a Starknet JSON-RPC endpoint
func DialStarknet(ctx context.Context, rpcURL string) (*StarknetPricer, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Starknet RPC: %w", err)
	}
	return NewStarknetPricer(client), nil
}

func (p *StarknetPricer) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, "starknet_getBlockWithTxHashes", "latest"); err != nil {
		return nil, err
	}
	v := gjson.GetBytes(raw, "l1_gas_price.price_in_wei")
	if !v.Exists() {
		return nil, fmt.Errorf("block has no l1 gas price")
	}
	price, ok := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(v.String()), "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid l1 gas price %q", v.String())
	}
	return price, nil
}
