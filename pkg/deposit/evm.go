package deposit

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"tradeflow/config"
	"tradeflow/pkg/types"
	"tradeflow/pkg/wallet"
)

// ERC20 transfer and balanceOf ABI
const erc20ABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

var parsedERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// evmChain is the RPC surface the depositor reads balances through
type evmChain interface {
	wallet.EVMClient
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMDepositor handles deposits on the EVM source chain
type EVMDepositor struct {
	client evmChain
	signer *wallet.EVMSigner
	tokens map[string]common.Address
	close  func()
}

// NewEVMDepositor creates a depositor signing with cfg's key over client
func NewEVMDepositor(client evmChain, cfg config.EVMConfig, logger *zap.Logger) (*EVMDepositor, error) {
	signer, err := wallet.NewEVMSigner(client, cfg.PrivateKey, cfg.ChainID, cfg.GasLimit, logger)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for sym, addr := range cfg.Tokens {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid token contract address for %s: %s", sym, addr)
		}
		tokens[types.NormalizeTokenSymbol(sym)] = common.HexToAddress(addr)
	}
	return &EVMDepositor{client: client, signer: signer, tokens: tokens, close: func() {}}, nil
}

// DialEVMDepositor connects to the configured RPC endpoint
func DialEVMDepositor(ctx context.Context, cfg config.EVMConfig, logger *zap.Logger) (*EVMDepositor, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	d, err := NewEVMDepositor(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	d.close = client.Close
	return d, nil
}

// Send transfers units of token to the deposit address. The chain's native
// asset is sent as value, other tokens through their ERC20 contract.
func (e *EVMDepositor) Send(ctx context.Context, to, token string, units *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid deposit address: %s", to)
	}
	if types.IsNativeAsset(types.ChainEthereum, token) {
		return e.sendNative(ctx, to, units)
	}
	contract, ok := e.tokens[types.NormalizeTokenSymbol(token)]
	if !ok {
		return "", fmt.Errorf("no ERC20 contract configured for %s", token)
	}
	return e.sendERC20(ctx, to, contract, units)
}

func (e *EVMDepositor) sendNative(ctx context.Context, to string, units *big.Int) (string, error) {
	balance, err := e.client.BalanceAt(ctx, e.signer.Address(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to get balance: %w", err)
	}
	if balance.Cmp(units) < 0 {
		return "", fmt.Errorf("insufficient balance: have %s wei, need %s wei", balance, units)
	}
	return e.signer.SendTransaction(ctx, types.EVMTransaction{To: to, Value: units.String()})
}

func (e *EVMDepositor) sendERC20(ctx context.Context, to string, contract common.Address, units *big.Int) (string, error) {
	balance, err := e.erc20Balance(ctx, contract)
	if err != nil {
		return "", fmt.Errorf("failed to get token balance: %w", err)
	}
	if balance.Cmp(units) < 0 {
		return "", fmt.Errorf("insufficient token balance: have %s, need %s", balance, units)
	}

	data, err := parsedERC20.Pack("transfer", common.HexToAddress(to), units)
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return e.signer.SendTransaction(ctx, types.EVMTransaction{To: contract.Hex(), Data: hexutil.Encode(data)})
}

func (e *EVMDepositor) erc20Balance(ctx context.Context, contract common.Address) (*big.Int, error) {
	data, err := parsedERC20.Pack("balanceOf", e.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}
	result, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// Close closes the client connection
func (e *EVMDepositor) Close() {
	e.close()
}
