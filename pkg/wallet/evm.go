// Package wallet signs and broadcasts transactions on behalf of the user.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

const (
	transferGas = uint64(21000)
	contractGas = uint64(100000)
)

// EVMClient is the subset of ethclient.Client the signer needs
type EVMClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// EVMSigner signs transaction descriptors with a local key
type EVMSigner struct {
	client     EVMClient
	privateKey *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	gasLimit   uint64
	logger     *zap.Logger
}

// NewEVMSigner creates a signer for chainID. gasLimit overrides estimation
// when non-zero.
func NewEVMSigner(client EVMClient, privateKeyHex string, chainID int64, gasLimit uint64, logger *zap.Logger) (*EVMSigner, error) {
	if client == nil {
		return nil, fmt.Errorf("EVM client is required")
	}
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key not configured")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMSigner{
		client:     client,
		privateKey: privateKey,
		from:       crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
		gasLimit:   gasLimit,
		logger:     logger,
	}, nil
}

// DialEVMSigner connects to rpcURL and creates a signer on it
func DialEVMSigner(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, gasLimit uint64, logger *zap.Logger) (*EVMSigner, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return NewEVMSigner(client, privateKeyHex, chainID, gasLimit, logger)
}

// Address returns the signing account
func (s *EVMSigner) Address() common.Address {
	return s.from
}

// SendTransaction signs tx and broadcasts it, returning the transaction hash
func (s *EVMSigner) SendTransaction(ctx context.Context, tx types.EVMTransaction) (string, error) {
	if !common.IsHexAddress(tx.To) {
		return "", txerror.Newf(txerror.KindInput, "invalid recipient address: %s", tx.To)
	}
	to := common.HexToAddress(tx.To)

	value, err := parseWei(tx.Value)
	if err != nil {
		return "", txerror.New(txerror.KindInput, err)
	}
	var data []byte
	if tx.Data != "" && tx.Data != "0x" {
		data, err = hexutil.Decode(tx.Data)
		if err != nil {
			return "", txerror.Newf(txerror.KindInput, "invalid calldata: %v", err)
		}
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gas := s.estimateGas(ctx, to, value, data)

	signed, err := ethtypes.SignNewTx(s.privateKey, ethtypes.LatestSignerForChainID(s.chainID), &ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", txerror.Classify(fmt.Errorf("failed to send transaction: %w", err))
	}
	s.logger.Info("evm transaction sent",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce))
	return signed.Hash().Hex(), nil
}

func (s *EVMSigner) estimateGas(ctx context.Context, to common.Address, value *big.Int, data []byte) uint64 {
	if s.gasLimit > 0 {
		return s.gasLimit
	}
	fallback := transferGas
	if len(data) > 0 {
		fallback = contractGas
	}
	estimated, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: data})
	if err != nil {
		s.logger.Debug("gas estimation failed, using default", zap.Uint64("gas", fallback), zap.Error(err))
		return fallback
	}
	// 20% buffer
	return estimated * 120 / 100
}

// BroadcastRefund sends an already signed instant refund transaction
func (s *EVMSigner) BroadcastRefund(ctx context.Context, chain, rawTx string) (string, error) {
	if !types.IsEVMChain(chain) {
		return "", fmt.Errorf("cannot broadcast refund on %s", chain)
	}
	raw, err := hexutil.Decode(rawTx)
	if err != nil {
		return "", txerror.Newf(txerror.KindInput, "invalid refund transaction: %v", err)
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", txerror.Newf(txerror.KindInput, "invalid refund transaction: %v", err)
	}
	if err := s.client.SendTransaction(ctx, &tx); err != nil {
		return "", txerror.Classify(fmt.Errorf("failed to broadcast refund: %w", err))
	}
	return tx.Hash().Hex(), nil
}

// parseWei reads a wei value given as a decimal or 0x-prefixed hex string
func parseWei(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		n, err := hexutil.DecodeBig("0x" + strings.TrimLeft(v[2:], "0"))
		if err != nil {
			if strings.TrimLeft(v[2:], "0") == "" {
				return new(big.Int), nil
			}
			return nil, fmt.Errorf("invalid value %q: %w", v, err)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", v)
	}
	return n, nil
}
