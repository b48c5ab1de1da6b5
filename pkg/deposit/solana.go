package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"tradeflow/config"
	"tradeflow/pkg/types"
)

// signatureFee is the lamports charged per signature
const signatureFee = 5000

// SolanaDepositor handles deposits on Solana blockchain
type SolanaDepositor struct {
	config     config.SolanaConfig
	client     *rpc.Client
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	mints      map[string]solana.PublicKey
}

// NewSolanaDepositor creates a new Solana depositor
func NewSolanaDepositor(cfg config.SolanaConfig) (*SolanaDepositor, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for Solana")
	}

	privateKey, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	mints := make(map[string]solana.PublicKey, len(cfg.Mints))
	for sym, addr := range cfg.Mints {
		mint, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid mint address for %s: %w", sym, err)
		}
		mints[types.NormalizeTokenSymbol(sym)] = mint
	}

	return &SolanaDepositor{
		config:     cfg,
		client:     rpc.New(cfg.RPCURL),
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		mints:      mints,
	}, nil
}

// Send transfers units of token to the deposit address. SOL moves in lamports,
// SPL tokens through the associated token accounts.
func (s *SolanaDepositor) Send(ctx context.Context, to, tokenSymbol string, units *big.Int) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid deposit address: %w", err)
	}
	if !units.IsUint64() {
		return "", fmt.Errorf("deposit amount %s out of range", units)
	}

	var sig solana.Signature
	if types.IsNativeAsset(types.ChainSolana, tokenSymbol) {
		sig, err = s.sendNativeSOL(ctx, recipient, units.Uint64())
	} else {
		mint, ok := s.mints[types.NormalizeTokenSymbol(tokenSymbol)]
		if !ok {
			return "", fmt.Errorf("no SPL mint configured for %s", tokenSymbol)
		}
		sig, err = s.sendSPLToken(ctx, recipient, mint, units.Uint64())
	}
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

func (s *SolanaDepositor) sendNativeSOL(ctx context.Context, recipient solana.PublicKey, lamports uint64) (solana.Signature, error) {
	balance, err := s.client.GetBalance(ctx, s.publicKey, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get balance: %w", err)
	}
	if minRequired := lamports + signatureFee; balance.Value < minRequired {
		return solana.Signature{}, fmt.Errorf("insufficient balance: have %d lamports, need %d (including fees)", balance.Value, minRequired)
	}

	ix := system.NewTransferInstruction(lamports, s.publicKey, recipient).Build()
	return s.send(ctx, []solana.Instruction{ix})
}

func (s *SolanaDepositor) sendSPLToken(ctx context.Context, recipient, mint solana.PublicKey, units uint64) (solana.Signature, error) {
	source, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive source token account: %w", err)
	}
	balance, err := s.client.GetTokenAccountBalance(ctx, source, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get token balance: %w", err)
	}
	have, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to parse token balance: %w", err)
	}
	if have < units {
		return solana.Signature{}, fmt.Errorf("insufficient token balance: have %d, need %d", have, units)
	}

	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive destination token account: %w", err)
	}
	exists, err := s.accountExists(ctx, dest)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to check destination account: %w", err)
	}

	var instructions []solana.Instruction
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(s.publicKey, recipient, mint).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(units, source, dest, s.publicKey, nil).Build())
	return s.send(ctx, instructions)
}

func (s *SolanaDepositor) send(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(s.publicKey))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       s.config.SkipPreflight,
		PreflightCommitment: commitment(s.config.Commitment),
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

func (s *SolanaDepositor) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := s.client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, err
	}
	return info.Value != nil, nil
}

func commitment(raw string) rpc.CommitmentType {
	switch strings.ToLower(raw) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// Close is a no-op; the Solana RPC client holds no connection
func (s *SolanaDepositor) Close() {}
