// Package client talks to the trading backend over HTTP and to the 1Click
// intents API through its SDK.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"go.uber.org/zap"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/types"
)

const (
	OneClickProvider = "near-intents"

	// oneClickSlippageBps is the slippage tolerance sent with every quote (1%)
	oneClickSlippageBps = 100
	oneClickDeadline    = 24 * time.Hour
)

// oneClickChains maps chain ids onto 1Click blockchain names
var oneClickChains = map[string]string{
	types.ChainEthereum: "eth",
	types.ChainSolana:   "sol",
	types.ChainBitcoin:  "btc",
	types.ChainStarknet: "starknet",
}

// OneClick quotes and opens funds-first bridge orders through 1Click
type OneClick struct {
	client    *oneclick.APIClient
	jwtToken  string
	recipient string
	refundTo  string
	logger    *zap.Logger

	mu     sync.Mutex
	tokens []oneclick.TokenResponse
}

// NewOneClick creates a 1Click client. recipient and refundTo are the default
// addresses used when a request omits them.
func NewOneClick(jwtToken, recipient, refundTo string, logger *zap.Logger) *OneClick {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OneClick{
		client:    oneclick.NewAPIClient(oneclick.NewConfiguration()),
		jwtToken:  jwtToken,
		recipient: recipient,
		refundTo:  refundTo,
		logger:    logger,
	}
}

func (c *OneClick) authed(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
}

// SupportedTokens retrieves all supported tokens. The list is fetched once.
func (c *OneClick) SupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens != nil {
		return c.tokens, nil
	}

	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	c.tokens = resp
	return resp, nil
}

// FindToken searches for a token by symbol on chain
func (c *OneClick) FindToken(ctx context.Context, symbol, chain string) (*oneclick.TokenResponse, error) {
	tokens, err := c.SupportedTokens(ctx)
	if err != nil {
		return nil, err
	}

	symbol = types.NormalizeTokenSymbol(symbol)
	chain = types.NormalizeChain(chain)
	blockchain, ok := oneClickChains[chain]
	if !ok {
		blockchain = chain
	}

	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol &&
			strings.ToLower(token.GetBlockchain()) == blockchain {
			return &token, nil
		}
	}
	return nil, fmt.Errorf("token '%s' not found on chain '%s'", symbol, chain)
}

func (c *OneClick) quote(ctx context.Context, fromChain, toChain, token, toToken, value, recipient, refundTo string, dry bool) (*oneclick.QuoteResponse, *oneclick.TokenResponse, error) {
	sourceToken, err := c.FindToken(ctx, token, fromChain)
	if err != nil {
		return nil, nil, fmt.Errorf("source token error: %w", err)
	}
	if toToken == "" {
		toToken = token
	}
	destToken, err := c.FindToken(ctx, toToken, toChain)
	if err != nil {
		return nil, nil, fmt.Errorf("destination token error: %w", err)
	}

	units, err := amount.ToSmallestUnit(value, int32(sourceToken.GetDecimals()))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid amount: %w", err)
	}

	if recipient == "" {
		recipient = c.recipient
	}
	if recipient == "" {
		return nil, nil, fmt.Errorf("recipient address is required")
	}
	if refundTo == "" {
		refundTo = c.refundTo
	}
	if refundTo == "" {
		refundTo = recipient
	}

	quoteReq := oneclick.NewQuoteRequest(
		dry,
		"EXACT_INPUT",
		oneClickSlippageBps,
		sourceToken.GetAssetId(),
		"ORIGIN_CHAIN",
		destToken.GetAssetId(),
		units.String(),
		refundTo,
		"ORIGIN_CHAIN",
		recipient,
		"DESTINATION_CHAIN",
		time.Now().Add(oneClickDeadline),
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, nil, quoteError(httpResp, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	if resp == nil {
		return nil, nil, fmt.Errorf("empty quote response")
	}
	return resp, sourceToken, nil
}

// quoteError extracts the API's message so that liquidity ranges reach the caller
func quoteError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("failed to get quote from API: %w", err)
	}
	defer httpResp.Body.Close()

	body, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(body) == 0 {
		return fmt.Errorf("failed to get quote from API (status: %d): %w", httpResp.StatusCode, err)
	}
	var errorResp map[string]any
	if json.Unmarshal(body, &errorResp) == nil {
		if message, ok := errorResp["message"].(string); ok {
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
		if errs, ok := errorResp["errors"]; ok {
			return fmt.Errorf("API error (status %d): %v", httpResp.StatusCode, errs)
		}
	}
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(body))
}

func minutesLabel(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	lo := int(seconds / 60)
	if lo < 1 {
		lo = 1
	}
	return fmt.Sprintf("~%d-%d min", lo, lo+5)
}

// GetBridgeQuote prices a cross-chain transfer with a dry quote
func (c *OneClick) GetBridgeQuote(ctx context.Context, req types.BridgeQuoteRequest) (*types.BridgeQuoteResponse, error) {
	resp, _, err := c.quote(ctx, req.FromChain, req.ToChain, req.Token, req.ToToken, req.Amount, "", "", true)
	if err != nil {
		return nil, err
	}
	q := resp.GetQuote()
	return &types.BridgeQuoteResponse{
		EstimatedReceive: q.GetAmountOutFormatted(),
		Fee:              "0",
		EstimatedTime:    minutesLabel(float64(q.GetTimeEstimate())),
		BridgeProvider:   OneClickProvider,
	}, nil
}

// ExecuteBridge opens a funds-first order. The deposit address doubles as the
// order id.
func (c *OneClick) ExecuteBridge(ctx context.Context, req types.ExecuteBridgeRequest) (*types.ExecuteBridgeResponse, error) {
	resp, sourceToken, err := c.quote(ctx, req.FromChain, req.ToChain, req.Token, req.ToToken, req.Amount, req.Recipient, req.RefundAddress, false)
	if err != nil {
		return nil, err
	}
	q := resp.GetQuote()
	depositAddress := q.GetDepositAddress()
	if depositAddress == "" {
		return nil, fmt.Errorf("no deposit address in quote response")
	}
	units, err := amount.ToSmallestUnit(req.Amount, int32(sourceToken.GetDecimals()))
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	if memo := q.GetDepositMemo(); memo != "" {
		c.logger.Warn("deposit requires a memo", zap.String("deposit_address", depositAddress), zap.String("memo", memo))
	}

	return &types.ExecuteBridgeResponse{
		BridgeID:       depositAddress,
		Status:         string(types.OrderPendingDeposit),
		Provider:       OneClickProvider,
		DepositAddress: depositAddress,
		DepositAmount:  units.String(),
	}, nil
}

// GetOrderByID returns the execution status of a deposit address rendered as
// an order-status payload
func (c *OneClick) GetOrderByID(ctx context.Context, depositAddress string) ([]byte, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	details := resp.GetSwapDetails()
	payload := map[string]any{
		"status":     strings.ToLower(resp.GetStatus()),
		"updated_at": resp.GetUpdatedAt(),
	}
	if hashes := details.GetOriginChainTxHashes(); len(hashes) > 0 {
		payload["source_initiate_tx_hash"] = hashes[0].GetHash()
	}
	if hashes := details.GetDestinationChainTxHashes(); len(hashes) > 0 {
		payload["destination_redeem_tx_hash"] = hashes[len(hashes)-1].GetHash()
	}
	return json.Marshal(payload)
}

// SubmitDepositTx notifies 1Click of a deposit transaction hash
func (c *OneClick) SubmitDepositTx(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authed(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	return nil
}
