package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5
	DefaultBurst     = 10
)

// APIError is a non-2xx backend response
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// kind maps backend error codes onto error kinds; unmapped codes fall back to
// message classification
func (e *APIError) kind() txerror.Kind {
	switch e.Code {
	case "INSUFFICIENT_LIQUIDITY", "INSUFFICIENT_BALANCE", "SLIPPAGE_TOO_HIGH":
		return txerror.KindLiquidity
	case "INVALID_SIGNATURE":
		return txerror.KindInvalidSignature
	case "BAD_REQUEST":
		return txerror.KindQuote
	}
	return ""
}

// WalletAddresses are the user's addresses used for balance lookups
type WalletAddresses struct {
	Starknet string `json:"starknet_address,omitempty"`
	EVM      string `json:"evm_address,omitempty"`
	BTC      string `json:"btc_address,omitempty"`
}

// Backend is the HTTP client for the trading backend
type Backend struct {
	BaseURL string `validate:"required,url"`

	httpClient *http.Client
	limiter    *rate.Limiter
	token      string
	addresses  WalletAddresses
	logger     *zap.Logger
}

type Option func(*Backend)

func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// WithToken sets the bearer token sent with every request
func WithToken(token string) Option {
	return func(b *Backend) { b.token = token }
}

// WithRateLimit paces outgoing requests; a zero limit disables pacing
func WithRateLimit(perSecond float64, burst int) Option {
	return func(b *Backend) {
		if perSecond <= 0 {
			b.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithAddresses(a WalletAddresses) Option {
	return func(b *Backend) { b.addresses = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackend creates a client for the backend at baseURL
func NewBackend(baseURL string, opts ...Option) (*Backend, error) {
	b := &Backend{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(DefaultRateLimit, DefaultBurst),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := validator.New().Struct(b); err != nil {
		return nil, errors.Wrap(err, "invalid backend configuration")
	}
	return b, nil
}

// do sends a request and returns the raw response body of a 2xx reply
func (b *Backend) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	b.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, raw)
	}
	if gjson.GetBytes(raw, "success").Type == gjson.False {
		return nil, apiError(resp.StatusCode, raw)
	}
	return raw, nil
}

func apiError(status int, raw []byte) error {
	e := &APIError{Status: status}
	if gjson.ValidBytes(raw) {
		e.Code = gjson.GetBytes(raw, "error.code").String()
		e.Message = firstString(gjson.ParseBytes(raw), "error.message", "message", "error", "errors")
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if kind := e.kind(); kind != "" {
		return txerror.New(kind, e)
	}
	return txerror.Classify(e)
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// call decodes the data field of the response envelope into out
func (b *Backend) call(ctx context.Context, method, path string, body, out any) error {
	raw, err := b.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	data := gjson.GetBytes(raw, "data")
	payload := []byte(data.Raw)
	if !data.Exists() {
		payload = raw
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

func (b *Backend) GetSwapQuote(ctx context.Context, req types.SwapQuoteRequest) (*types.SwapQuoteResponse, error) {
	var out types.SwapQuoteResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/swap/quote", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Backend) GetBridgeQuote(ctx context.Context, req types.BridgeQuoteRequest) (*types.BridgeQuoteResponse, error) {
	var out types.BridgeQuoteResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/bridge/quote", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Backend) ExecuteSwap(ctx context.Context, req types.ExecuteSwapRequest) (*types.ExecuteSwapResponse, error) {
	var out types.ExecuteSwapResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/swap/execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *Backend) ExecuteBridge(ctx context.Context, req types.ExecuteBridgeRequest) (*types.ExecuteBridgeResponse, error) {
	var out types.ExecuteBridgeResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/bridge/execute", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AutoSubmitPrivacyAction asks the backend to generate and submit a fresh privacy note
func (b *Backend) AutoSubmitPrivacyAction(ctx context.Context, req types.PrivacyActionRequest) (*types.PrivacyActionResponse, error) {
	var out types.PrivacyActionResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/privacy/auto-submit", req, &out); err != nil {
		return nil, txerror.New(txerror.KindPrivacy, err)
	}
	return &out, nil
}

func (b *Backend) PreparePrivateExecution(ctx context.Context, req types.PrivateExecutionRequest) (*types.PrivateExecutionResponse, error) {
	var out types.PrivateExecutionResponse
	if err := b.call(ctx, http.MethodPost, "/api/v1/privacy/prepare-private-execution", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrderByID returns the raw status payload of a bridge order
func (b *Backend) GetOrderByID(ctx context.Context, orderID string) ([]byte, error) {
	return b.do(ctx, http.MethodGet, "/api/v1/bridge/status/"+url.PathEscape(orderID), nil)
}

// GetRefundHash fetches the instant refund authorization hash of an order
func (b *Backend) GetRefundHash(ctx context.Context, orderID string) (string, error) {
	raw, err := b.do(ctx, http.MethodGet, "/api/v1/garden/orders/"+url.PathEscape(orderID)+"/instant-refund-hash", nil)
	if err != nil {
		return "", err
	}
	doc := gjson.ParseBytes(raw)
	if data := doc.Get("data"); data.Type == gjson.String {
		return data.String(), nil
	}
	return firstString(doc, "data.result", "data.hash", "data.refund_hash", "data.instant_refund_hash", "result"), nil
}

// PriceUSD returns the latest close of a token's one minute candles
func (b *Backend) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/api/v1/chart/%s/ohlcv?interval=1m&limit=1", url.PathEscape(strings.ToUpper(symbol)))
	raw, err := b.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return decimal.Zero, err
	}
	ticks := gjson.GetBytes(raw, "data.data").Array()
	if len(ticks) == 0 {
		return decimal.Zero, fmt.Errorf("no price data for %s", symbol)
	}
	price, err := decimal.NewFromString(ticks[len(ticks)-1].Get("close").String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price for %s", symbol)
	}
	return price, nil
}

// balanceField maps a chain/token pair to the on-chain balance response field
func balanceField(chain, token string) string {
	token = types.NormalizeTokenSymbol(token)
	if token == "STRK" {
		if types.NormalizeChain(chain) == types.ChainStarknet {
			return "strk_l2"
		}
		return "strk_l1"
	}
	return strings.ToLower(token)
}

// Balance reads the wallet's on-chain balance of token on chain
func (b *Backend) Balance(ctx context.Context, chain, token string) (decimal.Decimal, error) {
	raw, err := b.do(ctx, http.MethodPost, "/api/v1/wallet/onchain-balances", b.addresses)
	if err != nil {
		return decimal.Zero, err
	}
	field := balanceField(chain, token)
	v := gjson.GetBytes(raw, "data."+field)
	if !v.Exists() || v.Type == gjson.Null {
		return decimal.Zero, fmt.Errorf("balance of %s on %s is unavailable", token, chain)
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid %s balance", field)
	}
	return d, nil
}
