package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"tradeflow/pkg/calls"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// RelaySigner submits Starknet calls through an HTTP signing relay that
// holds the account. The relay answers with the transaction hash.
type RelaySigner struct {
	URL     string `validate:"required,url"`
	Account string `validate:"required"`

	httpClient *http.Client
	logger     *zap.Logger
}

type invokeRequest struct {
	Account         string              `json:"account"`
	Calls           []types.OnchainCall `json:"calls"`
	ProviderHint    string              `json:"provider_hint,omitempty"`
	RefreshValidity bool                `json:"refresh_validity,omitempty"`
}

// NewRelaySigner creates a signer for account behind the relay at url
func NewRelaySigner(url, account string, logger *zap.Logger) (*RelaySigner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RelaySigner{
		URL:        strings.TrimRight(url, "/"),
		Account:    account,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger,
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.Wrap(err, "invalid relay signer configuration")
	}
	return s, nil
}

// InvokeCalls asks the relay to sign and send calls as one multicall
func (s *RelaySigner) InvokeCalls(ctx context.Context, cs []types.OnchainCall, opts calls.InvokeOptions) (string, error) {
	body, err := json.Marshal(invokeRequest{
		Account:         s.Account,
		Calls:           cs,
		ProviderHint:    opts.ProviderHint,
		RefreshValidity: opts.RefreshValidity,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode invoke request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build invoke request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", txerror.Classify(errors.Wrap(err, "relay unreachable"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read relay response")
	}
	doc := gjson.ParseBytes(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := doc.Get("error.message").String()
		if msg == "" {
			msg = doc.Get("error").String()
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", txerror.Classify(fmt.Errorf("relay rejected invoke (status %d): %s", resp.StatusCode, msg))
	}

	hash := doc.Get("transaction_hash").String()
	if hash == "" {
		hash = doc.Get("tx_hash").String()
	}
	if hash == "" {
		return "", fmt.Errorf("relay response has no transaction hash")
	}
	s.logger.Info("starknet calls submitted",
		zap.String("hash", hash),
		zap.Int("calls", len(cs)),
		zap.Bool("refresh_validity", opts.RefreshValidity))
	return hash, nil
}
