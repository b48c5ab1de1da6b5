package quote

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

// DefaultSlippage is the slippage tolerance in percent used when none is given
const DefaultSlippage = "0.5"

// Key builds the canonical cache key for a request: route, amount to 8
// places, slippage to 4 places and execution mode.
func Key(req types.TradeRequest) (string, error) {
	amt, ok := amount.Parse(req.Amount)
	if !ok || !amt.IsPositive() {
		return "", txerror.Newf(txerror.KindInput, "amount must be greater than zero")
	}
	slip, err := slippageOf(req)
	if err != nil {
		return "", err
	}

	r := req.Route
	return strings.Join([]string{
		string(r.Flow),
		r.SourceChain,
		r.DestChain,
		r.SourceToken,
		r.DestToken,
		amount.Fixed(amt, 8),
		amount.Fixed(slip, 4),
		string(req.Mode()),
	}, "|"), nil
}

func slippageOf(req types.TradeRequest) (decimal.Decimal, error) {
	raw := strings.TrimSpace(req.Slippage)
	if raw == "" {
		raw = DefaultSlippage
	}
	slip, ok := amount.Parse(raw)
	if !ok || slip.IsNegative() || slip.GreaterThan(decimal.NewFromInt(50)) {
		return decimal.Zero, txerror.Newf(txerror.KindInput, "invalid slippage %q", req.Slippage)
	}
	return slip, nil
}

// validate rejects requests that must never reach the network
func validate(req types.TradeRequest) error {
	if err := req.Route.Validate(); err != nil {
		return txerror.New(txerror.KindInput, err)
	}
	if !amount.IsPositive(req.Amount) {
		return txerror.Newf(txerror.KindInput, "amount must be greater than zero")
	}
	if _, err := slippageOf(req); err != nil {
		return err
	}
	return nil
}

func describe(req types.TradeRequest) string {
	return fmt.Sprintf("%s %s (%s)", req.Amount, req.Route, req.Mode())
}
