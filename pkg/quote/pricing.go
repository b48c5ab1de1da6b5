package quote

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/txerror"
	"tradeflow/pkg/types"
)

var (
	swapProtocolFeeRate = decimal.RequireFromString("0.003")
	swapMEVFeeRate      = decimal.RequireFromString("0.0015")
)

const defaultSwapTime = "~1 min"

var providerTimes = map[string]string{
	"layerswap": "~15-20 min",
	"starkgate": "~10-15 min",
	"atomiq":    "~20-30 min",
	"garden":    "~25-35 min",
}

// ProviderTimeLabel returns the usual settlement time for a bridge provider
func ProviderTimeLabel(provider string) string {
	if label, ok := providerTimes[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return label
	}
	return "~10-30 min"
}

var minuteRange = regexp.MustCompile(`^~?\s*(\d+)\s*-\s*(\d+)\s*min`)

// WidenTimeLabel accounts for the extra swap leg of a bridge whose
// destination token differs from the source token
func WidenTimeLabel(label string) string {
	m := minuteRange.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		if label == "" {
			return "(+ swap)"
		}
		return label + " (+ swap)"
	}
	lo, _ := strconv.Atoi(m[1])
	hi, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("~%d-%d min", lo+2, hi+5)
}

// parseOptional reads a backend figure, which may legitimately be negative
// (a price impact in the trader's favour)
func parseOptional(raw string) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return d
	}
	d, ok := amount.Parse(raw)
	if !ok {
		return decimal.Zero
	}
	return d
}

func (e *Engine) fetchSwap(ctx context.Context, req types.TradeRequest) (*types.Quote, error) {
	route := req.Route
	amt, _ := amount.Parse(req.Amount)
	slip, _ := slippageOf(req)

	resp, err := e.backend.GetSwapQuote(ctx, types.SwapQuoteRequest{
		FromToken: route.SourceToken,
		ToToken:   route.DestToken,
		Amount:    amt.String(),
		Slippage:  slip.String(),
		Mode:      req.Mode(),
	})
	if err != nil {
		return nil, fmt.Errorf("swap quote failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("swap quote failed: empty response")
	}

	out, ok := amount.Parse(resp.ToAmount)
	if !ok || !out.IsPositive() {
		return nil, fmt.Errorf("swap quote returned no output amount")
	}
	if len(resp.OnchainCalls) > 0 {
		if err := types.ValidateCalls(resp.OnchainCalls); err != nil {
			return nil, txerror.New(txerror.KindQuote, fmt.Errorf("swap quote carried invalid calls: %w", err))
		}
	}

	q := &types.Quote{
		Flow:          types.FlowSwap,
		Route:         route,
		SourceAmount:  amt,
		FeeUnit:       types.FeeUnitToken,
		EstimatedTime: resp.EstimatedTime,
		PriceImpact:   parseOptional(resp.PriceImpact),
		Calls:         resp.OnchainCalls,
	}
	if q.EstimatedTime == "" {
		q.EstimatedTime = defaultSwapTime
	}

	q.ProtocolFee = parseOptional(resp.Fee)
	if !q.ProtocolFee.IsPositive() {
		q.ProtocolFee = amt.Mul(swapProtocolFeeRate)
	}
	q.MEVFee = parseOptional(resp.MEVFee)
	if !q.MEVFee.IsPositive() && req.HideBalance {
		q.MEVFee = amt.Mul(swapMEVFeeRate)
	}
	q.FeeAmount = q.ProtocolFee.Add(q.MEVFee)

	srcPrice, srcOK := e.price(ctx, route.SourceToken)
	dstPrice, dstOK := e.price(ctx, route.DestToken)
	if srcOK {
		q.ValueUSD = amt.Mul(srcPrice)
	}
	if srcOK && dstOK {
		reference := amt.Mul(srcPrice).Div(dstPrice)
		if e.deviates(out, reference) {
			e.logger.Warn("swap estimate deviates from live price, reprojecting",
				zap.String("route", route.String()),
				zap.String("backend", out.String()),
				zap.String("reference", reference.String()))
			out = reference
			q.PriceImpact = decimal.Zero
			q.NormalizedByLivePrice = true
		}
	}
	q.DestAmount = amount.Display(out)
	return q, nil
}

// deviates reports whether got lies outside reference×(1±threshold)
func (e *Engine) deviates(got, reference decimal.Decimal) bool {
	if !reference.IsPositive() {
		return false
	}
	one := decimal.NewFromInt(1)
	ratio := got.Div(reference)
	return ratio.GreaterThan(one.Add(e.threshold)) || ratio.LessThan(one.Sub(e.threshold))
}

func (e *Engine) fetchBridge(ctx context.Context, req types.TradeRequest) (*types.Quote, error) {
	route := req.Route
	amt, _ := amount.Parse(req.Amount)

	if req.HideBalance {
		e.logger.Warn("balance hiding is not applied to bridges", zap.String("route", route.String()))
	}

	resp, err := e.backend.GetBridgeQuote(ctx, types.BridgeQuoteRequest{
		FromChain: route.SourceChain,
		ToChain:   route.DestChain,
		Token:     route.SourceToken,
		ToToken:   route.DestToken,
		Amount:    amt.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("bridge quote failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("bridge quote failed: empty response")
	}

	receive, ok := amount.Parse(resp.EstimatedReceive)
	if !ok || !receive.IsPositive() {
		return nil, fmt.Errorf("bridge quote returned no receive amount")
	}

	q := &types.Quote{
		Flow:          types.FlowBridge,
		Route:         route,
		SourceAmount:  amt,
		FeeUnit:       types.FeeUnitToken,
		Provider:      resp.BridgeProvider,
		EstimatedTime: resp.EstimatedTime,
		ProtocolFee:   parseOptional(resp.Fee),
		NetworkFee:    parseOptional(resp.NetworkFee),
	}
	if q.EstimatedTime == "" {
		q.EstimatedTime = ProviderTimeLabel(resp.BridgeProvider)
	}

	if e.fees != nil && types.IsEVMChain(route.SourceChain) && types.IsNativeAsset(route.SourceChain, route.SourceToken) {
		live, err := e.fees.EstimateBridgeFees(ctx, route, amt)
		if err != nil {
			e.logger.Warn("live bridge fee estimate failed, using backend figure",
				zap.String("route", route.String()), zap.Error(err))
		} else {
			q.ProtocolFee = live.Protocol
			q.NetworkFee = live.Network
		}
	}
	q.FeeAmount = q.ProtocolFee.Add(q.NetworkFee)

	srcPrice, srcOK := e.price(ctx, route.SourceToken)
	if srcOK {
		q.ValueUSD = amt.Mul(srcPrice)
	}

	if route.SourceToken != route.DestToken {
		dstPrice, dstOK := e.price(ctx, route.DestToken)
		if !srcOK || !dstOK {
			return nil, fmt.Errorf("no live price to convert %s into %s", route.SourceToken, route.DestToken)
		}
		receive = receive.Mul(srcPrice).Div(dstPrice)
		q.EstimatedTime = WidenTimeLabel(q.EstimatedTime)
	}

	q.DestAmount = amount.Display(receive)
	return q, nil
}
