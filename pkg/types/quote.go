package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeUnit says what a quoted fee amount is denominated in
type FeeUnit string

const (
	FeeUnitToken FeeUnit = "token"
	FeeUnitUSD   FeeUnit = "usd"
)

// OnchainCall is a single contract invocation in a multi-call
type OnchainCall struct {
	ContractAddress string   `json:"contract_address"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}

// Validate enforces that the call can be handed to a wallet as-is
func (c OnchainCall) Validate() error {
	if strings.TrimSpace(c.ContractAddress) == "" {
		return fmt.Errorf("call is missing a contract address")
	}
	if strings.TrimSpace(c.Entrypoint) == "" {
		return fmt.Errorf("call to %s is missing an entrypoint", c.ContractAddress)
	}
	for i, item := range c.Calldata {
		if strings.TrimSpace(item) == "" {
			return fmt.Errorf("call %s.%s has empty calldata at index %d", c.ContractAddress, c.Entrypoint, i)
		}
	}
	return nil
}

// IsApproval reports whether the call grants an allowance
func (c OnchainCall) IsApproval() bool {
	ep := strings.ToLower(strings.TrimSpace(c.Entrypoint))
	return ep == "approve" || ep == "increase_allowance" || ep == "increaseallowance"
}

// SameTarget compares entrypoint and contract address, ignoring hex padding and case
func (c OnchainCall) SameTarget(other OnchainCall) bool {
	return strings.EqualFold(strings.TrimSpace(c.Entrypoint), strings.TrimSpace(other.Entrypoint)) &&
		NormalizeAddress(c.ContractAddress) == NormalizeAddress(other.ContractAddress)
}

// ValidateCalls checks a prepared call list; an empty list is invalid
func ValidateCalls(calls []OnchainCall) error {
	if len(calls) == 0 {
		return fmt.Errorf("call list is empty")
	}
	for _, c := range calls {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeAddress lowercases a hex address and strips leading zeros after 0x
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		return addr
	}
	body := strings.TrimLeft(addr[2:], "0")
	if body == "" {
		body = "0"
	}
	return "0x" + body
}

// Quote is a time-bounded, priced estimate of a trade's outcome.
// A quote is never mutated after creation; the next request supersedes it.
type Quote struct {
	Flow                  FlowKind        `json:"flow"`
	Route                 TradeRoute      `json:"route"`
	SourceAmount          decimal.Decimal `json:"source_amount"`
	DestAmount            string          `json:"dest_amount"`
	FeeAmount             decimal.Decimal `json:"fee_amount"`
	FeeUnit               FeeUnit         `json:"fee_unit"`
	ProtocolFee           decimal.Decimal `json:"protocol_fee"`
	NetworkFee            decimal.Decimal `json:"network_fee"`
	MEVFee                decimal.Decimal `json:"mev_fee"`
	EstimatedTime         string          `json:"estimated_time"`
	Provider              string          `json:"provider,omitempty"`
	PriceImpact           decimal.Decimal `json:"price_impact"`
	Calls                 []OnchainCall   `json:"onchain_calls,omitempty"`
	NormalizedByLivePrice bool            `json:"normalized_by_live_price"`
	ValueUSD              decimal.Decimal `json:"value_usd"`
}

// HasCalls reports whether the quote carries a usable prepared call sequence
func (q *Quote) HasCalls() bool {
	return q != nil && len(q.Calls) > 0 && ValidateCalls(q.Calls) == nil
}
