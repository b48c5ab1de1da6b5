package types

import (
	"fmt"
	"strings"
)

// FlowKind distinguishes a same-chain swap from a cross-chain bridge
type FlowKind string

const (
	FlowSwap   FlowKind = "swap"
	FlowBridge FlowKind = "bridge"
)

// Mode is the execution mode used when keying and pricing quotes
type Mode string

const (
	ModePrivate     Mode = "private"
	ModeTransparent Mode = "transparent"
)

// TradeRoute describes where value moves from and to
type TradeRoute struct {
	SourceChain string   `json:"source_chain"`
	DestChain   string   `json:"dest_chain"`
	SourceToken string   `json:"source_token"`
	DestToken   string   `json:"dest_token"`
	Flow        FlowKind `json:"flow"`
}

// NewRoute builds a route and derives the flow kind from the chains
func NewRoute(sourceChain, destChain, sourceToken, destToken string) TradeRoute {
	r := TradeRoute{
		SourceChain: NormalizeChain(sourceChain),
		DestChain:   NormalizeChain(destChain),
		SourceToken: NormalizeTokenSymbol(sourceToken),
		DestToken:   NormalizeTokenSymbol(destToken),
		Flow:        FlowSwap,
	}
	if r.CrossChain() {
		r.Flow = FlowBridge
	}
	return r
}

// CrossChain reports whether the route leaves the source chain
func (r TradeRoute) CrossChain() bool {
	return r.SourceChain != r.DestChain
}

// Validate checks that the route can be quoted at all
func (r TradeRoute) Validate() error {
	if r.SourceChain == "" {
		return fmt.Errorf("source chain is required")
	}
	if r.DestChain == "" {
		return fmt.Errorf("destination chain is required")
	}
	if r.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if r.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if !IsSupportedChain(r.SourceChain) {
		return fmt.Errorf("unsupported source chain: %s", r.SourceChain)
	}
	if !IsSupportedChain(r.DestChain) {
		return fmt.Errorf("unsupported destination chain: %s", r.DestChain)
	}
	if _, ok := LookupToken(r.SourceToken); !ok {
		return fmt.Errorf("unsupported source token: %s", r.SourceToken)
	}
	if _, ok := LookupToken(r.DestToken); !ok {
		return fmt.Errorf("unsupported destination token: %s", r.DestToken)
	}
	if !r.CrossChain() && r.SourceToken == r.DestToken {
		return fmt.Errorf("source and destination token must differ")
	}
	if r.CrossChain() && r.Flow == FlowSwap {
		return fmt.Errorf("cross-chain route must use the bridge flow")
	}
	if !r.CrossChain() && r.Flow == FlowBridge {
		return fmt.Errorf("same-chain route must use the swap flow")
	}
	return nil
}

// String renders the route as "ETH@ethereum->STRK@starknet"
func (r TradeRoute) String() string {
	return fmt.Sprintf("%s@%s->%s@%s", r.SourceToken, r.SourceChain, r.DestToken, r.DestChain)
}

// TradeRequest is a user's trade intent before it is priced
type TradeRequest struct {
	Route         TradeRoute
	Amount        string
	Slippage      string
	HideBalance   bool
	Recipient     string
	RefundAddress string
	Denomination  string
}

// Mode returns the execution mode implied by the request
func (t TradeRequest) Mode() Mode {
	if t.HideBalance {
		return ModePrivate
	}
	return ModeTransparent
}

// NormalizeChain maps chain aliases to canonical identifiers
func NormalizeChain(chain string) string {
	chain = strings.TrimSpace(strings.ToLower(chain))

	aliases := map[string]string{
		"eth":      ChainEthereum,
		"evm":      ChainEthereum,
		"sepolia":  ChainEthereum,
		"strk":     ChainStarknet,
		"sn":       ChainStarknet,
		"btc":      ChainBitcoin,
		"sol":      ChainSolana,
		"mainnet":  ChainEthereum,
		"starknet": ChainStarknet,
	}

	if normalized, exists := aliases[chain]; exists {
		return normalized
	}
	return chain
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WETH": "ETH",
		"WSOL": "SOL",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}
	return symbol
}
