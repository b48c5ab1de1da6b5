package parser

import (
	"fmt"
	"regexp"
	"strings"

	"tradeflow/pkg/types"
)

// DefaultChain is used when a command names no chain for a side
const DefaultChain = types.ChainStarknet

var tradePattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9]+))?\s+(?:TO|FOR|->)\s+([A-Z0-9]+)(?:\s+ON\s+([A-Z0-9]+))?$`)

// Command is a parsed trade command
type Command struct {
	Amount      string
	SourceToken string
	SourceChain string
	DestToken   string
	DestChain   string
}

// ParseTradeCommand parses a natural language trade command
// Examples:
//   - "swap 10 STRK to CAREL"
//   - "0.1 ETH on ethereum to ETH on starknet"
//   - "bridge 0.01 BTC on bitcoin to WBTC"
func ParseTradeCommand(command string) (*Command, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	for _, verb := range []string{"SWAP ", "BRIDGE ", "TRADE "} {
		command = strings.TrimPrefix(command, verb)
	}

	matches := tradePattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid trade command format. Expected: '<amount> <token> [on <chain>] to <token> [on <chain>]' (e.g., '10 STRK to CAREL')")
	}

	c := &Command{
		Amount:      matches[1],
		SourceToken: matches[2],
		SourceChain: strings.ToLower(matches[3]),
		DestToken:   matches[4],
		DestChain:   strings.ToLower(matches[5]),
	}
	return c, nil
}

// Request builds the trade request. Flag chains override the command's, and
// a side without any chain falls back to DefaultChain.
func (c *Command) Request(fromChain, toChain string) (types.TradeRequest, error) {
	source := firstNonEmpty(fromChain, c.SourceChain, DefaultChain)
	dest := firstNonEmpty(toChain, c.DestChain, DefaultChain)

	req := types.TradeRequest{
		Route:  types.NewRoute(source, dest, c.SourceToken, c.DestToken),
		Amount: c.Amount,
	}
	if err := req.Route.Validate(); err != nil {
		return types.TradeRequest{}, err
	}
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
