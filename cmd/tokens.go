package cmd

import (
	"fmt"
	"sort"
	"strings"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tradeflow/pkg/types"
)

var (
	filterChain  string
	filterSymbol string
	fromOneClick bool
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List supported tokens",
	Long: `List the tokens the trading venue can price. With --oneclick the list comes
from the 1Click API instead and can be filtered by blockchain or symbol.

Examples:
  tradeflow tokens
  tradeflow tokens --oneclick --chain sol
  tradeflow tokens --oneclick --symbol USDC`,
	Args: cobra.NoArgs,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().BoolVar(&fromOneClick, "oneclick", false, "List tokens supported by 1Click")
	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain (with --oneclick)")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) error {
	if !fromOneClick {
		return listRegistryTokens(cmd)
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.oneClick == nil {
		return fmt.Errorf("1Click is not enabled (set oneclick.enabled and oneclick.jwt_token)")
	}

	stop := startSpinner(cmd, "Fetching supported tokens...")
	tokens, err := a.oneClick.SupportedTokens(cmd.Context())
	stop()
	if err != nil {
		return err
	}

	filtered := tokens
	if filterChain != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.EqualFold(token.GetBlockchain(), filterChain) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}
	if filterSymbol != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.Contains(strings.ToUpper(token.GetSymbol()), strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	if isJSON(cmd) {
		return printJSON(filtered)
	}
	displayOneClickTokens(filtered)
	return nil
}

func listRegistryTokens(cmd *cobra.Command) error {
	var tokens []types.Token
	for _, t := range types.Tokens() {
		if filterSymbol == "" || strings.Contains(t.Symbol, strings.ToUpper(filterSymbol)) {
			tokens = append(tokens, t)
		}
	}
	if isJSON(cmd) {
		return printJSON(tokens)
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))
	for _, t := range tokens {
		address := t.Address
		if address == "" {
			address = "native"
		}
		fmt.Printf("  %-10s  %2d decimals  %s\n",
			color.YellowString(t.Symbol),
			t.Decimals,
			color.HiBlackString(address))
	}
	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
	return nil
}

func displayOneClickTokens(tokens []oneclick.TokenResponse) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                          1CLICK SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	tokensByChain := make(map[string][]oneclick.TokenResponse)
	for _, token := range tokens {
		chain := token.GetBlockchain()
		tokensByChain[chain] = append(tokensByChain[chain], token)
	}

	chains := make([]string, 0, len(tokensByChain))
	for chain := range tokensByChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 90))

		for _, token := range tokensByChain[chain] {
			address := token.GetContractAddress()
			if len(address) > 40 {
				address = address[:37] + "..."
			}
			fmt.Printf("  %-10s  %2.0f decimals  %s\n",
				color.YellowString(token.GetSymbol()),
				token.GetDecimals(),
				color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}
