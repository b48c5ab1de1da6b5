package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeflow/pkg/amount"
	"tradeflow/pkg/execution"
	"tradeflow/pkg/fees"
	"tradeflow/pkg/parser"
	"tradeflow/pkg/quote"
	"tradeflow/pkg/types"
)

var (
	fromChain     string
	toChain       string
	recipientAddr string
	refundAddr    string
	slippage      string
	hideBalance   bool
	noConfirm     bool
	waitSettled   bool
	clampToMax    bool
	refreshEvery  time.Duration
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> [on <chain>] to <dest-token> [on <chain>]",
	Short: "Price a swap or bridge without executing it",
	Long: `Fetch a quote for a trade and show the expected output, fees and points.

Examples:
  tradeflow quote 100 STRK to USDC
  tradeflow quote 0.5 ETH on ethereum to STRK on starknet
  tradeflow quote 10 STRK to CAREL --hide-balance`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

var tradeCmd = &cobra.Command{
	Use:     "trade <amount> <source-token> [on <chain>] to <dest-token> [on <chain>]",
	Aliases: []string{"swap", "bridge"},
	Short:   "Execute a swap or bridge",
	Long: `Quote and execute a trade. Same-chain trades are swapped through your
Starknet wallet; cross-chain trades open a bridge order that is followed until it
settles.

IMPORTANT:
  - Cross-chain trades SHOULD set --recipient and --refund-to
  - Funds-first bridges need a deposit; it is sent automatically when
    auto-deposit is configured for the source chain

Examples:
  tradeflow trade 100 STRK to USDC
  tradeflow trade 100 STRK to USDC --hide-balance --slippage 1
  tradeflow trade 0.5 ETH on ethereum to STRK on starknet --recipient 0x123... --wait
  tradeflow trade 0.01 BTC on bitcoin to WBTC --recipient 0x123... --refund-to bc1q...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTrade,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(tradeCmd)

	for _, c := range []*cobra.Command{quoteCmd, tradeCmd} {
		c.Flags().StringVar(&fromChain, "from-chain", "", "Source blockchain (default starknet)")
		c.Flags().StringVar(&toChain, "to-chain", "", "Destination blockchain (default starknet)")
		c.Flags().StringVar(&slippage, "slippage", "", "Slippage tolerance in percent (default 0.5)")
		c.Flags().BoolVar(&hideBalance, "hide-balance", false, "Execute through the private flow")
	}
	quoteCmd.Flags().DurationVar(&refreshEvery, "refresh", 0, "Keep re-quoting at this interval until interrupted")
	tradeCmd.Flags().BoolVar(&clampToMax, "max", false, "Lower the amount to the maximum executable balance")
	tradeCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient address on the destination chain")
	tradeCmd.Flags().StringVar(&refundAddr, "refund-to", "", "Refund address on the source chain")
	tradeCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	tradeCmd.Flags().BoolVar(&waitSettled, "wait", false, "Wait for a bridge order to settle")
}

func parseTrade(args []string) (types.TradeRequest, error) {
	c, err := parser.ParseTradeCommand(strings.Join(args, " "))
	if err != nil {
		return types.TradeRequest{}, err
	}
	req, err := c.Request(fromChain, toChain)
	if err != nil {
		return types.TradeRequest{}, err
	}
	req.Slippage = slippage
	req.HideBalance = hideBalance
	req.Recipient = recipientAddr
	req.RefundAddress = refundAddr
	return req, nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	req, err := parseTrade(args)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stop := startSpinner(cmd, "Fetching quote...")
	res := a.quotes.Acquire(cmd.Context(), req)
	stop()
	if res.Err != nil {
		return res.Err
	}

	settings, err := executionSettings(a.cfg)
	if err != nil {
		return err
	}
	breakdown := fees.Calculate(res.Quote, settings.DiscountRate, settings.StakeMultiplier)

	if isJSON(cmd) {
		return printJSON(map[string]any{
			"quote":      res.Quote,
			"fees":       breakdown,
			"from_cache": res.FromCache,
		})
	}
	displayQuote(req, res.Quote, breakdown)
	if maxOut, ok := a.maxExecutable(cmd, req); ok {
		fmt.Printf("  Max Executable:    %s %s\n\n", amount.Display(maxOut), req.Route.SourceToken)
	}
	if refreshEvery > 0 {
		return refreshQuotes(cmd, a, req)
	}
	return nil
}

// refreshQuotes re-submits req to the debounced engine on every tick and
// prints each result that is still current
func refreshQuotes(cmd *cobra.Command, a *app, req types.TradeRequest) error {
	settings, err := executionSettings(a.cfg)
	if err != nil {
		return err
	}
	a.quotes.OnResult(func(r quote.Result) {
		if r.Err != nil {
			color.Red("[%s] %v", time.Now().Format("15:04:05"), r.Err)
			return
		}
		if r.Quote == nil {
			return
		}
		b := fees.Calculate(r.Quote, settings.DiscountRate, settings.StakeMultiplier)
		fmt.Printf("[%s] %s %s -> ~%s %s  fees %s  points %s\n",
			time.Now().Format("15:04:05"),
			amount.Display(r.Quote.SourceAmount), r.Quote.Route.SourceToken,
			amount.DisplayString(r.Quote.DestAmount), r.Quote.Route.DestToken,
			amount.Display(b.Total), b.Points.String())
	})

	fmt.Printf("Refreshing every %s. Press Ctrl+C to stop.\n\n", refreshEvery)
	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			if latest, ok := a.quotes.Latest(); ok && latest.Quote != nil {
				fmt.Printf("\nLast quote: ~%s %s\n", amount.DisplayString(latest.Quote.DestAmount), latest.Quote.Route.DestToken)
			}
			return nil
		case <-ticker.C:
			// cached entries would hide price moves
			a.cache.Purge()
			a.quotes.Submit(req)
		}
	}
}

// maxExecutable refreshes the source balance and reports the spendable amount
func (a *app) maxExecutable(cmd *cobra.Command, req types.TradeRequest) (decimal.Decimal, bool) {
	route := req.Route
	bal, err := a.backend.Balance(cmd.Context(), route.SourceChain, route.SourceToken)
	if err != nil {
		a.logger.Debug("balance unavailable", zap.Error(err))
		return decimal.Zero, false
	}
	a.guard.UpdateBalance(route.SourceChain, route.SourceToken, bal)
	return a.guard.MaxExecutable(route)
}

func runTrade(cmd *cobra.Command, args []string) error {
	req, err := parseTrade(args)
	if err != nil {
		return err
	}
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if clampToMax {
		if maxOut, ok := a.maxExecutable(cmd, req); ok {
			if clamped, changed := a.guard.Clamp(req.Route, req.Amount); changed {
				color.Yellow("Amount lowered to %s %s (max executable %s)", clamped, req.Route.SourceToken, amount.Display(maxOut))
				req.Amount = clamped
			}
		} else {
			color.Yellow("Balance unavailable; keeping amount %s", req.Amount)
		}
	}

	stop := startSpinner(cmd, "Fetching quote...")
	res := a.quotes.Acquire(ctx, req)
	stop()
	if res.Err != nil {
		return res.Err
	}

	settings, err := executionSettings(a.cfg)
	if err != nil {
		return err
	}
	if !isJSON(cmd) {
		displayQuote(req, res.Quote, fees.Calculate(res.Quote, settings.DiscountRate, settings.StakeMultiplier))
	}

	if !noConfirm && !isJSON(cmd) {
		if !confirm("Proceed with trade?") {
			fmt.Println("\nTrade cancelled.")
			return nil
		}
	}

	watch := watchOrders(a, false)
	stop = startSpinner(cmd, "Executing trade...")
	out, err := a.executor.Execute(ctx, req)
	stop()
	if err != nil {
		return err
	}

	if isJSON(cmd) && !(waitSettled && out.Order != nil && out.Settling) {
		return printJSON(out)
	}
	if !isJSON(cmd) {
		displayOutcome(out)
	}

	if out.Order == nil || !out.Settling {
		return nil
	}
	if !waitSettled {
		if !isJSON(cmd) {
			fmt.Println("You can monitor the order using:")
			color.Cyan("  tradeflow status %s\n", out.Order.OrderID)
		}
		return nil
	}

	stop = startSpinner(cmd, "Waiting for settlement...")
	err = a.tracker.Wait(ctx, out.Order.OrderID)
	stop()
	if err != nil {
		return err
	}
	order := watch.latest(*out.Order)
	if isJSON(cmd) {
		return printJSON(order)
	}
	displayOrder(order)
	return nil
}

func confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func displayQuote(req types.TradeRequest, q *types.Quote, b fees.Breakdown) {
	title := "SWAP QUOTE"
	if q.Flow == types.FlowBridge {
		title = "BRIDGE QUOTE"
	}
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     %s", title)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s on %s\n", amount.Display(q.SourceAmount), color.YellowString(q.Route.SourceToken), q.Route.SourceChain)
	fmt.Printf("  To:                ~%s %s on %s\n", amount.DisplayString(q.DestAmount), color.YellowString(q.Route.DestToken), q.Route.DestChain)
	if q.Provider != "" {
		fmt.Printf("  Provider:          %s\n", q.Provider)
	}
	if q.EstimatedTime != "" {
		fmt.Printf("  Estimated Time:    %s\n", q.EstimatedTime)
	}
	if !q.PriceImpact.IsZero() {
		fmt.Printf("  Price Impact:      %s%%\n", amount.Display(q.PriceImpact))
	}
	if req.HideBalance && q.Flow == types.FlowSwap {
		fmt.Printf("  Mode:              %s\n", color.MagentaString("private"))
	}
	if q.NormalizedByLivePrice {
		fmt.Printf("  %s\n", color.HiBlackString("output re-estimated from live prices"))
	}

	unit := q.Route.SourceToken
	if b.Unit == types.FeeUnitUSD {
		unit = "USD"
	}
	fmt.Printf("\n  Protocol Fee:      %s %s\n", amount.Display(b.Protocol), unit)
	fmt.Printf("  Network Fee:       %s %s\n", amount.Display(b.Network), unit)
	if b.MEV.IsPositive() {
		fmt.Printf("  MEV Protection:    %s %s\n", amount.Display(b.MEV), unit)
	}
	fmt.Printf("  Total Fees:        %s %s\n", amount.Display(b.Total), unit)
	if b.Saved.IsPositive() {
		fmt.Printf("  NFT Discount:      -%s %s\n", amount.Display(b.Saved), unit)
	}
	fmt.Printf("  Points:            %s\n", b.Points.String())

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayOutcome(out *execution.Outcome) {
	switch {
	case out.Order != nil && out.Order.FundsFirst() && out.Order.DepositTx == "" && out.Order.SourceInitiateTx == "":
		displayDepositInstructions(out.Order)
	case out.Settling:
		printSuccess(fmt.Sprintf("Bridge order %s opened.", out.Order.OrderID))
	case out.Optimistic:
		printSuccess("Swap submitted. The backend has not confirmed it yet.")
	default:
		printSuccess("Trade completed.")
	}
	if out.TxHash != "" {
		fmt.Printf("  Transaction:       %s\n", color.CyanString(out.TxHash))
	}
	if out.Submission != nil && out.Submission.ApprovalTxHash != "" {
		fmt.Printf("  Approval:          %s\n", color.HiBlackString(out.Submission.ApprovalTxHash))
	}
	if out.Flow == types.FlowSwap {
		fmt.Printf("  %s\n", fees.Reconcile(out.Fees, out.Swap))
	}
	if out.Message != "" {
		fmt.Printf("  %s\n", out.Message)
	}
	fmt.Println()
}

func displayDepositInstructions(order *types.BridgeOrder) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Yellow("                 DEPOSIT INSTRUCTIONS")
	fmt.Println(strings.Repeat("=", 60))

	deposit := order.DepositAmount
	if units, err := amount.FromSmallestUnit(order.DepositAmount, types.TokenDecimals(order.SourceToken)); err == nil {
		deposit = amount.Display(units)
	}
	fmt.Printf("\nTo complete the bridge, send %s %s to:\n\n", deposit, order.SourceToken)
	color.Cyan("  %s\n", order.DepositAddress)
	fmt.Printf("\nThen run: tradeflow status %s --watch\n", order.OrderID)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
