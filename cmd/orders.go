package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeflow/pkg/deposit"
	"tradeflow/pkg/settlement"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List pending bridge orders",
	Long: `List the cross-chain orders that have not settled yet. Orders are kept
across runs until they complete, refund, expire or fail. With --watch every
pending order is polled until it settles.`,
	Args: cobra.NoArgs,
	RunE: runOrders,
}

var refundCmd = &cobra.Command{
	Use:   "refund <order-id>",
	Short: "Claim the refund of a failed or expired order",
	Long: `Claim a refund for a bridge order. A pre-signed instant refund is broadcast
directly; otherwise the refund hash to complete in your wallet is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefund,
}

var resendDepositCmd = &cobra.Command{
	Use:   "resend-deposit <order-id>",
	Short: "Send the deposit of a funds-first order again",
	Args:  cobra.ExactArgs(1),
	RunE:  runResendDeposit,
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(refundCmd)
	rootCmd.AddCommand(resendDepositCmd)

	ordersCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll every pending order until it settles")
	resendDepositCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runOrders(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if watchStatus {
		return watchAllOrders(cmd, a)
	}

	orders := a.tracker.Orders()
	if isJSON(cmd) {
		return printJSON(orders)
	}
	if len(orders) == 0 {
		fmt.Println("\nNo pending orders.")
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              PENDING ORDERS")
	fmt.Println(strings.Repeat("=", 90))
	for _, o := range orders {
		id := o.OrderID
		if len(id) > 40 {
			id = id[:37] + "..."
		}
		fmt.Printf("  %-40s  %-28s  %-8s -> %-8s  %s\n",
			color.CyanString(id),
			getColoredStatus(o.Status),
			o.SourceChain,
			o.DestChain,
			color.HiBlackString(o.LastUpdated.Format("2006-01-02 15:04")))
	}
	fmt.Println(strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d orders\n\n", len(orders))
	return nil
}

func watchAllOrders(cmd *cobra.Command, a *app) error {
	if isJSON(cmd) {
		return fmt.Errorf("watch mode not supported with JSON output")
	}
	ctx := cmd.Context()

	watchOrders(a, true)
	n, err := a.tracker.Resume(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("\nNo pending orders.")
		return nil
	}
	fmt.Printf("\nWatching %d pending orders. Press Ctrl+C to stop.\n\n", n)
	for _, o := range a.tracker.Orders() {
		if err := a.tracker.Wait(ctx, o.OrderID); err != nil {
			return err
		}
	}
	printSuccess("All poll sessions finished.")
	return nil
}

func runRefund(cmd *cobra.Command, args []string) error {
	orderID := strings.TrimSpace(args[0])
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if _, err := a.tracker.Refresh(ctx, orderID); err != nil && !errors.Is(err, settlement.ErrUnknownOrder) {
		a.logger.Warn("could not refresh order before refund", zap.String("order", orderID), zap.Error(err))
	}

	stop := startSpinner(cmd, "Claiming refund...")
	res, err := a.tracker.ClaimRefund(ctx, orderID)
	stop()
	if err != nil {
		return err
	}

	if isJSON(cmd) {
		return printJSON(res)
	}
	if res.TxHash != "" {
		printSuccess("Refund broadcast.")
		fmt.Printf("  Transaction ID: %s\n\n", color.CyanString(res.TxHash))
		return nil
	}
	fmt.Println("\nSign this refund hash in your wallet to complete the refund:")
	color.Cyan("  %s\n", res.RefundHash)
	return nil
}

func runResendDeposit(cmd *cobra.Command, args []string) error {
	orderID := strings.TrimSpace(args[0])
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	o, ok := a.tracker.Order(orderID)
	if !ok {
		return settlement.ErrUnknownOrder
	}
	if !isJSON(cmd) && !noConfirm {
		fmt.Printf("\n  Deposit Address: %s\n  Amount:          %s %s\n", o.DepositAddress, o.DepositAmount, o.SourceToken)
		if !confirm("Send deposit?") {
			fmt.Println("\nDeposit cancelled.")
			return nil
		}
	}

	stop := startSpinner(cmd, "Sending deposit...")
	hash, err := a.tracker.ResendDeposit(cmd.Context(), orderID)
	stop()
	if errors.Is(err, deposit.ErrManualDeposit) {
		color.Yellow("\n%v", err)
		return nil
	}
	if err != nil {
		return err
	}

	if isJSON(cmd) {
		return printJSON(map[string]string{"order_id": orderID, "tx_hash": hash})
	}
	printSuccess("Deposit sent successfully!")
	fmt.Printf("  Transaction ID: %s\n\n", color.CyanString(hash))
	return nil
}
