package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeflow/pkg/settlement"
	"tradeflow/pkg/types"
)

var (
	watchStatus bool
	metricsAddr string
)

var statusCmd = &cobra.Command{
	Use:   "status <order-id>",
	Short: "Check the status of a bridge order",
	Long: `Check the settlement status of a cross-chain order by its id. Orders from
1Click are identified by their deposit address.

Examples:
  tradeflow status 7f3c...
  tradeflow status 7f3c... --watch
  tradeflow status 7f3c... --watch --metrics-addr :9100`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Follow the order until it settles")
	statusCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while watching")
}

func runStatus(cmd *cobra.Command, args []string) error {
	orderID := strings.TrimSpace(args[0])
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if _, ok := a.tracker.Order(orderID); !ok {
		// an order opened elsewhere; its first poll fills in the details
		if err := a.tracker.Track(ctx, &types.BridgeOrder{OrderID: orderID, Status: types.OrderProcessing}); err != nil {
			return err
		}
	}

	if watchStatus {
		return watchOrder(cmd, a, orderID)
	}

	stop := startSpinner(cmd, "Checking order status...")
	order, err := a.tracker.Refresh(ctx, orderID)
	stop()
	if err != nil {
		return err
	}
	if isJSON(cmd) {
		return printJSON(order)
	}
	displayOrder(*order)
	return nil
}

func watchOrder(cmd *cobra.Command, a *app, orderID string) error {
	if isJSON(cmd) {
		return fmt.Errorf("watch mode not supported with JSON output")
	}
	ctx := cmd.Context()

	if metricsAddr != "" {
		srv := serveMetrics(a, metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Printf("\nWatching order %s\n", color.CyanString(orderID))
	fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n\n", a.cfg.Settlement.PollInterval)

	order, err := a.tracker.PollOnce(ctx, orderID)
	if err != nil {
		color.Red("Error: %v", err)
	} else {
		displayOrder(*order)
		if order.Status.IsTerminal() {
			return nil
		}
	}

	watch := watchOrders(a, true)
	a.tracker.StartPolling(ctx, orderID)
	if err := a.tracker.Wait(ctx, orderID); err != nil {
		return err
	}
	if last, ok := watch.get(orderID); ok && !last.Status.IsTerminal() {
		color.Yellow("Order is still %s. Run the command again to keep watching.", last.Status)
	}
	return nil
}

func serveMetrics(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

// orderWatch records the latest observed state of each order
type orderWatch struct {
	mu   sync.Mutex
	last map[string]types.BridgeOrder
}

func watchOrders(a *app, print bool) *orderWatch {
	w := &orderWatch{last: make(map[string]types.BridgeOrder)}
	a.tracker.OnStatusChange(func(n settlement.Notification) {
		w.mu.Lock()
		w.last[n.Order.OrderID] = n.Order
		w.mu.Unlock()
		if print {
			fmt.Printf("[%s] %s -> %s\n", time.Now().Format("15:04:05"), n.Previous, getColoredStatus(n.Order.Status))
			displayOrder(n.Order)
		}
	})
	return w
}

func (w *orderWatch) get(orderID string) (types.BridgeOrder, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.last[orderID]
	return o, ok
}

// latest returns the last observed state of order, or order itself
func (w *orderWatch) latest(order types.BridgeOrder) types.BridgeOrder {
	if o, ok := w.get(order.OrderID); ok {
		return o
	}
	return order
}

func displayOrder(o types.BridgeOrder) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        ORDER STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Order:           %s\n", color.CyanString(o.OrderID))
	fmt.Printf("  Status:          %s\n", getColoredStatus(o.Status))
	if o.Provider != "" {
		fmt.Printf("  Provider:        %s\n", o.Provider)
	}
	if o.SourceChain != "" {
		fmt.Printf("  Route:           %s %s -> %s\n", o.SourceToken, o.SourceChain, o.DestChain)
	}
	if !o.LastUpdated.IsZero() {
		fmt.Printf("  Last Updated:    %s\n", o.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	if o.DepositAddress != "" {
		fmt.Printf("  Deposit Address: %s\n", o.DepositAddress)
	}

	for _, tx := range []struct{ label, hash string }{
		{"Deposit Tx:      ", o.DepositTx},
		{"Source Tx:       ", o.SourceInitiateTx},
		{"Destination Tx:  ", o.DestinationInitiate},
		{"Redeem Tx:       ", o.DestinationRedeemTx},
		{"Refund Tx:       ", o.RefundTx},
	} {
		if tx.hash != "" {
			fmt.Printf("  %s%s\n", tx.label, color.HiBlackString(tx.hash))
		}
	}
	if o.RefundEligible() {
		color.Yellow("\n  Refund available: tradeflow refund %s", o.OrderID)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status types.OrderStatus) string {
	s := strings.ToUpper(string(status))

	switch status {
	case types.OrderCompleted:
		return color.GreenString(s)
	case types.OrderPendingDeposit, types.OrderInitiated, types.OrderProcessing:
		return color.YellowString(s)
	case types.OrderFailed, types.OrderRefunded, types.OrderExpired:
		return color.RedString(s)
	default:
		return s
	}
}
