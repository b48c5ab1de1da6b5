package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradeflow/config"
	"tradeflow/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tradeflow",
	Short: "Quote and execute same-chain swaps and cross-chain bridges",
	Long: `tradeflow quotes trades against the trading backend, executes them through
your wallet and follows cross-chain orders until they settle.

Examples:
  tradeflow quote 100 STRK to USDC
  tradeflow trade 0.5 ETH on ethereum to STRK on starknet --recipient 0x123...
  tradeflow trade 100 STRK to USDC --hide-balance
  tradeflow status <order-id> --watch
  tradeflow orders`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.tradeflow.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// setup loads configuration and builds the application components
func setup(cmd *cobra.Command) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	logger, err := logging.New(verbose, jsonOutput)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	config.Set(cfg)

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, err := a.tracker.Restore(cmd.Context()); err != nil {
		logger.Warn("failed to restore pending orders", zap.Error(err))
	}
	return a, nil
}

func isJSON(cmd *cobra.Command) bool {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return jsonOutput
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// startSpinner shows suffix while work runs, unless output is JSON
func startSpinner(cmd *cobra.Command, suffix string) func() {
	if isJSON(cmd) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

func printError(err error) {
	fmt.Printf("\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}
