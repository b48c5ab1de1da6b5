package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tradeflow/pkg/privacy"
)

var privacyCmd = &cobra.Command{
	Use:   "privacy",
	Short: "Inspect or reset the stored privacy payload",
}

var privacyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a hide-balance trade can run now",
	Args:  cobra.NoArgs,
	RunE:  runPrivacyStatus,
}

var privacyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the stored privacy payload",
	Args:  cobra.NoArgs,
	RunE:  runPrivacyClear,
}

func init() {
	rootCmd.AddCommand(privacyCmd)
	privacyCmd.AddCommand(privacyStatusCmd)
	privacyCmd.AddCommand(privacyClearCmd)
}

func runPrivacyStatus(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	status := map[string]any{"verifier": string(a.privacy.Verifier())}
	p, err := a.privacy.EnsureSpendable(ctx)
	var window *privacy.MixingWindowError
	switch {
	case err == nil:
		status["state"] = "ready"
		status["nullifier"] = p.Nullifier
	case errors.As(err, &window):
		status["state"] = "mixing"
		status["spendable_in"] = window.Remaining.Round(time.Second).String()
	default:
		status["state"] = "none"
		status["reason"] = err.Error()
	}

	if isJSON(cmd) {
		return printJSON(status)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                    PRIVACY PAYLOAD")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Verifier:          %s\n", status["verifier"])
	switch status["state"] {
	case "ready":
		fmt.Printf("  State:             %s\n", color.GreenString("READY"))
		fmt.Printf("  Nullifier:         %s\n", color.HiBlackString(p.Nullifier))
	case "mixing":
		fmt.Printf("  State:             %s\n", color.YellowString("MIXING"))
		fmt.Printf("  Spendable In:      %s\n", status["spendable_in"])
	default:
		fmt.Printf("  State:             %s\n", color.HiBlackString("NONE"))
		fmt.Printf("  %s\n", color.HiBlackString("a payload is generated on the next hide-balance trade"))
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
	return nil
}

func runPrivacyClear(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.privacy.Clear(cmd.Context()); err != nil {
		return err
	}
	if isJSON(cmd) {
		return printJSON(map[string]string{"state": "cleared"})
	}
	printSuccess("Privacy payload cleared.")
	return nil
}
