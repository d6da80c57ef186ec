package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulateValue float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate the stored alerts against a given quote and notify",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateValue <= 0 {
			return errors.New("--value must be greater than zero")
		}
		return getApp().SimulateAlert(cmd.Context(), cmd.OutOrStdout(), decimal.NewFromFloat(simulateValue))
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateValue, "value", 0, "USD/BRL quote to evaluate")
}
