package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Manage the dollar amount shown converted to reais",
}

var convertSetCmd = &cobra.Command{
	Use:   "set <amount>",
	Short: "Set the amount in dollars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		return getApp().SetConversion(cmd.Context(), amount)
	},
}

var convertClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearConversion()
	},
}

func init() {
	convertCmd.AddCommand(convertSetCmd, convertClearCmd)
}
