package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"dollarnow/internal/alert"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage threshold alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.OutOrStdout())
	},
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <above|below> <value>",
	Short: "Add an alert",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		direction, err := alert.ParseDirection(args[0])
		if err != nil {
			return err
		}
		threshold, err := decimal.NewFromString(args[1])
		if err != nil {
			return alert.ErrInvalidThreshold
		}
		rule, err := getApp().AddAlert(cmd.Context(), direction, threshold)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added alert %d\n", rule.ID)
		return nil
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[0])
		}
		return getApp().RemoveAlert(cmd.Context(), id)
	},
}

func init() {
	alertsCmd.AddCommand(alertsListCmd, alertsAddCmd, alertsRemoveCmd)
}
