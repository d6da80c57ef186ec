package cli

import (
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the current USD/BRL quote once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Fetch(cmd.Context(), cmd.OutOrStdout())
	},
}
