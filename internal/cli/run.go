package cli

import (
	"github.com/spf13/cobra"
)

var runListen string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the quote watcher and its HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runListen != "" {
			a.Config.Web.Listen = runListen
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runListen, "listen", "", "Override web.listen")
}
