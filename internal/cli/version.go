package cli

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dollarnow/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	// Runs without configuration.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, version.Version)
			return
		}
		built := version.BuildDate
		if ts, err := time.Parse(time.RFC3339, version.BuildDate); err == nil {
			built = fmt.Sprintf("%s (%s)", version.BuildDate, humanize.Time(ts))
		}
		fmt.Fprintf(out, "version: %s\ncommit: %s\nbuilt: %s\ngo: %s %s/%s\n",
			version.Version, version.Commit, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print the version number only")
}
