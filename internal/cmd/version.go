package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "amipatch %s\n", versionInfo.Version)
		fmt.Fprintf(w, "  commit:   %s\n", versionInfo.Commit)
		fmt.Fprintf(w, "  built:    %s\n", versionInfo.BuildDate)
		fmt.Fprintf(w, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		if v := crucible.GetVersion(); v.Gofulmen != "" {
			fmt.Fprintf(w, "  gofulmen: %s\n", v.Gofulmen)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
