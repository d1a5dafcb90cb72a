package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "appserver %s (built %s, %s)\n", version, buildTime, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
