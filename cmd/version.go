package cmd

import (
	"fmt"

	"github.com/castellanbot/castellan/castellan"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			castellan.Version,
			castellan.CommitSHA,
			castellan.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
