package cmd

import (
	"log"

	"github.com/castellanbot/castellan/castellan"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Castellan bot and (optionally) the review API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := castellan.New(cfg)
		if err != nil {
			log.Fatalf("error creating castellan: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running castellan: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
