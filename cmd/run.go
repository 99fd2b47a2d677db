package cmd

import (
	"log"

	"github.com/kentiq/prometheus/prometheus"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Prometheus bot and the deploy listener",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := prometheus.New(cfg)
			if err != nil {
				log.Fatalf("error creating prometheus: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running prometheus: %s", err.Error())
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
