package cmd

import (
	"fmt"

	"github.com/kentiq/prometheus/prometheus"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			prometheus.Version,
			prometheus.CommitSHA,
			prometheus.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
