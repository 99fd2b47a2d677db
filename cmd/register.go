package cmd

import (
	"log"

	"github.com/kentiq/prometheus/prometheus"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Overwrites the guild's slash commands and exits",
	Run: func(cmd *cobra.Command, _ []string) {
		bot, err := prometheus.New(cfg)
		if err != nil {
			log.Fatalf("error creating prometheus: %s", err.Error())
		}
		created, err := bot.RegisterCommands(cmd.Context())
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}
		log.Printf("registered %d commands", len(created))
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
