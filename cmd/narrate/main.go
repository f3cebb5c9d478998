package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "narrate",
	Short:        "Operator tool for the narration service",
	SilenceUsage: true, // Don't print usage on error
	Long: `narrate runs the narration pipeline in-process with the same configuration
as the server (environment, .env and CONFIG_FILE), issues API tokens and
runs maintenance tasks.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
