// Package cli implements the vigil command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil proctoring CLI",
	Long: `vigil is the command-line interface for the Vigil interview
proctoring server.

Create and close monitored sessions, inspect live trust scores and alert
history, watch sessions in real time, and seed simulated candidates
against a test server.`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8090", "vigil server base URL")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(seedCmd)
}
