// Package cmd contains the tripdesk command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tripdesk",
	Short: "tripdesk - travel agency customer service AI core",
	Long: `tripdesk serves a travel agency's customer-facing AI assistant.

Queries are routed to one of three specialist agents (travel support,
booking and payments, policy), each backed by its own context-retrieval
strategy, and answers stream back over SSE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
