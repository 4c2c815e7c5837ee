// Package cmd implements the quiver command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quiver",
	Short: "Quiver - a retrieval backend for knowledge bases",
	Long: `Quiver manages knowledge bases of documents, ingests them into a
pgvector-backed chunk store, and serves reranked semantic search over
an HTTP API and an MCP server.

Run 'quiver serve' to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
