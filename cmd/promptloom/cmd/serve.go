package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evanreyes/promptloom/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the promptloom API server",
	Long: `Start the HTTP/WebSocket control plane: submit task descriptors,
observe running tasks, schedule recurring ones, and stream real-time
metrics, backed by Postgres for persistence.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
