package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	apmcp "github.com/werkudaraevent-eng/actionplan-sub001/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the actionplan MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the actionplan MCP server on stdio",
	Long: `Start the actionplan MCP server on stdio transport.

The server exposes read-only tools that AI assistants can call:
list_unresolved, get_policies, preview_resolution, get_metrics, get_alerts.
Nothing is committed through MCP.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Store == nil || Policies == nil {
			return fmt.Errorf("resolution services not initialized")
		}

		srv := apmcp.NewServer(Policies, Store, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
