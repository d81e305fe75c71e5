package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/phasetrack/internal/mcp"
)

// newMCPCmd creates the mcp command group
func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Model Context Protocol server",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve phase tracking tools over stdio",
		Long: `Serve phase tracking tools to an MCP client over stdin/stdout.

Logs go to stderr so they never mix with protocol messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				srv := mcp.NewServer(rt.engine, Version,
					mcp.WithLogger(rt.logger),
					mcp.WithDefaultLimit(rt.cfg.Analytics.DefaultLimit),
				)
				rt.logger.Debug("mcp server listening on stdio")
				return srv.Run(ctx)
			})
		},
	})
	return cmd
}
