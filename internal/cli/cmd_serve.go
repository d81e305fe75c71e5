package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/phasetrack/internal/api"
)

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, WebSocket and metrics server",
		Long: `Run the HTTP server.

Endpoints:
  /api/...    REST API for entities, phases, queries and analytics
  /api/ws     WebSocket stream of phase change events
  /metrics    Prometheus metrics

The listen address comes from server.host and server.port, overridden by
PHASETRACK_SERVER_PORT or --port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, map[string]string{
				"server.host": "host",
				"server.port": "port",
			})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(api.Config{
				Addr:         rt.cfg.Addr(),
				Engine:       rt.engine,
				Publisher:    rt.publisher,
				Gatherer:     rt.registry,
				Logger:       rt.logger,
				DefaultLimit: rt.cfg.Analytics.DefaultLimit,
			})
			return srv.StartContext(ctx)
		},
	}
	cmd.Flags().String("host", "", "listen host (default from config)")
	cmd.Flags().Int("port", 0, "listen port (default from config)")
	return cmd
}
