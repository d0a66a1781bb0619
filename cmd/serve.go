package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/promptweave/internal/config"
	"github.com/conneroisu/promptweave/internal/server"
)

// serveCmd starts the HTTP/WebSocket server with hot reload.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prompt server",
	Long: `Serve starts an HTTP server exposing health, listing, and render
endpoints plus a WebSocket stream that pushes hot-update notifications as
prompt files change on disk.

Endpoints:
  GET  /healthz                     Load status of every tracked resource
  GET  /api/prompts                 Cached prompt names
  GET  /api/prompts/{name}          Prompt metadata
  POST /api/prompts/{name}/render   Render with a JSON variables body
  GET  /api/stats                   Cache counters
  GET  /ws                          Hot-update notifications`,
	RunE: runServeCommand,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "host to bind")
	serveCmd.Flags().Int("port", 0, "port to bind")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	mgr, err := newManager(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	srv := server.New(mgr, server.Options{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}
