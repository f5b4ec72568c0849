package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/gmail-label-sync/internal/server"
	"github.com/Sternrassler/gmail-label-sync/pkg/logging"
	"github.com/spf13/cobra"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync controller over HTTP",
		Long: `Serve exposes one sync session over HTTP until SIGINT or SIGTERM.

Endpoints:
  GET  /health, /ready, /metrics
  GET  /v1/status, /v1/results, /v1/labels
  POST /v1/load-more?count=N, /v1/refresh, /v1/reset
  PUT  /v1/partitions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from SERVER_HOST/SERVER_PORT)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srvOpts := server.Options{
		Syncer: a.controller,
		Labels: a.gmail,
		Creds:  a.creds,
		Logger: logging.NewLogger("server"),
	}
	if a.redis != nil {
		srvOpts.Ready = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.ServerAddress()
	}
	return server.New(srvOpts).Run(ctx, addr)
}
