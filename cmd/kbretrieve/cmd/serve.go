package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbretrieve/internal/output"
	"github.com/Aman-CERP/kbretrieve/internal/server"
)

type serveOptions struct {
	addr   string
	corpus string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve retrieval over HTTP",
		Long: `Start an HTTP server exposing:

  POST /v1/search   {"query": "...", "policy": "...", "top_k": 3, "purpose": "direct"}
  GET  /healthz     backend state and uptime
  GET  /metrics     Prometheus metrics

The server drains in-flight requests on SIGINT or SIGTERM.`,
		Example: `  kbretrieve serve
  kbretrieve serve --addr 0.0.0.0:9000 --corpus ./kb.jsonl`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default: server.addr from config)")
	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "Local corpus file (.yaml, .toml, .jsonl)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := startLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := buildApp(ctx, cfg, logger, opts.corpus)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	addr := opts.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(a.metrics),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeoutDuration()),
	}
	srvOpts = append(srvOpts, a.healthChecks()...)
	srv, err := server.New(addr, a.orchestrator, cfg.PolicyFor, srvOpts...)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("kbretrieve listening on %s", addr)
	out.Status("", "POST /v1/search, GET /healthz, GET /metrics")

	return srv.ListenAndServe(ctx)
}
