package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/muffinbran/pitch-tendency-analyzer/internal/daemon"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/httpapi"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/mcpserver"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/observability"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon socket and HTTP API",
		Long: `Open the session store and serve it on the daemon socket and, unless
http.addr is empty, over HTTP. Stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	store, err := db.Open(c.cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := tendency.NewService(store, observability.NewMetrics(reg), c.logger)

	srv := daemon.NewServer(svc, c.logger)
	svc.OnSubmit(srv.Notify)

	ln, err := daemon.ListenUnix(c.cfg.Daemon.Socket)
	if err != nil {
		return err
	}

	c.logger.Info("pitchtend serving",
		"version", Version,
		"db", c.cfg.Database.Path,
		"socket", c.cfg.Daemon.Socket,
		"http", c.cfg.HTTP.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	if c.cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(svc, httpapi.Options{
			AllowedOrigins: c.cfg.HTTP.AllowedOrigins,
			Logger:         c.logger,
			Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		})
		g.Go(func() error {
			if err := httpapi.Serve(ctx, c.cfg.HTTP.Addr, router, c.logger); err != nil {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	c.logger.Info("pitchtend stopped")
	return err
}

func mcpCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Expose get_tendencies, list_instruments and submit_session as MCP
tools on stdin/stdout. Reads and writes the store directly, so the
daemon does not need to be running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open(c.cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := tendency.NewService(store, nil, c.logger)
			return mcpserver.Serve(mcpserver.New(svc, Version))
		},
	}
}
