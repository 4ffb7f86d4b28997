// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/extraction-engine/internal/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction HTTP API",
	Long: `Serve starts the HTTP API: POST /extract for documents, GET /stats for
pipeline and cache counters, GET /health for store reachability, GET /metrics
for Prometheus, plus POST /cache/clear and DELETE /documents/:hash for
invalidation. The server drains in-flight requests on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		eng.cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		eng.cfg.Server.Port = port
	}

	srv, err := httpapi.NewServer(eng.pipeline, eng.cache, eng.templates, eng.logger, eng.cfg.Server)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	eng.logger.Info("signal received, draining", zap.Duration("timeout", eng.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), eng.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().String("host", "", "listen address (default: all interfaces)")
	serveCmd.Flags().Int("port", 0, "listen port (default: config value, 8000)")

	rootCmd.AddCommand(serveCmd)
}
