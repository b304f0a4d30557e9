package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/cowork/internal/httpapi"
	"github.com/aristath/cowork/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		Long: `Serve the session operations over HTTP, with a websocket event stream per
session and Prometheus metrics at /metrics. When storage.path is configured,
sessions are persisted and restored on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, level)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				a.close(context.Background())
				return fmt.Errorf("listen: %w", err)
			}

			api := httpapi.New(a.store, a.bus, a.metrics, logger)
			serveErr := serveHTTP(ctx, ln, api.Router(), logger)

			// Restore default signal handling so a second Ctrl+C force-exits.
			stop()

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.close(closeCtx); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
			}
			logger.Info("shutdown complete")
			return serveErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serveHTTP serves handler on ln until ctx ends, then shuts the server down gracefully.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	return nil
}
