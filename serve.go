package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/metrics"
	"github.com/shenjiangwei/rsrcpool/rpc"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var address, metricsAddress string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve allocations over RPC and export metrics",
		Long: `The serve command runs the size-classed memory pool behind a net/rpc
service and exposes pool statistics for Prometheus on /metrics.

Example:
  rsrcpool serve --address localhost:1234 --metrics-address localhost:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if address != "" {
				cfg.Server.Address = address
			}
			if metricsAddress != "" {
				cfg.Server.MetricsAddress = metricsAddress
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "RPC listen address")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "Metrics listen address, empty disables it")
	return cmd
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg
	m, err := cfg.NewManager()
	if err != nil {
		return err
	}
	if _, err := cfg.CreatePools(m); err != nil {
		m.Close()
		return err
	}
	server, err := rpc.NewServer(m, cfg.MPool)
	if err != nil {
		m.Close()
		return err
	}

	l, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		server.Close()
		m.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	errc := make(chan error, 2)
	go func() { errc <- server.Serve(l) }()

	var httpServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewPoolCollector("rsrcpool", server.Snapshot),
			collectors.NewGoCollector(),
		)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer = &http.Server{
			Addr:              cfg.Server.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Metrics listening on %s", cfg.Server.MetricsAddress)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errc:
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("Metrics server shutdown: %v", serr)
		}
	}
	if cerr := server.Close(); cerr != nil {
		logger.Warn("Closing memory pool: %v", cerr)
	}
	if cerr := m.Close(); cerr != nil {
		logger.Warn("Closing pool manager: %v", cerr)
	}
	return err
}
