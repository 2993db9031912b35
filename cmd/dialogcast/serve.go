package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/health"
	"github.com/nadzzz/dialogcast/internal/metrics"
	"github.com/nadzzz/dialogcast/internal/podcast"
	"github.com/nadzzz/dialogcast/internal/store"
	"github.com/nadzzz/dialogcast/internal/transport"
	grpctransport "github.com/nadzzz/dialogcast/internal/transport/grpc"
	httptransport "github.com/nadzzz/dialogcast/internal/transport/http"
)

// drainTimeout bounds how long running jobs may finish after a shutdown signal.
const drainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job API daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("dialogcast starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("job store opened", "backend", cfg.Storage.Backend)

	engines := engine.FromConfig(cfg.Engines)
	defer engines.Close()
	engines.Probe(ctx)
	go engines.Run(ctx, cfg.Engines.ProbeInterval)

	svc := podcast.New(cfg, engines, st)
	go svc.Run(ctx)

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port))
	}
	if cfg.Transports.GRPC.Enabled {
		transports = append(transports, grpctransport.New(cfg.Transports.GRPC.Port))
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort, svc.Ready, metrics.Handler(metrics.NewRegistry()))
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start all transports.
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t transport.Transport) {
			defer wg.Done()
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, svc); err != nil {
				slog.Error("transport failed", "name", t.Name(), "error", err)
			}
		}(t)
	}

	healthServer.SetStarted(true)
	slog.Info("dialogcast ready",
		"transports", len(transports),
		"default_engine", engines.Default(),
		"engine_available", svc.Ready(),
		"health_port", cfg.Server.HealthPort)

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}
	wg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := svc.Shutdown(drainCtx); err != nil {
		slog.Warn("jobs still running at shutdown", "error", err)
	}
	slog.Info("dialogcast stopped")
	return nil
}
