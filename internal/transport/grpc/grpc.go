// Package grpc implements the gRPC transport for dialogcast.
//
// It serves the standard grpc.health.v1 protocol so orchestrators and load
// balancers can probe the daemon with stock tooling. The overall service ("")
// is SERVING while at least one engine is available; each engine is reported
// under its own service name (see EngineService).
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nadzzz/dialogcast/internal/transport"
)

// DefaultSyncInterval is how often engine status is copied into the health server.
const DefaultSyncInterval = 5 * time.Second

// EngineService returns the health service name for an engine.
func EngineService(engine string) string { return "dialogcast.engine." + engine }

// Option configures a Transport.
type Option func(*Transport)

// WithSyncInterval overrides DefaultSyncInterval.
func WithSyncInterval(d time.Duration) Option {
	return func(t *Transport) { t.interval = d }
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port     int
	interval time.Duration
	server   *grpc.Server
	health   *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int, opts ...Option) *Transport {
	t := &Transport{port: port, interval: DefaultSyncInterval}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server on the configured port. It blocks until the
// context is cancelled.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.Serve(ctx, lis, svc)
}

// Serve runs the health service on lis until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, svc transport.Service) error {
	t.server = grpc.NewServer()
	t.health = health.NewServer()
	healthpb.RegisterHealthServer(t.server, t.health)
	reflection.Register(t.server)

	t.sync(svc)
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("grpc transport shutting down")
				t.health.Shutdown()
				t.server.GracefulStop()
				return
			case <-ticker.C:
				t.sync(svc)
			}
		}
	}()

	if err := t.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func (t *Transport) sync(svc transport.Service) {
	for _, st := range svc.Engines() {
		t.health.SetServingStatus(EngineService(st.Name), servingStatus(st.Available))
	}
	t.health.SetServingStatus("", servingStatus(svc.Ready()))
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}
