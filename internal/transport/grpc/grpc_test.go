package grpc_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nadzzz/dialogcast/internal/audio"
	"github.com/nadzzz/dialogcast/internal/engine"
	"github.com/nadzzz/dialogcast/internal/job"
	grpctransport "github.com/nadzzz/dialogcast/internal/transport/grpc"
	"github.com/nadzzz/dialogcast/internal/tts"
)

// engines is a Service that only reports engine status.
type engines struct {
	mu       sync.Mutex
	statuses []engine.Status
}

func (e *engines) set(st ...engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = st
}

func (e *engines) Engines() []engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]engine.Status(nil), e.statuses...)
}

func (e *engines) Ready() bool {
	for _, st := range e.Engines() {
		if st.Available {
			return true
		}
	}
	return false
}

func (e *engines) DefaultEngine() string { return "piper" }

func (e *engines) Submit(context.Context, string, string, tts.Options) (string, error) {
	return "", nil
}

func (e *engines) Status(context.Context, string) (job.Job, error) { return job.Job{}, job.ErrNotFound }

func (e *engines) Artifact(context.Context, string) (*audio.Artifact, error) {
	return nil, job.ErrNotFound
}

func (e *engines) Cancel(string) error { return job.ErrNotFound }

func (e *engines) Subscribe(string) (<-chan job.Job, func(), error) {
	return nil, nil, job.ErrNotFound
}

func serve(t *testing.T, svc *engines) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())

	tr := grpctransport.New(0, grpctransport.WithSyncInterval(10*time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx, lis, svc) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("grpc server did not stop")
		}
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_ReportsEngines(t *testing.T) {
	svc := &engines{}
	svc.set(
		engine.Status{Name: "piper", Enabled: true, Available: true},
		engine.Status{Name: "coqui", Enabled: true, Error: "connection refused"},
	)
	client := serve(t, svc)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, grpctransport.EngineService("piper")))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, grpctransport.EngineService("coqui")))
}

func TestHealth_FollowsEngineChanges(t *testing.T) {
	svc := &engines{}
	svc.set(engine.Status{Name: "piper", Enabled: true, Available: true})
	client := serve(t, svc)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	svc.set(engine.Status{Name: "piper", Enabled: true, Error: "timeout"})
	assert.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, grpctransport.EngineService("piper")))
}

func TestHealth_UnknownService(t *testing.T) {
	svc := &engines{}
	svc.set(engine.Status{Name: "piper", Enabled: true, Available: true})
	client := serve(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: grpctransport.EngineService("polly")})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
