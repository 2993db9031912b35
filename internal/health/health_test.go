package health_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/health"
	"github.com/nadzzz/dialogcast/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestLivenessAndReadiness(t *testing.T) {
	var engineUp atomic.Bool
	s := health.New(0, engineUp.Load, nil)
	h := s.Handler()

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "starting")

	s.SetStarted(true)
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "no_engine_available")

	engineUp.Store(true)
	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := health.New(0, nil, metrics.Handler(metrics.NewRegistry()))
	s.SetStarted(true)
	metrics.RecordJobStart()
	metrics.RecordJobEnd("completed", true)

	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dialogcast_jobs_total")
	assert.Contains(t, body, `state="completed"`)
}

func TestMetricsDisabled(t *testing.T) {
	s := health.New(0, nil, nil)
	code, _ := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}
