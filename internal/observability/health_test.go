package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestHealthz_Components(t *testing.T) {
	h := NewHealthChecker(zap.NewNop())
	handler := h.Handler(nil)

	code, body := get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	h.SetComponentReady("listener", false)
	h.SetComponentReady("kafka", false)
	code, body = get(t, handler, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT_READY kafka,listener", body)

	h.SetComponentReady("listener", true)
	h.SetComponentReady("kafka", true)
	code, _ = get(t, handler, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestGRPCStatusFollowsReadiness(t *testing.T) {
	h := NewHealthChecker(zap.NewNop())
	check := func() grpc_health_v1.HealthCheckResponse_ServingStatus {
		resp, err := h.grpcHealth.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
		require.NoError(t, err)
		return resp.Status
	}

	h.SetComponentReady("listener", false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())

	h.SetComponentReady("listener", true)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check())

	require.NoError(t, h.Shutdown(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check())
	ready, _ := h.Ready()
	assert.False(t, ready)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFeedMetrics(reg)
	m.RecordsStreamed.Add(3)
	m.Connections.WithLabelValues("subscribe").Inc()

	code, body := get(t, NewHealthChecker(zap.NewNop()).Handler(reg), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "tick_gapfill_feed_records_streamed_total 3")
	assert.Contains(t, body, `tick_gapfill_feed_connections_total{request="subscribe"} 1`)
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics(reg)
	m.GapsDetected.Add(2)
	m.Sessions.WithLabelValues("ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GapsDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("ok")))
}
