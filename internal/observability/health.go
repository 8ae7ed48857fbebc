package observability

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthChecker manages health checks for both gRPC and HTTP
type HealthChecker struct {
	grpcHealth *health.Server
	httpServer *http.Server
	logger     *zap.Logger
	mu         sync.RWMutex
	ready      bool
	components map[string]bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		grpcHealth: health.NewServer(),
		logger:     logger,
		ready:      true,
		components: make(map[string]bool),
	}
}

// RegisterGRPC registers the health service with the gRPC server
func (h *HealthChecker) RegisterGRPC(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, h.grpcHealth)
	h.updateServingStatus()
}

// Handler returns the HTTP handler serving /healthz and, when gatherer is set, /metrics
func (h *HealthChecker) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// StartHTTPServer starts the HTTP health and metrics server
func (h *HealthChecker) StartHTTPServer(addr string, gatherer prometheus.Gatherer) error {
	h.mu.Lock()
	h.httpServer = &http.Server{
		Addr:    addr,
		Handler: h.Handler(gatherer),
	}
	srv := h.httpServer
	h.mu.Unlock()

	h.logger.Info("starting HTTP health server", zap.String("addr", addr))
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the health checker
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.grpcHealth.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	srv := h.httpServer
	h.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// SetComponentReady records the readiness of a named dependency (listener, kafka, journal)
func (h *HealthChecker) SetComponentReady(name string, ready bool) {
	h.mu.Lock()
	h.components[name] = ready
	h.mu.Unlock()

	if !ready {
		h.logger.Warn("component not ready", zap.String("component", name))
	}
	h.updateServingStatus()
}

// Ready reports overall readiness and the names of components that are not ready
func (h *HealthChecker) Ready() (bool, []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var pending []string
	for name, ok := range h.components {
		if !ok {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return h.ready && len(pending) == 0, pending
}

func (h *HealthChecker) updateServingStatus() {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok, _ := h.Ready(); ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.grpcHealth.SetServingStatus("", status)
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ready, pending := h.Ready()

	// Health check passes if ready and every registered component is ready
	if ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY " + strings.Join(pending, ",")))
	}
}
