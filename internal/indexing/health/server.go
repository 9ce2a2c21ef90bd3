package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vietddude/blockmon/internal/indexing/metrics"
)

const requestIDHeader = "X-Request-Id"

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	monitor *Monitor
	server  *http.Server
	log     *slog.Logger
	onFatal func(error)
}

// NewServer creates a new health server listening on addr. onFatal is called
// when the shared state can no longer be read; it may be nil.
func NewServer(monitor *Monitor, addr string, onFatal func(error)) *Server {
	s := &Server{
		monitor: monitor,
		log:     slog.Default().With("component", "health-server"),
		onFatal: onFatal,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /lastBlock", s.handleLastBlock)
	mux.HandleFunc("POST /toggleFail", s.handleToggleFail)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.withRequestID(mux), "blockmon"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after a graceful Stop.
func (s *Server) Start() error {
	s.log.Info("Health server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	verdict, snap, err := s.monitor.Check()
	if err != nil {
		s.fail(w, err)
		return
	}

	s.log.Debug("Checking health",
		"healthy", verdict.Healthy,
		"reason", verdict.Reason,
		"stale", verdict.StaleSeconds,
		"blockFrequency", snap.BlockFrequency,
		"requestID", r.Header.Get(requestIDHeader),
	)
	metrics.RecordHealth(verdict.Healthy, snap.ForceUnhealthy)

	if verdict.Healthy {
		writeJSON(w, http.StatusOK, map[string]any{"status": StatusHealthy})
		return
	}

	// Monitors are expected to require several consecutive failures: block
	// production jitter makes single stale readings normal.
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status":    StatusUnhealthy,
		"reason":    verdict.Reason,
		"lastBlock": snap.Latest,
	})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report, err := s.monitor.Detailed()
	if err != nil {
		s.fail(w, err)
		return
	}

	code := http.StatusOK
	if report.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleLastBlock(w http.ResponseWriter, r *http.Request) {
	_, snap, err := s.monitor.Check()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastBlock": snap.Latest})
}

func (s *Server) handleToggleFail(w http.ResponseWriter, r *http.Request) {
	v, err := s.monitor.Toggle()
	if err != nil {
		s.fail(w, err)
		return
	}

	s.log.Info("Toggled intentional failure", "fail_intentional", v, "requestID", r.Header.Get(requestIDHeader))
	metrics.ForceUnhealthy.Set(boolToFloat(v))
	writeJSON(w, http.StatusOK, map[string]any{"fail_intentional": v})
}

// fail answers 500 and escalates: a state that cannot be read must stop the process.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Error("Monitor state unavailable", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	if s.onFatal != nil {
		s.onFatal(err)
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
