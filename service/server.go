// Package service exposes the operational HTTP endpoint shared by the
// replay binaries: liveness and readiness probes, prometheus metrics, and
// a JSON status report describing the current run.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
)

// StreamStatus is one stream's progress within a status report.
type StreamStatus struct {
	Stream  string `json:"stream"`
	Emitted int    `json:"emitted"`
	Total   int    `json:"total"`
}

// Report is the /status payload.
type Report struct {
	Service string         `json:"service"`
	Run     string         `json:"run,omitempty"`
	State   string         `json:"state"`
	Speed   float64        `json:"speed,omitempty"`
	Emitted int64          `json:"emitted"`
	Total   int            `json:"total,omitempty"`
	Streams []StreamStatus `json:"streams,omitempty"`
	Uptime  string         `json:"uptime"`
}

// ReportFunc supplies the current status report. Called per request, so it
// must be safe for concurrent use.
type ReportFunc func() Report

// Server is the operational HTTP server.
type Server struct {
	addr     string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	report   ReportFunc
	routes   map[string]http.HandlerFunc

	startTime  time.Time
	httpServer *http.Server

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "service")
		}
	}
}

// WithMetricsRegistry enables the /metrics endpoint.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithHealthMonitor wires component health into /healthz and /readyz.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(s *Server) {
		s.monitor = monitor
	}
}

// WithReport supplies the /status payload.
func WithReport(fn ReportFunc) Option {
	return func(s *Server) {
		s.report = fn
	}
}

// WithRoute mounts an additional handler on the server's mux, letting a
// binary expose extra endpoints (like the twin's entity snapshot) without
// a second listener.
func WithRoute(path string, handler http.HandlerFunc) Option {
	return func(s *Server) {
		if s.routes == nil {
			s.routes = make(map[string]http.HandlerFunc)
		}
		s.routes[path] = handler
	}
}

// New creates a server listening on addr once started.
func New(addr string, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Service", "New",
			"listen address is required")
	}
	s := &Server{
		addr:   addr,
		logger: slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "start service server")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.markStopped()
		return errors.WrapTransient(err, "Service", "Start", "listen "+s.addr)
	}

	s.httpServer = &http.Server{
		Addr:              listener.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("service server failed", "error", err)
		}
	}()

	s.logger.Info("service server started", "addr", s.httpServer.Addr)
	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}
	s.wg.Wait()
	s.markStopped()

	if err != nil {
		return errors.WrapTransient(err, "Service", "Stop", "shutdown service server")
	}
	return nil
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpServer == nil {
		return s.addr
	}
	return s.httpServer.Addr
}

// Handler builds the route mux. Exposed for tests and for embedding in an
// existing server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/status", s.handleStatus)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	for path, handler := range s.routes {
		mux.HandleFunc(path, handler)
	}
	return mux
}

// handleHealthz is the liveness probe: the process is up and serving.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz aggregates component health; any unhealthy component makes
// the whole endpoint report 503 so orchestration holds traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	aggregate := s.monitor.AggregateHealth("dtreplay")
	code := http.StatusOK
	if aggregate.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, aggregate)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var report Report
	if s.report != nil {
		report = s.report()
	}
	if report.Service == "" {
		report.Service = "dtreplay"
	}
	s.mu.RLock()
	if !s.startTime.IsZero() {
		report.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
