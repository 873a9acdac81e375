// Package feed serves replayed events to WebSocket clients for live
// dashboards. It subscribes to the configured NATS subjects and broadcasts
// every event to all connected clients, replaying a short backlog to
// late joiners so a freshly opened dashboard is not empty.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/health"
	"github.com/robsok/dt-replay-demo/metric"
	"github.com/robsok/dt-replay-demo/natsclient"
	"github.com/robsok/dt-replay-demo/pkg/buffer"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Config holds feed server construction parameters.
type Config struct {
	// Addr is the listen address, e.g. ":8090".
	Addr string
	// Path is the WebSocket endpoint path. Defaults to "/ws".
	Path string
	// Subjects to broadcast.
	Subjects []string
	// MaxClients caps concurrent connections; further upgrades are
	// refused with 503. Zero means 100.
	MaxClients int
	// Backlog is how many recent events are replayed to a new client.
	// Zero disables the backlog.
	Backlog int
}

// Server broadcasts NATS events to WebSocket clients.
type Server struct {
	client *natsclient.Client
	cfg    Config
	logger *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*feedClient

	backlog *buffer.Ring[[]byte]

	sent    atomic.Int64
	dropped atomic.Int64

	metrics *feedMetrics

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

type feedClient struct {
	conn        *websocket.Conn
	connectedAt time.Time
	sent        int64
	writeMu     sync.Mutex
	closeOnce   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the feed logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "feed")
		}
	}
}

// WithMetricsRegistry enables prometheus metrics. Nil disables them.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.metrics = newFeedMetrics(registry)
	}
}

// New creates a feed server over an established client.
func New(client *natsclient.Client, cfg Config, opts ...Option) (*Server, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Feed", "New",
			"nats client is required")
	}
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Feed", "New",
			"listen address is required")
	}
	if len(cfg.Subjects) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Feed", "New",
			"at least one subject is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 100
	}

	s := &Server{
		client:  client,
		cfg:     cfg,
		logger:  slog.Default().With("component", "feed"),
		clients: make(map[*websocket.Conn]*feedClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is operator-local; dashboards connect from
			// whatever origin serves them.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.Backlog > 0 {
		s.backlog = buffer.NewRing[[]byte](cfg.Backlog)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start subscribes to the configured subjects and begins serving the
// WebSocket endpoint.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Feed", "Start", "start feed server")
	}
	s.shutdown = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	for _, subject := range s.cfg.Subjects {
		if err := s.client.Subscribe(ctx, subject, s.handleNATSMessage); err != nil {
			s.markStopped()
			return errors.Wrap(err, "Feed", "Start",
				fmt.Sprintf("subscribe %s", subject))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.markStopped()
		return errors.WrapTransient(err, "Feed", "Start", "listen "+s.cfg.Addr)
	}

	s.wg.Add(2)
	go s.serve(listener)
	go s.pingLoop()

	s.logger.Info("feed server started",
		"addr", listener.Addr().String(),
		"path", s.cfg.Path,
		"subjects", s.cfg.Subjects)
	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpServer == nil {
		return s.cfg.Addr
	}
	return s.httpServer.Addr
}

func (s *Server) serve(listener net.Listener) {
	defer s.wg.Done()
	// Record the bound address so tests can dial ":0" listeners.
	s.mu.Lock()
	s.httpServer.Addr = listener.Addr().String()
	s.mu.Unlock()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("feed server failed", "error", err)
	}
}

// Stop closes all client connections and shuts the HTTP server down.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.shutdown)
	server := s.httpServer
	s.mu.Unlock()

	s.closeAllClients()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	if server != nil {
		err = server.Shutdown(ctx)
	}

	s.wg.Wait()
	s.markStopped()

	s.logger.Info("feed server stopped",
		"sent", s.sent.Load(),
		"dropped_clients", s.dropped.Load())

	if err != nil {
		return errors.WrapTransient(err, "Feed", "Stop", "shutdown http server")
	}
	return nil
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Health reports feed liveness and connection counts.
func (s *Server) Health() health.Status {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		return health.NewUnhealthy("feed", "not running")
	}
	return health.NewHealthy("feed",
		fmt.Sprintf("%d clients connected", s.clientCount())).WithStats(&health.Stats{
		EventsHandled: s.sent.Load(),
	})
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleNATSMessage buffers and broadcasts one raw event payload.
func (s *Server) handleNATSMessage(_ context.Context, data []byte) {
	if s.backlog != nil {
		// Copy: NATS owns the slice only for the callback's duration.
		buf := make([]byte, len(data))
		copy(buf, data)
		s.backlog.Push(buf)
	}
	s.broadcast(data)
}

func (s *Server) broadcast(data []byte) {
	s.clientsMu.RLock()
	conns := make([]*feedClient, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range conns {
		if err := s.writeTo(c, data); err != nil {
			// Slow or gone; drop the client rather than stall the feed.
			s.removeClient(c.conn, "write failed")
		}
	}
	if s.metrics != nil {
		s.metrics.broadcast.Inc()
	}
}

func (s *Server) writeTo(c *feedClient, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.sent++
	s.sent.Add(1)
	if s.metrics != nil {
		s.metrics.sent.Inc()
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.clientCount() >= s.cfg.MaxClients {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &feedClient{conn: conn, connectedAt: time.Now()}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	s.clientsMu.Lock()
	s.clients[conn] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.clients.Set(float64(count))
	}
	s.logger.Info("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	// Late joiners get the recent backlog before live traffic.
	if s.backlog != nil {
		for _, data := range s.backlog.Snapshot() {
			if err := s.writeTo(c, data); err != nil {
				s.removeClient(conn, "backlog write failed")
				return
			}
		}
	}

	s.wg.Add(1)
	go s.readLoop(c)
}

// readLoop drains incoming frames so pings/pongs and close frames are
// processed; the feed itself is one-way.
func (s *Server) readLoop(c *feedClient) {
	defer s.wg.Done()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.removeClient(c.conn, "client closed")
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn, reason string) {
	s.clientsMu.Lock()
	c, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !ok {
		return
	}
	c.closeOnce.Do(func() {
		_ = conn.Close()
		s.dropped.Add(1)
	})
	if s.metrics != nil {
		s.metrics.clients.Set(float64(count))
	}
	s.logger.Info("client removed",
		"remote", conn.RemoteAddr().String(),
		"reason", reason,
		"sent", c.sent,
		"clients", count)
}

func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range conns {
		s.removeClient(conn, "server shutdown")
	}
}

func (s *Server) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			conns := make([]*feedClient, 0, len(s.clients))
			for _, c := range s.clients {
				conns = append(conns, c)
			}
			s.clientsMu.RUnlock()

			for _, c := range conns {
				c.writeMu.Lock()
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
				if err != nil {
					s.removeClient(c.conn, "ping failed")
				}
			}
		}
	}
}

// feedMetrics holds the feed server's prometheus metrics.
type feedMetrics struct {
	clients   prometheus.Gauge
	sent      prometheus.Counter
	broadcast prometheus.Counter
}

func newFeedMetrics(registry *metric.MetricsRegistry) *feedMetrics {
	if registry == nil {
		return nil
	}

	m := &feedMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected WebSocket clients",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "feed",
			Name:      "messages_sent_total",
			Help:      "Total messages written to WebSocket clients",
		}),
		broadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "feed",
			Name:      "events_broadcast_total",
			Help:      "Total events received from NATS and broadcast",
		}),
	}

	_ = registry.RegisterGauge("feed", "clients", m.clients)
	_ = registry.RegisterCounter("feed", "messages_sent_total", m.sent)
	_ = registry.RegisterCounter("feed", "events_broadcast_total", m.broadcast)

	return m
}
