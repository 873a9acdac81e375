// Package natsclient manages the NATS connection shared by the replay,
// archive, twin, and feed binaries. It layers a circuit breaker, health
// monitoring, and JetStream/KV helpers over a single nats.Conn.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/robsok/dt-replay-demo/errors"
	"github.com/robsok/dt-replay-demo/metric"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int32

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Sentinel errors returned by client operations.
var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrCircuitOpen       = stderrors.New("circuit breaker is open")
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Circuit breaker gauge states exported to metrics.
const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
)

// Status is a point-in-time snapshot of the connection.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
}

// Client wraps a NATS connection with circuit breaking, health monitoring,
// and JetStream access. A single Client is shared by every component of a
// binary.
type Client struct {
	url    string
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	// Circuit breaker
	status           atomic.Int32
	failures         atomic.Int32
	circuitFailures  atomic.Int32
	reconnects       atomic.Int32
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	clientName string

	metrics *metric.Metrics // nil = metrics disabled

	// Callbacks
	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	// Health monitoring
	healthInterval time.Duration
	healthDone     chan struct{}

	mu     sync.RWMutex
	closMu sync.Mutex
	closed atomic.Bool
}

// NewClient creates a client for the given server URL. The connection is
// not established until Connect is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(int32(StatusDisconnected))
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	return c, nil
}

// URL returns the NATS server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(int32(status))
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(status == StatusConnected)
	}
}

// IsHealthy reports whether the connection is established and usable.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the total failure count since the last successful
// operation.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current circuit breaker backoff duration.
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// Conn returns the underlying NATS connection, nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// GetStatus returns a snapshot of the connection state.
func (c *Client) GetStatus() *Status {
	st := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
		Reconnects:      c.reconnects.Load(),
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			st.RTT = rtt
		}
	}
	return st
}

// recordFailure counts a failure and opens the circuit once the threshold
// is crossed, doubling backoff up to maxBackoff.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}

	current := c.Status()
	backoff := c.backoff.Load().(time.Duration)
	next := backoff * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}

	if current != StatusCircuitOpen {
		if c.status.CompareAndSwap(int32(current), int32(StatusCircuitOpen)) {
			c.backoff.Store(next)
			c.circuitFailures.Store(0)
			if c.metrics != nil {
				c.metrics.RecordNATSStatus(false)
				c.metrics.RecordCircuitBreakerState(circuitOpen)
			}
			c.logger.Warn("circuit breaker opened",
				"failures", c.failures.Load(), "backoff", backoff)
			time.AfterFunc(backoff, c.testCircuit)
		}
		return
	}

	// Circuit already open, failures keep arriving: widen the backoff.
	c.backoff.Store(next)
	c.circuitFailures.Store(0)
	c.logger.Warn("circuit breaker still open", "backoff", next)
}

// resetCircuit clears failure state after a successful operation.
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
	if c.metrics != nil {
		c.metrics.RecordCircuitBreakerState(circuitClosed)
	}
}

// testCircuit moves the breaker to half-open after the backoff elapses so
// the next Connect attempt is allowed through.
func (c *Client) testCircuit() {
	if c.Status() == StatusCircuitOpen {
		if c.metrics != nil {
			c.metrics.RecordCircuitBreakerState(circuitHalfOpen)
		}
		c.setStatus(StatusDisconnected)
	}
}

// WaitForConnection blocks until the connection is healthy or the context
// expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
			if c.IsHealthy() {
				return nil
			}
		}
	}
}

// buildConnectionOptions translates client configuration into nats.Options.
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes the connection, honoring the circuit breaker and
// the context deadline.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	opts := c.buildConnectionOptions()

	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			done <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.recordFailure()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}

	return nil
}

// Close drains subscriptions and closes the connection. Safe to call more
// than once.
func (c *Client) Close(ctx context.Context) error {
	c.closMu.Lock()
	defer c.closMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.stopHealthMonitoring()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	c.subs = nil

	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		go func() {
			drainDone <- c.conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain timeout"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain cancelled"))
		}

		c.conn.Close()
		c.conn = nil
	}

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)

	return stderrors.Join(errs...)
}

// RTT returns the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Publish publishes a message to a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Subscribe subscribes to a subject. Handlers receive a per-message
// context with a 30 second deadline derived from the parent.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe %s", subject))
	}

	c.subs = append(c.subs, sub)
	return nil
}

// QueueSubscribe subscribes to a subject within a queue group so multiple
// instances share the message load.
func (c *Client) QueueSubscribe(ctx context.Context, subject, queue string,
	handler func(context.Context, []byte)) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "QueueSubscribe",
			fmt.Sprintf("subscribe %s queue %s", subject, queue))
	}

	c.subs = append(c.subs, sub)
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "jetstream not initialized")
	}
	return c.js, nil
}

// EnsureStream creates the stream if it does not exist, updating subjects
// on an existing stream. Safe against concurrent creation.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureStream",
			fmt.Sprintf("ensure stream %s", cfg.Name))
	}

	c.resetCircuit()
	return stream, nil
}

// PublishToStream publishes a message through JetStream for durable
// delivery.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return err
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishToStream",
			fmt.Sprintf("publish %s", subject))
	}

	c.resetCircuit()
	return nil
}

// CreateKeyValueBucket creates or opens a KV bucket, tolerating the
// already-exists race when two instances start together.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				c.recordFailure()
				return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
					fmt.Sprintf("access existing bucket %s", cfg.Bucket))
			}
			c.resetCircuit()
			return bucket, nil
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	c.logger.Info("created KV bucket", "bucket", cfg.Bucket)
	c.resetCircuit()
	return bucket, nil
}

// GetKeyValueBucket opens an existing KV bucket.
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket",
			fmt.Sprintf("open bucket %s", name))
	}

	c.resetCircuit()
	return bucket, nil
}

// NATS connection event handlers.

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)

	c.mu.RLock()
	onDisconnect := c.onDisconnect
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.reconnects.Add(1)
	if c.metrics != nil {
		c.metrics.RecordNATSReconnect()
	}

	c.mu.RLock()
	onReconnect := c.onReconnect
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS async error", "error", err)
}

// startHealthMonitoring polls the connection and publishes RTT to metrics.
func (c *Client) startHealthMonitoring() {
	c.stopHealthMonitoring()

	c.mu.Lock()
	c.healthDone = make(chan struct{})
	done := c.healthDone
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		lastHealthy := c.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.RLock()
				conn := c.conn
				c.mu.RUnlock()

				if conn == nil {
					continue
				}

				healthy := conn.IsConnected()
				if rtt, err := conn.RTT(); err != nil {
					healthy = false
				} else if c.metrics != nil {
					c.metrics.RecordNATSRTT(rtt)
				}

				if healthy && c.Status() != StatusConnected {
					c.setStatus(StatusConnected)
				} else if !healthy && c.Status() == StatusConnected {
					c.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy && c.onHealthChange != nil {
					c.onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// isAlreadyExistsError matches the server errors raised when two clients
// race to create the same bucket or stream.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}
