package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient wraps a containerized NATS server plus a connected Client for
// integration tests.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
	cleanup   func()
}

// testConfig holds configuration for the containerized test server.
type testConfig struct {
	jetstream    bool
	kv           bool
	kvBuckets    []string
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
}

// TestOption configures the test server and client.
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the test server.
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithKV enables the KV store. KV requires JetStream, so that is enabled too.
func WithKV() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kv = true
	}
}

// WithKVBuckets pre-creates the named KV buckets after connecting.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kv = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithNATSVersion pins the NATS server image version.
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithTestTimeout sets the connection timeout for the test client.
func WithTestTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = timeout
	}
}

// WithStartTimeout sets the container startup timeout.
func WithStartTimeout(timeout time.Duration) TestOption {
	return func(cfg *testConfig) {
		cfg.startTimeout = timeout
	}
}

// NewSharedTestClient starts a NATS container for use in TestMain. Unlike
// NewTestClient it does not require a testing.TB and returns errors instead
// of failing the test.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return startTestServer(cfg)
}

// NewTestClient starts a NATS container and connects a Client to it. Cleanup
// is registered on the test, so callers normally never terminate it manually.
// Accepts testing.TB so it works with both *testing.T and *testing.B.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := defaultTestConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	tc, err := startTestServer(cfg)
	if err != nil {
		t.Fatalf("failed to start NATS test server: %v", err)
	}
	t.Cleanup(tc.cleanup)
	return tc
}

func defaultTestConfig() *testConfig {
	return &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
}

// startTestServer runs the container, connects a client, and provisions any
// requested KV buckets. On any failure it tears down what it started.
func startTestServer(cfg *testConfig) (*TestClient, error) {
	ctx := context.Background()

	args := []string{
		"--port", "4222",
		"--http_port", "8222",
	}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          args,
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client, err := NewClient(url,
		WithTimeout(cfg.timeout),
		WithMaxReconnects(0),  // no reconnects in tests
		WithHealthInterval(0), // disable health monitoring
	)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if err := client.WaitForConnection(connectCtx); err != nil {
		_ = client.Close(ctx)
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("NATS connection not ready: %w", err)
	}

	tc := &TestClient{
		container: container,
		Client:    client,
		URL:       url,
		cleanup: func() {
			_ = client.Close(context.Background())
			_ = container.Terminate(context.Background())
		},
	}

	if cfg.kv && len(cfg.kvBuckets) > 0 {
		if err := tc.setupKVBuckets(ctx, cfg.kvBuckets); err != nil {
			tc.cleanup()
			return nil, fmt.Errorf("failed to setup KV buckets: %w", err)
		}
	}

	return tc, nil
}

func (tc *TestClient) setupKVBuckets(ctx context.Context, buckets []string) error {
	for _, name := range buckets {
		_, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
		if err != nil {
			return fmt.Errorf("failed to create KV bucket %s: %w", name, err)
		}
	}
	return nil
}

// Terminate tears down the client and container. Usually handled by t.Cleanup.
func (tc *TestClient) Terminate() error {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
	return nil
}

// IsReady reports whether the NATS connection is ready for use.
func (tc *TestClient) IsReady() bool {
	return tc.Client.IsHealthy()
}

// NativeConn returns the underlying NATS connection for direct access.
func (tc *TestClient) NativeConn() *gonats.Conn {
	return tc.Client.Conn()
}

// CreateKVBucket creates a KV bucket during a test.
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}

// GetKVBucket fetches an existing KV bucket during a test.
func (tc *TestClient) GetKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.GetKeyValueBucket(ctx, name)
}
