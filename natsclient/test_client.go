package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient runs a throwaway NATS server in a container and hands
// integration tests a connected Client. JetStream is always enabled: the
// entity store and the job queue need it, and plain pub/sub works either way.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
}

// testConfig holds configuration for the test container.
type testConfig struct {
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
	kvBuckets    []string
}

// TestOption configures the test container.
type TestOption func(*testConfig)

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

// WithKVBuckets pre-creates KV buckets before the client is handed to the
// test.
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// NewTestClient starts a NATS container with JetStream enabled and connects a
// Client to it. Cleanup is registered on t. Accepts testing.TB so it works
// with both *testing.T and *testing.B.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:" + cfg.natsVersion,
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--js", "--port", "4222", "--http_port", "8222"},
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
		t.Fatalf("failed to start NATS container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	client := NewClient(url,
		WithName("tenantsync-test"),
		WithTimeout(cfg.timeout),
		WithReconnect(0, time.Second), // no reconnects in tests
	)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.startTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to NATS: %v", err)
	}

	tc := &TestClient{
		container: container,
		Client:    client,
		URL:       url,
	}

	for _, bucket := range cfg.kvBuckets {
		if _, err := client.EnsureBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket}); err != nil {
			tc.terminate()
			t.Fatalf("failed to create KV bucket %s: %v", bucket, err)
		}
	}

	t.Cleanup(tc.terminate)
	return tc
}

func (tc *TestClient) terminate() {
	_ = tc.Client.Close()
	_ = tc.container.Terminate(context.Background())
}
