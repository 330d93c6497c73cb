// Package natsclient manages the NATS connection shared by all pipeline
// stages: core pub/sub for stage events, JetStream for the job queue, and
// KV buckets for the entity store.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tenantsync/errors"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
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
	default:
		return "unknown"
	}
}

// Client manages a NATS connection with reconnect handling.
type Client struct {
	url    string
	status atomic.Value // ConnectionStatus
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	reconnects atomic.Int32

	mu     sync.RWMutex
	closed atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithName sets the client connection name.
func WithName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// WithTimeout sets the default operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithReconnect sets the reconnect policy. A negative maxReconnects retries
// forever.
func WithReconnect(maxReconnects int, wait time.Duration) Option {
	return func(c *Client) {
		c.maxReconnects = maxReconnects
		c.reconnectWait = wait
	}
}

// NewClient creates a NATS client for the given URL. Connect must be called
// before use.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1, // infinite
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		clientName:    "tenantsync",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(StatusDisconnected)
	return c
}

// Connect establishes the connection and the JetStream handle.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "context")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	c.status.Store(StatusConnecting)

	conn, err := nats.Connect(c.url,
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.status.Store(StatusConnected)
			c.reconnects.Add(1)
			c.logger.Info("NATS reconnected", "reconnects", c.reconnects.Load())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(StatusDisconnected)
		}),
	)
	if err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "NATS connect")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "JetStream init")
	}

	c.conn = conn
	c.js = js
	c.status.Store(StatusConnected)

	c.logger.Info("NATS connected", "url", c.url)
	return nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	v := c.status.Load()
	if v == nil {
		return StatusDisconnected
	}
	return v.(ConnectionStatus)
}

// IsHealthy reports whether the connection is established.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Conn returns the underlying NATS connection.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream handle.
func (c *Client) JetStream() jetstream.JetStream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.js
}

// Publish publishes data on a core NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn := c.Conn()
	if conn == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// Subscribe subscribes to a core NATS subject (wildcards allowed) with a
// queue group so multiple instances share the load.
func (c *Client) Subscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "connection check")
	}

	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = conn.QueueSubscribe(subject, queue, handler)
	} else {
		sub, err = conn.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}
	return sub, nil
}

// EnsureStream creates or updates a JetStream stream.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js := c.JetStream()
	if js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "EnsureStream", "JetStream check")
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream",
			fmt.Sprintf("create stream %s", cfg.Name))
	}
	return stream, nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing hard", "error", err)
		c.conn.Close()
	}
	c.status.Store(StatusDisconnected)
	return nil
}
