// Package clients holds outbound collaborator clients.
package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"creditgrid/internal/forward"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxFrameSize        = 4 * 1024 * 1024
)

type brokerFrame struct {
	Kind string      `json:"kind"`
	Body interface{} `json:"body"`
}

// BrokerClient hands messages to the broker over a persistent WebSocket
// connection. The connection is dialed lazily and redialed after a write
// failure; delivery guarantees beyond the handoff belong to the broker.
type BrokerClient struct {
	url          string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewBrokerClient returns an unconnected client.
func NewBrokerClient(url string, logger *zap.Logger) *BrokerClient {
	return &BrokerClient{
		url:          url,
		writeTimeout: defaultWriteTimeout,
		logger:       logger,
	}
}

var _ forward.Broker = (*BrokerClient)(nil)

// Transmit hands one message envelope to the broker.
func (c *BrokerClient) Transmit(ctx context.Context, env forward.Envelope) error {
	return c.send(ctx, "transmit", env)
}

// Trace hands one routing audit record to the broker.
func (c *BrokerClient) Trace(ctx context.Context, tr forward.Trace) error {
	return c.send(ctx, "trace", tr)
}

func (c *BrokerClient) send(ctx context.Context, kind string, body interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return fmt.Errorf("broker: connect: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteJSON(brokerFrame{Kind: kind, Body: body}); err != nil {
		// A failed write leaves the connection in an unknown state.
		c.dropConn()
		return fmt.Errorf("broker: %s: %w", kind, err)
	}
	return nil
}

func (c *BrokerClient) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if c.url == "" {
		return nil, fmt.Errorf("no broker url configured")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	c.conn = conn
	c.logger.Info("broker connected", zap.String("url", c.url))
	return conn, nil
}

func (c *BrokerClient) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close tears down the connection.
func (c *BrokerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
	return nil
}
