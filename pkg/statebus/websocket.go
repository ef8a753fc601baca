package statebus

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSConsumer reads text frames from a websocket change feed. A read error
// drops the connection; the next ReadMessage dials again, so a relay
// retrying reads reconnects after a server restart.
type WSConsumer struct {
	mu     sync.Mutex
	cfg    WSConfig
	conn   *websocket.Conn
	closed bool
	dials  int
}

type WSConfig struct {
	URL         string
	BearerToken string
	DialTimeout time.Duration
}

// DialWS connects once up front so a bad URL or token fails fast.
func DialWS(ctx context.Context, cfg WSConfig) (*WSConsumer, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket url required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 8 * time.Second
	}
	c := &WSConsumer{cfg: cfg}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.dials = 1
	return c, nil
}

func (c *WSConsumer) dial(ctx context.Context) (*websocket.Conn, error) {
	// websocket.Dial rejects clients with a Timeout; bound the handshake
	// through the context instead.
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	opts := &websocket.DialOptions{}
	if c.cfg.BearerToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.BearerToken}}
	}
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Dials counts successful connections, the initial one included.
func (c *WSConsumer) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *WSConsumer) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	closed, conn := c.closed, c.conn
	c.mu.Unlock()
	if closed {
		return nil, ErrConsumerClosed
	}
	if conn != nil {
		return conn, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket redial: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.CloseNow()
		return nil, ErrConsumerClosed
	}
	c.conn = conn
	c.dials++
	return conn, nil
}

func (c *WSConsumer) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.CloseNow()
}

func (c *WSConsumer) ReadMessage(ctx context.Context) (Message, error) {
	if c == nil {
		return Message{}, ErrConsumerClosed
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return Message{}, err
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// coder/websocket closes the connection on any read error.
			c.drop(conn)
			return Message{}, err
		}
		if typ == websocket.MessageText {
			return Message{Value: data}, nil
		}
	}
}

func (c *WSConsumer) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "closed")
	c.conn = nil
	return err
}
