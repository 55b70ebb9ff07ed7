package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	// ErrSendBufferFull is returned by Send when the client is not draining
	// its queue fast enough.
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrConnClosed is returned by Send after the client disconnected.
	ErrConnClosed = errors.New("client connection closed")
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second
)

// Client is a single connected websocket client.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func newClient(conn *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger.With("conn_id", id),
	}
}

// ID returns the connection's unique id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame for the write pump. It never blocks.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the write pump. It is safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send queue onto the connection and keeps it alive
// with pings. It is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket write error", "error", err)
				// Unblocks the read pump, which does the cleanup.
				c.conn.CloseNow()
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket ping failed", "error", err)
				c.conn.CloseNow()
				return
			}
		}
	}
}
