package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Olgitta/kirk-ws/internal/relay"
)

// DefaultSendBuffer is the per-client send queue length used when Options
// does not set one.
const DefaultSendBuffer = 256

// Listener receives connection lifecycle events and client requests.
// *relay.Relay implements it.
type Listener interface {
	OnConnect(conn relay.Conn)
	OnDisconnect(conn relay.Conn)
	HandleRequest(name, payload string) (string, bool)
}

// Options configure a Bridge.
type Options struct {
	// AllowedOrigins are host patterns accepted in the Origin header. A "*"
	// entry accepts any origin.
	AllowedOrigins []string
	// SendBuffer is the per-client send queue length.
	SendBuffer int
	// Requests are the request names clients may send. Empty means
	// message_from_client only.
	Requests []string
	Logger   *slog.Logger
}

// Bridge upgrades HTTP requests to websocket clients and connects them to
// a Listener.
type Bridge struct {
	listener   Listener
	whitelist  *requestWhitelist
	origins    []string
	anyOrigin  bool
	sendBuffer int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewBridge creates a bridge that reports to listener.
func NewBridge(listener Listener, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	requests := opts.Requests
	if len(requests) == 0 {
		requests = []string{relay.ClientMessageRequest}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		listener:   listener,
		whitelist:  newRequestWhitelist(requests...),
		origins:    slices.DeleteFunc(slices.Clone(opts.AllowedOrigins), func(o string) bool { return o == "*" }),
		anyOrigin:  len(opts.AllowedOrigins) == 0 || slices.Contains(opts.AllowedOrigins, "*"),
		sendBuffer: buffer,
		logger:     logger.With("component", "websocket_bridge"),
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*Client]struct{}),
	}
}

// Handler returns an echo.HandlerFunc serving websocket upgrades.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		b.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.acquire() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     b.origins,
		InsecureSkipVerify: b.anyOrigin,
	})
	if err != nil {
		// Accept has already written the error response.
		b.logger.Warn("Failed to upgrade connection to WebSocket", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := newClient(conn, b.sendBuffer, b.logger)
	b.track(client)
	b.listener.OnConnect(client)

	go client.writePump()
	b.readPump(client)
}

// acquire registers an in-flight connection unless the bridge is closed.
func (b *Bridge) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bridge) track(c *Client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Bridge) untrack(c *Client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// readPump reads client frames until the connection ends, then unregisters
// the client.
func (b *Bridge) readPump(c *Client) {
	defer func() {
		b.untrack(c)
		b.listener.OnDisconnect(c)
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, frame, err := c.conn.Read(b.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.Debug("WebSocket closed by client", "status", status)
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
			default:
				c.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		b.handleFrame(c, frame)
	}
}

// handleFrame answers one client request. Bad frames are logged and dropped;
// they never end the connection.
func (b *Bridge) handleFrame(c *Client, frame []byte) {
	req, err := ParseRequest(frame)
	if err != nil {
		c.logger.Warn("Ignoring malformed client frame", "error", err)
		return
	}
	if !b.whitelist.IsAllowed(req.Event) {
		c.logger.Warn("Ignoring request not in whitelist", "event", req.Event)
		return
	}

	response, ok := b.listener.HandleRequest(req.Event, req.Payload())
	if !ok {
		c.logger.Warn("Ignoring unhandled client request", "event", req.Event)
		return
	}

	ack, err := json.Marshal(NewAck(req, response))
	if err != nil {
		c.logger.Error("Failed to encode ack", "event", req.Event, "error", err)
		return
	}
	if err := c.Send(ack); err != nil {
		c.logger.Warn("Failed to queue ack", "event", req.Event, "error", err)
	}
}

// Len returns the number of connected clients.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close refuses new connections, closes every open one with a going-away
// status and waits for their handlers to return or ctx to end.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	b.logger.Info("Closing websocket connections", "count", len(clients))
	var closing sync.WaitGroup
	for _, c := range clients {
		closing.Add(1)
		go func() {
			defer closing.Done()
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	closing.Wait()
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
