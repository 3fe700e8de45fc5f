package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kestrelhq/kestrel/internal/sessions"
	"github.com/kestrelhq/kestrel/pkg/protocol"
)

// Client is one WebSocket connection bound to a session. Writes are
// serialized through a mutex because gorilla/websocket allows only one
// concurrent writer.
type Client struct {
	id   string
	conn *websocket.Conn
	sess *sessions.Session
	srv  *Server

	writeMu sync.Mutex
	closed  bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, sess *sessions.Session, srv *Server) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		sess: sess,
		srv:  srv,
	}
}

// Send writes one outbound frame as JSON. Implements orchestrator.Sink.
func (c *Client) Send(frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteJSON(frame)
}

// Close shuts the connection down.
func (c *Client) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// Run reads inbound messages until the connection or the session dies.
// Inbound frames are plain UTF-8 user text; each one is routed through
// the orchestrator synchronously so per-connection events stay in
// causal order.
func (c *Client) Run(ctx context.Context) {
	// The session context ends on kill; the request context ends on
	// disconnect. Either cancels in-flight work.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.sess.Context().Done():
			c.Close()
		case <-ctx.Done():
		}
	}()

	c.srv.orch.HandleConnect(c.sess, c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "client", c.id, "error", err)
			}
			return
		}

		if !c.srv.rateLimiter.Allow(c.id) {
			c.Send(protocol.NewFrame(
				protocol.EventError, protocol.RoleSystem,
				"Rate limit exceeded. Slow down.", protocol.SourceSystem, nil,
			))
			continue
		}

		c.srv.orch.HandleMessage(ctx, c.sess, c, string(data))
	}
}
