package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

var (
	errClientClosed     = errors.New("client closed")
	errClientBufferFull = errors.New("client send buffer full")
)

// Client is one WebSocket connection watching a session.
// It implements bridge.Channel.
type Client struct {
	id      string
	conn    *websocket.Conn
	session *bridge.Session
	send    chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, session *bridge.Session) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		session: session,
		send:    make(chan []byte, 256),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Run attaches the client to its session and pumps frames until the
// connection ends.
func (c *Client) Run(ctx context.Context) {
	c.Send(protocol.NewEvent(protocol.EventHello, protocol.HelloPayload{
		Protocol:  protocol.ProtocolVersion,
		SessionID: c.session.ID(),
		ClientID:  c.id,
	}))

	c.session.Attach(c)
	defer func() {
		c.session.Detach(c)
		c.Close()
	}()

	// server shutdown ends the read loop
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	go c.writePump()
	c.readPump()
}

// maxWSMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
const maxWSMessageSize = 512 * 1024

// readPump reads inbound frames. They only keep the connection alive;
// a ping frame is answered with a pong.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		if t, err := protocol.ParseFrameType(data); err == nil && t == protocol.FrameTypePing {
			c.enqueue(protocol.PongFrame{Type: protocol.FrameTypePong})
		}
	}
}

// writePump writes frames and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues an event frame. It fails when the client is closed or its
// buffer is full, so the session drops it.
func (c *Client) Send(frame *protocol.EventFrame) error {
	return c.enqueue(frame)
}

func (c *Client) enqueue(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("client send buffer full, dropping client", "client", c.id)
		return errClientBufferFull
	}
}

// Close shuts down the send side. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
