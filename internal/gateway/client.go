package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = (wsPongWait * 9) / 10
	wsReadLimit    = 4096
	wsSendBuffer   = 64
)

// Client is one operator WebSocket connection. The push channel is one-way:
// inbound frames other than control frames are read and discarded.
type Client struct {
	id       string
	tenantID uuid.UUID
	conn     *websocket.Conn

	send   chan []byte
	done   chan struct{}
	closed sync.Once
}

func NewClient(conn *websocket.Conn, tenantID uuid.UUID) *Client {
	return &Client{
		id:       uuid.NewString(),
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		done:     make(chan struct{}),
	}
}

// SendEvent queues an event frame. A slow client drops frames rather than
// blocking the bus.
func (c *Client) SendEvent(event protocol.EventFrame) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("ws.marshal_failed", "event", event.Event, "error", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		slog.Warn("ws.send_dropped", "client_id", c.id, "event", event.Event)
	}
}

// Run pumps queued frames and pings until the peer goes away or ctx ends.
func (c *Client) Run(ctx context.Context) {
	go c.writeLoop(ctx)
	c.readLoop()
}

func (c *Client) readLoop() {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close is idempotent.
func (c *Client) Close() {
	c.closed.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
