package notifications

import (
	"context"
	"sync"
	"time"

	"boardroom/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBuffer = 256
)

// Client is the middleman between one websocket connection and its room.
type Client struct {
	// Hub labels the kind of room the socket is attached to.
	Hub string

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// ConnID is the id the room knows this socket by.
	ConnID string

	RoomID string

	// Callback for handling incoming messages
	IncomingHandler func(*Client, []byte)

	closeOnce sync.Once
	log       *observability.WSLogger
}

// NewClient creates a new Client instance
func NewClient(hub string, conn *websocket.Conn, id, roomID string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		ConnID: id,
		RoomID: roomID,
		Send:   make(chan []byte, sendBuffer),
		log:    observability.NewWSLogger(hub),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.ConnID }

// ReadPump pumps messages from the websocket connection to IncomingHandler
// until the peer goes away.
func (c *Client) ReadPump() {
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.LogError(context.Background(), c.ID(), c.RoomID, err, "read")
			}
			return
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps messages from Send to the websocket connection. It returns
// once Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The room closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message without blocking. Full buffers and closed clients drop it.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub, "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub, "full").Inc()
		c.log.LogIgnored(context.Background(), c.ID(), c.RoomID, "outbound", "send buffer full")
	}
}

// CloseSend closes the outbound queue so WritePump can finish. Safe to call more than once.
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}
