package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/panelgate/panelgate/pkg/event"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32

	// Panels only receive; anything they send is discarded.
	maxInboundMessage = 4 << 10
)

// Hub tracks authenticated panel sockets and broadcasts events to them.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[uuid.UUID]*client),
	}
}

// Count returns the number of connected sockets.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Notify broadcasts ev to every connected socket. Sockets whose send buffer
// is full are disconnected.
func (h *Hub) Notify(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow connection", slog.String("conn_id", id.String()))
			delete(h.clients, id)
			c.close()
		}
	}
	return nil
}

// Close disconnects every socket. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}

// serve registers conn and blocks until it disconnects.
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	logger := h.logger.With(slog.String("conn_id", c.id.String()))
	logger.Info("panel connected", slog.String("remote", conn.RemoteAddr().String()))

	conn.SetReadLimit(maxInboundMessage)
	go c.writeLoop(logger)
	c.readLoop()

	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
	c.close()
	logger.Info("panel disconnected")
}

// close stops the writer, which closes the connection.
func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// readLoop discards inbound messages until the peer goes away.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop(logger *slog.Logger) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("write failed", slog.String("error", err.Error()))
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
