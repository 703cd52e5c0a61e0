package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bevsync/internal/pipeline"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 64
)

// Client is one viewer or control connection. All writes to conn happen on
// the client's writePump goroutine.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to a set of clients. Delivery is best-effort per
// client: a client whose queue is full or whose write fails is dropped
// without affecting the others.
type Hub struct {
	name    string
	clients map[*Client]bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

// NewHub creates an empty hub. name tags its log lines.
func NewHub(name string, log zerolog.Logger) *Hub {
	return &Hub{
		name:    name,
		clients: make(map[*Client]bool),
		log:     log.With().Str("component", "ws").Str("hub", name).Logger(),
	}
}

// Register adds a connection and starts its writer. initial messages are
// queued ahead of any broadcast the client can observe.
func (h *Hub) Register(conn *websocket.Conn, initial ...any) *Client {
	c := &Client{
		ID:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	for _, m := range initial {
		data, err := json.Marshal(m)
		if err != nil {
			h.log.Error().Err(err).Msg("marshal initial message")
			continue
		}
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("client", c.ID.String()).Int("total", n).Msg("client registered")
	go h.writePump(c)
	return c
}

// Unregister removes a client and stops its writer. Safe to call more than
// once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	h.log.Info().Str("client", c.ID.String()).Msg("client unregistered")
}

// Broadcast queues data for every client.
func (h *Hub) Broadcast(data []byte) {
	var dropped []*Client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.log.Info().Str("client", c.ID.String()).Msg("dropping slow client")
		h.Unregister(c)
	}
}

// BroadcastJSON marshals v once and broadcasts it.
func (h *Hub) BroadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast")
		return
	}
	h.Broadcast(data)
}

// OnEvent implements pipeline.EventHandler.
func (h *Hub) OnEvent(ev *pipeline.Event) {
	h.BroadcastJSON(ev.Message)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close drops every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Info().Err(err).Str("client", c.ID.String()).Msg("write failed, dropping client")
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}

// readPump keeps a client's read side alive, passing each text message to
// onMessage (which may be nil), and unregisters the client when the
// connection ends.
func (h *Hub) readPump(c *Client, readLimit int64, onMessage func([]byte)) {
	defer func() {
		h.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Info().Err(err).Str("client", c.ID.String()).Msg("read error")
			}
			return
		}
		// any inbound traffic counts as liveness
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onMessage != nil {
			onMessage(data)
		}
	}
}
