package api

import (
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/sensordash/internal/logger"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/status"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBacklog  = 64
	maxInboundSize = 512
)

// Message types pushed on the stream.
const (
	TypeSample = "sample"
	TypeStatus = "status"
	TypeNotice = "notice"
	TypeClear  = "clear"
)

// Message is one frame on the dashboard stream.
type Message struct {
	Type   string         `json:"type"`
	Sample *sample.Sample `json:"sample,omitempty"`
	Status status.Status  `json:"status,omitempty"`
	Notice *status.Notice `json:"notice,omitempty"`
}

// Hub fans session events out to connected stream clients. Broadcasts never
// block: a client that falls behind is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	// queued records message types broadcast while the initial snapshot was
	// being taken. Guarded by Hub.mu; nil once the snapshot is settled.
	queued map[string]bool
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.With("stream"),
	}
}

// Render forwards dispatched samples. Resets travel as clear messages via
// OnClear.
func (h *Hub) Render(s *sample.Sample) {
	if s == nil {
		return
	}
	h.broadcast(Message{Type: TypeSample, Sample: s})
}

func (h *Hub) OnStatus(s status.Status) {
	h.broadcast(Message{Type: TypeStatus, Status: s})
}

func (h *Hub) OnNotice(n status.Notice) {
	h.broadcast(Message{Type: TypeNotice, Notice: &n})
}

func (*Hub) OnAppend(sample.Sample) {}

func (h *Hub) OnClear() {
	h.broadcast(Message{Type: TypeClear})
}

// Clients returns the number of connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Error().Err(err).Str("type", m.Type).Msg("Failed to encode stream message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.queued != nil {
			c.queued[m.Type] = true
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Stream client too slow, dropping")
			h.removeLocked(c)
		}
	}
}

// serve registers conn and pumps messages until either side closes.
// snapshot runs after registration so no broadcast is missed; a snapshot frame
// is dropped when a live message of the same type was queued in the meantime,
// since that message is at least as recent.
func (h *Hub) serve(conn *websocket.Conn, snapshot func() []Message) {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBacklog),
		queued: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Stream client connected")

	initial := snapshot()

	h.mu.Lock()
	queued := c.queued
	c.queued = nil
	h.mu.Unlock()

	var frames [][]byte
	for _, m := range initial {
		if queued[m.Type] {
			continue
		}
		if data, err := json.Marshal(m); err == nil {
			frames = append(frames, data)
		}
	}

	go h.writePump(c, frames)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

// readPump discards inbound frames; it exists to observe pongs and closes.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client, initial [][]byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, data := range initial {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
