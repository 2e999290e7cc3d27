package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/core/request"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
)

// RequestEvent is one request status transition pushed to subscribers.
type RequestEvent struct {
	Type      string          `json:"type"`
	RequestID uint64          `json:"request_id"`
	Kind      request.Kind    `json:"kind"`
	Status    request.Status  `json:"status"`
	Reply     *request.Reply  `json:"reply,omitempty"`
	At        time.Time       `json:"at"`
}

// EventHub fans request status transitions out over WebSocket. A slow
// subscriber is dropped rather than allowed to block settlement; the
// durable status history in the request ledger is the source of truth,
// events are best-effort.
type EventHub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log.With().Str("component", "event_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// PublishRequest implements service.Publisher.
func (h *EventHub) PublishRequest(req *request.Request) {
	event := RequestEvent{
		Type:      "request",
		RequestID: req.ID,
		Kind:      req.Payload.Kind,
		Status:    req.Status(),
		At:        time.Now().UTC(),
	}
	if req.Terminal() {
		event.Reply = req.Reply
	}

	raw, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Uint64("request_id", req.ID).Msg("event marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			// Buffer full: the subscriber is too slow, cut it loose.
			go h.drop(c)
		}
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *EventHub) writePump(c *client) {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump drains inbound frames so control messages are processed and a
// closed peer is detected promptly. The stream is one-way; payloads are
// discarded.
func (h *EventHub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) drop(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
	if present {
		h.log.Debug().Msg("subscriber dropped")
	}
}
