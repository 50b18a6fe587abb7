package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/vigia/internal/app"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// sendBuffer is the number of notifications queued per client.
	sendBuffer = 16
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NotificationHub broadcasts event notifications to WebSocket clients.
// Broadcast never blocks: a client that falls behind loses messages.
type NotificationHub struct {
	mu      sync.RWMutex
	clients map[*hubClient]bool
	closed  bool
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{clients: make(map[*hubClient]bool)}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *NotificationHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "notifications").Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
}

func (h *NotificationHub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	log.Debug().Str("component", "notifications").Int("clients", len(h.clients)).Msg("Client registered")
	return true
}

func (h *NotificationHub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *NotificationHub) writeLoop(c *hubClient) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug().Str("component", "notifications").Err(err).Msg("Failed to send notification")
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Broadcast queues n for every connected client.
func (h *NotificationHub) Broadcast(n app.Notification) {
	msg, err := json.Marshal(n)
	if err != nil {
		log.Error().Str("component", "notifications").Err(err).Msg("Failed to encode notification")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("component", "notifications").Msg("Client too slow, notification dropped")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *NotificationHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
