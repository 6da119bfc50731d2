package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"facepulse/internal/monitoring"
)

// PathPrefix is where the handler is mounted. An optional session ID may
// follow it.
const PathPrefix = "/ws/results"

// writeWait bounds a single write to a client.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // base64 WebP frames
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections of display clients
type Handler struct {
	hub          *Hub
	pingInterval time.Duration
}

// NewHandler creates a new WebSocket handler. Token checks are left to
// middleware.RequireToken.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub, pingInterval: 30 * time.Second}
}

// SessionFromRequest returns the session a client asks to follow: the path
// segment after PathPrefix, else the session query parameter. Empty means
// every session.
func SessionFromRequest(r *http.Request) string {
	if id := strings.Trim(strings.TrimPrefix(r.URL.Path, PathPrefix), "/"); id != "" {
		return id
	}
	return r.URL.Query().Get("session")
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/results[/{session_id}] or /ws/results?session={session_id}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, PathPrefix) {
		http.NotFound(w, r)
		return
	}
	sessionID := SessionFromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[WS] Upgrade error: %v", err)
		return
	}

	monitoring.Logf("[WS] New connection for %s from %s", describe(sessionID), r.RemoteAddr)
	client := h.hub.Register(sessionID, conn)

	go h.writePump(client)
	go h.readPump(client)
}

// writePump is the only writer of a client connection. It drains the
// client's queue and sends pings until the queue is closed or a write fails.
func (h *Handler) writePump(c *Client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				monitoring.Logf("[WS] Error sending to %s: %v", describe(c.session), err)
				h.hub.Unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.hub.Unregister(c)
				return
			}
		}
	}
}

// readPump keeps the connection alive and notices client disconnection
func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := 2 * h.pingInterval
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				monitoring.Logf("[WS] Read error for %s: %v", describe(c.session), err)
			}
			return
		}
	}
}
