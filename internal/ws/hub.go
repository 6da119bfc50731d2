// Package ws streams pipeline results to display clients over WebSocket.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"facepulse/internal/monitoring"
)

// allSessions is the subscription key of clients that follow every session.
const allSessions = ""

// sendQueueSize is the number of messages queued per client before new ones
// are dropped for that client.
const sendQueueSize = 16

// Client is one display connection. Only its write pump writes to conn.
type Client struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
	dropped uint64
}

// Hub manages WebSocket connections of display clients. Broadcasts never
// wait on a connection: each client has a bounded queue drained by its own
// write pump.
type Hub struct {
	// clients maps session filter -> set of clients
	clients map[string]map[*Client]bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]bool),
	}
}

// Register adds a connection following sessionID, or every session when
// sessionID is empty
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *Client {
	c := &Client{
		session: sessionID,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*Client]bool)
	}
	h.clients[sessionID][c] = true
	monitoring.Logf("[WS] Client registered for %s (total: %d)", describe(sessionID), len(h.clients[sessionID]))
	return c
}

// Unregister removes a client and closes its queue. Later calls do nothing.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.session]
	if !ok {
		return
	}
	if _, present := conns[c]; !present {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.session)
	}
	close(c.send)
	monitoring.Logf("[WS] Client unregistered for %s (dropped %d messages)", describe(c.session), c.dropped)
}

// HasClients reports whether any client would receive a message for sessionID
func (h *Hub) HasClients(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[allSessions]) > 0 || len(h.clients[sessionID]) > 0
}

// ClientCount returns the total number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Broadcast queues message for the clients of sessionID and for every client
// following all sessions. A client whose queue is full misses the message.
func (h *Hub) Broadcast(sessionID string, message []byte) {
	// Unregister closes queues under the same lock.
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, key := range []string{allSessions, sessionID} {
		for c := range h.clients[key] {
			select {
			case c.send <- message:
			default:
				c.dropped++
			}
		}
		if sessionID == allSessions {
			break
		}
	}
}

// BroadcastResult sends a result message to its subscribers
func (h *Hub) BroadcastResult(msg *ResultMessage) {
	if !h.HasClients(msg.SessionID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("[WS] Error marshaling result message: %v", err)
		return
	}
	h.Broadcast(msg.SessionID, data)
}

func describe(sessionID string) string {
	if sessionID == allSessions {
		return "all sessions"
	}
	return "session " + sessionID
}
