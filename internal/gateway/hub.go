package gateway

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// Client represents a single WebSocket connection.
type Client struct {
	UserID string
	Name   string
	Conn   *websocket.Conn
	Send   chan []byte

	mu      sync.Mutex
	roomIDs map[string]struct{}
}

func NewClient(userID, name string, conn *websocket.Conn) *Client {
	return &Client{
		UserID:  userID,
		Name:    name,
		Conn:    conn,
		Send:    make(chan []byte, 32),
		roomIDs: make(map[string]struct{}),
	}
}

// WritePump reads from the Send channel and writes to the WebSocket
// connection. Per-client ordering follows channel order, so events queued by
// one broadcast arrive in the order they were emitted.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) trackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomIDs[roomID] = struct{}{}
}

func (c *Client) untrackRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roomIDs, roomID)
}

// Rooms returns the room ids this connection has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.roomIDs))
	for id := range c.roomIDs {
		ids = append(ids, id)
	}
	return ids
}

// Hub manages per-room broadcast groups.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Client),
	}
}

// Join adds a client to a room's broadcast group, replacing any previous
// connection for the same user in that room.
func (h *Hub) Join(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.rooms[roomID]
	if !ok {
		group = make(map[string]*Client)
		h.rooms[roomID] = group
	}
	group[c.UserID] = c
}

// Leave removes the client's connection from a room's group. The entry is
// only removed while it still belongs to this client: once a reconnect has
// replaced it, the stale connection's teardown must not evict the live one.
// Reports whether the entry was removed.
func (h *Hub) Leave(roomID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if cur, ok := group[c.UserID]; !ok || cur != c {
		return false
	}
	delete(group, c.UserID)
	if len(group) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// DropRoom removes a whole broadcast group. Connections stay open; they are
// just no longer addressed by this room id.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, roomID)
}

// Broadcast sends a message to every client in the room. Non-blocking:
// drops for clients whose channel is full.
func (h *Hub) Broadcast(roomID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[roomID] {
		select {
		case c.Send <- data:
		default:
			// Drop message if channel full
		}
	}
}

// BroadcastExcept sends to every client in the room but the given user.
func (h *Hub) BroadcastExcept(roomID, exceptUserID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[roomID] {
		if id == exceptUserID {
			continue
		}
		select {
		case c.Send <- data:
		default:
		}
	}
}

// Members returns the number of connections in the room's group.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
