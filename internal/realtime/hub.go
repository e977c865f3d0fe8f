// Package realtime multiplexes ride status, location and chat events
// over per-ride and per-party rooms. Delivery is at-most-once and
// best-effort; storage stays the source of truth and clients refetch
// after a reconnect.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prashanthspeshway/riderapp-backend/internal/observability"
)

// IdentityKey is the canonical room-addressable key for a user. It is
// resolved once at connection time; no alias joining.
func IdentityKey(userID uint) string {
	return fmt.Sprintf("user_%d", userID)
}

// RideRoom names the logical room scoping a ride's chat and status
// fan-out to exactly its rider and driver.
func RideRoom(rideID uint) string {
	return fmt.Sprintf("ride_%d", rideID)
}

// Hub maintains the set of connected clients and room membership.
// Membership is keyed by identity, not connection, so a reconnecting
// client still holds every room it was in.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]bool // identity -> live connections
	rooms      map[string]map[string]bool  // room -> member identities
	register   chan *Client
	unregister chan *Client
	onMessage  func(c *Client, e Event)
	logger     *slog.Logger
}

// NewHub creates a new websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetMessageHandler installs the callback for inbound client events.
func (h *Hub) SetMessageHandler(fn func(c *Client, e Event)) {
	h.onMessage = fn
}

// Run starts the hub loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.identity] == nil {
				h.clients[client.identity] = make(map[*Client]bool)
			}
			h.clients[client.identity][client] = true
			h.mu.Unlock()
			observability.ConnectedClients.Inc()
			h.logger.Info("client connected", "identity", client.identity, "userType", client.userType)

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.identity]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.identity)
					}
				}
			}
			h.mu.Unlock()
			observability.ConnectedClients.Dec()
			h.logger.Info("client disconnected", "identity", client.identity)
		}
	}
}

// JoinRoom adds an identity to a room. Idempotent.
func (h *Hub) JoinRoom(room, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][identity] = true
}

// LeaveRoom removes an identity from a room.
func (h *Hub) LeaveRoom(room, identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, identity)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// CloseRoom drops a room and all its memberships, e.g. once a ride is
// terminal.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
}

// Members returns the identities currently in a room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// EmitToRoom delivers an event to every connection of every member
// identity. Slow consumers are skipped: at-most-once.
func (h *Hub) EmitToRoom(room string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for identity := range h.rooms[room] {
		h.sendLocked(identity, data)
	}
}

// EmitToUser delivers an event directly to one party, independent of
// any ride room membership.
func (h *Hub) EmitToUser(userID uint, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sendLocked(IdentityKey(userID), data)
}

// EmitToUserType delivers an event to every connected client of a
// user type, e.g. the public online-drivers broadcast to riders.
func (h *Hub) EmitToUserType(userType string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", "type", event.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for c := range conns {
			if c.userType != userType {
				continue
			}
			select {
			case c.send <- data:
			default:
				// Channel full; drop rather than block the hub.
			}
		}
	}
}

// Connected reports whether a party has at least one live connection.
func (h *Hub) Connected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[IdentityKey(userID)]) > 0
}

// GetConnectedClients returns the number of connected clients.
func (h *Hub) GetConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

func (h *Hub) sendLocked(identity string, data []byte) {
	for c := range h.clients[identity] {
		select {
		case c.send <- data:
		default:
			// Slow consumer: skip. The client refetches on reconnect.
			h.logger.Warn("send buffer full, dropping", "identity", identity)
		}
	}
}
