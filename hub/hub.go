package hub

import (
	"log/slog"
	"sync"

	"github.com/jitsi/excalidraw-backend/domain"
)

// Hub is the room registry: it maps room IDs to their current member
// connections and tracks the reverse index of rooms per connection. Rooms
// are created on first join and pruned as soon as they are empty. All maps
// are keyed by connection ID, so identity comparisons never depend on
// pointer equality.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]domain.Connection            // connID -> connection
	rooms  map[string]map[string]domain.Connection // roomID -> connID -> connection
	joined map[string]map[string]struct{}          // connID -> set of roomIDs
}

func New() *Hub {
	return &Hub{
		conns:  make(map[string]domain.Connection),
		rooms:  make(map[string]map[string]domain.Connection),
		joined: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

// Unregister forgets the connection entirely, including any room memberships
// left behind. Callers that need per-room teardown notifications must Leave
// each room first.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID())
	for roomID := range h.joined[conn.ID()] {
		h.removeLocked(conn.ID(), roomID)
	}
	delete(h.joined, conn.ID())
	count := len(h.conns)
	h.mu.Unlock()

	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
}

// Join adds the connection to the room, creating the room if needed. It is
// idempotent: re-joining leaves membership unchanged and returns added=false.
// The returned slice is a snapshot taken under the same lock as the mutation.
func (h *Hub) Join(conn domain.Connection, roomID string) ([]domain.Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		r = make(map[string]domain.Connection)
		h.rooms[roomID] = r
	}
	_, already := r[conn.ID()]
	if !already {
		r[conn.ID()] = conn
		if h.joined[conn.ID()] == nil {
			h.joined[conn.ID()] = make(map[string]struct{})
		}
		h.joined[conn.ID()][roomID] = struct{}{}
	}
	return snapshot(r), !already
}

// Leave removes the connection from the room; a leave by a non-member is a
// no-op reported via removed=false. Empty rooms are pruned.
func (h *Hub) Leave(conn domain.Connection, roomID string) ([]domain.Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		return nil, false
	}
	_, member := r[conn.ID()]
	if member {
		h.removeLocked(conn.ID(), roomID)
		delete(h.joined[conn.ID()], roomID)
		if len(h.joined[conn.ID()]) == 0 {
			delete(h.joined, conn.ID())
		}
	}
	return snapshot(h.rooms[roomID]), member
}

// Members returns a snapshot of the room's membership. A never-created or
// already-pruned room yields an empty result.
func (h *Hub) Members(roomID string) []domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return snapshot(h.rooms[roomID])
}

// Rooms returns the IDs of every room the connection currently belongs to.
func (h *Hub) Rooms(conn domain.Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.joined[conn.ID()]))
	for roomID := range h.joined[conn.ID()] {
		ids = append(ids, roomID)
	}
	return ids
}

// Lookup finds a registered connection by ID.
func (h *Hub) Lookup(connID string) (domain.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	return conn, ok
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

// removeLocked drops a member from a room and prunes the room if it became
// empty. Caller holds h.mu.
func (h *Hub) removeLocked(connID, roomID string) {
	r := h.rooms[roomID]
	if r == nil {
		return
	}
	delete(r, connID)
	if len(r) == 0 {
		delete(h.rooms, roomID)
		slog.Debug("room removed", "room", roomID)
	}
}

func snapshot(r map[string]domain.Connection) []domain.Connection {
	members := make([]domain.Connection, 0, len(r))
	for _, conn := range r {
		members = append(members, conn)
	}
	return members
}
