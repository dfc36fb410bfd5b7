package protocol

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/jitsi/excalidraw-backend/domain"
)

// Config holds the per-room policy knobs that vary between deployments.
type Config struct {
	// RoomUserLimit caps room membership when > 0. A join that would exceed
	// the limit is rejected; existing members are never evicted.
	RoomUserLimit int
	// AllowSelfFollow permits a connection to follow itself.
	AllowSelfFollow bool
}

const roomLockStripes = 64

// Handler dispatches inbound events to the presence, relay and follow logic
// against the room registry. All payloads are relayed opaque; the handler
// only ever reads the envelope.
type Handler struct {
	registry domain.Registry
	cfg      Config

	// Striped per-room locks. Every membership change runs its
	// mutate+snapshot+notify sequence under the room's stripe, so the
	// presence notifications any member observes arrive in membership-history
	// order; without this, two concurrent joins could deliver a stale member
	// list after the current one. A hash collision between rooms only
	// over-serializes, never under-serializes.
	roomLocks [roomLockStripes]sync.Mutex
}

func NewHandler(registry domain.Registry, cfg Config) *Handler {
	return &Handler{registry: registry, cfg: cfg}
}

func (h *Handler) roomLock(roomID string) *sync.Mutex {
	f := fnv.New32a()
	f.Write([]byte(roomID))
	return &h.roomLocks[f.Sum32()%roomLockStripes]
}

// HandleConnect registers the connection and greets it with init-room.
func (h *Handler) HandleConnect(conn domain.Connection) {
	h.registry.Register(conn)
	h.send(conn, domain.ServerMessage{Type: domain.EventInitRoom})
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch msg.Type {
	case domain.EventJoinRoom:
		h.handleJoin(conn, msg.RoomID)
	case domain.EventServerBroadcast:
		h.relay(conn, msg, false)
	case domain.EventServerVolatileBroadcast:
		h.relay(conn, msg, true)
	case domain.EventUserFollow:
		h.handleFollow(conn, msg.Follow)
	default:
		slog.Warn("unknown event", "clientId", conn.ID(), "event", msg.Type)
	}
}

// handleJoin runs the presence sequence: join, then notify from the post-join
// snapshot. The sole member gets first-in-room; otherwise every existing
// member gets new-user and the whole room, joiner included, gets
// room-user-change with the full member list.
func (h *Handler) handleJoin(conn domain.Connection, roomID string) {
	if roomID == "" {
		slog.Warn("join without room id", "clientId", conn.ID())
		return
	}

	lock := h.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	if h.cfg.RoomUserLimit > 0 {
		current := h.registry.Members(roomID)
		if len(current) >= h.cfg.RoomUserLimit && !containsID(current, conn.ID()) {
			slog.Warn("room full", "room", roomID, "clientId", conn.ID(), "limit", h.cfg.RoomUserLimit)
			return
		}
	}

	members, _ := h.registry.Join(conn, roomID)
	slog.Debug("join", "room", roomID, "clientId", conn.ID(), "members", len(members))

	if len(members) <= 1 {
		h.send(conn, domain.ServerMessage{Type: domain.EventFirstInRoom})
	} else {
		newUser := domain.ServerMessage{Type: domain.EventNewUser, ClientID: conn.ID()}
		for _, member := range members {
			if member.ID() == conn.ID() {
				continue
			}
			h.send(member, newUser)
		}
	}

	change := domain.ServerMessage{Type: domain.EventRoomUserChange, Clients: sortedIDs(members)}
	for _, member := range members {
		h.send(member, change)
	}
}

// relay fans the opaque payload out to every room member except the sender.
func (h *Handler) relay(sender domain.Connection, msg domain.ClientMessage, volatile bool) {
	if msg.RoomID == "" {
		slog.Warn("broadcast without room id", "clientId", sender.ID())
		return
	}

	out, err := json.Marshal(domain.ServerMessage{
		Type:    domain.EventClientBroadcast,
		Payload: msg.Payload,
		Aux:     msg.Aux,
	})
	if err != nil {
		slog.Warn("marshal error", "clientId", sender.ID(), "error", err)
		return
	}

	for _, member := range h.registry.Members(msg.RoomID) {
		if member.ID() == sender.ID() {
			continue
		}
		if volatile {
			member.SendVolatile(out)
			continue
		}
		if err := member.Send(out); err != nil {
			slog.Warn("relay delivery failed", "room", msg.RoomID, "clientId", member.ID(), "error", err)
		}
	}
}

// HandleDisconnect removes the connection from every room it belonged to,
// notifying remaining members of ordinary rooms and the targets of follow
// rooms that just lost their last follower. Safe to call more than once.
func (h *Handler) HandleDisconnect(conn domain.Connection) {
	for _, roomID := range h.registry.Rooms(conn) {
		h.leaveAndNotify(conn, roomID)
	}
	h.registry.Unregister(conn)
}

// leaveAndNotify removes the connection from one room and sends the teardown
// notifications from the same snapshot, under the room's stripe.
func (h *Handler) leaveAndNotify(conn domain.Connection, roomID string) {
	lock := h.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	remaining, removed := h.registry.Leave(conn, roomID)
	if !removed {
		return
	}

	if IsFollowRoom(roomID) {
		if len(remaining) == 0 {
			h.notifyUnfollowed(FollowRoomTarget(roomID))
		}
		return
	}

	if len(remaining) > 0 {
		change := domain.ServerMessage{Type: domain.EventRoomUserChange, Clients: sortedIDs(remaining)}
		for _, member := range remaining {
			h.send(member, change)
		}
	}
}

// send marshals and delivers one event; delivery failures are logged and
// contained here so fan-out loops keep going.
func (h *Handler) send(conn domain.Connection, msg domain.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "event", msg.Type, "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("delivery failed", "event", msg.Type, "clientId", conn.ID(), "error", err)
	}
}

func sortedIDs(members []domain.Connection) []string {
	ids := make([]string, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.ID())
	}
	sort.Strings(ids)
	return ids
}

func containsID(members []domain.Connection, id string) bool {
	for _, member := range members {
		if member.ID() == id {
			return true
		}
	}
	return false
}
