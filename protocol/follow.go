package protocol

import (
	"log/slog"
	"strings"

	"github.com/jitsi/excalidraw-backend/domain"
)

// FollowRoomPrefix reserves a slice of the room namespace for follow rooms:
// the members of "follow@<id>" are the connections following <id>.
const FollowRoomPrefix = "follow@"

func FollowRoomID(targetID string) string {
	return FollowRoomPrefix + targetID
}

func IsFollowRoom(roomID string) bool {
	return strings.HasPrefix(roomID, FollowRoomPrefix)
}

// FollowRoomTarget recovers the followed connection's ID from a follow room
// key.
func FollowRoomTarget(roomID string) string {
	return strings.TrimPrefix(roomID, FollowRoomPrefix)
}

// handleFollow applies a FOLLOW/UNFOLLOW transition by joining or leaving the
// target's follow room, then reports the resulting follower list to the
// target. A transition that does not change membership is a no-op.
func (h *Handler) handleFollow(conn domain.Connection, req *domain.FollowRequest) {
	if req == nil || req.Target.ConnectionID == "" {
		slog.Warn("malformed follow request", "clientId", conn.ID())
		return
	}

	targetID := req.Target.ConnectionID
	roomID := FollowRoomID(targetID)

	lock := h.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	var (
		followers []domain.Connection
		changed   bool
		emptied   bool
	)
	switch req.Action {
	case domain.FollowActionFollow:
		if !h.cfg.AllowSelfFollow && targetID == conn.ID() {
			slog.Debug("self-follow rejected", "clientId", conn.ID())
			return
		}
		followers, changed = h.registry.Join(conn, roomID)
	case domain.FollowActionUnfollow:
		followers, changed = h.registry.Leave(conn, roomID)
		emptied = changed && len(followers) == 0
	default:
		slog.Warn("unknown follow action", "clientId", conn.ID(), "action", req.Action)
		return
	}

	if !changed {
		return
	}

	target, ok := h.registry.Lookup(targetID)
	if !ok {
		// Target already gone; its follow room will be torn down when the
		// followers disconnect or leave.
		return
	}
	h.send(target, domain.ServerMessage{
		Type:      domain.EventFollowRoomChange,
		Followers: sortedIDs(followers),
	})
	if emptied {
		h.send(target, domain.ServerMessage{Type: domain.EventBroadcastUnfollow})
	}
}

// notifyUnfollowed tells a target its follow room just lost its last
// follower.
func (h *Handler) notifyUnfollowed(targetID string) {
	target, ok := h.registry.Lookup(targetID)
	if !ok {
		return
	}
	h.send(target, domain.ServerMessage{Type: domain.EventBroadcastUnfollow})
}
