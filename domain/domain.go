package domain

// Inbound event types (client to server).
const (
	EventJoinRoom                = "join-room"
	EventServerBroadcast         = "server-broadcast"
	EventServerVolatileBroadcast = "server-volatile-broadcast"
	EventUserFollow              = "user-follow"
)

// Outbound event types (server to client).
const (
	EventInitRoom          = "init-room"
	EventFirstInRoom       = "first-in-room"
	EventNewUser           = "new-user"
	EventRoomUserChange    = "room-user-change"
	EventClientBroadcast   = "client-broadcast"
	EventFollowRoomChange  = "user-follow-room-change"
	EventBroadcastUnfollow = "broadcast-unfollow"
)

type FollowAction string

const (
	FollowActionFollow   FollowAction = "FOLLOW"
	FollowActionUnfollow FollowAction = "UNFOLLOW"
)

type FollowTarget struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName,omitempty"`
}

type FollowRequest struct {
	Target FollowTarget `json:"target"`
	Action FollowAction `json:"action"`
}

// ClientMessage is the envelope for every inbound event. Payload and Aux are
// opaque bytes (end-to-end encrypted scene data); the server never inspects
// them.
type ClientMessage struct {
	Type    string         `json:"type"`
	RoomID  string         `json:"roomId,omitempty"`
	Payload []byte         `json:"payload,omitempty"`
	Aux     []byte         `json:"aux,omitempty"`
	Follow  *FollowRequest `json:"follow,omitempty"`
}

// ServerMessage is the envelope for every outbound event. Clients and
// Followers use omitzero rather than omitempty: a nil list stays off the
// wire, but an empty membership or follower list is delivered as an explicit
// [] so the recipient sees the list it was promised.
type ServerMessage struct {
	Type      string   `json:"type"`
	ClientID  string   `json:"clientId,omitempty"`
	Clients   []string `json:"clients,omitzero"`
	Followers []string `json:"followers,omitzero"`
	Payload   []byte   `json:"payload,omitempty"`
	Aux       []byte   `json:"aux,omitempty"`
}

// Connection is one client's live session. Send is reliable delivery and
// reports failure; SendVolatile may drop under backpressure.
type Connection interface {
	ID() string
	Send(data []byte) error
	SendVolatile(data []byte)
	Close() error
}

// Registry tracks which connections are members of which rooms. Join and
// Leave return the membership snapshot taken atomically with the mutation,
// so a caller's notifications always reflect the state its own change
// produced.
type Registry interface {
	Register(conn Connection)
	Unregister(conn Connection)
	Join(conn Connection, roomID string) (members []Connection, added bool)
	Leave(conn Connection, roomID string) (members []Connection, removed bool)
	Members(roomID string) []Connection
	Rooms(conn Connection) []string
	Lookup(connID string) (Connection, bool)
	Stats() (rooms, clients int)
}

// MessageHandler receives connection lifecycle transitions and raw inbound
// frames from the transport layer.
type MessageHandler interface {
	HandleConnect(conn Connection)
	Handle(conn Connection, data []byte)
	HandleDisconnect(conn Connection)
}
