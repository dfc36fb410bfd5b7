package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id string
}

func (m *mockConn) ID() string          { return m.id }
func (m *mockConn) Send([]byte) error   { return nil }
func (m *mockConn) SendVolatile([]byte) {}
func (m *mockConn) Close() error        { return nil }

func ids(t *testing.T, h *Hub, roomID string) []string {
	t.Helper()
	var out []string
	for _, m := range h.Members(roomID) {
		out = append(out, m.ID())
	}
	return out
}

func TestHub_JoinIdempotent(t *testing.T) {
	h := New()
	conn := &mockConn{id: "c1"}

	members, added := h.Join(conn, "r1")
	require.True(t, added)
	require.Len(t, members, 1)

	members, added = h.Join(conn, "r1")
	assert.False(t, added)
	assert.Len(t, members, 1)
}

func TestHub_LeaveNonMember(t *testing.T) {
	h := New()
	conn := &mockConn{id: "c1"}

	remaining, removed := h.Leave(conn, "never-created")
	assert.False(t, removed)
	assert.Empty(t, remaining)

	other := &mockConn{id: "c2"}
	h.Join(other, "r1")
	remaining, removed = h.Leave(conn, "r1")
	assert.False(t, removed)
	assert.Len(t, remaining, 1)
}

func TestHub_MembersSnapshot(t *testing.T) {
	h := New()
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}

	h.Join(a, "r1")
	snap := h.Members("r1")
	require.Len(t, snap, 1)

	// A later join must not show up in the earlier snapshot.
	h.Join(b, "r1")
	assert.Len(t, snap, 1)
	assert.Len(t, h.Members("r1"), 2)

	assert.Empty(t, h.Members("no-such-room"))
}

func TestHub_RoomsIndex(t *testing.T) {
	h := New()
	conn := &mockConn{id: "c1"}

	assert.Empty(t, h.Rooms(conn))

	h.Join(conn, "r1")
	h.Join(conn, "r2")
	assert.ElementsMatch(t, []string{"r1", "r2"}, h.Rooms(conn))

	h.Leave(conn, "r1")
	assert.ElementsMatch(t, []string{"r2"}, h.Rooms(conn))
}

func TestHub_Lookup(t *testing.T) {
	h := New()
	conn := &mockConn{id: "c1"}

	_, ok := h.Lookup("c1")
	require.False(t, ok)

	h.Register(conn)
	got, ok := h.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	h.Unregister(conn)
	_, ok = h.Lookup("c1")
	assert.False(t, ok)
}

func TestHub_UnregisterClearsMemberships(t *testing.T) {
	h := New()
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}

	h.Register(a)
	h.Register(b)
	h.Join(a, "r1")
	h.Join(b, "r1")
	h.Join(a, "r2")

	h.Unregister(a)

	assert.Equal(t, []string{"b"}, ids(t, h, "r1"))
	assert.Empty(t, h.Members("r2"))
	assert.Empty(t, h.Rooms(a))
}

func TestHub_Stats(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*Hub)
		wantRooms   int
		wantClients int
	}{
		{
			name:        "empty hub",
			setup:       func(h *Hub) {},
			wantRooms:   0,
			wantClients: 0,
		},
		{
			name: "one room one client",
			setup: func(h *Hub) {
				c := &mockConn{id: "c1"}
				h.Register(c)
				h.Join(c, "r1")
			},
			wantRooms:   1,
			wantClients: 1,
		},
		{
			name: "multiple rooms",
			setup: func(h *Hub) {
				c1 := &mockConn{id: "c1"}
				c2 := &mockConn{id: "c2"}
				c3 := &mockConn{id: "c3"}
				h.Register(c1)
				h.Register(c2)
				h.Register(c3)
				h.Join(c1, "r1")
				h.Join(c2, "r1")
				h.Join(c3, "r2")
			},
			wantRooms:   2,
			wantClients: 3,
		},
		{
			name: "empty room pruned",
			setup: func(h *Hub) {
				c := &mockConn{id: "c1"}
				h.Register(c)
				h.Join(c, "r1")
				h.Leave(c, "r1")
			},
			wantRooms:   0,
			wantClients: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			tt.setup(h)

			rooms, clients := h.Stats()

			assert.Equal(t, tt.wantRooms, rooms)
			assert.Equal(t, tt.wantClients, clients)
		})
	}
}
