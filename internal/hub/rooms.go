package hub

import (
	"sort"
	"time"

	"annotext/collab/internal/protocol"
)

// Join moves a connection into a room. A connection belongs to at most
// one room: membership in a previous room is dropped first, with its
// presence_left notification. Joining the room it is already in is a
// no-op, so presence_joined goes out exactly once per actual join.
func (h *Hub) Join(connID, roomID string) error {
	p := &pending{}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrNotFound
	}
	if c.roomID == roomID {
		h.mu.Unlock()
		return nil
	}
	if c.roomID != "" {
		h.leaveLocked(p, c, true)
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*Conn)
		h.rooms[roomID] = members
		metricRooms.Inc()
	}
	members[connID] = c
	c.roomID = roomID
	h.broadcastLocked(p, roomID, connID, protocol.Message{
		Type:     protocol.TypePresenceJoined,
		RoomID:   roomID,
		Identity: c.identity,
		Ts:       time.Now().UTC(),
	}, true)
	h.mu.Unlock()
	h.flush(p)
	return nil
}

// Leave drops the connection's membership if it has one.
func (h *Hub) Leave(connID string) {
	p := &pending{}
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		h.leaveLocked(p, c, true)
	}
	h.mu.Unlock()
	h.flush(p)
}

// leaveLocked removes c from its room and optionally notifies the
// remaining members. Empty rooms are dropped from the table; a room is
// nothing but its membership.
func (h *Hub) leaveLocked(p *pending, c *Conn, notify bool) {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	c.roomID = ""
	members := h.rooms[roomID]
	if members == nil {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
		metricRooms.Dec()
	}
	if notify {
		h.broadcastLocked(p, roomID, c.ID, presenceLeft(roomID, c.identity), true)
	}
}

// MembersOf lists the identities currently in a room, sorted.
func (h *Hub) MembersOf(roomID string) []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		out = append(out, c.identity)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}
