package hub

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"annotext/collab/internal/protocol"
)

var (
	ErrNotFound     = errors.New("connection not found")
	ErrAlreadyBound = errors.New("connection already bound to a different identity")
)

// Admit registers a new, unauthenticated connection and starts its write
// loop. It never fails.
func (h *Hub) Admit(sock Socket) *Conn {
	now := time.Now().UTC()
	c := &Conn{
		ID:             uuid.New().String(),
		sock:           sock,
		send:           make(chan []byte, h.opts.QueueSize),
		connectedAt:    now,
		lastActivityAt: now,
	}
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
	metricConnections.Inc()
	go h.writeLoop(c)
	return c
}

// Bind attaches an identity after authentication. Re-binding the same
// identity is a no-op; a different identity is rejected.
func (h *Hub) Bind(connID, identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return ErrNotFound
	}
	if c.identity != "" && c.identity != identity {
		return ErrAlreadyBound
	}
	c.identity = identity
	return nil
}

// Get returns a snapshot of a connection's registry entry.
func (h *Hub) Get(connID string) (Info, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:             c.ID,
		Identity:       c.identity,
		RoomID:         c.roomID,
		ConnectedAt:    c.connectedAt,
		LastActivityAt: c.lastActivityAt,
	}, true
}

// Touch records inbound traffic for idle detection.
func (h *Hub) Touch(connID string) {
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		c.lastActivityAt = time.Now().UTC()
	}
	h.mu.Unlock()
}

// Remove tears a connection down and is safe to call more than once.
// Cleanup order is fixed: locks are released (with their unlock
// notifications) before room membership is dropped, and presence_left
// goes out last, so observers never see a departed member still holding
// a lock.
func (h *Hub) Remove(connID string) {
	p := &pending{}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	h.releaseLocksForLocked(p, c)
	h.leaveLocked(p, c, true)
	p.closed = append(p.closed, c)
	h.mu.Unlock()
	metricConnections.Dec()
	h.flush(p)
}

func presenceLeft(roomID, identity string) protocol.Message {
	return protocol.Message{
		Type:     protocol.TypePresenceLeft,
		RoomID:   roomID,
		Identity: identity,
		Ts:       time.Now().UTC(),
	}
}
