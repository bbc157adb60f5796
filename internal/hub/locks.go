package hub

import (
	"errors"
	"fmt"
	"time"

	"annotext/collab/internal/protocol"
)

var ErrForbidden = errors.New("lock held by a different identity")

// Lock is an exclusive lease over one annotation, scoped to the room the
// annotation belongs to.
type Lock struct {
	AnnotationID string
	Holder       string
	RoomID       string
	AcquiredAt   time.Time
}

// LockConflictError reports a denied acquisition together with enough
// context for the client to show who holds the lease and retry later.
type LockConflictError struct {
	Holder     string
	AcquiredAt time.Time
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("annotation locked by %s since %s", e.Holder, e.AcquiredAt.Format(time.RFC3339))
}

// Acquire grants the lock to the connection's identity, or reports the
// current holder. Re-acquisition by the holder refreshes the lease and
// never fails. The check and the grant happen in one critical section;
// two identities can never both observe "unlocked".
func (h *Hub) Acquire(connID, annotationID string) (Lock, error) {
	p := &pending{}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return Lock{}, ErrNotFound
	}
	if l, held := h.locks[annotationID]; held && l.Holder != c.identity {
		conflict := &LockConflictError{Holder: l.Holder, AcquiredAt: l.AcquiredAt}
		h.mu.Unlock()
		metricLockConflicts.Inc()
		return Lock{}, conflict
	}
	fresh := h.locks[annotationID] == nil
	l := &Lock{
		AnnotationID: annotationID,
		Holder:       c.identity,
		RoomID:       c.roomID,
		AcquiredAt:   time.Now().UTC(),
	}
	h.locks[annotationID] = l
	if fresh {
		metricLocksHeld.Inc()
	}
	h.broadcastLocked(p, l.RoomID, connID, lockEvent(protocol.TypeAnnotationLocked, l), true)
	out := *l
	h.mu.Unlock()
	h.flush(p)
	return out, nil
}

// Release drops the lock if the connection's identity holds it.
// Releasing someone else's lock is rejected rather than ignored; that
// surfaces client bugs instead of masking them.
func (h *Hub) Release(connID, annotationID string) error {
	p := &pending{}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return ErrNotFound
	}
	l, held := h.locks[annotationID]
	if !held || l.Holder != c.identity {
		h.mu.Unlock()
		return ErrForbidden
	}
	delete(h.locks, annotationID)
	metricLocksHeld.Dec()
	h.broadcastLocked(p, l.RoomID, connID, lockEvent(protocol.TypeAnnotationUnlocked, l), true)
	h.mu.Unlock()
	h.flush(p)
	return nil
}

// releaseLocksForLocked releases every lock held by c's identity during
// teardown, broadcasting one unlock per lease. Called with h.mu held.
func (h *Hub) releaseLocksForLocked(p *pending, c *Conn) {
	if c.identity == "" {
		return
	}
	for id, l := range h.locks {
		if l.Holder != c.identity {
			continue
		}
		delete(h.locks, id)
		metricLocksHeld.Dec()
		h.broadcastLocked(p, l.RoomID, c.ID, lockEvent(protocol.TypeAnnotationUnlocked, l), true)
	}
}

// LocksIn reports annotation -> holder for a room, so late joiners can
// learn the current lock state.
func (h *Hub) LocksIn(roomID string) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]string)
	for id, l := range h.locks {
		if l.RoomID == roomID {
			out[id] = l.Holder
		}
	}
	return out
}

// ExpireLeases releases locks older than the configured TTL through the
// same notification path as an explicit unlock. The holder is notified
// too, since it did not ask for the release.
func (h *Hub) ExpireLeases(now time.Time) {
	if h.opts.LockTTL <= 0 {
		return
	}
	p := &pending{}
	h.mu.Lock()
	for id, l := range h.locks {
		if now.Sub(l.AcquiredAt) <= h.opts.LockTTL {
			continue
		}
		delete(h.locks, id)
		metricLocksHeld.Dec()
		metricLeaseExpiries.Inc()
		m := lockEvent(protocol.TypeAnnotationUnlocked, l)
		m.Payload["reason"] = "lease_expired"
		h.broadcastLocked(p, l.RoomID, "", m, true)
	}
	h.mu.Unlock()
	h.flush(p)
}

func lockEvent(typ string, l *Lock) protocol.Message {
	return protocol.Message{
		Type:         typ,
		RoomID:       l.RoomID,
		AnnotationID: l.AnnotationID,
		Identity:     l.Holder,
		Ts:           time.Now().UTC(),
		Payload: map[string]any{
			"acquired_at": l.AcquiredAt,
		},
	}
}
