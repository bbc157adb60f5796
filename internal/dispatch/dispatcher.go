// Package dispatch routes inbound protocol messages. Each connection
// moves through CONNECTING -> OPEN -> AUTHENTICATED -> CLOSED: admission
// into the hub ends CONNECTING, a successful auth binds an identity and
// ends OPEN, and removal from the hub is terminal. Everything except
// auth is rejected until the identity is bound.
package dispatch

import (
	"errors"
	"sync"
	"time"

	"annotext/collab/internal/conflict"
	"annotext/collab/internal/hub"
	"annotext/collab/internal/protocol"
)

type Dispatcher struct {
	hub *hub.Hub
	res *conflict.Resolver

	// seq holds version assignment and fan-out together so that
	// annotation_updated and conflict_resolved frames reach room queues
	// in version order.
	seq sync.Mutex
}

func New(h *hub.Hub, r *conflict.Resolver) *Dispatcher {
	return &Dispatcher{hub: h, res: r}
}

// OnMessage handles one inbound frame from connID. Invoked from the
// read loop that owns the connection; all shared state sits behind the
// hub and resolver, so dispatch itself keeps nothing mutable.
func (d *Dispatcher) OnMessage(connID string, raw []byte) {
	d.hub.Touch(connID)

	m, err := protocol.Decode(raw)
	if err != nil {
		d.replyErr(connID, protocol.CodeMalformedMessage, "invalid JSON: "+err.Error())
		return
	}
	metricInbound.WithLabelValues(m.Type).Inc()
	// Identity is attached server-side only. Whatever the client put in
	// the envelope is discarded before routing.
	m.Identity = ""

	info, ok := d.hub.Get(connID)
	if !ok {
		return
	}

	switch m.Type {
	case protocol.TypeAuth:
		d.handleAuth(connID, m)
	case protocol.TypePing:
		if !d.requireAuth(connID, info) {
			return
		}
		d.hub.Send(connID, protocol.Message{Type: protocol.TypePong, Ts: time.Now().UTC()})
	case protocol.TypeJoinProject:
		if !d.requireAuth(connID, info) {
			return
		}
		if m.RoomID == "" {
			d.replyErr(connID, protocol.CodeMalformedMessage, "join_project requires room_id")
			return
		}
		d.join(connID, m.RoomID)
	case protocol.TypeLockAnnotation:
		if !d.requireAuth(connID, info) || !d.requireRoom(connID, info) {
			return
		}
		d.handleLock(connID, m)
	case protocol.TypeUnlockAnnotation:
		if !d.requireAuth(connID, info) || !d.requireRoom(connID, info) {
			return
		}
		d.handleUnlock(connID, m)
	case protocol.TypeAnnotationUpdate:
		if !d.requireAuth(connID, info) || !d.requireRoom(connID, info) {
			return
		}
		d.handleUpdate(connID, info, m)
	case protocol.TypeResolveConflict:
		if !d.requireAuth(connID, info) {
			return
		}
		d.handleResolve(connID, info, m)
	case protocol.TypeBatchProgress:
		if !d.requireAuth(connID, info) || !d.requireRoom(connID, info) {
			return
		}
		d.handleBatchProgress(connID, info, m)
	default:
		d.replyErr(connID, protocol.CodeUnknownMessageType, "unknown message type "+m.Type)
	}
}

func (d *Dispatcher) handleAuth(connID string, m protocol.Message) {
	identity, _ := m.Payload["identity"].(string)
	if identity == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "auth requires identity")
		return
	}
	if err := d.hub.Bind(connID, identity); err != nil {
		if errors.Is(err, hub.ErrAlreadyBound) {
			d.replyErr(connID, protocol.CodeAlreadyBound, "connection already authenticated as a different identity")
		}
		return
	}
	d.hub.Send(connID, protocol.Message{
		Type:     protocol.TypeAuthSuccess,
		Identity: identity,
		Ts:       time.Now().UTC(),
	})
	if m.RoomID != "" {
		d.join(connID, m.RoomID)
	}
}

// join switches the connection's room and replies with the room's
// current presence and lock state, so a late joiner starts consistent.
func (d *Dispatcher) join(connID, roomID string) {
	if err := d.hub.Join(connID, roomID); err != nil {
		return
	}
	d.hub.Send(connID, protocol.Message{
		Type:   protocol.TypeJoinedProject,
		RoomID: roomID,
		Ts:     time.Now().UTC(),
		Payload: map[string]any{
			"members": d.hub.MembersOf(roomID),
			"locks":   d.hub.LocksIn(roomID),
		},
	})
}

func (d *Dispatcher) handleLock(connID string, m protocol.Message) {
	if m.AnnotationID == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "lock_annotation requires annotation_id")
		return
	}
	l, err := d.hub.Acquire(connID, m.AnnotationID)
	if err != nil {
		var conflictErr *hub.LockConflictError
		if errors.As(err, &conflictErr) {
			d.hub.Send(connID, protocol.Message{
				Type:         protocol.TypeError,
				AnnotationID: m.AnnotationID,
				Ts:           time.Now().UTC(),
				Payload: map[string]any{
					"code":        protocol.CodeLockConflict,
					"message":     conflictErr.Error(),
					"holder":      conflictErr.Holder,
					"acquired_at": conflictErr.AcquiredAt,
				},
			})
		}
		return
	}
	// Room members were notified by the hub; acknowledge the actor
	// directly (a reply, not an echo of the broadcast).
	d.hub.Send(connID, protocol.Message{
		Type:         protocol.TypeAnnotationLocked,
		RoomID:       l.RoomID,
		AnnotationID: l.AnnotationID,
		Identity:     l.Holder,
		Ts:           time.Now().UTC(),
		Payload:      map[string]any{"acquired_at": l.AcquiredAt},
	})
}

func (d *Dispatcher) handleUnlock(connID string, m protocol.Message) {
	if m.AnnotationID == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "unlock_annotation requires annotation_id")
		return
	}
	if err := d.hub.Release(connID, m.AnnotationID); err != nil {
		if errors.Is(err, hub.ErrForbidden) {
			d.replyErr(connID, protocol.CodeForbidden, "lock not held by you")
		}
		return
	}
	d.hub.Send(connID, protocol.Message{
		Type:         protocol.TypeAnnotationUnlocked,
		AnnotationID: m.AnnotationID,
		Ts:           time.Now().UTC(),
	})
}

func (d *Dispatcher) handleUpdate(connID string, info hub.Info, m protocol.Message) {
	if m.AnnotationID == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "annotation_update requires annotation_id")
		return
	}
	change, _ := m.Payload["change"].(map[string]any)
	baseRaw, hasBase := m.Payload["base_version"]
	baseF, numeric := baseRaw.(float64)
	if change == nil || !hasBase || !numeric {
		d.replyErr(connID, protocol.CodeMalformedMessage, "annotation_update requires change and base_version")
		return
	}

	d.seq.Lock()
	defer d.seq.Unlock()
	out := d.res.Propose(m.AnnotationID, info.RoomID, info.Identity, change, int64(baseF))
	if !out.Applied {
		// Conflicts surface to the proposer only, with enough context
		// to pick a resolution strategy.
		d.hub.Send(connID, protocol.Message{
			Type:         protocol.TypeConflictDetected,
			RoomID:       info.RoomID,
			AnnotationID: m.AnnotationID,
			Ts:           time.Now().UTC(),
			Payload: map[string]any{
				"conflict_id":     out.Conflict.ID,
				"base_version":    out.Conflict.BaseVersion,
				"current_version": out.Conflict.CurrentVersion,
				"proposed_change": out.Conflict.ProposedChange,
			},
		})
		return
	}

	applied := protocol.Message{
		Type:         protocol.TypeAnnotationUpdated,
		RoomID:       info.RoomID,
		AnnotationID: m.AnnotationID,
		Identity:     info.Identity,
		Ts:           time.Now().UTC(),
		Payload: map[string]any{
			"change":  change,
			"version": out.Version,
		},
	}
	d.hub.Broadcast(info.RoomID, applied, connID)
	d.hub.Send(connID, applied)
}

func (d *Dispatcher) handleResolve(connID string, info hub.Info, m protocol.Message) {
	conflictID, _ := m.Payload["conflict_id"].(string)
	strategy, _ := m.Payload["strategy"].(string)
	if conflictID == "" || strategy == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "resolve_conflict requires conflict_id and strategy")
		return
	}
	manual, _ := m.Payload["changes"].(map[string]any)

	// Only the identity that proposed the losing change picks the
	// resolution strategy.
	if pending, ok := d.res.Get(conflictID); ok && pending.Proposer != info.Identity {
		d.replyErr(connID, protocol.CodeForbidden, "conflict belongs to another proposer")
		return
	}

	d.seq.Lock()
	defer d.seq.Unlock()
	res, rec, err := d.res.Resolve(conflictID, strategy, manual)
	switch {
	case errors.Is(err, conflict.ErrAlreadyResolved):
		d.replyErr(connID, protocol.CodeAlreadyResolved, "conflict already resolved")
		return
	case err != nil:
		d.replyErr(connID, protocol.CodeMalformedMessage, err.Error())
		return
	}

	resolved := protocol.Message{
		Type:         protocol.TypeConflictResolved,
		RoomID:       rec.RoomID,
		AnnotationID: rec.AnnotationID,
		Identity:     info.Identity,
		Ts:           time.Now().UTC(),
		Payload: map[string]any{
			"conflict_id": rec.ID,
			"strategy":    res.Strategy,
			"version":     res.Version,
			"payload":     res.Payload,
		},
	}
	d.hub.Broadcast(rec.RoomID, resolved, connID)
	d.hub.Send(connID, resolved)
}

func (d *Dispatcher) handleBatchProgress(connID string, info hub.Info, m protocol.Message) {
	// Pass-through fan-out, no locking semantics.
	d.hub.Broadcast(info.RoomID, protocol.Message{
		Type:     protocol.TypeBatchProgress,
		RoomID:   info.RoomID,
		Identity: info.Identity,
		Ts:       time.Now().UTC(),
		Payload:  m.Payload,
	}, connID)
}

func (d *Dispatcher) requireAuth(connID string, info hub.Info) bool {
	if info.Identity == "" {
		d.replyErr(connID, protocol.CodeUnauthenticated, "authenticate first")
		return false
	}
	return true
}

func (d *Dispatcher) requireRoom(connID string, info hub.Info) bool {
	if info.RoomID == "" {
		d.replyErr(connID, protocol.CodeMalformedMessage, "join a project first")
		return false
	}
	return true
}

func (d *Dispatcher) replyErr(connID, code, detail string) {
	metricProtocolErrors.WithLabelValues(code).Inc()
	d.hub.Send(connID, protocol.ErrorReply(code, detail))
}
