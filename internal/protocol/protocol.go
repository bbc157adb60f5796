package protocol

import (
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	TypeAuth             = "auth"
	TypeJoinProject      = "join_project"
	TypeLockAnnotation   = "lock_annotation"
	TypeUnlockAnnotation = "unlock_annotation"
	TypeAnnotationUpdate = "annotation_update"
	TypeResolveConflict  = "resolve_conflict"
	TypeBatchProgress    = "batch_progress"
	TypePing             = "ping"
)

// Outbound message types.
const (
	TypeConnected          = "connected"
	TypeAuthSuccess        = "auth_success"
	TypeJoinedProject      = "joined_project"
	TypeAnnotationLocked   = "annotation_locked"
	TypeAnnotationUnlocked = "annotation_unlocked"
	TypeAnnotationUpdated  = "annotation_updated"
	TypeConflictDetected   = "conflict_detected"
	TypeConflictResolved   = "conflict_resolved"
	TypePresenceJoined     = "presence_joined"
	TypePresenceLeft       = "presence_left"
	TypePong               = "pong"
	TypeError              = "error"
)

// Error codes carried in error replies.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeAlreadyBound       = "already_bound"
	CodeLockConflict       = "lock_conflict"
	CodeForbidden          = "forbidden"
	CodeAlreadyResolved    = "already_resolved"
	CodeUnknownMessageType = "unknown_message_type"
	CodeMalformedMessage   = "malformed_message"
)

// Message is the wire envelope for both directions. Identity is always
// attached server-side on inbound messages; a client-supplied value is
// discarded before routing.
type Message struct {
	Type         string         `json:"type"`
	RoomID       string         `json:"room_id,omitempty"`
	AnnotationID string         `json:"annotation_id,omitempty"`
	Identity     string         `json:"identity,omitempty"`
	Ts           time.Time      `json:"timestamp,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Encode marshals m for the wire. Marshalling a Message cannot fail in
// practice (payload values come from decoded JSON), so errors are dropped.
func Encode(m Message) []byte {
	b, _ := json.Marshal(m)
	return b
}

// Decode parses a raw inbound frame.
func Decode(raw []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(raw, &m)
	return m, err
}

// ErrorReply builds an error message addressed to a single connection.
func ErrorReply(code, detail string) Message {
	return Message{
		Type: TypeError,
		Ts:   time.Now().UTC(),
		Payload: map[string]any{
			"code":    code,
			"message": detail,
		},
	}
}
