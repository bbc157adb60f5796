package api

import (
	"encoding/json"
	"net/http"
	"time"

	"annotext/collab/internal/hub"
	"annotext/collab/internal/protocol"
)

type Handlers struct {
	hub *hub.Hub
}

func NewHandlers(h *hub.Hub) *Handlers {
	return &Handlers{hub: h}
}

// HandleHealthz reports liveness plus connection/room/lock counts for
// external operators.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	conns, rooms, locks := h.hub.Counts()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":          true,
		"connections": conns,
		"rooms":       rooms,
		"locks":       locks,
	})
}

type broadcastRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// HandleBroadcast lets the CRUD backend push a notification into a room
// without holding a socket itself. Broadcasting into an empty room is a
// no-op, reported as delivered:0.
func (h *Handlers) HandleBroadcast(w http.ResponseWriter, r *http.Request, roomID string) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "missing type", http.StatusBadRequest)
		return
	}
	delivered := h.hub.Broadcast(roomID, protocol.Message{
		Type:    req.Type,
		RoomID:  roomID,
		Ts:      time.Now().UTC(),
		Payload: req.Payload,
	}, "")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":        true,
		"delivered": delivered,
	})
}

// HandleMembers answers presence queries for a room.
func (h *Handlers) HandleMembers(w http.ResponseWriter, r *http.Request, roomID string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"room_id": roomID,
		"members": h.hub.MembersOf(roomID),
		"locks":   h.hub.LocksIn(roomID),
	})
}
