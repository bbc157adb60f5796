package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"annotext/collab/internal/protocol"
)

// fakeSocket records everything written to it, in write order.
type fakeSocket struct {
	mu     sync.Mutex
	frames []protocol.Message
	fail   bool
	closed bool
}

func (s *fakeSocket) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("write failed")
	}
	var m protocol.Message
	if err := json.Unmarshal(p, &m); err != nil {
		return err
	}
	s.frames = append(s.frames, m)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Message, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSocket) types() []string {
	msgs := s.messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func newTestHub() *Hub {
	return New(Options{QueueSize: 16, WriteTimeout: time.Second})
}

// waitFor polls cond until it holds or the deadline passes. Outbound
// frames are flushed by per-connection writer goroutines, so observers
// have to wait for delivery.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func hasType(s *fakeSocket, typ string) func() bool {
	return func() bool {
		for _, m := range s.messages() {
			if m.Type == typ {
				return true
			}
		}
		return false
	}
}

// joinAs admits a connection, binds an identity and joins a room.
func joinAs(t *testing.T, h *Hub, identity, roomID string) (*Conn, *fakeSocket) {
	t.Helper()
	s := &fakeSocket{}
	c := h.Admit(s)
	if err := h.Bind(c.ID, identity); err != nil {
		t.Fatalf("bind %s: %v", identity, err)
	}
	if err := h.Join(c.ID, roomID); err != nil {
		t.Fatalf("join %s: %v", roomID, err)
	}
	return c, s
}
