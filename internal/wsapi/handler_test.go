package wsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ws "nhooyr.io/websocket"

	"annotext/collab/internal/conflict"
	"annotext/collab/internal/dispatch"
	"annotext/collab/internal/hub"
	"annotext/collab/internal/protocol"
)

func dialTestServer(t *testing.T) (*ws.Conn, *hub.Hub) {
	t.Helper()
	h := hub.New(hub.Options{QueueSize: 32, WriteTimeout: time.Second})
	s := NewServer(h, dispatch.New(h, conflict.New()), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	c, _, err := ws.Dial(ctx, srv.URL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ws.StatusNormalClosure, "test done") })
	return c, h
}

func readMsg(t *testing.T, c *ws.Conn) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func writeMsg(t *testing.T, c *ws.Conn, m protocol.Message) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, ws.MessageText, protocol.Encode(m)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConnectAuthAndPing(t *testing.T) {
	c, _ := dialTestServer(t)

	connected := readMsg(t, c)
	if connected.Type != protocol.TypeConnected {
		t.Fatalf("first message %q, want connected", connected.Type)
	}
	if id, _ := connected.Payload["connection_id"].(string); id == "" {
		t.Fatalf("connected without connection_id: %v", connected.Payload)
	}

	writeMsg(t, c, protocol.Message{
		Type:    protocol.TypeAuth,
		RoomID:  "doc1",
		Payload: map[string]any{"identity": "alice"},
	})
	if m := readMsg(t, c); m.Type != protocol.TypeAuthSuccess {
		t.Fatalf("expected auth_success, got %q", m.Type)
	}
	if m := readMsg(t, c); m.Type != protocol.TypeJoinedProject || m.RoomID != "doc1" {
		t.Fatalf("expected joined_project for doc1, got %+v", m)
	}

	writeMsg(t, c, protocol.Message{Type: protocol.TypePing})
	if pong := readMsg(t, c); pong.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %q", pong.Type)
	}
}

func TestSocketCloseCleansUp(t *testing.T) {
	c, h := dialTestServer(t)

	connected := readMsg(t, c)
	connID, _ := connected.Payload["connection_id"].(string)

	writeMsg(t, c, protocol.Message{
		Type:    protocol.TypeAuth,
		RoomID:  "doc1",
		Payload: map[string]any{"identity": "alice"},
	})
	readMsg(t, c) // auth_success
	readMsg(t, c) // joined_project

	_ = c.Close(ws.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.Get(connID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("connection %s still registered after socket close", connID)
}
