package wsapi

import (
	"context"
	"log"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"annotext/collab/internal/dispatch"
	"annotext/collab/internal/hub"
	"annotext/collab/internal/protocol"
)

type Server struct {
	Hub  *hub.Hub
	Disp *dispatch.Dispatcher

	// origins are extra host patterns allowed to connect cross-origin.
	// Empty means same-origin only.
	origins []string
}

func NewServer(h *hub.Hub, d *dispatch.Dispatcher, origins []string) *Server {
	return &Server{Hub: h, Disp: d, origins: origins}
}

// socket adapts a websocket connection to the hub's write side.
type socket struct{ c *ws.Conn }

func (s socket) Write(ctx context.Context, p []byte) error {
	return s.c.Write(ctx, ws.MessageText, p)
}

func (s socket) Close() error {
	return s.c.Close(ws.StatusNormalClosure, "done")
}

// HandleWS accepts a client connection, admits it unauthenticated, and
// runs its read loop until the socket closes. Every inbound frame goes
// through the dispatcher synchronously; this goroutine is the only one
// reading the connection.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		log.Printf("ws accept: %v", err)
		return
	}

	conn := s.Hub.Admit(socket{c: c})
	s.Hub.Send(conn.ID, protocol.Message{
		Type: protocol.TypeConnected,
		Ts:   time.Now().UTC(),
		Payload: map[string]any{
			"connection_id": conn.ID,
		},
	})

	ctx := r.Context()
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		s.Disp.OnMessage(conn.ID, data)
	}
	// Remove cascades: locks released, membership dropped, presence_left
	// broadcast, then the send queue and socket are closed.
	s.Hub.Remove(conn.ID)
}
