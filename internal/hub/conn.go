package hub

import (
	"context"
	"sync"
	"time"
)

// Socket is the write side of the duplex channel a Conn owns. The real
// implementation wraps a websocket; tests substitute an in-memory fake.
type Socket interface {
	Write(ctx context.Context, p []byte) error
	Close() error
}

// Conn is one live client connection. Identity and room binding are
// managed under the hub mutex; the send queue has its own small lock so
// enqueue stays safe against a concurrent shutdown.
type Conn struct {
	ID string

	identity       string
	roomID         string
	connectedAt    time.Time
	lastActivityAt time.Time

	sock Socket

	qmu    sync.Mutex
	send   chan []byte
	closed bool
}

// Info is a read-only snapshot of a connection's registry entry.
type Info struct {
	ID             string
	Identity       string
	RoomID         string
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// enqueue places a frame on the outbound queue without blocking. A full
// queue or a closed connection reports failure; the caller treats that
// as an implicit disconnect.
func (c *Conn) enqueue(p []byte) bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- p:
		return true
	default:
		return false
	}
}

// shutdown closes the queue exactly once. The write loop drains what is
// already queued, then closes the socket.
func (c *Conn) shutdown() {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) writeLoop(c *Conn) {
	for p := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
		err := c.sock.Write(ctx, p)
		cancel()
		if err != nil {
			break
		}
	}
	_ = c.sock.Close()
	// Write failure mid-queue ends up here with the conn still registered.
	h.Remove(c.ID)
}
