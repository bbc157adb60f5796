package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"annotext/collab/internal/protocol"
)

// Forwarder receives a copy of every locally-originated room broadcast,
// so a relay can mirror it to other server instances. Implementations
// must not block; they are invoked outside the hub mutex.
type Forwarder interface {
	Forward(roomID string, data []byte)
}

// Options tune queueing and lifecycle behavior.
type Options struct {
	QueueSize    int
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	LockTTL      time.Duration // 0 means leases never expire
}

// Hub is the single source of truth for connections, room membership and
// annotation locks. All three tables sit behind one mutex with short
// critical sections, which gives every room a total order over the
// events it observes: outbound frames are enqueued while the mutex is
// still held (enqueue never blocks), so two mutations cannot interleave
// their fan-outs.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn // roomID -> connID -> conn
	locks map[string]*Lock            // annotationID -> lock

	opts Options
	fwd  Forwarder
}

func New(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
		locks: make(map[string]*Lock),
		opts:  opts,
	}
}

// SetForwarder installs the relay hook. Call before serving traffic.
func (h *Hub) SetForwarder(f Forwarder) { h.fwd = f }

// Counts reports live connection, room and lock totals for /healthz.
func (h *Hub) Counts() (conns, rooms, locks int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), len(h.rooms), len(h.locks)
}

// pending collects side effects gathered inside a critical section that
// must run after the mutex is released: relay forwards (network I/O),
// removal of recipients whose queue overflowed, and queue shutdowns.
type pending struct {
	forwards []forwardItem
	failed   []string
	closed   []*Conn
}

type forwardItem struct {
	roomID string
	data   []byte
}

func (h *Hub) flush(p *pending) {
	for _, c := range p.closed {
		c.shutdown()
	}
	if h.fwd != nil {
		for _, f := range p.forwards {
			h.fwd.Forward(f.roomID, f.data)
		}
	}
	for _, id := range p.failed {
		log.Printf("hub: send queue overflow, dropping connection %s", id)
		metricQueueOverflows.Inc()
		h.Remove(id)
	}
}

// Run drives idle eviction and lock lease expiry until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			h.Sweep(now)
			h.ExpireLeases(now)
		}
	}
}

// Sweep evicts connections idle past the configured window through the
// normal Remove path, so cleanup and notifications are identical to an
// explicit close.
func (h *Hub) Sweep(now time.Time) {
	if h.opts.IdleTimeout <= 0 {
		return
	}
	h.mu.Lock()
	var idle []string
	for id, c := range h.conns {
		if now.Sub(c.lastActivityAt) > h.opts.IdleTimeout {
			idle = append(idle, id)
		}
	}
	h.mu.Unlock()
	for _, id := range idle {
		log.Printf("hub: evicting idle connection %s", id)
		metricEvictions.Inc()
		h.Remove(id)
	}
}

// broadcastLocked fans m out to every member of roomID except exclude.
// Must be called with h.mu held. Failures are queued on p for removal
// after the mutex is released; one broken recipient never blocks the
// rest. forward controls whether the relay sees the event (false for
// frames that themselves arrived via the relay).
func (h *Hub) broadcastLocked(p *pending, roomID, exclude string, m protocol.Message, forward bool) int {
	data := protocol.Encode(m)
	delivered := 0
	for id, c := range h.rooms[roomID] {
		if id == exclude {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			p.failed = append(p.failed, id)
		}
	}
	metricBroadcasts.Inc()
	metricDeliveries.Add(float64(delivered))
	if forward {
		p.forwards = append(p.forwards, forwardItem{roomID: roomID, data: data})
	}
	return delivered
}

// Broadcast fans a locally-originated message out to a room, excluding
// the originating connection (pass "" to deliver to everyone).
func (h *Hub) Broadcast(roomID string, m protocol.Message, exclude string) int {
	p := &pending{}
	h.mu.Lock()
	n := h.broadcastLocked(p, roomID, exclude, m, true)
	h.mu.Unlock()
	h.flush(p)
	return n
}

// DeliverRemote hands a relay-received frame to local room members
// without re-forwarding it.
func (h *Hub) DeliverRemote(roomID string, data []byte) int {
	p := &pending{}
	h.mu.Lock()
	delivered := 0
	for id, c := range h.rooms[roomID] {
		if c.enqueue(data) {
			delivered++
		} else {
			p.failed = append(p.failed, id)
		}
	}
	h.mu.Unlock()
	h.flush(p)
	return delivered
}

// Send delivers a message to a single connection (direct replies).
func (h *Hub) Send(connID string, m protocol.Message) bool {
	p := &pending{}
	h.mu.Lock()
	c, ok := h.conns[connID]
	var sent bool
	if ok {
		sent = c.enqueue(protocol.Encode(m))
		if !sent {
			p.failed = append(p.failed, connID)
		}
	}
	h.mu.Unlock()
	h.flush(p)
	return sent
}
