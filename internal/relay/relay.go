// Package relay mirrors room broadcasts across server instances through
// Redis pub/sub. Each instance publishes its locally-originated events
// and re-delivers what the others publish; an origin tag keeps an
// instance from replaying its own traffic.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"annotext/collab/internal/hub"
)

type Envelope struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

type Relay struct {
	rdb      *redis.Client
	hub      *hub.Hub
	prefix   string
	serverID string
}

// New connects to Redis and verifies it answers. The caller installs
// the relay as the hub's forwarder and starts Run.
func New(addr, prefix string, h *hub.Hub) (*Relay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Relay{
		rdb:      rdb,
		hub:      h,
		prefix:   prefix,
		serverID: uuid.New().String(),
	}, nil
}

// Forward publishes a local room broadcast. Best-effort: a Redis outage
// degrades to single-instance delivery, it never blocks local fan-out.
func (r *Relay) Forward(roomID string, data []byte) {
	env, err := json.Marshal(Envelope{Origin: r.serverID, RoomID: roomID, Data: data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.prefix+roomID, env).Err(); err != nil {
		log.Printf("relay: publish %s: %v", roomID, err)
		metricPublishErrors.Inc()
		return
	}
	metricPublished.Inc()
}

// Run subscribes to every room channel and re-delivers remote events to
// local members until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("relay: bad envelope on %s: %v", msg.Channel, err)
				continue
			}
			if env.Origin == r.serverID {
				continue
			}
			roomID := env.RoomID
			if roomID == "" {
				roomID = strings.TrimPrefix(msg.Channel, r.prefix)
			}
			r.hub.DeliverRemote(roomID, env.Data)
			metricReceived.Inc()
		}
	}
}

func (r *Relay) Close() error { return r.rdb.Close() }
