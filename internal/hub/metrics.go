package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connections",
		Help: "Live client connections",
	})

	metricRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_rooms",
		Help: "Rooms with at least one member",
	})

	metricLocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_locks_held",
		Help: "Annotation locks currently held",
	})

	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_broadcasts_total",
		Help: "Room broadcasts fanned out",
	})

	metricDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_deliveries_total",
		Help: "Frames delivered to recipients",
	})

	metricQueueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_queue_overflows_total",
		Help: "Connections dropped for a full send queue",
	})

	metricLockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_lock_conflicts_total",
		Help: "Denied lock acquisitions",
	})

	metricLeaseExpiries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_lease_expiries_total",
		Help: "Locks released by TTL expiry",
	})

	metricEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_idle_evictions_total",
		Help: "Connections evicted for idleness",
	})
)
