package conflict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_conflicts_detected_total",
		Help: "Proposals rejected for a stale base version",
	})

	metricConflictsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_conflicts_resolved_total",
		Help: "Conflict records resolved",
	})
)
