package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_relay_published_total",
		Help: "Broadcasts mirrored to Redis",
	})

	metricReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_relay_received_total",
		Help: "Remote broadcasts delivered locally",
	})

	metricPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_relay_publish_errors_total",
		Help: "Failed Redis publishes",
	})
)
