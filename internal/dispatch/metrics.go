package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_inbound_messages_total",
		Help: "Inbound protocol messages by type",
	}, []string{"type"})

	metricProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_protocol_errors_total",
		Help: "Error replies by code",
	}, []string{"code"})
)
