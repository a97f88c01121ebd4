// Package metrics provides Prometheus instrumentation for the realtime
// gateway. It exposes gauges for connection and presence counts, counters for
// message and notification throughput, and a histogram for chat store append
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of active WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alumnet_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	// SubjectsOnline tracks the current number of distinct online subjects.
	SubjectsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "alumnet_subjects_online",
		Help: "Current number of distinct subjects with at least one connection",
	})

	// MessagesTotal counts chat messages processed, labeled by outcome:
	// "sent" (persisted and broadcast), "rejected" (validation or
	// authorization failure), or "failed" (store unavailable).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alumnet_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// NotificationsTotal counts notification dispatches, labeled by result:
	// "persisted", "pushed", or "failed".
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alumnet_notifications_total",
		Help: "Total number of notification dispatches",
	}, []string{"result"})

	// AuthFailuresTotal counts rejected connection handshakes.
	AuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alumnet_auth_failures_total",
		Help: "Total number of rejected connection handshakes",
	})

	// AppendLatency records chat store append latency in seconds.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alumnet_chat_append_latency_seconds",
		Help:    "Chat store append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SubjectsOnline,
		MessagesTotal,
		NotificationsTotal,
		AuthFailuresTotal,
		AppendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
