// Package metrics holds the server's Prometheus collectors, registered
// against the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamline",
		Name:      "connections",
		Help:      "Number of currently open TCP connections.",
	})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamline",
		Name:      "commands_total",
		Help:      "Commands dispatched, by verb.",
	}, []string{"verb"})

	RateLimitDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamline",
		Name:      "rate_limit_drops_total",
		Help:      "Sends rejected by a room's rate limiter.",
	})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "streamline",
		Name:      "dispatch_latency_seconds",
		Help:      "Time spent inside Dispatcher.Handle per inbound line.",
		Buckets:   prometheus.DefBuckets,
	})

	RoomsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamline",
		Name:      "rooms_total",
		Help:      "Number of rooms currently in the registry.",
	})
)
