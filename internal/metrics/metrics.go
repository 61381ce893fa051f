// Package metrics defines the gateway's Prometheus instrumentation,
// served on the loopback admin listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Requests handled by the gateway, labeled by matched service and
	// response status code. The bare domain counts under service "root".
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_requests_total",
			Help: "Total number of HTTP requests handled by the gateway, labeled by service and status code.",
		},
		[]string{"service", "status"},
	)

	// Requests rejected because the source address was blocked, or
	// blocked during the request, labeled by reason.
	BlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_blocked_total",
			Help: "Total number of requests rejected by the blocklist or bot-defense scorer, labeled by reason.",
		},
		[]string{"reason"}, // blocklist, threshold, escalation
	)

	// Addresses currently tracked in the suspicion table.
	SuspicionTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deck_suspicion_tracked",
			Help: "Number of source addresses currently carrying a suspicion score.",
		},
	)

	// Health check outcomes per tick, labeled by service and result.
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deck_healthchecks_total",
			Help: "Total number of health checks dispatched, labeled by service and result.",
		},
		[]string{"service", "result"}, // healthy, unhealthy
	)
)

// MustRegister adds all gateway metrics to the default registry.
// Call exactly once at startup.
func MustRegister() {
	prometheus.MustRegister(
		RequestsTotal,
		BlockedTotal,
		SuspicionTracked,
		HealthChecksTotal,
	)
}
