// Package obsmetrics registers the Prometheus collectors emitted by the
// Operations Core.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingTransitionsTotal counts status-machine transitions (§4.1).
	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Booking status transitions",
		},
		[]string{"from", "to"},
	)

	// WebhookEventsTotal counts Stripe webhook outcomes (§4.3).
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Stripe webhook processing outcomes",
		},
		[]string{"outcome"}, // processed, ignored, error, duplicate, unavailable
	)

	// OutboxDeliverTotal counts outbox delivery attempts by kind/result (§4.4).
	OutboxDeliverTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliver_total",
			Help: "Outbox delivery attempts",
		},
		[]string{"kind", "result"}, // sent, failed, dead, skipped
	)

	// OutboxPendingTotal gauges pending rows per kind.
	OutboxPendingTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_pending_total",
			Help: "Pending outbox events",
		},
		[]string{"kind"},
	)

	// OutboxLagSeconds gauges the age of the oldest pending event per kind.
	OutboxLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_lag_seconds",
			Help: "Age in seconds of the oldest pending outbox event",
		},
		[]string{"kind"},
	)

	// CircuitBreakerState gauges 0=closed,1=open,2=half-open per dependency.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed,1=open,2=half-open)",
		},
		[]string{"dependency"},
	)

	// HTTPRequestsTotal counts completed HTTP requests by route/method/status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests handled",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDurationSeconds observes request latency by route/method.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
