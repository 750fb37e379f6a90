// internal/app/system/metrics/metrics.go

// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RetryAttempts counts retried attempts (not first attempts) per policy.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askaway",
		Name:      "store_retry_attempts_total",
		Help:      "Store operations retried after a transient or concurrency error.",
	}, []string{"policy"})

	// RetryExhausted counts operations that gave up after the policy budget.
	RetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askaway",
		Name:      "store_retry_exhausted_total",
		Help:      "Store operations that failed after exhausting the retry budget.",
	}, []string{"policy"})

	// Dispatches counts data-event deliveries to the fan-out endpoint by outcome.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askaway",
		Name:      "event_dispatch_total",
		Help:      "Data events delivered to the fan-out endpoint, by event type and outcome.",
	}, []string{"type", "outcome"})

	// Compensations counts revert attempts after a failed dispatch.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askaway",
		Name:      "compensation_total",
		Help:      "Reverts of committed mutations after a background job failure, by outcome.",
	}, []string{"operation", "outcome"})

	// FanoutPublished counts events published to client groups by outcome.
	FanoutPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askaway",
		Name:      "fanout_published_total",
		Help:      "Data events published to conversation groups, by outcome.",
	}, []string{"outcome"})

	// QueueDepth reports events waiting for background delivery.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "askaway",
		Name:      "event_queue_depth",
		Help:      "Data events waiting for background delivery.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
