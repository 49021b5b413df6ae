// Package metrics exposes Prometheus collectors for the filing service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	claimsTotal             *prometheus.CounterVec
	tasksEnqueuedTotal      *prometheus.CounterVec
	tasksProcessedTotal     *prometheus.CounterVec
	authorizationsTotal     *prometheus.CounterVec
	refillCycleSeconds      prometheus.Histogram
	queueDepth              *prometheus.GaugeVec
	caseRepairsTotal        *prometheus.CounterVec
	enrichmentFallbackTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filing_claims_total",
				Help: "Total external claim attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tasksEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filing_tasks_enqueued_total",
				Help: "Total tasks enqueued, labeled by source.",
			},
			[]string{"source"},
		)

		tasksProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filing_tasks_processed_total",
				Help: "Total tasks processed by the worker loop, labeled by status.",
			},
			[]string{"status"},
		)

		authorizationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filing_authorizations_total",
				Help: "Pending-authorization outcomes, labeled by action.",
			},
			[]string{"action"},
		)

		refillCycleSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filing_refill_cycle_seconds",
				Help:    "Histogram of orchestrator refill cycle durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "filing_queue_depth",
				Help: "Non-terminal tasks currently queued, labeled by source.",
			},
			[]string{"source"},
		)

		caseRepairsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filing_case_repairs_total",
				Help: "Case-number repairs performed during discovery, labeled by source.",
			},
			[]string{"source"},
		)

		enrichmentFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filing_enrichment_fallback_total",
				Help: "Payload builds that fell back to local address normalization.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim increments the claim counter for the given outcome.
func ObserveClaim(outcome string) {
	if claimsTotal != nil {
		claimsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveEnqueue increments the enqueue counter for a source.
func ObserveEnqueue(source string) {
	if tasksEnqueuedTotal != nil {
		tasksEnqueuedTotal.WithLabelValues(source).Inc()
	}
}

// ObserveTaskProcessed increments the processed counter for a status.
func ObserveTaskProcessed(status string) {
	if tasksProcessedTotal != nil {
		tasksProcessedTotal.WithLabelValues(status).Inc()
	}
}

// ObserveAuthorization increments the authorization counter for an action.
func ObserveAuthorization(action string) {
	if authorizationsTotal != nil {
		authorizationsTotal.WithLabelValues(action).Inc()
	}
}

// ObserveRefillCycle records the duration of one orchestrator cycle.
func ObserveRefillCycle(duration time.Duration) {
	if refillCycleSeconds != nil {
		refillCycleSeconds.Observe(duration.Seconds())
	}
}

// SetQueueDepth records the current backlog for a source.
func SetQueueDepth(source string, depth int) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(source).Set(float64(depth))
	}
}

// ObserveCaseRepair increments the repair counter for a source.
func ObserveCaseRepair(source string) {
	if caseRepairsTotal != nil {
		caseRepairsTotal.WithLabelValues(source).Inc()
	}
}

// ObserveEnrichmentFallback increments the enrichment fallback counter.
func ObserveEnrichmentFallback() {
	if enrichmentFallbackTotal != nil {
		enrichmentFallbackTotal.Inc()
	}
}
