package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for verification, finalization and the worker loop
var (
	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railverify_verifications_total",
			Help: "Total number of verifier calls by rail, result and reason",
		},
		[]string{"rail", "result", "reason"},
	)

	VerificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "railverify_verification_duration_seconds",
			Help:    "Duration of verifier calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rail"},
	)

	FinalizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railverify_finalizations_total",
			Help: "Total number of purchase state transitions by status and call path",
		},
		[]string{"status", "path"},
	)

	FinalizationConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railverify_finalization_conflicts_total",
			Help: "Total number of guarded transitions that found the purchase already final",
		},
		[]string{"path"},
	)

	WorkerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "railverify_worker_cycles_total",
			Help: "Total number of reconciliation worker cycles",
		},
	)

	WorkerBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "railverify_worker_batch_size",
			Help:    "Number of pending purchases scanned per worker cycle",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	WorkerRowErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "railverify_worker_row_errors_total",
			Help: "Total number of purchases whose reconciliation ended in an error",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "railverify_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "railverify_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(VerificationsTotal)
		prometheus.MustRegister(VerificationDuration)
		prometheus.MustRegister(FinalizationsTotal)
		prometheus.MustRegister(FinalizationConflictsTotal)
		prometheus.MustRegister(WorkerCyclesTotal)
		prometheus.MustRegister(WorkerBatchSize)
		prometheus.MustRegister(WorkerRowErrorsTotal)
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}
