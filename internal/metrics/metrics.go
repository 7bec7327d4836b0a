package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors shared by the import pipeline.
type Metrics struct {
	SejoliRequests *prometheus.CounterVec
	SejoliLatency  *prometheus.HistogramVec
	RowsWritten    *prometheus.CounterVec
	OrdersFetched  prometheus.Counter
	Errors         *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			SejoliRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sejoli_requests_total",
				Help:      "Total Sejoli API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			SejoliLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sejoli_request_duration_seconds",
				Help:      "Latency distribution for Sejoli API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_rows_total",
				Help:      "Ledger rows touched by the importer, by entity and outcome.",
			}, []string{"entity", "outcome"}),
			OrdersFetched: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_fetched_total",
				Help:      "Total orders retrieved from the Sejoli sales endpoint.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.SejoliRequests,
			metricsInstance.SejoliLatency,
			metricsInstance.RowsWritten,
			metricsInstance.OrdersFetched,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
