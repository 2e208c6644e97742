package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks indexing pipeline activity.
type Metrics struct {
	documentsIndexed prometheus.Counter
	documentsErrored *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	indexingDuration prometheus.Histogram
}

// NewMetrics registers indexer metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		documentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seemantic_documents_indexed_total",
			Help: "Documents successfully indexed.",
		}),
		documentsErrored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seemantic_documents_errored_total",
			Help: "Documents that failed indexing, by outcome.",
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "seemantic_index_queue_depth",
			Help: "Documents currently waiting in the work queue.",
		}),
		indexingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "seemantic_indexing_duration_seconds",
			Help:    "Wall time of one document indexing unit.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}
