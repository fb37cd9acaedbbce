// Package metrics registers the Prometheus instrumentation for the
// ingestion pipeline: pages crawled, chunks produced, embedding calls, and
// vectors uploaded, plus per-stage duration histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline holds every metric owned by a pipeline run. A fresh instance is
// created against its own prometheus.Registry per CLI invocation so tests
// stay hermetic and repeated runs don't collide on the global registry.
type Pipeline struct {
	PagesCrawledTotal  *prometheus.CounterVec
	ChunksTotal        prometheus.Counter
	EmbedRequestsTotal *prometheus.CounterVec
	EmbedRetriesTotal  prometheus.Counter
	VectorsTotal       *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	CrawlInFlight      prometheus.Gauge
}

// New registers the pipeline's metrics against reg.
func New(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		PagesCrawledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "crawler",
			Name:      "pages_total",
			Help:      "Total number of pages fetched, partitioned by outcome (ok, failed).",
		}, []string{"outcome"}),

		ChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "chunker",
			Name:      "chunks_total",
			Help:      "Total number of text chunks produced.",
		}),

		EmbedRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "embedder",
			Name:      "requests_total",
			Help:      "Total number of embedding provider batch requests, partitioned by outcome.",
		}, []string{"outcome"}),

		EmbedRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "embedder",
			Name:      "retries_total",
			Help:      "Total number of embedding batch retry attempts.",
		}),

		VectorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "uploader",
			Name:      "vectors_total",
			Help:      "Total number of vector records upserted, partitioned by outcome.",
		}, []string{"outcome"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of a pipeline stage invocation.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
		}, []string{"stage"}),

		CrawlInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "crawler",
			Name:      "in_flight",
			Help:      "Number of page fetches of the current crawl not yet completed (queued or in flight).",
		}),
	}
}
