// Package observability provides prometheus metrics and otel tracer
// handles for the indexing and query paths.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the counters and histograms the service exports.
type Metrics struct {
	FilesIndexed  *prometheus.CounterVec
	ChunksWritten *prometheus.CounterVec
	IndexFailures *prometheus.CounterVec

	ModelCalls    *prometheus.CounterVec
	ModelDuration *prometheus.HistogramVec

	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers the service metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocoa",
			Name:      "files_indexed_total",
			Help:      "Files completed per indexing round.",
		}, []string{"round"}),
		ChunksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocoa",
			Name:      "chunks_written_total",
			Help:      "Chunks persisted per version.",
		}, []string{"version"}),
		IndexFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocoa",
			Name:      "index_failures_total",
			Help:      "File processing failures per round.",
		}, []string{"round"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cocoa",
			Name:      "model_calls_total",
			Help:      "Upstream model service calls.",
		}, []string{"service", "outcome"}),
		ModelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cocoa",
			Name:      "model_call_duration_seconds",
			Help:      "Latency of upstream model service calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"service"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cocoa",
			Name:      "query_duration_seconds",
			Help:      "End-to-end search/QA latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"pipeline"}),
	}

	reg.MustRegister(
		m.FilesIndexed, m.ChunksWritten, m.IndexFailures,
		m.ModelCalls, m.ModelDuration, m.QueryDuration,
	)
	return m
}

// RecordModelCall records one upstream call outcome with its latency.
func (m *Metrics) RecordModelCall(service string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ModelCalls.WithLabelValues(service, outcome).Inc()
	m.ModelDuration.WithLabelValues(service).Observe(duration.Seconds())
}

var (
	globalMu      sync.RWMutex
	globalMetrics *Metrics
)

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the installed metrics, or nil before init.
func GetGlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}
