// Package metrics exposes ingestion counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source outcomes recorded by ObserveSource.
const (
	OutcomeSkipped     = "skipped"
	OutcomeBusy        = "busy"
	OutcomeDone        = "done"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeParseFailed = "parse_failed"
	OutcomeTimedOut    = "timed_out"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	sources       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	items         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "runs_total",
			Help:      "Ingestion runs by result.",
		}, []string{"result"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ingestor",
			Name:      "run_duration_seconds",
			Help:      "Wall time of ingestion runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "sources_total",
			Help:      "Per-source outcomes across runs.",
		}, []string{"outcome"}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ingestor",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent retrieving feed documents.",
			Buckets:   prometheus.DefBuckets,
		}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "items_total",
			Help:      "Parsed items by what happened to them.",
		}, []string{"result"}),
	}
}

// ObserveRun records a finished run. failed is true only for fatal errors.
func (m *Metrics) ObserveRun(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

// ObserveSource counts one source outcome.
func (m *Metrics) ObserveSource(outcome string) {
	if m == nil {
		return
	}
	m.sources.WithLabelValues(outcome).Inc()
}

// ObserveFetch records how long a retrieval took.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveItems counts items written, duplicates ignored, invalid elements and failed writes.
func (m *Metrics) ObserveItems(added, duplicate, invalid, failed int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues("added").Add(float64(added))
	m.items.WithLabelValues("duplicate").Add(float64(duplicate))
	m.items.WithLabelValues("invalid").Add(float64(invalid))
	m.items.WithLabelValues("failed").Add(float64(failed))
}
