// Package metrics provides Prometheus collectors for reanalysis jobs and
// version-store operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricReanalysisJobsTotal    = "reanalysis_jobs_total"
	MetricReanalysisJobsDuration = "reanalysis_jobs_duration_seconds"
	MetricVersionsCreatedTotal   = "script_versions_created_total"
	MetricScoringRetriesTotal    = "scoring_retries_total"
)

// Outcome labels for job completion.
const (
	OutcomeDone    = "done"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics contains Prometheus collectors for the engine. All operations are
// thread-safe.
type Metrics struct {
	jobsTotal       *prometheus.CounterVec
	jobsDuration    prometheus.Histogram
	versionsCreated *prometheus.CounterVec
	scoringRetries  prometheus.Counter
}

// New creates a Metrics instance with all collectors initialized. The
// collectors are not registered; call Register to attach them to a registry.
func New() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReanalysisJobsTotal,
				Help: "Total number of reanalysis jobs by outcome",
			},
			[]string{"outcome"},
		),
		jobsDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricReanalysisJobsDuration,
				Help:    "Histogram of reanalysis job duration in seconds",
				Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 40.0, 70.0},
			},
		),
		versionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricVersionsCreatedTotal,
				Help: "Total number of script versions created by source",
			},
			[]string{"created_by"},
		),
		scoringRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricScoringRetriesTotal,
				Help: "Total number of retried scoring calls",
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.versionsCreated,
		m.scoringRetries,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// JobFinished records one completed job with its outcome and duration.
func (m *Metrics) JobFinished(outcome string, seconds float64) {
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobsDuration.Observe(seconds)
}

// VersionCreated increments the version counter for a creation source.
func (m *Metrics) VersionCreated(createdBy string) {
	m.versionsCreated.WithLabelValues(createdBy).Inc()
}

// ScoringRetried increments the retried-scoring-call counter.
func (m *Metrics) ScoringRetried() {
	m.scoringRetries.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.versionsCreated,
		m.scoringRetries,
	}
}
