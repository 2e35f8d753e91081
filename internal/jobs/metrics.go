package jobs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the job system.
type Metrics struct {
	JobsEnqueued *prometheus.CounterVec
	JobsRunning  *prometheus.GaugeVec
	JobOutcomes  *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all job metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logtide_jobs_enqueued_total",
				Help: "Total jobs added to a queue",
			},
			[]string{"task", "backend"},
		),

		JobsRunning: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "logtide_jobs_running",
				Help: "Jobs currently being processed",
			},
			[]string{"task", "backend"},
		),

		JobOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "logtide_job_outcomes_total",
				Help: "Terminal job outcomes",
			},
			[]string{"task", "backend", "outcome"}, // outcome: completed, failed, retried
		),

		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "logtide_job_duration_seconds",
				Help:    "Duration of individual job attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task", "backend"},
		),
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// metrics returns the process-wide job metrics, registering on first use.
// Registration must happen exactly once per process or promauto panics.
func metrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}
