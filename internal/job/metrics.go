// Prometheus metrics for extraction runs.

package job

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsProcessedTotal counts finished rows by outcome (ok, error).
	RowsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodex",
			Subsystem: "extraction",
			Name:      "rows_processed_total",
			Help:      "Total rows processed, labeled by outcome",
		},
		[]string{"outcome"},
	)

	// ProviderRetriesTotal counts transient provider failures that led
	// to a retry.
	ProviderRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ecodex",
			Subsystem: "extraction",
			Name:      "provider_retries_total",
			Help:      "Total model call retries after transient provider errors",
		},
	)

	// JobsFinishedTotal counts finished jobs by terminal status.
	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ecodex",
			Subsystem: "extraction",
			Name:      "jobs_finished_total",
			Help:      "Total finished jobs, labeled by terminal status",
		},
		[]string{"status"},
	)

	// JobDuration tracks how long extraction runs take.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ecodex",
			Subsystem: "extraction",
			Name:      "job_duration_seconds",
			Help:      "Duration of extraction runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// ActiveJobs tracks currently running extraction jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ecodex",
			Subsystem: "extraction",
			Name:      "active_jobs",
			Help:      "Number of extraction jobs currently processing",
		},
	)
)
