package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics defines all Prometheus metrics collected by the scheduling core.
// Exposition is left to the embedding process; only collection happens here.
type Metrics struct {
	Registry *prometheus.Registry

	// Business metrics
	SubscriptionsCreated prometheus.Counter
	SubscriptionsDeleted prometheus.Counter

	// Scheduler adapter operations, by op and result
	SchedulerOps *prometheus.CounterVec

	// Queue runner/worker (USE: Utilization, Saturation, Errors)
	QueueRuns        prometheus.Counter
	QueueRunDuration prometheus.Histogram
	JobsFired        prometheus.Counter
	JobsProcessed    *prometheus.CounterVec // by result

	// Errors metrics
	BusinessErrors  *prometheus.CounterVec
	TechnicalErrors *prometheus.CounterVec
}

// New creates and registers all metrics under the given namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	errorLabels := []string{"error_type", "severity"}

	m := &Metrics{
		Registry: registry,
		SubscriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_created_total",
			Help:      "Total subscriptions created",
		}),
		SubscriptionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_deleted_total",
			Help:      "Total subscriptions deleted",
		}),
		SchedulerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ops_total",
			Help:      "Scheduler adapter operations",
		}, []string{"op", "result"}),
		QueueRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_runs_total",
			Help:      "Due-scheduler polling runs",
		}),
		QueueRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_run_duration_seconds",
			Help:      "Duration of due-scheduler polling runs",
			Buckets:   prometheus.DefBuckets,
		}),
		JobsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_fired_total",
			Help:      "Job instances pushed by the runner",
		}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Job instances consumed by the worker",
		}, []string{"result"}),
		BusinessErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "business_errors_total",
			Help:      "Expected domain errors",
		}, errorLabels),
		TechnicalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "technical_errors_total",
			Help:      "Infrastructure errors",
		}, errorLabels),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		m.SubscriptionsCreated,
		m.SubscriptionsDeleted,
		m.SchedulerOps,
		m.QueueRuns,
		m.QueueRunDuration,
		m.JobsFired,
		m.JobsProcessed,
		m.BusinessErrors,
		m.TechnicalErrors,
	)

	return m
}
