// Package metrics provides the time-series Collector that backs queue and
// alert telemetry, plus the Prometheus series exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mailroom"
)

// Job metrics track worker outcomes.
var (
	// JobsTotal is the total number of finished job attempts by outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Total number of finished job attempts",
	}, []string{"queue", "kind", "outcome"})

	// JobDuration is a histogram of handler duration in seconds.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Duration of job handler execution in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~102s
	}, []string{"queue", "kind"})

	// JobsReclaimedTotal counts orphaned jobs handled by the janitor.
	JobsReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_reclaimed_total",
		Help:      "Total number of orphaned jobs reclaimed by the janitor",
	}, []string{"queue", "status"})
)

// Pool metrics track queue and worker state.
var (
	// QueueBacklog is the number of claimable jobs per queue.
	QueueBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_backlog",
		Help:      "Number of pending and retry-pending jobs",
	}, []string{"queue"})

	// Workers is the number of workers per queue and state.
	Workers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Number of workers by queue and state",
	}, []string{"queue", "state"})

	// StoreUnavailableTotal counts store connectivity failures seen by workers.
	StoreUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_unavailable_total",
		Help:      "Total number of store connectivity failures",
	})
)

// Alert metrics track rule evaluation and incidents.
var (
	// AlertEvaluationsTotal counts rule evaluations by rule type and result.
	AlertEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_evaluations_total",
		Help:      "Total number of alert rule evaluations",
	}, []string{"type", "result"})

	// IncidentsTotal counts opened incidents by severity.
	IncidentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incidents_total",
		Help:      "Total number of incidents opened",
	}, []string{"severity"})

	// IncidentsOpen is the number of unresolved incidents.
	IncidentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "incidents_open",
		Help:      "Number of open or acknowledged incidents",
	})

	// NotificationsTotal counts notification deliveries by target and outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Total number of incident notifications",
	}, []string{"target", "outcome"})
)

// Collector metrics track the time-series store itself.
var (
	// PointsRecordedTotal counts metric points written.
	PointsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metric_points_recorded_total",
		Help:      "Total number of metric points recorded",
	})

	// PointWriteErrorsTotal counts metric points dropped on write failure.
	PointWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metric_write_errors_total",
		Help:      "Total number of metric points that failed to persist",
	})
)

// Daemon metrics track daemon state.
var (
	// ComponentStatus is 1 when a sampled provider last succeeded, 0 otherwise.
	ComponentStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "component_status",
		Help:      "Component status (1=healthy, 0=unhealthy)",
	}, []string{"component"})

	// DaemonStartTime is the Unix timestamp when the daemon started.
	DaemonStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_start_time_seconds",
		Help:      "Unix timestamp when the daemon started",
	})

	// DaemonInfo carries build information as labels.
	DaemonInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_info",
		Help:      "Daemon build information",
	}, []string{"version", "go_version"})
)

// EventBusDroppedEvents counts events dropped because a subscriber buffer was full.
var EventBusDroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "event_bus_dropped_events_total",
	Help:      "Total number of events dropped by the event bus",
}, []string{"event_type"})
