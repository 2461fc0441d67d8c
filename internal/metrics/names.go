package metrics

// Per-queue metric suffixes. Full names are "<queue>.<suffix>".
const (
	JobsCompleted = "jobs_completed"
	JobsFailed    = "jobs_failed"
	JobsRetried   = "jobs_retried"
	JobsCancelled = "jobs_cancelled"
	JobsReclaimed = "jobs_reclaimed"
	JobDurationMs = "job_duration_ms"
	Backlog       = "backlog"
)

// QueueMetric returns the metric name for a queue-scoped series.
func QueueMetric(queue, suffix string) string {
	return queue + "." + suffix
}

// ProbeLatencyMetric returns the metric name for a synthetic probe's latency.
func ProbeLatencyMetric(probe string) string {
	return "probe." + probe + ".latency_ms"
}
