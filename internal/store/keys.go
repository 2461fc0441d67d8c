package store

const (
	keyPrefix        = "queue:"
	metricsKeyPrefix = "queue:metrics:"
	alertKeyPrefix   = "queue:alert:"
	ruleKeyPrefix    = "queue:rule:"
	alertIndexKey    = "queue:alerts"
	importKeyPrefix  = "import:job:"
)

// JobKey returns the hash key of a job record.
func JobKey(queue, id string) string {
	return jobKeyPrefix(queue) + id
}

func jobKeyPrefix(queue string) string {
	return keyPrefix + "job:" + queue + ":"
}

// ReadyKey returns the sorted set of claimable job ids scored by ready-at.
func ReadyKey(queue string) string {
	return keyPrefix + "ready:" + queue
}

// ProcessingKey returns the sorted set of processing job ids scored by heartbeat.
func ProcessingKey(queue string) string {
	return keyPrefix + "processing:" + queue
}

// IndexKey returns the sorted set of all job ids scored by created-at.
func IndexKey(queue string) string {
	return keyPrefix + "index:" + queue
}

// StatusKey returns the counter hash of a queue.
func StatusKey(queue string) string {
	return keyPrefix + "status:" + queue
}

// WorkersKey returns the worker registration hash of a queue.
func WorkersKey(queue string) string {
	return keyPrefix + "workers:" + queue
}

// MetricsKey returns the point set of a metric.
func MetricsKey(name string) string {
	return metricsKeyPrefix + name
}

// AlertKey returns the hash key of an incident.
func AlertKey(id string) string {
	return alertKeyPrefix + id
}

// RuleKey returns the bookkeeping hash of an alert rule.
func RuleKey(id string) string {
	return ruleKeyPrefix + id
}

// ImportKey returns the progress mirror hash of an import job.
func ImportKey(id string) string {
	return importKeyPrefix + id
}
