// Package events provides an in-process pub/sub bus that fans job, worker and
// incident lifecycle changes out to the status stream and notifiers.
package events

import (
	"strings"
	"time"
)

// EventType identifies the type of event being published. Types are dotted;
// the segment before the first dot is the event's topic.
type EventType string

// Topic returns the leading segment of the event type ("job", "incident", ...).
func (t EventType) Topic() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

const (
	// JobEnqueued is published when a producer adds a job.
	JobEnqueued EventType = "job.enqueued"

	// JobStarted is published when a worker claims a job.
	JobStarted EventType = "job.started"

	// JobCompleted is published when a job finishes successfully.
	JobCompleted EventType = "job.completed"

	// JobRetrying is published when a failed attempt is scheduled for retry.
	JobRetrying EventType = "job.retrying"

	// JobFailed is published when a job fails terminally.
	JobFailed EventType = "job.failed"

	// JobCancelled is published when a job ends cancelled.
	JobCancelled EventType = "job.cancelled"

	// JobReclaimed is published when the janitor resets an orphaned job.
	JobReclaimed EventType = "job.reclaimed"

	// WorkerFailed is published when a worker is marked failed.
	WorkerFailed EventType = "worker.failed"

	// PoolStarted is published when the worker pool finishes starting.
	PoolStarted EventType = "pool.started"

	// PoolStopped is published when the worker pool has stopped.
	PoolStopped EventType = "pool.stopped"

	// StoreUnavailable is published when workers lose the store.
	StoreUnavailable EventType = "store.unavailable"

	// StoreRecovered is published when workers reach the store again.
	StoreRecovered EventType = "store.recovered"

	// IncidentOpened is published when a rule breach opens an incident.
	IncidentOpened EventType = "incident.opened"

	// IncidentAcknowledged is published when an incident is acknowledged.
	IncidentAcknowledged EventType = "incident.acknowledged"

	// IncidentResolved is published when an incident is resolved.
	IncidentResolved EventType = "incident.resolved"

	// IncidentNotified is published for each incident notification delivered on the bus.
	IncidentNotified EventType = "incident.notified"

	// ConfigReloaded is published when configuration is successfully reloaded.
	ConfigReloaded EventType = "config.reloaded"

	// ConfigReloadFailed is published when configuration reload fails.
	ConfigReloadFailed EventType = "config.reload_failed"

	// RulesReloaded is published when the alert rules file is reloaded.
	RulesReloaded EventType = "config.rules_reloaded"
)

// Event represents a published event in the system.
type Event struct {
	// Type identifies the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// Payload contains event-specific data.
	Payload any `json:"payload,omitempty"`
}

// NewEvent creates a new event with the given type and payload.
func NewEvent(eventType EventType, payload any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// EventHandler is a function that processes events.
type EventHandler func(event Event)

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
