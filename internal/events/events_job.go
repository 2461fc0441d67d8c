package events

import "time"

// JobEvent describes a job lifecycle change.
type JobEvent struct {
	Queue    string        `json:"queue"`
	JobID    string        `json:"job_id"`
	Kind     string        `json:"kind"`
	WorkerID string        `json:"worker_id,omitempty"`
	Attempt  int           `json:"attempt"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	// NextRunAt is set for JobRetrying events.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// NewJobEvent creates a job lifecycle event of the given type.
func NewJobEvent(eventType EventType, e JobEvent) Event {
	return NewEvent(eventType, &e)
}

// WorkerEvent describes a worker state change.
type WorkerEvent struct {
	Queue    string `json:"queue"`
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason,omitempty"`
}

// NewWorkerFailed creates a WorkerFailed event.
func NewWorkerFailed(queue, workerID, reason string) Event {
	return NewEvent(WorkerFailed, &WorkerEvent{Queue: queue, WorkerID: workerID, Reason: reason})
}

// PoolEvent describes a pool-wide change.
type PoolEvent struct {
	Queues  []string `json:"queues,omitempty"`
	Workers int      `json:"workers"`
	Error   string   `json:"error,omitempty"`
}

// NewPoolEvent creates a pool lifecycle event.
func NewPoolEvent(eventType EventType, queues []string, workers int, err error) Event {
	return NewEvent(eventType, &PoolEvent{Queues: queues, Workers: workers, Error: errorString(err)})
}

// StoreEvent describes a store connectivity change seen by a queue's workers.
type StoreEvent struct {
	Queue string `json:"queue"`
	Error string `json:"error,omitempty"`
}

// NewStoreEvent creates a store connectivity event.
func NewStoreEvent(eventType EventType, queue string, err error) Event {
	return NewEvent(eventType, &StoreEvent{Queue: queue, Error: errorString(err)})
}
