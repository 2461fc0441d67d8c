// Package jobs defines the job record, its lifecycle states, typed payloads
// and the error taxonomy shared by producers, workers and the store.
package jobs

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusRetryPending Status = "retry_pending"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusProcessing, StatusCancelled},
	StatusRetryPending: {StatusProcessing, StatusCancelled},
	StatusProcessing:   {StatusCompleted, StatusFailed, StatusRetryPending, StatusCancelled},
	StatusCompleted:    {},
	StatusFailed:       {},
	StatusCancelled:    {},
}

// CanTransitionTo checks if a transition from the current status to the target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsClaimable reports whether a worker may claim a job in this status.
func (s Status) IsClaimable() bool {
	return s == StatusPending || s == StatusRetryPending
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Progress holds the counters reported by import-style handlers.
type Progress struct {
	Processed int64 `json:"processed"`
	Valid     int64 `json:"valid"`
	Invalid   int64 `json:"invalid"`
	Duplicate int64 `json:"duplicate"`
	Errors    int64 `json:"errors"`
}

// Merge returns the field-wise maximum of p and other. Counters never move
// backwards while a job is processing.
func (p Progress) Merge(other Progress) Progress {
	return Progress{
		Processed: max(p.Processed, other.Processed),
		Valid:     max(p.Valid, other.Valid),
		Invalid:   max(p.Invalid, other.Invalid),
		Duplicate: max(p.Duplicate, other.Duplicate),
		Errors:    max(p.Errors, other.Errors),
	}
}

// Job is one unit of queued work.
type Job struct {
	ID              string          `json:"id"`
	Queue           string          `json:"queue"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload"`
	Status          Status          `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	WorkerID        string          `json:"worker_id,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	Progress        Progress        `json:"progress"`
	CreatedAt       time.Time       `json:"created_at"`
	NextRunAt       time.Time       `json:"next_run_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// New creates a pending job ready to run immediately.
func New(id, queue string, kind Kind, payload json.RawMessage, maxAttempts int, now time.Time) *Job {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Job{
		ID:          id,
		Queue:       queue,
		Kind:        kind,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		NextRunAt:   now,
	}
}

// AttemptsRemaining reports whether another attempt is allowed after the current one.
func (j *Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

// Key returns the "<queue>/<id>" identity of the job.
func (j *Job) Key() string {
	return j.Queue + "/" + j.ID
}

// Outcome is the result of one job attempt as decided by the worker.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)
