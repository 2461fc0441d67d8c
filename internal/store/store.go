// Package store provides the durable queue store: job records, per-queue
// counters, worker registrations, metric points and alert records.
//
// Two implementations exist. RedisStore is the production backend and relies
// on Lua scripts for every compare-and-set transition. MemoryStore keeps the
// same semantics behind a mutex for tests and single-process development.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

var (
	// ErrEmpty is returned by ClaimJob when no job is ready.
	ErrEmpty = errors.New("no job ready")

	// ErrUnavailable indicates the backing store cannot be reached.
	ErrUnavailable = errors.New("store unavailable")

	// ErrAlertNotFound is returned when an alert record does not exist.
	ErrAlertNotFound = errors.New("alert record not found")
)

// UnavailableError wraps a connectivity failure. It matches ErrUnavailable
// with errors.Is.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s; %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Finish describes how the holding worker ends an attempt.
type Finish struct {
	// Status is the target status: completed, failed, retry_pending or cancelled.
	Status    jobs.Status
	LastError string
	Progress  jobs.Progress
	// NextRunAt is used when Status is retry_pending.
	NextRunAt time.Time
	At        time.Time
}

// CancelResult reports what a cancellation request did.
type CancelResult string

const (
	// CancelApplied means the job was claimable and is now cancelled.
	CancelApplied CancelResult = "cancelled"
	// CancelRequested means the job is processing and the flag was set.
	CancelRequested CancelResult = "requested"
	// CancelNoop means the job had already finished.
	CancelNoop CancelResult = "noop"
)

// Reclaimed describes one orphaned job handled by a janitor pass.
type Reclaimed struct {
	ID     string
	Status jobs.Status
}

// WorkerState is the state of a worker slot.
type WorkerState string

const (
	WorkerIdle    WorkerState = "idle"
	WorkerActive  WorkerState = "active"
	WorkerFailed  WorkerState = "failed"
	WorkerStopped WorkerState = "stopped"
)

// IsLive reports whether the worker can take jobs.
func (s WorkerState) IsLive() bool {
	return s == WorkerIdle || s == WorkerActive
}

// WorkerRecord is the registration of one worker slot.
type WorkerRecord struct {
	ID            string      `json:"id"`
	Queue         string      `json:"queue"`
	State         WorkerState `json:"state"`
	CurrentJob    string      `json:"current_job,omitempty"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	StartedAt     time.Time   `json:"started_at"`
	Processed     int64       `json:"processed"`
	Failed        int64       `json:"failed"`
	Host          string      `json:"host,omitempty"`
}

// MetricPoint is one recorded metric sample.
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Queue counter fields maintained in queue:status:<name>.
const (
	CounterEnqueued  = "enqueued"
	CounterClaimed   = "claimed"
	CounterCompleted = "completed"
	CounterFailed    = "failed"
	CounterRetried   = "retried"
	CounterCancelled = "cancelled"
	CounterReclaimed = "reclaimed"
)

// JobStore holds job records and drives their atomic transitions.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *jobs.Job) error
	// ClaimJob atomically moves the oldest ready job to processing for
	// workerID. Returns ErrEmpty when nothing is ready.
	ClaimJob(ctx context.Context, queue, workerID string, now time.Time) (*jobs.Job, error)
	GetJob(ctx context.Context, queue, id string) (*jobs.Job, error)
	// ListJobs returns the most recently created jobs, newest first.
	ListJobs(ctx context.Context, queue string, limit int) ([]*jobs.Job, error)
	// Heartbeat refreshes liveness and reports whether cancellation was requested.
	Heartbeat(ctx context.Context, queue, id, workerID string, now time.Time) (bool, error)
	// ReportProgress merges counters and reports whether cancellation was requested.
	ReportProgress(ctx context.Context, queue, id, workerID string, p jobs.Progress) (bool, error)
	// FinishJob ends the current attempt. Returns jobs.ErrNotOwner when
	// workerID no longer holds the job. A retry requested with no attempts
	// left is recorded as failed; the returned status is the one stored.
	FinishJob(ctx context.Context, queue, id, workerID string, f Finish) (jobs.Status, error)
	CancelJob(ctx context.Context, queue, id string, now time.Time) (CancelResult, error)
	// ReclaimOrphans resets processing jobs whose heartbeat is older than staleBefore.
	ReclaimOrphans(ctx context.Context, queue string, staleBefore, now time.Time) ([]Reclaimed, error)
	Backlog(ctx context.Context, queue string) (int64, error)
	QueueCounters(ctx context.Context, queue string) (map[string]int64, error)
	// PruneJobIndex drops index entries whose job record has expired.
	PruneJobIndex(ctx context.Context, queue string) (int64, error)
	// MirrorImportProgress writes the import:job:<id> progress hash.
	MirrorImportProgress(ctx context.Context, id string, status jobs.Status, p jobs.Progress, ttl time.Duration) error
	ImportProgress(ctx context.Context, id string) (map[string]string, error)
}

// WorkerRegistry holds worker registrations per queue.
type WorkerRegistry interface {
	PutWorker(ctx context.Context, w WorkerRecord) error
	RemoveWorker(ctx context.Context, queue, id string) error
	ListWorkers(ctx context.Context, queue string) ([]WorkerRecord, error)
}

// MetricStore holds metric points per metric name.
type MetricStore interface {
	AppendPoint(ctx context.Context, p MetricPoint) error
	// RangePoints returns points with from <= ts <= to, ascending.
	RangePoints(ctx context.Context, name string, from, to time.Time) ([]MetricPoint, error)
	MetricNames(ctx context.Context) ([]string, error)
	TrimPoints(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore holds incident hashes and rule bookkeeping hashes.
type AlertStore interface {
	PutAlert(ctx context.Context, id string, triggeredAt time.Time, fields map[string]string) error
	GetAlert(ctx context.Context, id string) (map[string]string, error)
	// ListAlerts returns every alert record ordered by triggered-at ascending.
	ListAlerts(ctx context.Context) ([]map[string]string, error)
	// DeleteAlerts removes the given alert records.
	DeleteAlerts(ctx context.Context, ids ...string) error
	PutRuleState(ctx context.Context, ruleID string, fields map[string]string) error
	RuleStates(ctx context.Context) (map[string]map[string]string, error)
}

// Store is the full durable store.
type Store interface {
	JobStore
	WorkerRegistry
	MetricStore
	AlertStore
	Ping(ctx context.Context) error
	Close() error
}
