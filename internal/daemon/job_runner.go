package daemon

import (
	"context"
	"log/slog"
	"time"
)

// RunStatus describes the result of a job run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// RunResult captures the outcome of a job run.
type RunResult struct {
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Counts     map[string]int
	Error      string
}

// JobRunner executes scheduled daemon jobs and records their outcome.
type JobRunner struct {
	health *HealthManager
	logger *slog.Logger
}

// NewJobRunner creates a JobRunner. health may be nil.
func NewJobRunner(health *HealthManager, logger *slog.Logger) *JobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRunner{health: health, logger: logger}
}

// Run executes fn as the named job.
func (jr *JobRunner) Run(ctx context.Context, name string, fn func(context.Context) RunResult) RunResult {
	started := time.Now()
	result := fn(ctx)
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	attrs := []any{
		"job", name,
		"status", result.Status,
		"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond),
	}
	for k, v := range result.Counts {
		attrs = append(attrs, k, v)
	}
	if result.Status == RunSuccess {
		jr.logger.Info("job completed", attrs...)
	} else {
		jr.logger.Warn("job completed with errors", append(attrs, "error", result.Error)...)
	}

	if jr.health != nil {
		jr.health.UpdateJob(name, JobHealth{
			Status:     result.Status,
			Error:      result.Error,
			StartedAt:  result.StartedAt,
			FinishedAt: result.FinishedAt,
			Counts:     result.Counts,
		})
	}
	return result
}
