package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// reporter is the jobs.Reporter handed to a running handler. It writes
// progress through the ownership check and latches cancellation requests
// seen by either progress reports or heartbeats.
type reporter struct {
	w   *worker
	job *jobs.Job

	cancelled atomic.Bool
	lost      atomic.Bool
}

func newReporter(w *worker, job *jobs.Job) *reporter {
	return &reporter{w: w, job: job}
}

func (r *reporter) Report(ctx context.Context, p jobs.Progress) error {
	cancelRequested, err := r.w.pool.store.ReportProgress(ctx, r.w.def.Name, r.job.ID, r.w.id, p)
	switch {
	case errors.Is(err, jobs.ErrNotOwner):
		r.lost.Store(true)
		return err
	case err != nil:
		r.w.logger.Debug("failed to report progress", "job_id", r.job.ID, "error", err)
		return nil
	}
	if cancelRequested {
		r.cancelled.Store(true)
	}
	return nil
}

func (r *reporter) Checkpoint(ctx context.Context) error {
	if r.cancelled.Load() {
		return jobs.ErrCancelled
	}
	if r.lost.Load() {
		return jobs.ErrNotOwner
	}
	return ctx.Err()
}
