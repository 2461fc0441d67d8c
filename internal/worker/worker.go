package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/store"
)

// worker is one loop bound to one queue.
type worker struct {
	id     string
	def    queue.Definition
	pool   *Pool
	logger *slog.Logger
	ready  chan error
	done   chan struct{}

	mu          sync.Mutex
	info        WorkerInfo
	lastPersist time.Time
	panics      int
	storeDown   bool
}

func newWorker(p *Pool, def queue.Definition) *worker {
	id := def.Name + "-" + uuid.NewString()[:8]
	return &worker{
		id:     id,
		def:    def,
		pool:   p,
		logger: p.logger.With("queue", def.Name, "worker_id", id),
		ready:  make(chan error, 1),
		done:   make(chan struct{}),
		info: WorkerInfo{
			ID:    id,
			Queue: def.Name,
			State: store.WorkerIdle,
			Host:  p.host,
		},
	}
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) snapshot() WorkerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.info
}

func (w *worker) update(fn func(*WorkerInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.info)
}

func (w *worker) persist(ctx context.Context) error {
	info := w.snapshot()
	if err := w.pool.store.PutWorker(ctx, info); err != nil {
		return err
	}
	w.mu.Lock()
	w.lastPersist = w.pool.now()
	w.mu.Unlock()
	return nil
}

// run registers the worker, waits for the pool to open the gate, then claims
// and executes jobs until stopCh closes or ctx is cancelled.
func (w *worker) run(ctx context.Context, stopCh <-chan struct{}, gate <-chan struct{}) {
	defer close(w.done)
	defer w.clearStoreDown(ctx)

	now := w.pool.now()
	w.update(func(i *WorkerInfo) {
		i.StartedAt = now
		i.LastHeartbeat = now
	})
	err := w.persist(ctx)
	w.ready <- err
	if err != nil {
		w.logger.Error("failed to register worker", "error", err)
		return
	}

	select {
	case <-gate:
	case <-stopCh:
		w.exit(ctx, store.WorkerStopped)
		return
	}

	w.logger.Debug("worker started")
	cfg := w.pool.cfg
	storeBackoff := cfg.PollInterval

	for {
		select {
		case <-stopCh:
			w.exit(ctx, store.WorkerStopped)
			return
		default:
		}

		delay := cfg.PollInterval
		job, err := w.pool.store.ClaimJob(ctx, w.def.Name, w.id, w.pool.now())
		switch {
		case err == nil:
			w.clearStoreDown(ctx)
			storeBackoff = cfg.PollInterval
			w.process(ctx, job)

			if ctx.Err() != nil {
				w.fail(context.WithoutCancel(ctx), "forced termination")
				return
			}
			if w.tooManyPanics() {
				w.fail(ctx, "too many consecutive handler panics")
				w.pool.respawn(w.def)
				return
			}
			continue

		case errors.Is(err, store.ErrEmpty):
			w.clearStoreDown(ctx)
			storeBackoff = cfg.PollInterval
			w.idleHeartbeat(ctx)

		case errors.Is(err, store.ErrUnavailable):
			w.setStoreDown(ctx, err)
			storeBackoff = min(storeBackoff*2, cfg.StoreBackoffMax)
			delay = storeBackoff

		default:
			if ctx.Err() != nil {
				w.exit(context.WithoutCancel(ctx), store.WorkerStopped)
				return
			}
			w.logger.Error("failed to claim job", "error", err)
		}

		select {
		case <-stopCh:
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

func (w *worker) exit(ctx context.Context, state store.WorkerState) {
	w.update(func(i *WorkerInfo) {
		i.State = state
		i.CurrentJob = ""
	})
	if err := w.persist(context.WithoutCancel(ctx)); err != nil {
		w.logger.Warn("failed to record worker exit", "error", err)
	}
	w.logger.Debug("worker exited", "state", state)
}

// fail marks the worker failed and announces it.
func (w *worker) fail(ctx context.Context, reason string) {
	w.exit(ctx, store.WorkerFailed)
	w.logger.Error("worker marked failed", "reason", reason)
	w.pool.publish(ctx, events.NewWorkerFailed(w.def.Name, w.id, reason))
}

func (w *worker) tooManyPanics() bool {
	limit := w.pool.cfg.MaxConsecutivePanics
	w.mu.Lock()
	defer w.mu.Unlock()
	return limit > 0 && w.panics >= limit
}

func (w *worker) idleHeartbeat(ctx context.Context) {
	w.mu.Lock()
	due := w.pool.now().Sub(w.lastPersist) >= w.pool.cfg.HeartbeatInterval
	w.mu.Unlock()
	if !due {
		return
	}
	now := w.pool.now()
	w.update(func(i *WorkerInfo) { i.LastHeartbeat = now })
	if err := w.persist(ctx); err != nil {
		w.logger.Debug("failed to refresh worker registration", "error", err)
	}
}

func (w *worker) setStoreDown(ctx context.Context, err error) {
	w.mu.Lock()
	wasDown := w.storeDown
	w.storeDown = true
	w.mu.Unlock()
	if !wasDown {
		w.pool.storeLost(ctx, w.def.Name, err)
	}
}

func (w *worker) clearStoreDown(ctx context.Context) {
	w.mu.Lock()
	wasDown := w.storeDown
	w.storeDown = false
	w.mu.Unlock()
	if wasDown {
		w.pool.storeRecovered(ctx, w.def.Name)
	}
}

// process executes one claimed job and records its outcome.
func (w *worker) process(ctx context.Context, job *jobs.Job) {
	p := w.pool
	start := p.now()

	w.update(func(i *WorkerInfo) {
		i.State = store.WorkerActive
		i.CurrentJob = job.ID
		i.LastHeartbeat = start
	})
	if err := w.persist(ctx); err != nil {
		w.logger.Debug("failed to record worker activity", "error", err)
	}

	w.logger.Debug("job claimed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	p.publish(ctx, events.NewJobEvent(events.JobStarted, events.JobEvent{
		Queue:    w.def.Name,
		JobID:    job.ID,
		Kind:     string(job.Kind),
		WorkerID: w.id,
		Attempt:  job.Attempts,
	}))

	jobCtx, cancelJob := context.WithCancel(ctx)
	rep := newReporter(w, job)
	hbDone := make(chan struct{})
	go w.heartbeat(jobCtx, job, rep, cancelJob, hbDone)

	prog, err := w.execute(jobCtx, job, rep)
	cancelJob()
	<-hbDone

	w.finish(ctx, job, rep, prog, err, p.now().Sub(start))
}

// execute decodes the payload and runs the handler. A panic in the handler
// becomes a *jobs.HandlerPanicError.
func (w *worker) execute(ctx context.Context, job *jobs.Job, rep *reporter) (prog jobs.Progress, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jobs.HandlerPanicError{Kind: job.Kind, Value: r}
		}
	}()

	payload, err := jobs.Decode(job.Kind, job.Payload)
	if err != nil {
		return prog, err
	}
	h, err := w.pool.registry.Get(job.Kind)
	if err != nil {
		return prog, err
	}
	return h.Handle(ctx, job, payload, rep)
}

func (w *worker) heartbeat(ctx context.Context, job *jobs.Job, rep *reporter, cancelJob context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.pool.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := w.pool.now()
		cancelRequested, err := w.pool.store.Heartbeat(ctx, w.def.Name, job.ID, w.id, now)
		switch {
		case errors.Is(err, jobs.ErrNotOwner):
			w.logger.Warn("lost ownership of job; abandoning", "job_id", job.ID)
			rep.lost.Store(true)
			cancelJob()
			return
		case err != nil:
			w.logger.Debug("failed to heartbeat job", "job_id", job.ID, "error", err)
			continue
		case cancelRequested:
			rep.cancelled.Store(true)
		}

		w.update(func(i *WorkerInfo) { i.LastHeartbeat = now })
		if err := w.persist(ctx); err != nil {
			w.logger.Debug("failed to refresh worker registration", "error", err)
		}
	}
}

// finish decides the attempt's outcome and writes it through the ownership
// check in the store.
func (w *worker) finish(ctx context.Context, job *jobs.Job, rep *reporter, prog jobs.Progress, err error, duration time.Duration) {
	p := w.pool
	now := p.now()
	forced := ctx.Err() != nil

	f := store.Finish{Progress: prog, At: now}
	switch {
	case err == nil:
		f.Status = jobs.StatusCompleted
	case errors.Is(err, jobs.ErrCancelled) || (rep.cancelled.Load() && errors.Is(err, context.Canceled)):
		f.Status = jobs.StatusCancelled
		f.LastError = jobs.ErrCancelled.Error()
	case rep.lost.Load():
		w.afterJob(ctx, "", err)
		return
	case forced:
		f.Status = jobs.StatusRetryPending
		f.NextRunAt = now
		f.LastError = "released: worker shutdown"
	case jobs.IsPermanent(err) || !job.AttemptsRemaining():
		f.Status = jobs.StatusFailed
		f.LastError = jobs.Summary(err)
	default:
		f.Status = jobs.StatusRetryPending
		f.NextRunAt = now.Add(w.def.Backoff.Delay(job.Attempts))
		f.LastError = jobs.Summary(err)
	}

	writeCtx := context.WithoutCancel(ctx)
	status, ferr := p.store.FinishJob(writeCtx, w.def.Name, job.ID, w.id, f)
	if ferr != nil {
		if errors.Is(ferr, jobs.ErrNotOwner) {
			w.logger.Warn("job reclaimed before finish; outcome dropped", "job_id", job.ID)
		} else {
			w.logger.Error("failed to record job outcome", "job_id", job.ID, "error", ferr)
		}
		w.afterJob(ctx, "", err)
		return
	}

	p.recordOutcome(writeCtx, w, job, status, f, err, duration)
	w.afterJob(ctx, status, err)
}

func (w *worker) afterJob(ctx context.Context, status jobs.Status, err error) {
	w.mu.Lock()
	if jobs.IsPanic(err) {
		w.panics++
	} else {
		w.panics = 0
	}
	w.mu.Unlock()

	w.update(func(i *WorkerInfo) {
		i.State = store.WorkerIdle
		i.CurrentJob = ""
		i.Processed++
		if status == jobs.StatusFailed || status == jobs.StatusRetryPending {
			i.Failed++
		}
	})
	if err := w.persist(context.WithoutCancel(ctx)); err != nil {
		w.logger.Debug("failed to record worker state", "error", err)
	}
}

func outcomeFor(status jobs.Status) jobs.Outcome {
	switch status {
	case jobs.StatusCompleted:
		return jobs.OutcomeCompleted
	case jobs.StatusRetryPending:
		return jobs.OutcomeRetried
	case jobs.StatusCancelled:
		return jobs.OutcomeCancelled
	default:
		return jobs.OutcomeFailed
	}
}

func counterFor(outcome jobs.Outcome) string {
	switch outcome {
	case jobs.OutcomeCompleted:
		return metrics.JobsCompleted
	case jobs.OutcomeRetried:
		return metrics.JobsRetried
	case jobs.OutcomeCancelled:
		return metrics.JobsCancelled
	default:
		return metrics.JobsFailed
	}
}

func (p *Pool) recordOutcome(ctx context.Context, w *worker, job *jobs.Job, status jobs.Status, f store.Finish, cause error, duration time.Duration) {
	q := w.def.Name
	outcome := outcomeFor(status)
	tags := map[string]string{"kind": string(job.Kind)}

	metrics.RecordJob(q, string(job.Kind), string(outcome), duration)
	if p.collector != nil {
		p.collector.Record(ctx, metrics.QueueMetric(q, metrics.JobDurationMs), float64(duration.Milliseconds()), tags)
		p.collector.Record(ctx, metrics.QueueMetric(q, counterFor(outcome)), 1, tags)
	}

	ev := events.JobEvent{
		Queue:    q,
		JobID:    job.ID,
		Kind:     string(job.Kind),
		WorkerID: w.id,
		Attempt:  job.Attempts,
		Error:    f.LastError,
		Duration: duration,
	}
	logger := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts, "duration", duration)

	switch outcome {
	case jobs.OutcomeCompleted:
		logger.Info("job completed")
		p.publish(ctx, events.NewJobEvent(events.JobCompleted, ev))
	case jobs.OutcomeCancelled:
		logger.Info("job cancelled")
		p.publish(ctx, events.NewJobEvent(events.JobCancelled, ev))
	case jobs.OutcomeRetried:
		next := f.NextRunAt
		ev.NextRunAt = &next
		logger.Warn("job failed; retry scheduled", "error", cause, "next_run_at", next)
		p.publish(ctx, events.NewJobEvent(events.JobRetrying, ev))
	default:
		logger.Error("job failed", "error", cause, "max_attempts", job.MaxAttempts)
		p.publish(ctx, events.NewJobEvent(events.JobFailed, ev))
	}
}
