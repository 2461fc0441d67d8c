package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/store"
)

// Janitor periodically returns jobs held by dead workers to the queue.
// A processing job whose heartbeat is older than the liveness window is
// reset to retry_pending, or to failed when it has no attempts left.
type Janitor struct {
	store     store.JobStore
	collector *metrics.Collector
	bus       events.Bus
	queues    []string
	interval  time.Duration
	liveness  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithJanitorInterval sets how often orphans are swept.
func WithJanitorInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

// WithLiveness sets how stale a heartbeat must be before its job is reclaimed.
func WithLiveness(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.liveness = d
		}
	}
}

// WithJanitorBus publishes job.reclaimed events.
func WithJanitorBus(bus events.Bus) JanitorOption {
	return func(j *Janitor) {
		j.bus = bus
	}
}

// WithJanitorLogger sets the logger.
func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = logger
	}
}

// WithJanitorClock overrides the time source.
func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		j.now = now
	}
}

// NewJanitor creates a janitor for the named queues.
func NewJanitor(s store.JobStore, collector *metrics.Collector, queues []string, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		store:     s,
		collector: collector,
		queues:    queues,
		interval:  30 * time.Second,
		liveness:  2 * time.Minute,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "janitor")
	return j
}

// Name returns the component name.
func (j *Janitor) Name() string {
	return "janitor"
}

// Start begins periodic sweeps. A sweep runs immediately.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop halts sweeping and waits for an in-progress sweep to end.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	close(j.stopCh)
	j.running = false
	done := j.doneCh
	j.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.doneCh)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("reclaim sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-j.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sweeps every queue once and returns the number of jobs reclaimed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	now := j.now()
	staleBefore := now.Add(-j.liveness)

	var total int
	var errs []error
	for _, q := range j.queues {
		reclaimed, err := j.store.ReclaimOrphans(ctx, q, staleBefore, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to reclaim jobs in queue %q; %w", q, err))
			continue
		}
		for _, r := range reclaimed {
			total++
			metrics.RecordReclaim(q, string(r.Status))
			if j.collector != nil {
				j.collector.Record(ctx, metrics.QueueMetric(q, metrics.JobsReclaimed), 1, map[string]string{"status": string(r.Status)})
			}
			j.logger.Warn("reclaimed orphaned job", "queue", q, "job_id", r.ID, "status", r.Status)
			if j.bus != nil {
				ev := events.NewJobEvent(events.JobReclaimed, events.JobEvent{
					Queue: q,
					JobID: r.ID,
					Error: string(r.Status),
				})
				if err := j.bus.Publish(ctx, ev); err != nil {
					j.logger.Debug("failed to publish event", "error", err)
				}
			}
		}
	}
	return total, errors.Join(errs...)
}
