package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/handlers"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/store"
)

// Store is the part of the durable store the pool uses.
type Store interface {
	store.JobStore
	store.WorkerRegistry
}

// WorkerInfo is the registration of one worker slot.
type WorkerInfo = store.WorkerRecord

// PoolState is the lifecycle state of the pool.
type PoolState string

const (
	PoolIdle     PoolState = "idle"
	PoolStarting PoolState = "starting"
	PoolRunning  PoolState = "running"
	PoolStopping PoolState = "stopping"
	PoolStopped  PoolState = "stopped"
)

// StartError reports the queue whose workers failed to start. Workers
// started by the failed call have been stopped and deregistered.
type StartError struct {
	Queue string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start workers for queue %q; %v", e.Queue, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ErrStartTimeout is returned when a worker does not register in time.
var ErrStartTimeout = errors.New("worker did not register in time")

type backlogSample struct {
	value int64
	at    time.Time
}

// Pool owns the worker loops of every configured queue.
type Pool struct {
	store     Store
	registry  *handlers.Registry
	collector *metrics.Collector
	bus       events.Bus
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	host      string

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	state   PoolState
	defs    []queue.Definition
	workers []*worker
	backlog map[string]backlogSample
	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	gate    chan struct{}

	wg          *sync.WaitGroup
	unavailable atomic.Int32
}

// NewPool creates a stopped pool.
func NewPool(s Store, registry *handlers.Registry, collector *metrics.Collector, opts ...Option) *Pool {
	host, _ := os.Hostname()
	p := &Pool{
		store:     s,
		registry:  registry,
		collector: collector,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		now:       time.Now,
		host:      host,
		state:     PoolIdle,
		backlog:   make(map[string]backlogSample),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "worker-pool")
	return p
}

// Name returns the component name.
func (p *Pool) Name() string {
	return "worker-pool"
}

// Config returns the pool tuning in effect.
func (p *Pool) Config() Config {
	return p.cfg
}

// State returns the lifecycle state.
func (p *Pool) State() PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start launches def.Concurrency loops for every queue and returns once each
// has registered. Calling Start on a running pool is a no-op. If any worker
// fails to register, every worker started by this call is stopped and
// deregistered and a *StartError naming the queue is returned.
func (p *Pool) Start(ctx context.Context, defs []queue.Definition) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() == PoolRunning {
		return nil
	}
	if err := queue.ValidateSet(defs); err != nil {
		return fmt.Errorf("failed to validate queues; %w", err)
	}

	for _, def := range defs {
		p.pruneStaleWorkers(ctx, def.Name)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.state = PoolStarting
	p.defs = slices.Clone(defs)
	p.workers = nil
	p.runCtx = runCtx
	p.cancel = cancel
	p.stopCh = make(chan struct{})
	p.gate = make(chan struct{})
	p.wg = &sync.WaitGroup{}
	p.mu.Unlock()

	var started []*worker
	for _, def := range defs {
		batch := make([]*worker, 0, def.Concurrency)
		for i := 0; i < def.Concurrency; i++ {
			batch = append(batch, p.spawn(def))
		}
		started = append(started, batch...)

		for _, w := range batch {
			if err := p.awaitReady(ctx, w); err != nil {
				p.rollback(started)
				return &StartError{Queue: def.Name, Err: err}
			}
		}
	}

	p.mu.Lock()
	p.state = PoolRunning
	close(p.gate)
	p.mu.Unlock()

	total := len(started)
	p.logger.Info("worker pool started", "queues", queue.Names(defs), "workers", total)
	p.publish(ctx, events.NewPoolEvent(events.PoolStarted, queue.Names(defs), total, nil))
	return nil
}

func (p *Pool) spawn(def queue.Definition) *worker {
	p.mu.Lock()
	w := newWorker(p, def)
	p.workers = append(p.workers, w)
	runCtx, stopCh, gate, wg := p.runCtx, p.stopCh, p.gate, p.wg
	wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer wg.Done()
		w.run(runCtx, stopCh, gate)
	}()
	return w
}

func (p *Pool) awaitReady(ctx context.Context, w *worker) error {
	timer := time.NewTimer(p.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case err := <-w.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrStartTimeout
	}
}

func (p *Pool) rollback(started []*worker) {
	p.mu.Lock()
	close(p.stopCh)
	cancel, wg := p.cancel, p.wg
	p.mu.Unlock()

	if !waitTimeout(wg, p.cfg.ShutdownTimeout) {
		cancel()
	}
	cancel()

	ctx := context.Background()
	for _, w := range started {
		if err := p.store.RemoveWorker(ctx, w.def.Name, w.id); err != nil {
			p.logger.Warn("failed to deregister worker during rollback", "worker_id", w.id, "error", err)
		}
	}

	p.mu.Lock()
	p.state = PoolIdle
	p.workers = nil
	p.mu.Unlock()
}

// pruneStaleWorkers removes stopped and failed registrations left by
// previous runs.
func (p *Pool) pruneStaleWorkers(ctx context.Context, queueName string) {
	records, err := p.store.ListWorkers(ctx, queueName)
	if err != nil {
		return
	}
	for _, r := range records {
		if r.State.IsLive() {
			continue
		}
		if err := p.store.RemoveWorker(ctx, queueName, r.ID); err != nil {
			p.logger.Debug("failed to prune worker record", "worker_id", r.ID, "error", err)
		}
	}
}

// Stop signals every loop to finish its current job and exit, then waits up
// to ShutdownTimeout. Loops still running after that have their handler
// context cancelled, their jobs released back to retry_pending, and are
// marked failed. Stop is a no-op when the pool is not running.
func (p *Pool) Stop(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.state != PoolRunning {
		p.mu.Unlock()
		return nil
	}
	p.state = PoolStopping
	stopCh, cancel, wg := p.stopCh, p.cancel, p.wg
	workers := slices.Clone(p.workers)
	p.mu.Unlock()

	close(stopCh)

	drainCtx, drainCancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	defer drainCancel()

	var stopErr error
	if !waitContext(drainCtx, wg) {
		p.logger.Warn("worker drain timed out; cancelling in-flight jobs")
		cancel()
		waitTimeout(wg, p.cfg.ForceGrace)

		var stuck int
		for _, w := range workers {
			if w.exited() {
				continue
			}
			stuck++
			w.fail(context.Background(), "shutdown timeout")
		}
		if stuck > 0 {
			stopErr = fmt.Errorf("%d workers did not exit before shutdown timeout", stuck)
		}
	}
	cancel()

	p.mu.Lock()
	p.state = PoolStopped
	p.mu.Unlock()

	names := queue.Names(p.Definitions())
	p.logger.Info("worker pool stopped", "queues", names)
	p.publish(ctx, events.NewPoolEvent(events.PoolStopped, names, len(workers), stopErr))
	return stopErr
}

// Definitions returns the queues of the current or last run.
func (p *Pool) Definitions() []queue.Definition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.defs)
}

// StoreDegraded reports whether any worker currently sees the store as unavailable.
func (p *Pool) StoreDegraded() bool {
	return p.unavailable.Load() > 0
}

// respawn replaces a failed worker while the pool is running.
func (p *Pool) respawn(def queue.Definition) {
	if !p.cfg.RespawnFailed {
		return
	}
	p.mu.RLock()
	running := p.state == PoolRunning
	p.mu.RUnlock()
	if !running {
		return
	}
	w := p.spawn(def)
	p.logger.Info("respawned worker", "queue", def.Name, "worker_id", w.id)
}

func (p *Pool) storeLost(ctx context.Context, queueName string, err error) {
	metrics.StoreUnavailableTotal.Inc()
	if p.unavailable.Add(1) == 1 {
		p.logger.Error("store unavailable; workers backing off", "queue", queueName, "error", err)
		p.publish(ctx, events.NewStoreEvent(events.StoreUnavailable, queueName, err))
	}
}

func (p *Pool) storeRecovered(ctx context.Context, queueName string) {
	if p.unavailable.Add(-1) == 0 {
		p.logger.Info("store reachable again", "queue", queueName)
		p.publish(ctx, events.NewStoreEvent(events.StoreRecovered, queueName, nil))
	}
}

func (p *Pool) publish(ctx context.Context, event events.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Debug("failed to publish event", "event_type", event.Type, "error", err)
	}
}

func waitContext(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return waitContext(ctx, wg)
}
