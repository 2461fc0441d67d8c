package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/store"
)

// QueueStatus summarizes one queue's workers and backlog.
type QueueStatus struct {
	Name             string    `json:"name"`
	Critical         bool      `json:"critical"`
	Concurrency      int       `json:"concurrency"`
	Idle             int       `json:"idle"`
	Active           int       `json:"active"`
	Failed           int       `json:"failed"`
	Stopped          int       `json:"stopped"`
	Backlog          int64     `json:"backlog"`
	BacklogUpdatedAt time.Time `json:"backlog_updated_at,omitzero"`
}

// Live returns the number of workers able to take jobs.
func (q QueueStatus) Live() int {
	return q.Idle + q.Active
}

// PoolStatus is a point-in-time view of the pool.
type PoolStatus struct {
	State         PoolState     `json:"state"`
	StoreDegraded bool          `json:"store_degraded"`
	Queues        []QueueStatus `json:"queues"`
	Workers       []WorkerInfo  `json:"workers"`
}

// Status returns the pool's view of its workers without touching the store.
// Backlog values are the ones cached by the last CollectMetrics call.
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	defs := p.defs
	workers := p.workers
	backlog := make(map[string]backlogSample, len(p.backlog))
	for k, v := range p.backlog {
		backlog[k] = v
	}
	st := PoolStatus{State: p.state, StoreDegraded: p.StoreDegraded()}
	p.mu.RUnlock()

	byQueue := make(map[string]*QueueStatus, len(defs))
	for _, def := range defs {
		b := backlog[def.Name]
		st.Queues = append(st.Queues, QueueStatus{
			Name:             def.Name,
			Critical:         def.Critical,
			Concurrency:      def.Concurrency,
			Backlog:          b.value,
			BacklogUpdatedAt: b.at,
		})
	}
	for i := range st.Queues {
		byQueue[st.Queues[i].Name] = &st.Queues[i]
	}

	for _, w := range workers {
		info := w.snapshot()
		st.Workers = append(st.Workers, info)
		q, ok := byQueue[info.Queue]
		if !ok {
			continue
		}
		switch info.State {
		case store.WorkerIdle:
			q.Idle++
		case store.WorkerActive:
			q.Active++
		case store.WorkerFailed:
			q.Failed++
		default:
			q.Stopped++
		}
	}
	return st
}

// Workers returns the registration of every worker slot of the current run.
func (p *Pool) Workers() []WorkerInfo {
	return p.Status().Workers
}

// CollectMetrics samples queue backlogs and worker counts into the
// Prometheus gauges and the metric store.
func (p *Pool) CollectMetrics(ctx context.Context) error {
	st := p.Status()

	var errs []error
	for _, q := range st.Queues {
		n, err := p.store.Backlog(ctx, q.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read backlog for queue %q; %w", q.Name, err))
			continue
		}
		p.mu.Lock()
		p.backlog[q.Name] = backlogSample{value: n, at: p.now()}
		p.mu.Unlock()

		metrics.UpdatePoolMetrics(q.Name, n, map[string]int{
			string(store.WorkerIdle):    q.Idle,
			string(store.WorkerActive):  q.Active,
			string(store.WorkerFailed):  q.Failed,
			string(store.WorkerStopped): q.Stopped,
		})
		if p.collector != nil {
			p.collector.Record(ctx, metrics.QueueMetric(q.Name, metrics.Backlog), float64(n), nil)
		}
	}
	return errors.Join(errs...)
}

// QueueStats are throughput and reliability figures for one queue over the
// pool's StatsWindow.
type QueueStats struct {
	Queue         string  `json:"queue"`
	WindowMinutes int     `json:"window_minutes"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	Retried       int64   `json:"retried"`
	Cancelled     int64   `json:"cancelled"`
	Reclaimed     int64   `json:"reclaimed"`
	Throughput    float64 `json:"throughput_per_min"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	SuccessRate   float64 `json:"success_rate"`
	Backlog       int64   `json:"backlog"`
}

// Stats computes QueueStats for every queue from the collector. With no
// finished jobs in the window the success rate is 1.
func (p *Pool) Stats(ctx context.Context) (map[string]QueueStats, error) {
	if p.collector == nil {
		return nil, errors.New("no metrics collector configured")
	}
	window := int(p.cfg.StatsWindow / time.Minute)

	read := func(q, suffix string) (float64, error) {
		return p.collector.Latest(ctx, metrics.QueueMetric(q, suffix), window)
	}

	out := make(map[string]QueueStats)
	for _, def := range p.Definitions() {
		qs := QueueStats{Queue: def.Name, WindowMinutes: window}
		counts := map[string]*int64{
			metrics.JobsCompleted: &qs.Completed,
			metrics.JobsFailed:    &qs.Failed,
			metrics.JobsRetried:   &qs.Retried,
			metrics.JobsCancelled: &qs.Cancelled,
			metrics.JobsReclaimed: &qs.Reclaimed,
		}
		for suffix, dst := range counts {
			v, err := read(def.Name, suffix)
			if err != nil {
				return nil, fmt.Errorf("failed to compute stats for queue %q; %w", def.Name, err)
			}
			*dst = int64(v)
		}

		latency, err := read(def.Name, metrics.JobDurationMs)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats for queue %q; %w", def.Name, err)
		}
		qs.AvgLatencyMs = latency

		finished := qs.Completed + qs.Failed
		qs.Throughput = float64(qs.Completed) / float64(window)
		qs.SuccessRate = 1
		if finished > 0 {
			qs.SuccessRate = float64(qs.Completed) / float64(finished)
		}

		p.mu.RLock()
		qs.Backlog = p.backlog[def.Name].value
		p.mu.RUnlock()

		out[def.Name] = qs
	}
	return out, nil
}
