// Package health answers quick liveness probes and full subsystem health
// reports for the queue subsystem.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/probe"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// Color is the state of one component in a full report.
type Color string

const (
	Green Color = "green"
	Amber Color = "amber"
	Red   Color = "red"
)

// Status is the overall classification of a full report.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// QuickStatus is the result of a quick check.
type QuickStatus string

const (
	QuickOK       QuickStatus = "ok"
	QuickDegraded QuickStatus = "degraded"
)

// QuickResult is returned by Quick.
type QuickResult struct {
	Status    QuickStatus `json:"status"`
	Reasons   []string    `json:"reasons,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// Component is one entry of a full report.
type Component struct {
	Name     string         `json:"name"`
	Color    Color          `json:"color"`
	Critical bool           `json:"critical"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Report is returned by Full.
type Report struct {
	Status     Status        `json:"status"`
	Components []Component   `json:"components"`
	CheckedAt  time.Time     `json:"checked_at"`
	Duration   time.Duration `json:"duration"`
}

// Store is the part of the queue store the checker reads.
type Store interface {
	Ping(ctx context.Context) error
	Backlog(ctx context.Context, queue string) (int64, error)
}

// Pool is the view of the worker pool the checker reads.
type Pool interface {
	Status() worker.PoolStatus
	Definitions() []queue.Definition
}

// Dependency is an external service checked by Full.
type Dependency struct {
	Probe    probe.Probe
	Critical bool
}

// Config tunes the checker.
type Config struct {
	QuickTimeout time.Duration
	FullTimeout  time.Duration
	// FailureRatio is the share of failed workers above which a queue's
	// workers component turns amber, or red for critical queues.
	FailureRatio float64
}

// DefaultConfig returns the default checker tuning.
func DefaultConfig() Config {
	return Config{
		QuickTimeout: 500 * time.Millisecond,
		FullTimeout:  5 * time.Second,
		FailureRatio: 0.5,
	}
}

// Checker runs health checks.
type Checker struct {
	store Store
	pool  Pool
	cfg   Config
	now   func() time.Time

	mu   sync.RWMutex
	deps []Dependency
}

// NewChecker creates a Checker.
func NewChecker(s Store, pool Pool, cfg Config) *Checker {
	def := DefaultConfig()
	if cfg.QuickTimeout <= 0 {
		cfg.QuickTimeout = def.QuickTimeout
	}
	if cfg.FullTimeout <= 0 {
		cfg.FullTimeout = def.FullTimeout
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	return &Checker{store: s, pool: pool, cfg: cfg, now: time.Now}
}

// AddDependency registers an external dependency for Full.
func (c *Checker) AddDependency(d Dependency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps = append(c.deps, d)
}

// Quick pings the store and reads the pool's cached status. It is bounded
// by QuickTimeout and does no aggregation.
func (c *Checker) Quick(ctx context.Context) QuickResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QuickTimeout)
	defer cancel()

	res := QuickResult{Status: QuickOK, CheckedAt: c.now()}
	if err := c.store.Ping(ctx); err != nil {
		res.Reasons = append(res.Reasons, fmt.Sprintf("store unreachable: %v", err))
	}

	st := c.pool.Status()
	if st.StoreDegraded {
		res.Reasons = append(res.Reasons, "workers report store unavailable")
	}
	for _, q := range st.Queues {
		if q.Critical && q.Live() == 0 {
			res.Reasons = append(res.Reasons, fmt.Sprintf("no live workers for critical queue %s", q.Name))
		}
	}
	if len(res.Reasons) > 0 {
		res.Status = QuickDegraded
	}
	return res
}

// Full checks every subsystem and classifies the result. A red critical
// component makes the report unhealthy; any other amber or red component
// makes it degraded.
func (c *Checker) Full(ctx context.Context) Report {
	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FullTimeout)
	defer cancel()

	st := c.pool.Status()
	components := []Component{c.checkStore(ctx, st)}

	byName := make(map[string]worker.QueueStatus, len(st.Queues))
	for _, q := range st.Queues {
		byName[q.Name] = q
	}
	for _, def := range c.pool.Definitions() {
		components = append(components, c.checkBacklog(ctx, def))
		components = append(components, c.checkWorkers(def, byName[def.Name]))
	}
	components = append(components, c.checkDependencies(ctx)...)

	return Report{
		Status:     Classify(components),
		Components: components,
		CheckedAt:  start,
		Duration:   c.now().Sub(start),
	}
}

// Classify derives the overall status from component colors.
func Classify(components []Component) Status {
	status := StatusHealthy
	for _, comp := range components {
		switch {
		case comp.Color == Red && comp.Critical:
			return StatusUnhealthy
		case comp.Color != Green:
			status = StatusDegraded
		}
	}
	return status
}

func (c *Checker) checkStore(ctx context.Context, st worker.PoolStatus) Component {
	comp := Component{Name: "store", Color: Green, Critical: true}
	if err := c.store.Ping(ctx); err != nil {
		comp.Color = Red
		comp.Message = err.Error()
		return comp
	}
	if st.StoreDegraded {
		comp.Color = Amber
		comp.Message = "workers report store unavailable"
	}
	return comp
}

func (c *Checker) checkBacklog(ctx context.Context, def queue.Definition) Component {
	comp := Component{Name: "queue:" + def.Name, Color: Green, Critical: def.Critical}
	n, err := c.store.Backlog(ctx, def.Name)
	if err != nil {
		comp.Color = Red
		comp.Message = fmt.Sprintf("failed to read backlog: %v", err)
		return comp
	}
	comp.Details = map[string]any{
		"backlog":          n,
		"backlog_warn":     def.BacklogWarn,
		"backlog_critical": def.BacklogCritical,
	}
	switch {
	case def.BacklogCritical > 0 && n >= def.BacklogCritical:
		comp.Color = Red
		comp.Message = fmt.Sprintf("backlog %d at or above critical threshold %d", n, def.BacklogCritical)
	case def.BacklogWarn > 0 && n >= def.BacklogWarn:
		comp.Color = Amber
		comp.Message = fmt.Sprintf("backlog %d at or above warning threshold %d", n, def.BacklogWarn)
	}
	return comp
}

func (c *Checker) checkWorkers(def queue.Definition, q worker.QueueStatus) Component {
	comp := Component{Name: "workers:" + def.Name, Color: Green, Critical: def.Critical}
	total := q.Live() + q.Failed
	var ratio float64
	if total > 0 {
		ratio = float64(q.Failed) / float64(total)
	}
	comp.Details = map[string]any{
		"idle":          q.Idle,
		"active":        q.Active,
		"failed":        q.Failed,
		"stopped":       q.Stopped,
		"failure_ratio": ratio,
	}

	switch {
	case q.Live() == 0:
		comp.Color = Amber
		if def.Critical {
			comp.Color = Red
		}
		comp.Message = "no live workers"
	case ratio > c.cfg.FailureRatio:
		comp.Color = Amber
		if def.Critical {
			comp.Color = Red
		}
		comp.Message = fmt.Sprintf("worker failure ratio %.2f above %.2f", ratio, c.cfg.FailureRatio)
	}
	return comp
}

func (c *Checker) checkDependencies(ctx context.Context) []Component {
	c.mu.RLock()
	deps := append([]Dependency(nil), c.deps...)
	c.mu.RUnlock()

	out := make([]Component, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := probe.Run(ctx, d.Probe, 0)
			comp := Component{
				Name:     "dependency:" + d.Probe.Name(),
				Color:    Green,
				Critical: d.Critical,
				Details:  map[string]any{"latency_ms": res.Latency.Milliseconds()},
			}
			if res.Err != nil {
				comp.Color = Red
				comp.Message = res.Err.Error()
			}
			out[i] = comp
		}()
	}
	wg.Wait()
	return out
}
