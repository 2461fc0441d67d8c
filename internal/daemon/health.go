package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/health"
)

// ComponentHealth represents the supervision state of a single component.
type ComponentHealth struct {
	Status ComponentStatus `json:"status"`

	// Error contains the last failure message. Empty while running.
	Error string `json:"error,omitempty"`

	// Critical components turn readiness unhealthy when failed.
	Critical bool `json:"critical"`

	LastChecked time.Time `json:"last_checked"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// IsHealthy returns true if the component health indicates healthy operation.
func (h ComponentHealth) IsHealthy() bool {
	return h.Status.IsHealthy()
}

// JobHealth is the outcome of the latest run of a scheduled daemon job.
type JobHealth struct {
	Status     RunStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// HealthStatus is the daemon's own view of its components and jobs.
type HealthStatus struct {
	State      DaemonState                `json:"state"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Jobs       map[string]JobHealth       `json:"jobs,omitempty"`
}

// HealthUpdater receives component health updates.
type HealthUpdater interface {
	UpdateComponentHealth(statuses map[string]ComponentHealth)
}

// HealthManager aggregates supervision state from daemon components.
// It is safe for concurrent use.
type HealthManager struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	jobs       map[string]JobHealth
	startTime  time.Time
}

// NewHealthManager creates a new HealthManager instance.
func NewHealthManager() *HealthManager {
	return &HealthManager{
		components: make(map[string]ComponentHealth),
		jobs:       make(map[string]JobHealth),
		startTime:  time.Now(),
	}
}

// UpdateComponent updates the health status for a named component.
// Criticality is kept from the previous entry when the update omits it.
func (m *HealthManager) UpdateComponent(name string, h ComponentHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.components[name]; ok {
		h.Critical = h.Critical || prev.Critical
		if h.LastSuccess.IsZero() {
			h.LastSuccess = prev.LastSuccess
		}
	}
	m.components[name] = h
}

// UpdateComponentHealth implements HealthUpdater.
func (m *HealthManager) UpdateComponentHealth(statuses map[string]ComponentHealth) {
	for name, h := range statuses {
		m.UpdateComponent(name, h)
	}
}

// UpdateJob records the latest run of a named job.
func (m *HealthManager) UpdateJob(name string, h JobHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = h
}

// RemoveComponent removes a component from health tracking.
func (m *HealthManager) RemoveComponent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
}

// Status returns a copy of everything tracked.
func (m *HealthManager) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := HealthStatus{
		Uptime:     time.Since(m.startTime),
		Components: make(map[string]ComponentHealth, len(m.components)),
		Jobs:       make(map[string]JobHealth, len(m.jobs)),
	}
	for name, h := range m.components {
		st.Components[name] = h
	}
	for name, h := range m.jobs {
		st.Jobs[name] = h
	}
	return st
}

// Degraded reports whether any tracked component is unhealthy or the last
// run of any job failed.
func (m *HealthManager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.components {
		if !h.IsHealthy() {
			return true
		}
	}
	for _, h := range m.jobs {
		if h.Status == RunFailed {
			return true
		}
	}
	return false
}

// HealthComponents renders supervised components as health check
// components named "component:<name>", sorted by name.
func (m *HealthManager) HealthComponents() []health.Component {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]health.Component, 0, len(names))
	for _, name := range names {
		h := m.components[name]
		c := health.Component{
			Name:     "component:" + name,
			Color:    health.Green,
			Critical: h.Critical,
			Message:  string(h.Status),
		}
		switch h.Status {
		case ComponentStatusRunning:
		case ComponentStatusFailed:
			c.Color = health.Red
			c.Message = h.Error
		default:
			c.Color = health.Amber
		}
		out = append(out, c)
	}
	return out
}
