package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockHealthUpdater implements HealthUpdater for testing.
type mockHealthUpdater struct {
	mu       sync.Mutex
	updates  []map[string]ComponentHealth
	statuses map[string]ComponentHealth
}

func newMockHealthUpdater() *mockHealthUpdater {
	return &mockHealthUpdater{
		statuses: make(map[string]ComponentHealth),
	}
}

func (m *mockHealthUpdater) UpdateComponentHealth(statuses map[string]ComponentHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, statuses)
	for name, health := range statuses {
		m.statuses[name] = health
	}
}

func (m *mockHealthUpdater) getStatus(name string) (ComponentHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.statuses[name]
	return h, ok
}

// fakeComponent fails its first failures starts and records stop order.
type fakeComponent struct {
	name     string
	failures int32
	stopErr  error
	starts   atomic.Int32
	stopped  atomic.Bool
	stopLog  *[]string
	stopMu   *sync.Mutex
}

func (c *fakeComponent) Name() string { return c.name }

func (c *fakeComponent) Start(ctx context.Context) error {
	n := c.starts.Add(1)
	if n <= c.failures {
		return errors.New("start failed")
	}
	return nil
}

func (c *fakeComponent) Stop(ctx context.Context) error {
	c.stopped.Store(true)
	if c.stopLog != nil {
		c.stopMu.Lock()
		*c.stopLog = append(*c.stopLog, c.name)
		c.stopMu.Unlock()
	}
	return c.stopErr
}

func waitForStatus(t *testing.T, h *mockHealthUpdater, name string, want ComponentStatus) ComponentHealth {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := h.getStatus(name); ok && got.Status == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := h.getStatus(name)
	t.Fatalf("component %s status = %q, want %q", name, got.Status, want)
	return got
}

func TestComponentSupervisor_Supervise(t *testing.T) {
	tests := []struct {
		name       string
		policy     RestartPolicy
		failures   int32
		wantStatus ComponentStatus
		wantStarts int32
	}{
		{"starts first time", RestartNever, 0, ComponentStatusRunning, 1},
		{"no restart after failure", RestartNever, 1, ComponentStatusFailed, 1},
		{"restarts until success", RestartOnFailure, 2, ComponentStatusRunning, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := newMockHealthUpdater()
			s := NewComponentSupervisor(health, WithBackoff(time.Millisecond, 4*time.Millisecond))
			comp := &fakeComponent{name: "sweeper", failures: tt.failures}

			s.Supervise(context.Background(), ComponentDefinition{
				Name:          "sweeper",
				Criticality:   CriticalityDegradable,
				RestartPolicy: tt.policy,
			}, comp)

			waitForStatus(t, health, "sweeper", tt.wantStatus)
			if err := s.StopAll(context.Background()); err != nil {
				t.Fatalf("StopAll() error = %v", err)
			}
			if got := comp.starts.Load(); got != tt.wantStarts {
				t.Errorf("starts = %d, want %d", got, tt.wantStarts)
			}
			if wantStopped := tt.wantStatus == ComponentStatusRunning; comp.stopped.Load() != wantStopped {
				t.Errorf("stopped = %v, want %v", comp.stopped.Load(), wantStopped)
			}
		})
	}
}

func TestComponentSupervisor_FailedStartRecordsError(t *testing.T) {
	hm := NewHealthManager()
	s := NewComponentSupervisor(hm)

	s.Supervise(context.Background(), ComponentDefinition{
		Name:          "alerts",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
	}, &fakeComponent{name: "alerts", failures: 1})
	_ = s.StopAll(context.Background())

	got := hm.Status().Components["alerts"]
	if got.Status != ComponentStatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error != "start failed" {
		t.Errorf("Error = %q, want %q", got.Error, "start failed")
	}
	if !got.Critical {
		t.Error("Critical = false, want true for fatal component")
	}
	if !hm.Degraded() {
		t.Error("Degraded() = false, want true")
	}
}

func TestComponentSupervisor_StopAllCancelsRetries(t *testing.T) {
	health := newMockHealthUpdater()
	s := NewComponentSupervisor(health, WithBackoff(time.Hour, time.Hour))
	comp := &fakeComponent{name: "janitor", failures: 100}

	s.Supervise(context.Background(), ComponentDefinition{
		Name:          "janitor",
		RestartPolicy: RestartOnFailure,
	}, comp)
	waitForStatus(t, health, "janitor", ComponentStatusFailed)

	done := make(chan error, 1)
	go func() { done <- s.StopAll(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StopAll() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll() blocked on a pending retry")
	}
	if comp.stopped.Load() {
		t.Error("Stop called on a component that never started")
	}
}

func TestComponentSupervisor_StopAllReverseOrder(t *testing.T) {
	health := newMockHealthUpdater()
	s := NewComponentSupervisor(health)

	var (
		mu    sync.Mutex
		order []string
	)
	boom := errors.New("boom")
	names := []string{"janitor", "sampler", "alerts"}
	for _, name := range names {
		comp := &fakeComponent{name: name, stopLog: &order, stopMu: &mu}
		if name == "sampler" {
			comp.stopErr = boom
		}
		s.Supervise(context.Background(), ComponentDefinition{Name: name}, comp)
		// Wait so start order is deterministic.
		waitForStatus(t, health, name, ComponentStatusRunning)
	}

	if got := s.SupervisedCount(); got != len(names) {
		t.Errorf("SupervisedCount() = %d, want %d", got, len(names))
	}

	err := s.StopAll(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("StopAll() error = %v, want wrapped boom", err)
	}

	want := []string{"alerts", "sampler", "janitor"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("stop order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("stop order = %v, want %v", order, want)
			break
		}
	}
	for _, name := range names {
		if h, _ := health.getStatus(name); h.Status != ComponentStatusStopped {
			t.Errorf("%s status = %q, want stopped", name, h.Status)
		}
	}
	if got := s.SupervisedCount(); got != 0 {
		t.Errorf("SupervisedCount() after StopAll = %d, want 0", got)
	}
}

func TestComponentSupervisor_Cancel(t *testing.T) {
	s := NewComponentSupervisor(nil, WithBackoff(time.Hour, time.Hour))
	s.Supervise(context.Background(), ComponentDefinition{
		Name:          "rules-watcher",
		RestartPolicy: RestartOnFailure,
	}, &fakeComponent{name: "rules-watcher", failures: 100})

	s.Cancel("rules-watcher")
	if got := s.SupervisedCount(); got != 0 {
		t.Errorf("SupervisedCount() = %d, want 0", got)
	}
	s.Cancel("missing")
	if err := s.StopAll(context.Background()); err != nil {
		t.Errorf("StopAll() error = %v", err)
	}
}
