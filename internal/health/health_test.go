package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/probe"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/worker"
)

type fakeStore struct {
	pingErr    error
	backlog    map[string]int64
	backlogErr error
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) Backlog(ctx context.Context, q string) (int64, error) {
	if s.backlogErr != nil {
		return 0, s.backlogErr
	}
	return s.backlog[q], nil
}

type fakePool struct {
	status worker.PoolStatus
	defs   []queue.Definition
}

func (p *fakePool) Status() worker.PoolStatus        { return p.status }
func (p *fakePool) Definitions() []queue.Definition { return p.defs }

func testDefs() []queue.Definition {
	backoff := jobs.Backoff{Base: time.Second, Max: time.Minute}
	return []queue.Definition{
		{
			Name: queue.Email, Kinds: []jobs.Kind{jobs.KindBulkSend},
			Concurrency: 2, MaxAttempts: 3, Backoff: backoff,
			Critical: true, BacklogWarn: 100, BacklogCritical: 1000,
		},
		{
			Name: queue.Imports, Kinds: []jobs.Kind{jobs.KindImport},
			Concurrency: 2, MaxAttempts: 3, Backoff: backoff,
			BacklogWarn: 50, BacklogCritical: 500,
		},
	}
}

func healthyStatus() worker.PoolStatus {
	return worker.PoolStatus{
		State: worker.PoolRunning,
		Queues: []worker.QueueStatus{
			{Name: queue.Email, Critical: true, Concurrency: 2, Idle: 2},
			{Name: queue.Imports, Concurrency: 2, Idle: 1, Active: 1},
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		components []Component
		want       Status
	}{
		{"all green", []Component{{Color: Green, Critical: true}, {Color: Green}}, StatusHealthy},
		{"non-critical amber", []Component{{Color: Green, Critical: true}, {Color: Amber}}, StatusDegraded},
		{"critical amber", []Component{{Color: Amber, Critical: true}}, StatusDegraded},
		{"non-critical red", []Component{{Color: Red}}, StatusDegraded},
		{"critical red", []Component{{Color: Amber}, {Color: Red, Critical: true}}, StatusUnhealthy},
		{"empty", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.components); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChecker_Full(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		mutate     func(*worker.PoolStatus)
		deps       []Dependency
		wantStatus Status
		wantColors map[string]Color
	}{
		{
			name:       "healthy",
			store:      &fakeStore{backlog: map[string]int64{queue.Email: 10, queue.Imports: 5}},
			wantStatus: StatusHealthy,
			wantColors: map[string]Color{"store": Green, "queue:email": Green, "workers:imports": Green},
		},
		{
			name:       "store down",
			store:      &fakeStore{pingErr: errors.New("connection refused"), backlogErr: errors.New("connection refused")},
			wantStatus: StatusUnhealthy,
			wantColors: map[string]Color{"store": Red, "queue:email": Red},
		},
		{
			name:       "workers report store unavailable",
			store:      &fakeStore{},
			mutate:     func(s *worker.PoolStatus) { s.StoreDegraded = true },
			wantStatus: StatusDegraded,
			wantColors: map[string]Color{"store": Amber},
		},
		{
			name:       "warn backlog on critical queue",
			store:      &fakeStore{backlog: map[string]int64{queue.Email: 100}},
			wantStatus: StatusDegraded,
			wantColors: map[string]Color{"queue:email": Amber},
		},
		{
			name:       "critical backlog on critical queue",
			store:      &fakeStore{backlog: map[string]int64{queue.Email: 1000}},
			wantStatus: StatusUnhealthy,
			wantColors: map[string]Color{"queue:email": Red},
		},
		{
			name:       "critical backlog on non-critical queue",
			store:      &fakeStore{backlog: map[string]int64{queue.Imports: 600}},
			wantStatus: StatusDegraded,
			wantColors: map[string]Color{"queue:imports": Red},
		},
		{
			name:  "no live workers on critical queue",
			store: &fakeStore{},
			mutate: func(s *worker.PoolStatus) {
				s.Queues[0].Idle = 0
				s.Queues[0].Failed = 2
			},
			wantStatus: StatusUnhealthy,
			wantColors: map[string]Color{"workers:email": Red},
		},
		{
			name:  "high failure ratio on non-critical queue",
			store: &fakeStore{},
			mutate: func(s *worker.PoolStatus) {
				s.Queues[1] = worker.QueueStatus{Name: queue.Imports, Concurrency: 4, Idle: 1, Failed: 3}
			},
			wantStatus: StatusDegraded,
			wantColors: map[string]Color{"workers:imports": Amber},
		},
		{
			name:  "high failure ratio on critical queue",
			store: &fakeStore{},
			mutate: func(s *worker.PoolStatus) {
				s.Queues[0] = worker.QueueStatus{Name: queue.Email, Critical: true, Concurrency: 4, Active: 1, Failed: 3}
			},
			wantStatus: StatusUnhealthy,
			wantColors: map[string]Color{"workers:email": Red},
		},
		{
			name:  "failed non-critical dependency",
			store: &fakeStore{},
			deps: []Dependency{{Probe: probe.Func{ProbeName: "smtp", Fn: func(context.Context) error {
				return errors.New("dial timeout")
			}}}},
			wantStatus: StatusDegraded,
			wantColors: map[string]Color{"dependency:smtp": Red},
		},
		{
			name:  "failed critical dependency",
			store: &fakeStore{},
			deps: []Dependency{{Critical: true, Probe: probe.Func{ProbeName: "smtp", Fn: func(context.Context) error {
				return errors.New("dial timeout")
			}}}},
			wantStatus: StatusUnhealthy,
			wantColors: map[string]Color{"dependency:smtp": Red},
		},
		{
			name:  "passing dependency",
			store: &fakeStore{},
			deps: []Dependency{{Critical: true, Probe: probe.Func{ProbeName: "smtp", Fn: func(context.Context) error {
				return nil
			}}}},
			wantStatus: StatusHealthy,
			wantColors: map[string]Color{"dependency:smtp": Green},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := healthyStatus()
			if tt.mutate != nil {
				tt.mutate(&status)
			}
			c := NewChecker(tt.store, &fakePool{status: status, defs: testDefs()}, Config{})
			for _, d := range tt.deps {
				c.AddDependency(d)
			}

			report := c.Full(context.Background())
			if report.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q; components %+v", report.Status, tt.wantStatus, report.Components)
			}

			got := make(map[string]Color, len(report.Components))
			for _, comp := range report.Components {
				got[comp.Name] = comp.Color
			}
			for name, want := range tt.wantColors {
				if got[name] != want {
					t.Errorf("component %s color = %q, want %q", name, got[name], want)
				}
			}
		})
	}
}

func TestChecker_FullComponentSet(t *testing.T) {
	c := NewChecker(&fakeStore{}, &fakePool{status: healthyStatus(), defs: testDefs()}, Config{})
	report := c.Full(context.Background())

	want := []string{"store", "queue:email", "workers:email", "queue:imports", "workers:imports"}
	if len(report.Components) != len(want) {
		t.Fatalf("got %d components, want %d", len(report.Components), len(want))
	}
	for i, name := range want {
		if report.Components[i].Name != name {
			t.Errorf("component[%d] = %q, want %q", i, report.Components[i].Name, name)
		}
	}
	if !report.Components[0].Critical {
		t.Error("store component should be critical")
	}
	if report.Components[3].Critical {
		t.Error("imports queue should not be critical")
	}
}

func TestChecker_Quick(t *testing.T) {
	tests := []struct {
		name        string
		store       *fakeStore
		mutate      func(*worker.PoolStatus)
		want        QuickStatus
		wantReasons int
	}{
		{name: "ok", store: &fakeStore{}, want: QuickOK},
		{
			name:        "store unreachable",
			store:       &fakeStore{pingErr: errors.New("refused")},
			want:        QuickDegraded,
			wantReasons: 1,
		},
		{
			name:        "critical queue without workers",
			store:       &fakeStore{},
			mutate:      func(s *worker.PoolStatus) { s.Queues[0].Idle = 0 },
			want:        QuickDegraded,
			wantReasons: 1,
		},
		{
			name:   "non-critical queue without workers",
			store:  &fakeStore{},
			mutate: func(s *worker.PoolStatus) { s.Queues[1].Idle, s.Queues[1].Active = 0, 0 },
			want:   QuickOK,
		},
		{
			name:        "store degraded flag",
			store:       &fakeStore{},
			mutate:      func(s *worker.PoolStatus) { s.StoreDegraded = true },
			want:        QuickDegraded,
			wantReasons: 1,
		},
		{
			name:  "quick ignores backlog",
			store: &fakeStore{backlog: map[string]int64{queue.Email: 1_000_000}},
			want:  QuickOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := healthyStatus()
			if tt.mutate != nil {
				tt.mutate(&status)
			}
			c := NewChecker(tt.store, &fakePool{status: status, defs: testDefs()}, Config{})
			got := c.Quick(context.Background())
			if got.Status != tt.want {
				t.Errorf("Status = %q, want %q (reasons %v)", got.Status, tt.want, got.Reasons)
			}
			if len(got.Reasons) != tt.wantReasons {
				t.Errorf("got %d reasons, want %d: %v", len(got.Reasons), tt.wantReasons, got.Reasons)
			}
		})
	}
}

type slowStore struct{ fakeStore }

func (s *slowStore) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestChecker_QuickIsBounded(t *testing.T) {
	c := NewChecker(&slowStore{}, &fakePool{status: healthyStatus(), defs: testDefs()}, Config{QuickTimeout: 20 * time.Millisecond})

	start := time.Now()
	got := c.Quick(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Quick took %v, want it bounded by the quick timeout", elapsed)
	}
	if got.Status != QuickDegraded {
		t.Errorf("Status = %q, want %q", got.Status, QuickDegraded)
	}
}
