package daemon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/store"
)

type fakeTrimmer struct {
	n   int64
	err error
	got time.Duration
}

func (f *fakeTrimmer) Trim(ctx context.Context, retention time.Duration) (int64, error) {
	f.got = retention
	return f.n, f.err
}

type fakePruner struct {
	n   int
	err error
}

func (f *fakePruner) PruneResolved(ctx context.Context, age time.Duration) (int, error) {
	return f.n, f.err
}

type fakeIndex struct {
	n      map[string]int64
	failOn string
}

func (f *fakeIndex) PruneJobIndex(ctx context.Context, queue string) (int64, error) {
	if queue == f.failOn {
		return 0, errors.New("index unavailable")
	}
	return f.n[queue], nil
}

func TestSweeper_RunOnce(t *testing.T) {
	boom := errors.New("boom")
	cfg := SweeperConfig{
		Schedule:          "@every 1h",
		MetricRetention:   24 * time.Hour,
		IncidentRetention: 7 * 24 * time.Hour,
		Queues:            []string{"email", "import"},
	}

	tests := []struct {
		name       string
		trimmer    *fakeTrimmer
		pruner     *fakePruner
		index      *fakeIndex
		wantStatus RunStatus
		wantCounts map[string]int
		wantErr    string
	}{
		{
			name:       "all parts succeed",
			trimmer:    &fakeTrimmer{n: 10},
			pruner:     &fakePruner{n: 2},
			index:      &fakeIndex{n: map[string]int64{"email": 3, "import": 1}},
			wantStatus: RunSuccess,
			wantCounts: map[string]int{"metric_points": 10, "incidents": 2, "job_index": 4},
		},
		{
			name:       "one part fails",
			trimmer:    &fakeTrimmer{err: boom},
			pruner:     &fakePruner{n: 1},
			index:      &fakeIndex{n: map[string]int64{"email": 3}},
			wantStatus: RunPartial,
			wantCounts: map[string]int{"incidents": 1, "job_index": 3},
			wantErr:    "failed to trim metrics",
		},
		{
			name:       "one queue fails",
			trimmer:    &fakeTrimmer{},
			pruner:     &fakePruner{},
			index:      &fakeIndex{n: map[string]int64{"email": 5}, failOn: "import"},
			wantStatus: RunPartial,
			wantCounts: map[string]int{"job_index": 5},
			wantErr:    `queue "import"`,
		},
		{
			name:       "every part fails",
			trimmer:    &fakeTrimmer{err: boom},
			pruner:     &fakePruner{err: boom},
			index:      &fakeIndex{failOn: "email"},
			wantStatus: RunPartial,
			wantErr:    "failed to prune incidents",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager()
			s := NewSweeper(cfg, tt.trimmer, tt.pruner, tt.index, NewJobRunner(hm, nil), nil)

			res := s.RunOnce(context.Background())
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (error %q)", res.Status, tt.wantStatus, res.Error)
			}
			for k, want := range tt.wantCounts {
				if res.Counts[k] != want {
					t.Errorf("Counts[%s] = %d, want %d", k, res.Counts[k], want)
				}
			}
			if tt.wantErr != "" && !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", res.Error, tt.wantErr)
			}
			if strings.Contains(res.Error, "\n") {
				t.Errorf("Error contains newline: %q", res.Error)
			}
			if tt.trimmer.got != cfg.MetricRetention {
				t.Errorf("Trim retention = %v, want %v", tt.trimmer.got, cfg.MetricRetention)
			}
			if _, ok := hm.Status().Jobs["retention-sweeper"]; !ok {
				t.Error("sweep not recorded in health manager")
			}
		})
	}
}

func TestSweeper_AllPartsFailed(t *testing.T) {
	boom := errors.New("boom")
	s := NewSweeper(SweeperConfig{MetricRetention: time.Hour, IncidentRetention: time.Hour},
		&fakeTrimmer{err: boom}, &fakePruner{err: boom}, nil, nil, nil)

	if res := s.RunOnce(context.Background()); res.Status != RunFailed {
		t.Errorf("Status = %q, want failed", res.Status)
	}
}

func TestSweeper_SkipsDisabledParts(t *testing.T) {
	trimmer := &fakeTrimmer{n: 5}
	s := NewSweeper(SweeperConfig{}, trimmer, nil, nil, nil, nil)

	res := s.RunOnce(context.Background())
	if res.Status != RunSuccess {
		t.Errorf("Status = %q, want success", res.Status)
	}
	if _, ok := res.Counts["metric_points"]; ok {
		t.Error("metrics trimmed with zero retention")
	}
}

func TestSweeper_TrimsMemoryStore(t *testing.T) {
	ms := store.NewMemoryStore()
	t.Cleanup(func() { _ = ms.Close() })

	now := time.Now()
	c := metrics.NewCollector(ms, metrics.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	c.Record(ctx, "queue.email.backlog", 3, nil)

	now = now.Add(48 * time.Hour)
	c.Record(ctx, "queue.email.backlog", 1, nil)

	s := NewSweeper(SweeperConfig{MetricRetention: 24 * time.Hour}, c, nil, nil, nil, nil)
	res := s.RunOnce(ctx)
	if res.Status != RunSuccess {
		t.Fatalf("Status = %q, error %q", res.Status, res.Error)
	}
	if res.Counts["metric_points"] != 1 {
		t.Errorf("Counts[metric_points] = %d, want 1", res.Counts["metric_points"])
	}
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(SweeperConfig{Schedule: "not a schedule"}, nil, nil, nil, nil, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want schedule error")
	}

	s = NewSweeper(SweeperConfig{Schedule: "@every 1h"}, nil, nil, nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
