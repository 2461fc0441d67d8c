package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/probe"
	"github.com/leefowlercu/mailroom/internal/store"
)

func TestOperator_Compare(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGT, 150, 100, true},
		{OpGT, 100, 100, false},
		{OpGE, 100, 100, true},
		{OpLT, 5, 10, true},
		{OpLE, 10, 10, true},
		{OpEQ, 3, 3, true},
		{OpNE, 3, 3, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			got, err := tt.op.Compare(tt.value, tt.threshold)
			if err != nil {
				t.Fatalf("Compare() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("%v %s %v = %v, want %v", tt.value, tt.op, tt.threshold, got, tt.want)
			}
		})
	}

	if _, err := Operator("=~").Compare(1, 1); err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestValidateRules(t *testing.T) {
	good := backlogRule()

	noTarget := good
	noTarget.Target = ""
	badSeverity := good
	badSeverity.Severity = "urgent"
	badType := good
	badType.Type = "trace"

	tests := []struct {
		name    string
		rules   []Rule
		wantErr bool
	}{
		{"valid", []Rule{good}, false},
		{"missing target", []Rule{noTarget}, true},
		{"bad severity", []Rule{badSeverity}, true},
		{"bad type", []Rule{badType}, true},
		{"duplicate id", []Rule{good, good}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRules() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricSource(t *testing.T) {
	s := store.NewMemoryStore()
	c := metrics.NewCollector(s)
	ctx := context.Background()

	c.Record(ctx, "email.backlog", 120, nil)
	c.Record(ctx, "email.backlog", 80, nil)

	rule := backlogRule()
	got, err := MetricSource{Collector: c}.Observe(ctx, rule)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if got != 100 {
		t.Errorf("Observe() = %v, want average 100", got)
	}
}

func TestLogTap_CountsMatches(t *testing.T) {
	tap := NewLogTap(slog.LevelInfo, time.Hour, 100)
	logger := slog.New(tap).With("component", "worker-pool")

	logger.Info("job completed")
	logger.Error("job failed", "queue", "email")
	logger.Error("job failed", "queue", "imports")
	logger.Debug("ignored below level")
	slog.New(tap).Error("job failed", "component", "janitor")

	tests := []struct {
		target string
		want   float64
	}{
		{"level=error", 3},
		{"level=error component=worker-pool", 2},
		{"msg=failed queue=email", 1},
		{"level=info", 4},
	}
	src := LogSource{Tap: tap}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rule := Rule{Type: RuleLog, Target: tt.target}
			got, err := src.Observe(context.Background(), rule)
			if err != nil {
				t.Fatalf("Observe() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Observe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogTap_WindowAndLimit(t *testing.T) {
	tap := NewLogTap(slog.LevelInfo, time.Hour, 2)
	now := time.Now()
	tap.state.now = func() time.Time { return now }

	logger := slog.New(tap)
	logger.Error("one")
	logger.Error("two")
	logger.Error("three")

	m, err := ParseLogMatcher("level=error")
	if err != nil {
		t.Fatalf("ParseLogMatcher() error = %v", err)
	}
	if got := tap.Count(m, time.Minute); got != 2 {
		t.Errorf("Count() = %d, want 2 after limit", got)
	}

	now = now.Add(10 * time.Minute)
	if got := tap.Count(m, time.Minute); got != 0 {
		t.Errorf("Count() = %d, want 0 outside window", got)
	}
}

func TestParseLogMatcher_Invalid(t *testing.T) {
	for _, target := range []string{"", "level", "level=loud", "=x"} {
		if _, err := ParseLogMatcher(target); err == nil {
			t.Errorf("ParseLogMatcher(%q) expected error", target)
		}
	}
}

func TestHeartbeatSource(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	s.PutWorker(ctx, store.WorkerRecord{ID: "w1", Queue: "email", State: store.WorkerIdle, LastHeartbeat: now.Add(-30 * time.Second)})
	s.PutWorker(ctx, store.WorkerRecord{ID: "w2", Queue: "email", State: store.WorkerActive, LastHeartbeat: now.Add(-10 * time.Second)})
	s.PutWorker(ctx, store.WorkerRecord{ID: "w3", Queue: "email", State: store.WorkerStopped, LastHeartbeat: now})

	src := NewHeartbeatSource(s)
	src.now = func() time.Time { return now }

	tests := []struct {
		target  string
		want    float64
		wantErr bool
	}{
		{"queue:email", 10, false},
		{"queue:imports", NoHeartbeat, false},
		{"dep:smtp", NoHeartbeat, false},
		{"email", 0, true},
		{"pod:x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := src.Observe(ctx, Rule{Type: RuleHeartbeat, Target: tt.target})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Observe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Observe() = %v, want %v", got, tt.want)
			}
		})
	}

	src.Beat("smtp")
	now = now.Add(5 * time.Second)
	if got, _ := src.Observe(ctx, Rule{Target: "dep:smtp"}); got != 5 {
		t.Errorf("dep heartbeat age = %v, want 5", got)
	}
}

func TestSyntheticSource(t *testing.T) {
	s := store.NewMemoryStore()
	collector := metrics.NewCollector(s)
	hb := NewHeartbeatSource(s)
	src := NewSyntheticSource(collector, hb, time.Second)

	var fail atomic.Bool
	src.Register(probe.Func{ProbeName: "smtp", Fn: func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	}})

	ctx := context.Background()
	rule := Rule{Type: RuleSynthetic, Target: "smtp"}

	if got, err := src.Observe(ctx, rule); err != nil || got != 0 {
		t.Errorf("Observe() healthy = %v, %v; want 0", got, err)
	}
	if age, _ := hb.Observe(ctx, Rule{Target: "dep:smtp"}); age == NoHeartbeat {
		t.Error("expected successful probe to beat the dependency heartbeat")
	}

	fail.Store(true)
	if got, err := src.Observe(ctx, rule); err != nil || got != 1 {
		t.Errorf("Observe() failing = %v, %v; want 1", got, err)
	}

	names, _ := collector.Names(ctx)
	found := false
	for _, n := range names {
		if n == metrics.ProbeLatencyMetric("smtp") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected probe latency metric, got %v", names)
	}

	if _, err := src.Observe(ctx, Rule{Target: "missing"}); err == nil {
		t.Error("expected error for unknown probe")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var body webhookBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Incident == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		Name:            "ops",
		URL:             srv.URL,
		Headers:         map[string]string{"X-Token": "secret"},
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, nil)

	inc := &Incident{ID: "i-1", RuleID: "r-1", State: IncidentOpen, TriggeredAt: time.Now()}
	ctx := context.Background()

	if err := n.Notify(ctx, inc, backlogRule()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	status.Store(http.StatusInternalServerError)
	for i := 0; i < 2; i++ {
		if err := n.Notify(ctx, inc, backlogRule()); err == nil {
			t.Fatal("expected error for 500 response")
		}
	}
	if n.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", n.State())
	}

	before := hits.Load()
	if err := n.Notify(ctx, inc, backlogRule()); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Notify() with open breaker error = %v, want ErrOpenState", err)
	}
	if hits.Load() != before {
		t.Error("open breaker should not reach the endpoint")
	}
}

func TestBusNotifier(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan events.Event, 1)
	bus.Subscribe(events.IncidentNotified, func(e events.Event) { got <- e })

	n := NewBusNotifier(bus)
	if err := n.Notify(context.Background(), &Incident{ID: "i-1", State: IncidentOpen}, backlogRule()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case e := <-got:
		p, ok := e.Payload.(*events.IncidentEvent)
		if !ok || p.IncidentID != "i-1" || p.Target != "bus" {
			t.Errorf("payload = %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no incident.notified event")
	}
}

const rulesYAML = `rules:
  - id: email-backlog
    name: Email backlog
    type: metric
    target: email.backlog
    operator: ">"
    threshold: 1000
    severity: high
    enabled: true
    notify: [log]
  - id: smtp-down
    type: synthetic
    target: smtp
    operator: "=="
    threshold: 1
    severity: critical
    enabled: true
`

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("loaded %d rules, want 2", len(rules))
	}
	if rules[0].Threshold != 1000 || rules[0].Operator != OpGT || rules[0].Window() != DefaultWindowMinutes {
		t.Errorf("rule[0] = %+v", rules[0])
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("rules:\n  - id: x\n    type: metric\n"), 0o644)
	if _, err := LoadRulesFile(bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestMergeRules(t *testing.T) {
	base := []Rule{{ID: "a", Threshold: 1}, {ID: "b", Threshold: 2}}
	file := []Rule{{ID: "b", Threshold: 20}, {ID: "c", Threshold: 3}}

	got := MergeRules(base, file)
	if len(got) != 3 {
		t.Fatalf("merged %d rules, want 3", len(got))
	}
	if got[1].ID != "b" || got[1].Threshold != 20 {
		t.Errorf("file rule should replace base rule, got %+v", got[1])
	}
}

func TestRulesWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	e, _, _ := newTestEngine(t, nil)
	w := NewRulesWatcher(e, path, []Rule{backlogRule()}, nil, nil)
	w.debounce = 10 * time.Millisecond

	if err := w.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := len(e.ListRules()); got != 2 {
		t.Fatalf("engine holds %d rules, want 2", got)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop(ctx)

	updated := rulesYAML + `  - id: janitor-errors
    type: log
    target: level=error component=janitor
    operator: ">"
    threshold: 0
    severity: low
    enabled: true
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(e.ListRules()) != 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(e.ListRules()); got != 3 {
		t.Fatalf("engine holds %d rules after edit, want 3", got)
	}

	if err := os.WriteFile(path, []byte("rules: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(e.ListRules()); got != 3 {
		t.Errorf("broken file should keep current rules, engine holds %d", got)
	}
}
