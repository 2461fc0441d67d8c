package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/store"
)

const validBulkSend = `{"kind":"bulk-send","payload":{"workspace_id":"ws1","campaign_id":"c1","template_id":"t1","recipients":["a@example.com"]}}`

type testServer struct {
	srv   *Server
	rt    *Runtime
	store *store.MemoryStore
	hm    *HealthManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig(t)
	cfg.Alerts.Rules = []alerts.Rule{{
		ID:        "email-backlog",
		Name:      "Email backlog high",
		Type:      alerts.RuleMetric,
		Target:    "queue.email.backlog",
		Operator:  alerts.OpGT,
		Threshold: 10,
		Severity:  alerts.SeverityHigh,
		Enabled:   true,
	}}

	ms := store.NewMemoryStore()
	rt, err := NewComponentBuilder(cfg, WithStore(ms)).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	hm := NewHealthManager()
	srv := NewServer(rt, hm, ServerConfig{Bind: "127.0.0.1"})
	return &testServer{srv: srv, rt: rt, store: ms, hm: hm}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if res := decode[health.QuickResult](t, rec); res.Status != health.QuickOK {
		t.Errorf("status = %q, want ok", res.Status)
	}

	ts.store.SetUnavailable(true)
	rec = ts.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /healthz with store down status = %d, want 503", rec.Code)
	}
	res := decode[health.QuickResult](t, rec)
	if res.Status != health.QuickDegraded || len(res.Reasons) == 0 {
		t.Errorf("QuickResult = %+v, want degraded with reasons", res)
	}
}

func TestServer_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(ts *testServer)
		wantCode   int
		wantStatus health.Status
	}{
		{
			name:       "healthy",
			setup:      func(ts *testServer) {},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusHealthy,
		},
		{
			name: "degradable component failed",
			setup: func(ts *testServer) {
				ts.hm.UpdateComponent("sampler", ComponentHealth{Status: ComponentStatusFailed, Error: "boom"})
			},
			wantCode:   http.StatusOK,
			wantStatus: health.StatusDegraded,
		},
		{
			name: "critical component failed",
			setup: func(ts *testServer) {
				ts.hm.UpdateComponent("alerts", ComponentHealth{Status: ComponentStatusFailed, Critical: true})
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusUnhealthy,
		},
		{
			name:       "store unavailable",
			setup:      func(ts *testServer) { ts.store.SetUnavailable(true) },
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: health.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			tt.setup(ts)

			rec := ts.do(t, http.MethodGet, "/readyz", "")
			if rec.Code != tt.wantCode {
				t.Errorf("GET /readyz status = %d, want %d; body %s", rec.Code, tt.wantCode, rec.Body)
			}
			resp := decode[ReadyResponse](t, rec)
			if resp.Status != tt.wantStatus {
				t.Errorf("report status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.State != DaemonStateRunning {
				t.Errorf("state = %q, want running", resp.State)
			}
		})
	}
}

func TestServer_JobLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/queues/email/jobs", validBulkSend)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, want 202; body %s", rec.Code, rec.Body)
	}
	enq := decode[EnqueueResponse](t, rec)
	if enq.ID == "" || enq.Queue != "email" {
		t.Fatalf("EnqueueResponse = %+v", enq)
	}

	rec = ts.do(t, http.MethodGet, "/api/queues/email/jobs/"+enq.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get job status = %d, want 200", rec.Code)
	}
	if job := decode[jobs.Job](t, rec); job.Status != jobs.StatusPending || job.Kind != jobs.KindBulkSend {
		t.Errorf("job = %+v, want pending bulk-send", job)
	}

	rec = ts.do(t, http.MethodGet, "/api/queues/email/jobs?limit=10", "")
	if list := decode[[]jobs.Job](t, rec); len(list) != 1 || list[0].ID != enq.ID {
		t.Errorf("list = %+v, want the enqueued job", list)
	}

	rec = ts.do(t, http.MethodPost, "/api/queues/email/jobs/"+enq.ID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if res := decode[CancelResponse](t, rec); res.Result != store.CancelApplied {
		t.Errorf("cancel result = %q, want %q", res.Result, store.CancelApplied)
	}

	rec = ts.do(t, http.MethodGet, "/api/queues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/queues status = %d", rec.Code)
	}
	ov := decode[Overview](t, rec)
	if _, ok := ov.Counters["email"]; !ok {
		t.Errorf("overview counters = %v, want email entry", ov.Counters)
	}
}

func TestServer_Errors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		storeOff bool
		wantCode int
		wantErr  string
	}{
		{"unknown queue", http.MethodPost, "/api/queues/sms/jobs", validBulkSend, false, http.StatusNotFound, CodeUnknownQueue},
		{"kind not routed", http.MethodPost, "/api/queues/imports/jobs", validBulkSend, false, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown kind", http.MethodPost, "/api/queues/email/jobs", `{"kind":"fax","payload":{}}`, false, http.StatusBadRequest, CodeInvalidRequest},
		{"invalid payload", http.MethodPost, "/api/queues/email/jobs", `{"kind":"bulk-send","payload":{"workspace_id":"ws1"}}`, false, http.StatusBadRequest, CodeInvalidRequest},
		{"malformed body", http.MethodPost, "/api/queues/email/jobs", `{"kind":`, false, http.StatusBadRequest, CodeInvalidRequest},
		{"job not found", http.MethodGet, "/api/queues/email/jobs/missing", "", false, http.StatusNotFound, CodeNotFound},
		{"store unavailable", http.MethodPost, "/api/queues/email/jobs", validBulkSend, true, http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"bad limit", http.MethodGet, "/api/queues/email/jobs?limit=x", "", false, http.StatusBadRequest, CodeInvalidRequest},
		{"bad window", http.MethodGet, "/api/metrics/queue.email.backlog/windows?window=0", "", false, http.StatusBadRequest, CodeInvalidRequest},
		{"incident not found", http.MethodPost, "/api/alerts/incidents/missing/ack", "", false, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.store.SetUnavailable(tt.storeOff)

			rec := ts.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body %s", rec.Code, tt.wantCode, rec.Body)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.wantErr || resp.Error == "" {
				t.Errorf("ErrorResponse = %+v, want code %q", resp, tt.wantErr)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/metrics/queue.email.backlog", `{"value":12,"tags":{"queue":"email"}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("record status = %d, want 204; body %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/api/metrics/queue.email.backlog?hours=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get metric status = %d, want 200", rec.Code)
	}
	mr := decode[MetricResponse](t, rec)
	if len(mr.Points) != 1 || mr.Points[0].Value != 12 || mr.Hours != 1 {
		t.Errorf("MetricResponse = %+v", mr)
	}

	rec = ts.do(t, http.MethodGet, "/api/metrics/queue.email.backlog/windows?window=5&count=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("windows status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if wr := decode[WindowsResponse](t, rec); len(wr.Windows) != 3 || wr.WindowMinutes != 5 {
		t.Errorf("WindowsResponse = %+v, want 3 windows of 5 minutes", wr)
	}

	rec = ts.do(t, http.MethodGet, "/api/metrics/queue.email.backlog/series?hours=1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("series status = %d, want 200", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", rec.Code)
	}
}

func TestServer_Incidents(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	inc, err := ts.rt.Engine.Evaluate(ctx, "email-backlog", 50)
	if err != nil || inc == nil {
		t.Fatalf("Evaluate() = %v, %v; want opened incident", inc, err)
	}

	rec := ts.do(t, http.MethodGet, "/api/alerts/incidents?state=open", "")
	if list := decode[[]alerts.Incident](t, rec); len(list) != 1 || list[0].ID != inc.ID {
		t.Fatalf("open incidents = %+v", list)
	}
	rec = ts.do(t, http.MethodGet, "/api/alerts/incidents?severity=critical", "")
	if list := decode[[]alerts.Incident](t, rec); len(list) != 0 {
		t.Errorf("critical incidents = %+v, want none", list)
	}

	rec = ts.do(t, http.MethodPost, "/api/alerts/incidents/"+inc.ID+"/ack", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	if got := decode[alerts.Incident](t, rec); got.State != alerts.IncidentAcknowledged {
		t.Errorf("state after ack = %q", got.State)
	}

	rec = ts.do(t, http.MethodPost, "/api/alerts/incidents/"+inc.ID+"/ack", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second ack status = %d, want 409", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Code != CodeInvalidTransition {
		t.Errorf("second ack code = %q", resp.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/alerts/incidents/"+inc.ID+"/resolve", "")
	if got := decode[alerts.Incident](t, rec); got.State != alerts.IncidentResolved || got.ResolvedBy != alerts.ResolvedManual {
		t.Errorf("incident after resolve = %+v", got)
	}

	rec = ts.do(t, http.MethodGet, "/api/alerts/stats?top=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if stats := decode[alerts.Stats](t, rec); stats.Total != 1 || stats.Resolved != 1 {
		t.Errorf("stats = %+v, want one resolved incident", stats)
	}

	rec = ts.do(t, http.MethodGet, "/api/alerts/rules", "")
	rules := decode[[]alerts.Rule](t, rec)
	if len(rules) != 1 || rules[0].TriggerCount != 1 {
		t.Errorf("rules = %+v, want one rule triggered once", rules)
	}
}

func TestServer_Workers(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/workers/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d; body %s", rec.Code, rec.Body)
	}
	if res := decode[WorkersResponse](t, rec); res.State != "running" {
		t.Errorf("pool state = %q, want running", res.State)
	}

	rec = ts.do(t, http.MethodGet, "/api/queues/stats", "")
	if rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/workers/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d; body %s", rec.Code, rec.Body)
	}
	if res := decode[WorkersResponse](t, rec); res.State != "stopped" {
		t.Errorf("pool state = %q, want stopped", res.State)
	}
}
