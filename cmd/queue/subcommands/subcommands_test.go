package subcommands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/mailroom/internal/cmdutil"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/worker"
)

func sampleOverview() daemon.Overview {
	return daemon.Overview{
		State:  daemon.DaemonStateRunning,
		Uptime: time.Minute,
		Pool: worker.PoolStatus{
			State:         worker.PoolRunning,
			StoreDegraded: true,
			Queues: []worker.QueueStatus{
				{Name: "email", Critical: true, Concurrency: 4, Idle: 3, Active: 1, Backlog: 9},
			},
		},
		Counters: map[string]map[string]int64{"email": {"completed": 41, "failed": 2}},
	}
}

func TestFormatOverview(t *testing.T) {
	ov := sampleOverview()
	out := formatOverview(&ov)
	for _, want := range []string{"running", "store unavailable", "email *", "4/4", "41", "critical queue"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatOverview() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJob(t *testing.T) {
	started := time.Now()
	j := &jobs.Job{
		ID:          "job-1",
		Queue:       "imports",
		Kind:        jobs.KindImport,
		Status:      jobs.StatusRetryPending,
		Attempts:    2,
		MaxAttempts: 5,
		LastError:   "mirror unavailable",
		Progress:    jobs.Progress{Processed: 100, Valid: 97, Invalid: 3},
		StartedAt:   &started,
		NextRunAt:   started.Add(time.Minute),
	}

	out := formatJob(j)
	for _, want := range []string{"job-1", "import", "retry_pending", "2/5", "100 processed", "Next run", "mirror unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatJob() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Finished") {
		t.Error("formatJob() shows Finished for an unfinished job")
	}

	if got := formatProgress(jobs.Progress{}); got != "-" {
		t.Errorf("formatProgress(zero) = %q", got)
	}
}

func TestReadPayload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(file, []byte(`{"workspace_id":"ws1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		stdin   string
		inline  string
		path    string
		want    string
		wantErr bool
	}{
		{name: "inline", inline: `{"a":1}`, want: `{"a":1}`},
		{name: "file", path: file, want: `{"workspace_id":"ws1"}`},
		{name: "stdin", stdin: `[1,2]`, path: "-", want: `[1,2]`},
		{name: "invalid json", inline: `{nope`, wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPayload(strings.NewReader(tt.stdin), tt.inline, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("readPayload() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCancelMessage(t *testing.T) {
	tests := []struct {
		res  store.CancelResult
		want string
	}{
		{store.CancelApplied, "cancelled"},
		{store.CancelRequested, "requested"},
		{store.CancelNoop, "nothing to cancel"},
	}
	for _, tt := range tests {
		if got := cancelMessage("j1", tt.res); !strings.Contains(got, tt.want) {
			t.Errorf("cancelMessage(%q) = %q, want containing %q", tt.res, got, tt.want)
		}
	}
}

func TestRunStatus_JSON(t *testing.T) {
	ov := sampleOverview()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queues" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(ov)
	}))
	t.Cleanup(ts.Close)

	cmd := &cobra.Command{Use: "status", RunE: runStatus}
	cmdutil.AddAddrFlag(cmd)
	cmdutil.AddJSONFlag(cmd)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	if err := cmd.PersistentFlags().Set("addr", ts.URL); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("json", "true"); err != nil {
		t.Fatal(err)
	}

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}
	var got daemon.Overview
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Counters["email"]["completed"] != 41 {
		t.Errorf("completed = %d, want 41", got.Counters["email"]["completed"])
	}
}
