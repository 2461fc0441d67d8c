package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/store"
)

func bulkSendPayload(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := jobs.Encode(&jobs.BulkSendPayload{
		WorkspaceID: "ws-1",
		CampaignID:  "c-1",
		TemplateID:  "t-1",
		Recipients:  []string{"a@example.com"},
	})
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	return raw
}

func newTestProducer(t *testing.T, opts ...ProducerOption) (*Producer, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	p, err := NewProducer(s, DefaultDefinitions(), opts...)
	if err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}
	return p, s
}

func TestDefaultDefinitions_Valid(t *testing.T) {
	defs := DefaultDefinitions()
	if err := ValidateSet(defs); err != nil {
		t.Fatalf("ValidateSet() error = %v", err)
	}

	want := map[string]struct {
		concurrency int
		attempts    int
		critical    bool
	}{
		Email:      {4, 3, true},
		Imports:    {2, 3, true},
		Automation: {2, 5, false},
	}
	for _, d := range defs {
		w, ok := want[d.Name]
		if !ok {
			t.Errorf("unexpected queue %q", d.Name)
			continue
		}
		if d.Concurrency != w.concurrency || d.MaxAttempts != w.attempts || d.Critical != w.critical {
			t.Errorf("queue %q = %+v, want %+v", d.Name, d, w)
		}
	}
}

func TestValidateSet(t *testing.T) {
	base := DefaultDefinitions()

	dupName := append(DefaultDefinitions(), base[0])

	dupKind := DefaultDefinitions()
	dupKind[2].Kinds = append(dupKind[2].Kinds, jobs.KindBulkSend)

	badBackoff := DefaultDefinitions()
	badBackoff[0].Backoff = jobs.Backoff{Base: time.Minute, Max: time.Second}

	badKind := DefaultDefinitions()
	badKind[1].Kinds = []jobs.Kind{"fax"}

	tests := []struct {
		name    string
		defs    []Definition
		wantErr bool
	}{
		{"defaults", base, false},
		{"empty", nil, true},
		{"duplicate name", dupName, true},
		{"kind on two queues", dupKind, true},
		{"inverted backoff", badBackoff, true},
		{"unknown kind", badKind, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSet(tt.defs)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSet() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProducer_EnqueueRoutesByKind(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan events.Event, 1)
	bus.Subscribe(events.JobEnqueued, func(e events.Event) { got <- e })

	p, s := newTestProducer(t, WithBus(bus))
	ctx := context.Background()

	id, err := p.Enqueue(ctx, EnqueueRequest{Kind: jobs.KindBulkSend, Payload: bulkSendPayload(t)})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	job, err := s.GetJob(ctx, Email, id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != jobs.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want queue default 3", job.MaxAttempts)
	}

	select {
	case e := <-got:
		if e.Payload.(*events.JobEvent).JobID != id {
			t.Errorf("event job id = %s, want %s", e.Payload.(*events.JobEvent).JobID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("job.enqueued not published")
	}
}

func TestProducer_EnqueueRejects(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     EnqueueRequest
		wantErr error
		perm    bool
	}{
		{
			name:    "unknown queue",
			req:     EnqueueRequest{Queue: "sms", Kind: jobs.KindBulkSend, Payload: bulkSendPayload(t)},
			wantErr: ErrUnknownQueue,
		},
		{
			name:    "kind not routed",
			req:     EnqueueRequest{Queue: Automation, Kind: jobs.KindBulkSend, Payload: bulkSendPayload(t)},
			wantErr: ErrKindNotRouted,
		},
		{
			name:    "unknown kind",
			req:     EnqueueRequest{Kind: "fax", Payload: json.RawMessage(`{}`)},
			wantErr: jobs.ErrUnknownKind,
			perm:    true,
		},
		{
			name: "invalid payload",
			req:  EnqueueRequest{Kind: jobs.KindBulkSend, Payload: json.RawMessage(`{"workspace_id":""}`)},
			perm: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Enqueue(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.perm && !jobs.IsPermanent(err) {
				t.Errorf("expected permanent error, got %v", err)
			}
		})
	}
}

func TestProducer_EnqueuePayload(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	id, err := p.EnqueuePayload(ctx, &jobs.ImportPayload{
		WorkspaceID: "ws-1",
		ListID:      "l-1",
		UploadID:    "u-1",
		SourcePath:  "/tmp/contacts.csv",
	})
	if err != nil {
		t.Fatalf("EnqueuePayload() error = %v", err)
	}

	job, err := p.Get(ctx, Imports, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Kind != jobs.KindImport {
		t.Errorf("kind = %s, want import", job.Kind)
	}
}

func TestProducer_CancelPending(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	id, err := p.Enqueue(ctx, EnqueueRequest{Kind: jobs.KindBulkSend, Payload: bulkSendPayload(t)})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	res, err := p.Cancel(ctx, Email, id)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if res != store.CancelApplied {
		t.Errorf("Cancel() = %s, want %s", res, store.CancelApplied)
	}

	job, _ := p.Get(ctx, Email, id)
	if job.Status != jobs.StatusCancelled || job.FinishedAt == nil {
		t.Errorf("job = %+v, want cancelled with finished_at", job)
	}

	res, err = p.Cancel(ctx, Email, id)
	if err != nil || res != store.CancelNoop {
		t.Errorf("second Cancel() = %s, %v; want noop", res, err)
	}
}

func TestProducer_List(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Enqueue(ctx, EnqueueRequest{Kind: jobs.KindBulkSend, Payload: bulkSendPayload(t)}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	list, err := p.List(ctx, Email, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List() returned %d jobs, want 2", len(list))
	}

	if _, err := p.List(ctx, "nope", 10); !errors.Is(err, ErrUnknownQueue) {
		t.Errorf("List(unknown) error = %v, want ErrUnknownQueue", err)
	}
}
