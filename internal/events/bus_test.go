package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	stats := bus.Stats()
	if stats.SubscriberCount != 0 {
		t.Errorf("expected 0 subscribers, got %d", stats.SubscriberCount)
	}
	if stats.IsClosed {
		t.Error("expected bus to not be closed")
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	got := make(chan Event, 1)
	unsubscribe := bus.Subscribe(JobStarted, func(event Event) {
		got <- event
	})
	defer unsubscribe()

	event := NewJobEvent(JobStarted, JobEvent{Queue: "email", JobID: "j1", Kind: "bulk-send", Attempt: 1})
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case e := <-got:
		payload, ok := e.Payload.(*JobEvent)
		if !ok {
			t.Fatalf("expected *JobEvent payload, got %T", e.Payload)
		}
		if payload.JobID != "j1" || payload.Attempt != 1 {
			t.Errorf("unexpected payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_Filtering(t *testing.T) {
	tests := []struct {
		name      string
		subscribe func(b *EventBus, h EventHandler) func()
		want      int32
	}{
		{
			name:      "single type",
			subscribe: func(b *EventBus, h EventHandler) func() { return b.Subscribe(JobFailed, h) },
			want:      1,
		},
		{
			name:      "topic",
			subscribe: func(b *EventBus, h EventHandler) func() { return b.SubscribeTopic("job", h) },
			want:      3,
		},
		{
			name:      "incident topic",
			subscribe: func(b *EventBus, h EventHandler) func() { return b.SubscribeTopic("incident", h) },
			want:      1,
		},
		{
			name:      "all",
			subscribe: func(b *EventBus, h EventHandler) func() { return b.SubscribeAll(h) },
			want:      5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus()
			defer bus.Close()

			var count atomic.Int32
			unsubscribe := tt.subscribe(bus, func(Event) { count.Add(1) })
			defer unsubscribe()

			ctx := context.Background()
			bus.Publish(ctx, NewJobEvent(JobStarted, JobEvent{JobID: "a"}))
			bus.Publish(ctx, NewJobEvent(JobCompleted, JobEvent{JobID: "a"}))
			bus.Publish(ctx, NewJobEvent(JobFailed, JobEvent{JobID: "b"}))
			bus.Publish(ctx, NewIncidentEvent(IncidentOpened, IncidentEvent{IncidentID: "i1"}))
			bus.Publish(ctx, NewPoolEvent(PoolStarted, []string{"email"}, 4, nil))

			waitFor(t, func() bool { return count.Load() >= tt.want })
			time.Sleep(20 * time.Millisecond)
			if count.Load() != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, count.Load())
			}
		})
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	for i := 0; i < 3; i++ {
		unsubscribe := bus.Subscribe(IncidentResolved, func(Event) { count.Add(1) })
		defer unsubscribe()
	}

	bus.Publish(context.Background(), NewIncidentEvent(IncidentResolved, IncidentEvent{IncidentID: "i1"}))
	waitFor(t, func() bool { return count.Load() == 3 })
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	unsubscribe := bus.Subscribe(JobEnqueued, func(Event) { count.Add(1) })

	bus.Publish(context.Background(), NewJobEvent(JobEnqueued, JobEvent{JobID: "1"}))
	waitFor(t, func() bool { return count.Load() == 1 })

	unsubscribe()
	unsubscribe()

	bus.Publish(context.Background(), NewJobEvent(JobEnqueued, JobEvent{JobID: "2"}))
	time.Sleep(30 * time.Millisecond)
	if count.Load() != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count.Load())
	}
	if bus.Stats().SubscriberCount != 0 {
		t.Errorf("expected no subscribers, got %d", bus.Stats().SubscriberCount)
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe(ConfigReloaded, func(Event) { wg.Done() })
	bus.Publish(context.Background(), NewConfigReloaded("mailroom.yaml"))
	wg.Wait()

	if err := bus.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second close error: %v", err)
	}

	stats := bus.Stats()
	if !stats.IsClosed {
		t.Error("expected bus to be closed")
	}
	if stats.SubscriberCount != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", stats.SubscriberCount)
	}

	err := bus.Publish(context.Background(), NewConfigReloaded("mailroom.yaml"))
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}

	unsubscribe := bus.Subscribe(ConfigReloaded, func(Event) {
		t.Error("handler should not be called")
	})
	unsubscribe()
}

func TestBus_FullBufferDrops(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	defer bus.Close()

	blocker := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(JobStarted, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-blocker
	})

	ctx := context.Background()
	bus.Publish(ctx, NewJobEvent(JobStarted, JobEvent{JobID: "1"}))
	<-started
	bus.Publish(ctx, NewJobEvent(JobStarted, JobEvent{JobID: "2"}))
	bus.Publish(ctx, NewJobEvent(JobStarted, JobEvent{JobID: "3"}))

	stats := bus.Stats()
	if stats.Published != 3 {
		t.Errorf("expected 3 published, got %d", stats.Published)
	}
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.Dropped)
	}
	close(blocker)
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	bus.Subscribe(WorkerFailed, func(Event) {
		count.Add(1)
		panic("handler blew up")
	})

	bus.Publish(context.Background(), NewWorkerFailed("email", "w1", "panics"))
	bus.Publish(context.Background(), NewWorkerFailed("email", "w2", "panics"))
	waitFor(t, func() bool { return count.Load() == 2 })
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	bus.Subscribe(JobCompleted, func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), NewJobEvent(JobCompleted, JobEvent{}))
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return count.Load() == 100 })
}

func TestBus_Validation(t *testing.T) {
	bus := NewBus(WithValidation())
	defer bus.Close()

	ok := NewJobEvent(JobFailed, JobEvent{JobID: "1"})
	if err := bus.Publish(context.Background(), ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := NewEvent(JobFailed, &IncidentEvent{})
	if err := bus.Publish(context.Background(), bad); err == nil {
		t.Fatal("expected payload mismatch error")
	}
}

func TestEventType_Topic(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{JobEnqueued, "job"},
		{WorkerFailed, "worker"},
		{IncidentOpened, "incident"},
		{RulesReloaded, "config"},
		{EventType("bare"), "bare"},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			if got := tt.eventType.Topic(); got != tt.want {
				t.Errorf("Topic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"nil payload", NewEvent(JobStarted, nil), false},
		{"matching", NewStoreEvent(StoreUnavailable, "email", errors.New("down")), false},
		{"value instead of pointer", NewEvent(JobStarted, JobEvent{}), true},
		{"unknown type", NewEvent(EventType("nope.nope"), &JobEvent{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.event)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("ValidatePayload() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}
