package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/store"
)

var (
	// ErrUnknownQueue is returned for a queue name with no definition.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrKindNotRouted is returned when a queue does not accept the job kind.
	ErrKindNotRouted = errors.New("kind not routed to queue")
)

// EnqueueRequest describes a job to add. Queue may be empty, in which case
// the job is routed by kind.
type EnqueueRequest struct {
	Queue       string          `json:"queue,omitempty"`
	Kind        jobs.Kind       `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// Producer validates and writes jobs into the store.
type Producer struct {
	store  store.JobStore
	bus    events.Bus
	defs   map[string]Definition
	order  []string
	byKind map[jobs.Kind]string
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithBus publishes job.enqueued and job.cancelled events.
func WithBus(bus events.Bus) ProducerOption {
	return func(p *Producer) {
		p.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		p.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		p.now = now
	}
}

// NewProducer creates a Producer for the given queue set.
func NewProducer(s store.JobStore, defs []Definition, opts ...ProducerOption) (*Producer, error) {
	if err := ValidateSet(defs); err != nil {
		return nil, fmt.Errorf("failed to validate queues; %w", err)
	}

	p := &Producer{
		store:  s,
		defs:   make(map[string]Definition, len(defs)),
		byKind: make(map[jobs.Kind]string),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, d := range defs {
		p.defs[d.Name] = d
		p.order = append(p.order, d.Name)
		for _, k := range d.Kinds {
			p.byKind[k] = d.Name
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "producer")
	return p, nil
}

// Definitions returns the queue definitions in configured order.
func (p *Producer) Definitions() []Definition {
	defs := make([]Definition, 0, len(p.order))
	for _, name := range p.order {
		defs = append(defs, p.defs[name])
	}
	return defs
}

// Definition returns the definition of a named queue.
func (p *Producer) Definition(name string) (Definition, bool) {
	d, ok := p.defs[name]
	return d, ok
}

// Route returns the queue a kind is routed to.
func (p *Producer) Route(kind jobs.Kind) (string, bool) {
	name, ok := p.byKind[kind]
	return name, ok
}

// Enqueue validates the payload and writes a pending job. It returns the new
// job id without waiting for any worker.
func (p *Producer) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	queueName := req.Queue
	if queueName == "" {
		name, ok := p.byKind[req.Kind]
		if !ok {
			return "", jobs.Permanent(fmt.Errorf("%w %q", jobs.ErrUnknownKind, req.Kind))
		}
		queueName = name
	}

	def, ok := p.defs[queueName]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownQueue, queueName)
	}
	if !def.Handles(req.Kind) {
		return "", fmt.Errorf("%w; %q does not accept %q", ErrKindNotRouted, queueName, req.Kind)
	}
	if _, err := jobs.Decode(req.Kind, req.Payload); err != nil {
		return "", err
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = def.MaxAttempts
	}

	job := jobs.New(p.newID(), queueName, req.Kind, req.Payload, maxAttempts, p.now())
	if err := p.store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to enqueue %s job; %w", req.Kind, err)
	}

	p.logger.Debug("job enqueued", "queue", queueName, "job_id", job.ID, "kind", req.Kind)
	p.publish(ctx, events.NewJobEvent(events.JobEnqueued, events.JobEvent{
		Queue: queueName,
		JobID: job.ID,
		Kind:  string(req.Kind),
	}))
	return job.ID, nil
}

// EnqueuePayload encodes a typed payload and enqueues it on its routed queue.
func (p *Producer) EnqueuePayload(ctx context.Context, payload jobs.Payload) (string, error) {
	raw, err := jobs.Encode(payload)
	if err != nil {
		return "", err
	}
	return p.Enqueue(ctx, EnqueueRequest{Kind: payload.Kind(), Payload: raw})
}

// Get returns one job record.
func (p *Producer) Get(ctx context.Context, queueName, id string) (*jobs.Job, error) {
	if _, ok := p.defs[queueName]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownQueue, queueName)
	}
	return p.store.GetJob(ctx, queueName, id)
}

// List returns the most recent jobs of a queue, newest first.
func (p *Producer) List(ctx context.Context, queueName string, limit int) ([]*jobs.Job, error) {
	if _, ok := p.defs[queueName]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownQueue, queueName)
	}
	if limit <= 0 {
		limit = 50
	}
	return p.store.ListJobs(ctx, queueName, limit)
}

// Cancel cancels a claimable job directly or flags a processing job for
// cooperative cancellation.
func (p *Producer) Cancel(ctx context.Context, queueName, id string) (store.CancelResult, error) {
	if _, ok := p.defs[queueName]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownQueue, queueName)
	}
	res, err := p.store.CancelJob(ctx, queueName, id, p.now())
	if err != nil {
		return "", fmt.Errorf("failed to cancel job %s; %w", id, err)
	}

	p.logger.Info("cancel requested", "queue", queueName, "job_id", id, "result", res)
	if res == store.CancelApplied {
		p.publish(ctx, events.NewJobEvent(events.JobCancelled, events.JobEvent{Queue: queueName, JobID: id}))
	}
	return res, nil
}

func (p *Producer) publish(ctx context.Context, event events.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Debug("failed to publish event", "event_type", event.Type, "error", err)
	}
}
