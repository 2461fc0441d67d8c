package metrics

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leefowlercu/mailroom/internal/version"
)

// Provider is implemented by components that publish gauges on a schedule.
type Provider interface {
	// CollectMetrics samples current state and records it.
	CollectMetrics(ctx context.Context) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) error

func (f ProviderFunc) CollectMetrics(ctx context.Context) error { return f(ctx) }

// Sampler periodically polls registered providers.
type Sampler struct {
	mu        sync.RWMutex
	providers map[string]Provider
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	logger    *slog.Logger
}

// NewSampler creates a sampler polling every interval.
func NewSampler(interval time.Duration, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		providers: make(map[string]Provider),
		interval:  interval,
		logger:    logger.With("component", "metrics-sampler"),
	}
}

// Register adds a provider.
func (s *Sampler) Register(name string, p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = p
}

// Unregister removes a provider.
func (s *Sampler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providers, name)
}

// Start begins periodic sampling.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	DaemonStartTime.Set(float64(time.Now().Unix()))
	DaemonInfo.WithLabelValues(version.Get().Version, runtime.Version()).Set(1)

	s.collect(ctx)
	go s.run(ctx)
	return nil
}

// Stop halts sampling and waits for the loop to exit.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.running = false
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.collect(ctx)
		}
	}
}

func (s *Sampler) collect(ctx context.Context) {
	s.mu.RLock()
	providers := maps.Clone(s.providers)
	s.mu.RUnlock()

	for name, provider := range providers {
		if err := provider.CollectMetrics(ctx); err != nil {
			s.logger.Debug("metrics provider failed", "provider", name, "error", err)
			ComponentStatus.WithLabelValues(name).Set(0)
		} else {
			ComponentStatus.WithLabelValues(name).Set(1)
		}
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a handler for a specific registry.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordJob records one finished job attempt.
func RecordJob(queue, kind, outcome string, duration time.Duration) {
	JobsTotal.WithLabelValues(queue, kind, outcome).Inc()
	JobDuration.WithLabelValues(queue, kind).Observe(duration.Seconds())
}

// RecordReclaim records one janitor reclaim.
func RecordReclaim(queue, status string) {
	JobsReclaimedTotal.WithLabelValues(queue, status).Inc()
}

// UpdatePoolMetrics sets backlog and worker gauges for a queue.
func UpdatePoolMetrics(queue string, backlog int64, workers map[string]int) {
	QueueBacklog.WithLabelValues(queue).Set(float64(backlog))
	for state, n := range workers {
		Workers.WithLabelValues(queue, state).Set(float64(n))
	}
}

// RecordNotification records one notification delivery.
func RecordNotification(target string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	NotificationsTotal.WithLabelValues(target, outcome).Inc()
}

// RecordEvaluation records one rule evaluation.
func RecordEvaluation(ruleType string, met bool, err error) {
	result := "not_met"
	switch {
	case err != nil:
		result = "error"
	case met:
		result = "met"
	}
	AlertEvaluationsTotal.WithLabelValues(ruleType, result).Inc()
}
