package alerts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/probe"
	"github.com/leefowlercu/mailroom/internal/store"
)

// Source observes the current value of a rule.
type Source interface {
	Observe(ctx context.Context, rule Rule) (float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, rule Rule) (float64, error)

func (f SourceFunc) Observe(ctx context.Context, rule Rule) (float64, error) { return f(ctx, rule) }

// ErrNoSource is returned when a rule's type has no registered source.
var ErrNoSource = errors.New("no source for rule type")

// MetricSource reads the latest window of a metric from the collector.
type MetricSource struct {
	Collector *metrics.Collector
}

func (s MetricSource) Observe(ctx context.Context, rule Rule) (float64, error) {
	return s.Collector.Latest(ctx, rule.Target, rule.Window())
}

// LogSource counts log records matching the rule target inside its window.
type LogSource struct {
	Tap *LogTap
}

func (s LogSource) Observe(_ context.Context, rule Rule) (float64, error) {
	m, err := ParseLogMatcher(rule.Target)
	if err != nil {
		return 0, err
	}
	return float64(s.Tap.Count(m, time.Duration(rule.Window())*time.Minute)), nil
}

// NoHeartbeat is the value a heartbeat rule observes when its target has
// never reported.
const NoHeartbeat = math.MaxInt32

// HeartbeatSource reports the seconds since the freshest heartbeat of a
// target. Targets are "queue:<name>" for the live workers of a queue, or
// "dep:<name>" for a dependency marked alive with Beat.
type HeartbeatSource struct {
	workers store.WorkerRegistry
	now     func() time.Time

	mu    sync.Mutex
	beats map[string]time.Time
}

// NewHeartbeatSource creates a HeartbeatSource reading worker registrations.
func NewHeartbeatSource(workers store.WorkerRegistry) *HeartbeatSource {
	return &HeartbeatSource{
		workers: workers,
		now:     time.Now,
		beats:   make(map[string]time.Time),
	}
}

// Beat records that the named dependency is alive.
func (s *HeartbeatSource) Beat(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats[name] = s.now()
}

func (s *HeartbeatSource) Observe(ctx context.Context, rule Rule) (float64, error) {
	kind, name, ok := strings.Cut(rule.Target, ":")
	if !ok || name == "" {
		return 0, fmt.Errorf("invalid heartbeat target %q", rule.Target)
	}

	var freshest time.Time
	switch kind {
	case "queue":
		records, err := s.workers.ListWorkers(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("failed to list workers for queue %q; %w", name, err)
		}
		for _, r := range records {
			if r.State.IsLive() && r.LastHeartbeat.After(freshest) {
				freshest = r.LastHeartbeat
			}
		}
	case "dep":
		s.mu.Lock()
		freshest = s.beats[name]
		s.mu.Unlock()
	default:
		return 0, fmt.Errorf("invalid heartbeat target %q", rule.Target)
	}

	if freshest.IsZero() {
		return NoHeartbeat, nil
	}
	return max(s.now().Sub(freshest).Seconds(), 0), nil
}

// SyntheticSource runs registered probes. A rule observes 1 when its probe
// fails and 0 when it succeeds; probe latency is recorded as a metric.
type SyntheticSource struct {
	collector  *metrics.Collector
	heartbeats *HeartbeatSource
	timeout    time.Duration

	mu     sync.RWMutex
	probes map[string]probe.Probe
}

// NewSyntheticSource creates a SyntheticSource. collector and heartbeats
// may be nil. A successful probe beats the "dep:<probe>" heartbeat.
func NewSyntheticSource(collector *metrics.Collector, heartbeats *HeartbeatSource, timeout time.Duration) *SyntheticSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SyntheticSource{
		collector:  collector,
		heartbeats: heartbeats,
		timeout:    timeout,
		probes:     make(map[string]probe.Probe),
	}
}

// Register adds a probe under its name.
func (s *SyntheticSource) Register(p probe.Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[p.Name()] = p
}

func (s *SyntheticSource) Observe(ctx context.Context, rule Rule) (float64, error) {
	s.mu.RLock()
	p, ok := s.probes[rule.Target]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("unknown probe %q", rule.Target)
	}

	res := probe.Run(ctx, p, s.timeout)
	if s.collector != nil {
		s.collector.Record(ctx, metrics.ProbeLatencyMetric(p.Name()), float64(res.Latency.Milliseconds()), nil)
	}
	if res.Err != nil {
		return 1, nil
	}
	if s.heartbeats != nil {
		s.heartbeats.Beat(p.Name())
	}
	return 0, nil
}
