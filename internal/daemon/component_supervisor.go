package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ComponentSupervisor starts background components, retries failed starts
// with exponential backoff according to their restart policy, and stops
// started components in reverse start order.
type ComponentSupervisor struct {
	healthUpdater HealthUpdater
	logger        *slog.Logger
	minBackoff    time.Duration
	maxBackoff    time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	started []Component
	wg      sync.WaitGroup
}

// SupervisorOption configures ComponentSupervisor.
type SupervisorOption func(*ComponentSupervisor)

// WithSupervisorLogger sets the logger for supervision.
func WithSupervisorLogger(l *slog.Logger) SupervisorOption {
	return func(s *ComponentSupervisor) {
		s.logger = l
	}
}

// WithBackoff sets the min and max backoff durations.
func WithBackoff(min, max time.Duration) SupervisorOption {
	return func(s *ComponentSupervisor) {
		s.minBackoff = min
		s.maxBackoff = max
	}
}

// NewComponentSupervisor creates a new supervisor. healthUpdater may be nil.
func NewComponentSupervisor(healthUpdater HealthUpdater, opts ...SupervisorOption) *ComponentSupervisor {
	s := &ComponentSupervisor{
		healthUpdater: healthUpdater,
		logger:        slog.Default(),
		minBackoff:    defaultMinBackoff,
		maxBackoff:    defaultMaxBackoff,
		cancels:       make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Supervise starts comp in the background. A failed start is retried with
// backoff when the definition's policy is RestartOnFailure, until ctx is
// cancelled or Cancel is called for the component.
func (s *ComponentSupervisor) Supervise(ctx context.Context, def ComponentDefinition, comp Component) {
	name := def.Name
	startCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if prev, ok := s.cancels[name]; ok {
		prev()
	}
	s.cancels[name] = cancel
	s.mu.Unlock()

	s.report(name, ComponentHealth{
		Status:      ComponentStatusStopped,
		Critical:    def.Criticality == CriticalityFatal,
		LastChecked: time.Now(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := s.minBackoff
		for {
			err := comp.Start(startCtx)
			now := time.Now()
			if err == nil {
				s.mu.Lock()
				s.started = append(s.started, comp)
				s.mu.Unlock()
				s.report(name, ComponentHealth{
					Status:      ComponentStatusRunning,
					LastChecked: now,
					LastSuccess: now,
				})
				s.logger.Debug("component started", "component", name)
				return
			}

			s.logger.Warn("component start failed", "component", name, "error", err)
			s.report(name, ComponentHealth{
				Status:      ComponentStatusFailed,
				Error:       err.Error(),
				LastChecked: now,
			})

			if def.RestartPolicy != RestartOnFailure {
				if def.Criticality == CriticalityFatal {
					s.logger.Error("fatal component failed and will not restart", "component", name, "error", err)
				}
				return
			}

			select {
			case <-startCtx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
		}
	}()
}

func (s *ComponentSupervisor) report(name string, h ComponentHealth) {
	if s.healthUpdater != nil {
		s.healthUpdater.UpdateComponentHealth(map[string]ComponentHealth{name: h})
	}
}

// Cancel stops retrying a component's start.
func (s *ComponentSupervisor) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[name]; ok {
		cancel()
		delete(s.cancels, name)
	}
}

// StopAll cancels pending retries and stops every started component in
// reverse start order. Every component is stopped even when an earlier
// Stop fails.
func (s *ComponentSupervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	started := slices.Clone(s.started)
	s.started = nil
	s.mu.Unlock()

	var errs []error
	for _, comp := range slices.Backward(started) {
		s.logger.Debug("stopping component", "component", comp.Name())
		if err := comp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s; %w", comp.Name(), err))
		}
		s.report(comp.Name(), ComponentHealth{Status: ComponentStatusStopped, LastChecked: time.Now()})
	}
	return errors.Join(errs...)
}

// SupervisedCount returns the number of components with an active
// supervision context.
func (s *ComponentSupervisor) SupervisedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}
