package daemon

import (
	"errors"
	"fmt"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/handlers"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// Runtime holds the components built for one daemon run. Fields are filled
// in build order, so a definition's Build sees the components it depends on.
type Runtime struct {
	Bus        *events.EventBus
	Store      store.Store
	Collector  *metrics.Collector
	Producer   *queue.Producer
	Handlers   *handlers.Registry
	Pool       *worker.Pool
	Janitor    *worker.Janitor
	Sampler    *metrics.Sampler
	LogTap     *alerts.LogTap
	Heartbeats *alerts.HeartbeatSource
	Synthetic  *alerts.SyntheticSource
	Engine     *alerts.Engine
	Rules      *alerts.RulesWatcher
	Sweeper    *Sweeper
	Checker    *health.Checker

	// Background lists the supervised components in build order.
	Background []supervised
}

type supervised struct {
	def  ComponentDefinition
	comp Component
}

// Close closes the event bus and the store.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Bus != nil {
		if err := rt.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus; %w", err))
		}
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store; %w", err))
		}
	}
	return errors.Join(errs...)
}
