// Package daemon runs the mailroom queue subsystem as a long-lived process.
// It builds components in dependency order, supervises background
// components, serves the HTTP API and tracks lifecycle state.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/logging"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// DaemonState represents the lifecycle state of the daemon.
type DaemonState string

const (
	// DaemonStateStarting indicates the daemon is initializing.
	DaemonStateStarting DaemonState = "starting"

	// DaemonStateRunning indicates all components are healthy and serving.
	DaemonStateRunning DaemonState = "running"

	// DaemonStateDegraded indicates some non-critical components have failed.
	DaemonStateDegraded DaemonState = "degraded"

	// DaemonStateStopping indicates graceful shutdown is in progress.
	DaemonStateStopping DaemonState = "stopping"

	// DaemonStateStopped indicates the daemon has terminated.
	DaemonStateStopped DaemonState = "stopped"
)

// IsTerminal returns true if this state is a terminal state (no further transitions).
func (s DaemonState) IsTerminal() bool {
	return s == DaemonStateStopped
}

// CanTransitionTo returns true if transitioning to the target state is valid.
func (s DaemonState) CanTransitionTo(target DaemonState) bool {
	switch s {
	case DaemonStateStarting:
		return target == DaemonStateRunning || target == DaemonStateStopped
	case DaemonStateRunning:
		return target == DaemonStateDegraded || target == DaemonStateStopping
	case DaemonStateDegraded:
		return target == DaemonStateRunning || target == DaemonStateStopping
	case DaemonStateStopping:
		return target == DaemonStateStopped
	case DaemonStateStopped:
		return false
	default:
		return false
	}
}

const healthCheckInterval = 5 * time.Second

// Daemon is the main daemon process manager.
// It is safe for concurrent use.
type Daemon struct {
	mu     sync.RWMutex
	cfg    *config.Config
	state  DaemonState
	logger *slog.Logger
	logs   *logging.Manager
	tap    *alerts.LogTap
	store  store.Store

	health     *HealthManager
	pidFile    *PIDFile
	supervisor *ComponentSupervisor
	rt         *Runtime
	server     *Server

	healthInterval time.Duration
	reloadOnce     sync.Once
	stopOnce       sync.Once
	stopErr        error
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithDaemonLogger sets the daemon logger.
func WithDaemonLogger(l *slog.Logger) Option {
	return func(d *Daemon) {
		d.logger = l
	}
}

// WithLogManager lets configuration reloads change the process log level.
func WithLogManager(m *logging.Manager) Option {
	return func(d *Daemon) {
		d.logs = m
	}
}

// WithDaemonLogTap uses tap as the source for log alert rules.
func WithDaemonLogTap(tap *alerts.LogTap) Option {
	return func(d *Daemon) {
		d.tap = tap
	}
}

// WithDaemonStore runs on s instead of the configured store.
func WithDaemonStore(s store.Store) Option {
	return func(d *Daemon) {
		d.store = s
	}
}

// New creates a stopped Daemon for cfg.
func New(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:            cfg,
		state:          DaemonStateStopped,
		logger:         slog.Default(),
		health:         NewHealthManager(),
		pidFile:        NewPIDFile(config.ExpandPath(cfg.Daemon.PIDFile)),
		healthInterval: healthCheckInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.supervisor = NewComponentSupervisor(d.health, WithSupervisorLogger(d.logger))
	return d
}

// State returns the current daemon state.
func (d *Daemon) State() DaemonState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) setState(state DaemonState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = state
}

// transition moves to target if the state machine allows it.
func (d *Daemon) transition(target DaemonState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.CanTransitionTo(target) {
		return false
	}
	d.state = target
	return true
}

// Health returns the current aggregate health status.
func (d *Daemon) Health() HealthStatus {
	st := d.health.Status()
	st.State = d.State()
	return st
}

// Runtime returns the components of the current run, or nil before Start.
func (d *Daemon) Runtime() *Runtime {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rt
}

// Addr returns the HTTP listener address once the server is up.
func (d *Daemon) Addr() string {
	d.mu.RLock()
	srv := d.server
	d.mu.RUnlock()
	if srv == nil {
		return ""
	}
	return srv.Addr()
}

// Start claims the PID file, builds and starts every component, serves the
// HTTP API and blocks until ctx is canceled or the server fails. It then
// shuts down gracefully.
func (d *Daemon) Start(ctx context.Context) error {
	d.setState(DaemonStateStarting)

	if err := d.pidFile.CheckAndClaim(); err != nil {
		d.setState(DaemonStateStopped)
		return fmt.Errorf("failed to claim PID file; %w", err)
	}

	serverErr, err := d.startComponents(ctx)
	if err != nil {
		d.abortStart()
		return err
	}

	d.transition(DaemonStateRunning)
	notify(d.logger, sddaemon.SdNotifyReady)
	d.reloadOnce.Do(func() { config.OnReload(d.onConfigReload) })

	d.logger.Info("daemon started",
		"addr", d.Addr(),
		"queues", len(d.rt.Producer.Definitions()),
		"supervised", d.supervisor.SupervisedCount(),
	)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go d.watchHealth(watchCtx)

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			d.logger.Error("http server error", "error", err)
		}
	}

	return d.Stop()
}

// startComponents builds the runtime, starts the worker pool, hands
// background components to the supervisor and starts the HTTP server.
func (d *Daemon) startComponents(ctx context.Context) (<-chan error, error) {
	builder := NewComponentBuilder(d.cfg,
		WithBuilderLogger(d.logger),
		WithBuilderHealth(d.health),
		WithLogTap(d.tap),
		WithStore(d.store),
	)
	rt, err := builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build components; %w", err)
	}
	d.mu.Lock()
	d.rt = rt
	d.mu.Unlock()

	if err := rt.Pool.Start(ctx, rt.Producer.Definitions()); err != nil {
		return nil, fmt.Errorf("failed to start worker pool; %w", err)
	}
	now := time.Now()
	d.health.UpdateComponent(rt.Pool.Name(), ComponentHealth{
		Status:      ComponentStatusRunning,
		Critical:    true,
		LastChecked: now,
		LastSuccess: now,
	})

	for _, bg := range rt.Background {
		d.supervisor.Supervise(ctx, bg.def, bg.comp)
	}

	srv := NewServer(rt, d.health, ServerConfig{
		Port:           d.cfg.Daemon.HTTPPort,
		Bind:           d.cfg.Daemon.HTTPBind,
		StreamInterval: d.cfg.Daemon.StreamInterval,
	}, WithServerLogger(d.logger), WithStateFunc(d.State))
	d.mu.Lock()
	d.server = srv
	d.mu.Unlock()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
		close(serverErr)
	}()

	// Surface bind failures before reporting ready.
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		select {
		case err := <-serverErr:
			if err == nil {
				err = errors.New("http server exited during startup")
			}
			return nil, err
		case <-time.After(10 * time.Millisecond):
		}
	}
	return serverErr, nil
}

// abortStart releases whatever a failed Start acquired.
func (d *Daemon) abortStart() {
	ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer cancel()
	if err := d.teardown(ctx); err != nil {
		d.logger.Warn("cleanup after failed start incomplete", "error", err)
	}
	d.setState(DaemonStateStopped)
}

// Stop performs graceful shutdown of the daemon. It is safe to call more
// than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.setState(DaemonStateStopping)
		notify(d.logger, sddaemon.SdNotifyStopping)
		d.logger.Info("stopping daemon")

		ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
		defer cancel()

		d.stopErr = d.teardown(ctx)
		d.setState(DaemonStateStopped)
		if d.stopErr != nil {
			d.logger.Error("daemon stopped with errors", "error", d.stopErr)
			return
		}
		d.logger.Info("daemon stopped")
	})
	return d.stopErr
}

// teardown stops components in reverse start order and removes the PID file.
func (d *Daemon) teardown(ctx context.Context) error {
	d.mu.RLock()
	srv, rt := d.server, d.rt
	d.mu.RUnlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.supervisor.StopAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop supervised components; %w", err))
	}
	if rt != nil {
		if rt.Pool != nil {
			if err := rt.Pool.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop worker pool; %w", err))
			}
			d.health.UpdateComponent(rt.Pool.Name(), ComponentHealth{
				Status:      ComponentStatusStopped,
				LastChecked: time.Now(),
			})
		}
		if err := rt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.pidFile.Remove(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *Daemon) shutdownTimeout() time.Duration {
	if d.cfg.Daemon.ShutdownTimeout > 0 {
		return d.cfg.Daemon.ShutdownTimeout
	}
	return 30 * time.Second
}

// watchHealth moves between running and degraded as component health and
// store reachability change.
func (d *Daemon) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(d.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkHealth()
		}
	}
}

func (d *Daemon) checkHealth() {
	rt := d.Runtime()
	if rt == nil || rt.Pool == nil {
		return
	}

	now := time.Now()
	poolHealth := ComponentHealth{Status: ComponentStatusRunning, LastChecked: now, LastSuccess: now}
	switch {
	case rt.Pool.State() != worker.PoolRunning:
		poolHealth = ComponentHealth{Status: ComponentStatusStopped, Error: "workers stopped", LastChecked: now}
	case rt.Pool.StoreDegraded():
		poolHealth = ComponentHealth{Status: ComponentStatusDegraded, Error: "store unavailable", LastChecked: now}
	}
	d.health.UpdateComponent(rt.Pool.Name(), poolHealth)

	if d.health.Degraded() {
		if d.transition(DaemonStateDegraded) {
			d.logger.Warn("daemon degraded")
		}
		return
	}
	if d.transition(DaemonStateRunning) {
		d.logger.Info("daemon recovered")
	}
}

// onConfigReload applies the reloadable sections of a new configuration.
func (d *Daemon) onConfigReload(_, next *config.Config) {
	state := d.State()
	if state != DaemonStateRunning && state != DaemonStateDegraded {
		return
	}

	if d.logs != nil {
		if level, ok := logging.ParseLevel(next.Log.Level); ok && level != d.logs.Level() {
			d.logs.SetLevel(level)
			d.logger.Info("log level changed", "level", level.String())
		}
	}

	rt := d.Runtime()
	if rt == nil || rt.Engine == nil {
		return
	}
	if rt.Rules != nil {
		if err := rt.Rules.SetBase(context.Background(), next.Alerts.Rules); err != nil {
			d.logger.Warn("failed to apply reloaded alert rules", "error", err)
		}
		return
	}
	if err := rt.Engine.SetRules(next.Alerts.Rules); err != nil {
		d.logger.Warn("failed to apply reloaded alert rules", "error", err)
		return
	}
	d.logger.Info("alert rules reloaded", "rules", len(next.Alerts.Rules))
}

// notify sends a systemd readiness notification. It does nothing when the
// process was not started by systemd.
func notify(logger *slog.Logger, state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logger.Debug("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("sd_notify sent", "state", state)
	}
}
