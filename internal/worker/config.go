// Package worker runs the worker loops that claim and execute queued jobs,
// and the janitor that reclaims jobs abandoned by dead workers.
package worker

import (
	"log/slog"
	"time"

	"github.com/leefowlercu/mailroom/internal/events"
)

// Config tunes the worker pool.
type Config struct {
	// PollInterval is the sleep between claims on an empty queue.
	PollInterval time.Duration
	// HeartbeatInterval is how often a busy worker refreshes its job and
	// how often an idle worker refreshes its registration.
	HeartbeatInterval time.Duration
	// ShutdownTimeout bounds the drain phase of Stop.
	ShutdownTimeout time.Duration
	// ForceGrace is how long Stop waits after cancelling in-flight handlers.
	ForceGrace time.Duration
	// StartTimeout bounds the wait for one worker to register.
	StartTimeout time.Duration
	// StoreBackoffMax caps the pause between claims while the store is down.
	StoreBackoffMax time.Duration
	// StatsWindow is the trailing window used by Stats.
	StatsWindow time.Duration
	// MaxConsecutivePanics marks a worker failed after this many handler
	// panics in a row. Zero disables the check.
	MaxConsecutivePanics int
	// RespawnFailed replaces workers marked failed while the pool runs.
	RespawnFailed bool
}

// DefaultConfig returns the default pool tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:         time.Second,
		HeartbeatInterval:    5 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		ForceGrace:           5 * time.Second,
		StartTimeout:         10 * time.Second,
		StoreBackoffMax:      30 * time.Second,
		StatsWindow:          15 * time.Minute,
		MaxConsecutivePanics: 3,
		RespawnFailed:        true,
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithConfig sets the pool tuning. Zero durations keep their defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pool) {
		def := DefaultConfig()
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.HeartbeatInterval <= 0 {
			cfg.HeartbeatInterval = def.HeartbeatInterval
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = def.ShutdownTimeout
		}
		if cfg.ForceGrace <= 0 {
			cfg.ForceGrace = def.ForceGrace
		}
		if cfg.StartTimeout <= 0 {
			cfg.StartTimeout = def.StartTimeout
		}
		if cfg.StoreBackoffMax < cfg.PollInterval {
			cfg.StoreBackoffMax = max(def.StoreBackoffMax, cfg.PollInterval)
		}
		if cfg.StatsWindow < time.Minute {
			cfg.StatsWindow = def.StatsWindow
		}
		p.cfg = cfg
	}
}

// WithBus publishes job and worker events.
func WithBus(bus events.Bus) Option {
	return func(p *Pool) {
		p.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithHostname sets the host recorded on worker registrations.
func WithHostname(host string) Option {
	return func(p *Pool) {
		p.host = host
	}
}
