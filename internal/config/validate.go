package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/logging"
	"github.com/leefowlercu/mailroom/internal/queue"
)

// ValidationError represents a config validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation failures.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("config validation failed:\n")
	for _, err := range e {
		b.WriteString("  - ")
		b.WriteString(err.Error())
		b.WriteString("\n")
	}
	return b.String()
}

var validStoreDrivers = map[string]bool{
	"redis":  true,
	"memory": true,
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.add(field, "must be a positive duration, got %s", d)
	}
}

func (v *validator) notEmpty(field, value string) {
	if value == "" {
		v.add(field, "must not be empty")
	}
}

// Validate checks the configuration for errors.
// Returns ValidationErrors if validation fails.
func Validate(cfg *Config) error {
	v := &validator{}

	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		v.add("log.level", "must be one of: debug, info, warn, error; got %q", cfg.Log.Level)
	}
	if cfg.Log.MaxSizeMB < 1 {
		v.add("log.max_size_mb", "must be at least 1, got %d", cfg.Log.MaxSizeMB)
	}
	if cfg.Log.MaxBackups < 0 {
		v.add("log.max_backups", "must be non-negative, got %d", cfg.Log.MaxBackups)
	}

	if cfg.Daemon.HTTPPort < 1 || cfg.Daemon.HTTPPort > 65535 {
		v.add("daemon.http_port", "must be between 1 and 65535, got %d", cfg.Daemon.HTTPPort)
	}
	v.notEmpty("daemon.http_bind", cfg.Daemon.HTTPBind)
	v.notEmpty("daemon.pid_file", cfg.Daemon.PIDFile)
	if cfg.Daemon.ShutdownTimeout < time.Second {
		v.add("daemon.shutdown_timeout", "must be at least 1s, got %s", cfg.Daemon.ShutdownTimeout)
	}
	v.positive("daemon.stream_interval", cfg.Daemon.StreamInterval)

	if !validStoreDrivers[cfg.Store.Driver] {
		v.add("store.driver", "must be one of: redis, memory; got %q", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "redis" {
		if u, err := url.Parse(cfg.Store.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			v.add("store.url", "must be a redis:// or rediss:// URL, got %q", cfg.Store.URL)
		}
	}

	if len(cfg.Queues) == 0 {
		v.add("queues", "at least one queue is required")
	} else if err := queue.ValidateSet(cfg.QueueDefinitions()); err != nil {
		v.add("queues", "%v", err)
	}

	v.positive("workers.poll_interval", cfg.Workers.PollInterval)
	v.positive("workers.heartbeat_interval", cfg.Workers.HeartbeatInterval)
	v.positive("workers.janitor_interval", cfg.Workers.JanitorInterval)
	if cfg.Workers.Liveness <= cfg.Workers.HeartbeatInterval {
		v.add("workers.liveness", "must exceed workers.heartbeat_interval (%s), got %s",
			cfg.Workers.HeartbeatInterval, cfg.Workers.Liveness)
	}
	if cfg.Workers.FailureRatio <= 0 || cfg.Workers.FailureRatio > 1 {
		v.add("workers.failure_ratio", "must be in (0, 1], got %g", cfg.Workers.FailureRatio)
	}

	v.positive("metrics.collection_interval", cfg.Metrics.CollectionInterval)
	v.positive("metrics.retention", cfg.Metrics.Retention)

	v.positive("alerts.poll_interval", cfg.Alerts.PollInterval)
	if err := alerts.ValidateRules(cfg.Alerts.Rules); err != nil {
		v.add("alerts.rules", "%v", err)
	}
	seen := make(map[string]bool)
	for i, w := range cfg.Alerts.Webhooks {
		field := fmt.Sprintf("alerts.webhooks[%d]", i)
		if w.Name == "" {
			v.add(field+".name", "must not be empty")
		} else if seen[w.Name] || w.Name == "log" || w.Name == "bus" {
			v.add(field+".name", "duplicate or reserved notifier name %q", w.Name)
		}
		seen[w.Name] = true
		if u, err := url.Parse(w.URL); err != nil || u.Scheme == "" || u.Host == "" {
			v.add(field+".url", "must be an absolute URL, got %q", w.URL)
		}
	}

	v.positive("health.quick_timeout", cfg.Health.QuickTimeout)
	v.positive("health.full_timeout", cfg.Health.FullTimeout)
	for i, d := range cfg.Health.Dependencies {
		field := fmt.Sprintf("health.dependencies[%d]", i)
		v.notEmpty(field+".name", d.Name)
		if u, err := url.Parse(d.URL); err != nil || u.Scheme == "" || u.Host == "" {
			v.add(field+".url", "must be an absolute URL, got %q", d.URL)
		}
	}

	if cfg.Handlers.SendRate < 0 {
		v.add("handlers.send_rate", "must be non-negative, got %g", cfg.Handlers.SendRate)
	}
	if cfg.Handlers.SendBatchSize < 1 {
		v.add("handlers.send_batch_size", "must be at least 1, got %d", cfg.Handlers.SendBatchSize)
	}
	if cfg.Handlers.ImportBatchSize < 1 {
		v.add("handlers.import_batch_size", "must be at least 1, got %d", cfg.Handlers.ImportBatchSize)
	}

	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		v.add("retention.schedule", "invalid schedule %q: %v", cfg.Retention.Schedule, err)
	}
	v.positive("retention.jobs", cfg.Retention.Jobs)
	v.positive("retention.incidents", cfg.Retention.Incidents)

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
