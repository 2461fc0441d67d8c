package config

import (
	"time"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/probe"
)

// Config is the root configuration structure for the application.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Daemon    DaemonConfig    `yaml:"daemon" mapstructure:"daemon"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Queues    []QueueConfig   `yaml:"queues" mapstructure:"queues"`
	Workers   WorkersConfig   `yaml:"workers" mapstructure:"workers"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Health    HealthConfig    `yaml:"health" mapstructure:"health"`
	Handlers  HandlersConfig  `yaml:"handlers" mapstructure:"handlers"`
	Retention RetentionConfig `yaml:"retention" mapstructure:"retention"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DaemonConfig holds daemon-related configuration.
type DaemonConfig struct {
	HTTPPort        int           `yaml:"http_port" mapstructure:"http_port"`
	HTTPBind        string        `yaml:"http_bind" mapstructure:"http_bind"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	PIDFile         string        `yaml:"pid_file" mapstructure:"pid_file"`
	StreamInterval  time.Duration `yaml:"stream_interval" mapstructure:"stream_interval"`
	EventBuffer     int           `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// StoreConfig holds the queue store connection settings. An empty URL with
// Driver "memory" runs on the in-process store.
type StoreConfig struct {
	Driver       string        `yaml:"driver" mapstructure:"driver"`
	URL          string        `yaml:"url" mapstructure:"url"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// QueueConfig declares one named queue.
type QueueConfig struct {
	Name            string        `yaml:"name" mapstructure:"name"`
	Kinds           []string      `yaml:"kinds,flow" mapstructure:"kinds"`
	Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
	Critical        bool          `yaml:"critical" mapstructure:"critical"`
	BacklogWarn     int64         `yaml:"backlog_warn" mapstructure:"backlog_warn"`
	BacklogCritical int64         `yaml:"backlog_critical" mapstructure:"backlog_critical"`
}

// WorkersConfig tunes the worker pool and janitor.
type WorkersConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	Liveness             time.Duration `yaml:"liveness" mapstructure:"liveness"`
	JanitorInterval      time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	StartTimeout         time.Duration `yaml:"start_timeout" mapstructure:"start_timeout"`
	StatsWindow          time.Duration `yaml:"stats_window" mapstructure:"stats_window"`
	MaxConsecutivePanics int           `yaml:"max_consecutive_panics" mapstructure:"max_consecutive_panics"`
	FailureRatio         float64       `yaml:"failure_ratio" mapstructure:"failure_ratio"`
}

// MetricsConfig holds metrics collection configuration.
type MetricsConfig struct {
	CollectionInterval time.Duration `yaml:"collection_interval" mapstructure:"collection_interval"`
	Retention          time.Duration `yaml:"retention" mapstructure:"retention"`
}

// AlertsConfig holds the alert engine configuration.
type AlertsConfig struct {
	PollInterval time.Duration          `yaml:"poll_interval" mapstructure:"poll_interval"`
	RulesFile    string                 `yaml:"rules_file" mapstructure:"rules_file"`
	Rules        []alerts.Rule          `yaml:"rules" mapstructure:"rules"`
	Webhooks     []alerts.WebhookConfig `yaml:"webhooks" mapstructure:"webhooks"`
	LogRetention time.Duration          `yaml:"log_retention" mapstructure:"log_retention"`
}

// HealthConfig holds the health checker configuration.
type HealthConfig struct {
	QuickTimeout time.Duration  `yaml:"quick_timeout" mapstructure:"quick_timeout"`
	FullTimeout  time.Duration  `yaml:"full_timeout" mapstructure:"full_timeout"`
	Dependencies []probe.Config `yaml:"dependencies" mapstructure:"dependencies"`
}

// HandlersConfig tunes the built-in job handlers.
type HandlersConfig struct {
	SendRate        float64       `yaml:"send_rate" mapstructure:"send_rate"`
	SendBurst       int           `yaml:"send_burst" mapstructure:"send_burst"`
	SendBatchSize   int           `yaml:"send_batch_size" mapstructure:"send_batch_size"`
	ImportBatchSize int           `yaml:"import_batch_size" mapstructure:"import_batch_size"`
	ImportMirrorTTL time.Duration `yaml:"import_mirror_ttl" mapstructure:"import_mirror_ttl"`
}

// RetentionConfig holds the retention sweep configuration.
type RetentionConfig struct {
	Schedule  string        `yaml:"schedule" mapstructure:"schedule"`
	Jobs      time.Duration `yaml:"jobs" mapstructure:"jobs"`
	Incidents time.Duration `yaml:"incidents" mapstructure:"incidents"`
}
