package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/queue"
)

// Default configuration values.
const (
	DefaultLogLevel      = "info"
	DefaultLogFile       = "~/.config/mailroom/mailroom.log"
	DefaultLogMaxSizeMB  = 50
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 28

	DefaultDaemonHTTPPort        = 7700
	DefaultDaemonHTTPBind        = "127.0.0.1"
	DefaultDaemonShutdownTimeout = 30 * time.Second
	DefaultDaemonPIDFile         = "~/.config/mailroom/daemon.pid"
	DefaultDaemonStreamInterval  = 2 * time.Second
	DefaultDaemonEventBuffer     = 256

	DefaultStoreDriver       = "redis"
	DefaultStoreURL          = "redis://127.0.0.1:6379/0"
	DefaultStorePoolSize     = 20
	DefaultStoreDialTimeout  = 5 * time.Second
	DefaultStoreReadTimeout  = 3 * time.Second
	DefaultStoreWriteTimeout = 3 * time.Second

	DefaultWorkersPollInterval      = time.Second
	DefaultWorkersHeartbeatInterval = 5 * time.Second
	DefaultWorkersLiveness          = 2 * time.Minute
	DefaultWorkersJanitorInterval   = 30 * time.Second
	DefaultWorkersShutdownTimeout   = 30 * time.Second
	DefaultWorkersStartTimeout      = 10 * time.Second
	DefaultWorkersStatsWindow       = 15 * time.Minute
	DefaultWorkersMaxPanics         = 3
	DefaultWorkersFailureRatio      = 0.5

	DefaultMetricsCollectionInterval = 15 * time.Second
	DefaultMetricsRetention          = 7 * 24 * time.Hour

	DefaultAlertsPollInterval = 30 * time.Second
	DefaultAlertsLogRetention = time.Hour

	DefaultHealthQuickTimeout = 500 * time.Millisecond
	DefaultHealthFullTimeout  = 5 * time.Second

	DefaultHandlersSendRate        = 10.0
	DefaultHandlersSendBurst       = 5
	DefaultHandlersSendBatchSize   = 100
	DefaultHandlersImportBatchSize = 500
	DefaultHandlersImportMirrorTTL = 24 * time.Hour

	DefaultRetentionSchedule  = "@every 1h"
	DefaultRetentionJobs      = 7 * 24 * time.Hour
	DefaultRetentionIncidents = 30 * 24 * time.Hour
)

// NewDefaultConfig returns a Config populated with every default.
func NewDefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:      DefaultLogLevel,
			File:       DefaultLogFile,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Daemon: DaemonConfig{
			HTTPPort:        DefaultDaemonHTTPPort,
			HTTPBind:        DefaultDaemonHTTPBind,
			ShutdownTimeout: DefaultDaemonShutdownTimeout,
			PIDFile:         DefaultDaemonPIDFile,
			StreamInterval:  DefaultDaemonStreamInterval,
			EventBuffer:     DefaultDaemonEventBuffer,
		},
		Store: StoreConfig{
			Driver:       DefaultStoreDriver,
			URL:          DefaultStoreURL,
			PoolSize:     DefaultStorePoolSize,
			DialTimeout:  DefaultStoreDialTimeout,
			ReadTimeout:  DefaultStoreReadTimeout,
			WriteTimeout: DefaultStoreWriteTimeout,
		},
		Queues: QueueConfigs(queue.DefaultDefinitions()),
		Workers: WorkersConfig{
			PollInterval:         DefaultWorkersPollInterval,
			HeartbeatInterval:    DefaultWorkersHeartbeatInterval,
			Liveness:             DefaultWorkersLiveness,
			JanitorInterval:      DefaultWorkersJanitorInterval,
			ShutdownTimeout:      DefaultWorkersShutdownTimeout,
			StartTimeout:         DefaultWorkersStartTimeout,
			StatsWindow:          DefaultWorkersStatsWindow,
			MaxConsecutivePanics: DefaultWorkersMaxPanics,
			FailureRatio:         DefaultWorkersFailureRatio,
		},
		Metrics: MetricsConfig{
			CollectionInterval: DefaultMetricsCollectionInterval,
			Retention:          DefaultMetricsRetention,
		},
		Alerts: AlertsConfig{
			PollInterval: DefaultAlertsPollInterval,
			Rules:        alerts.DefaultRules(),
			LogRetention: DefaultAlertsLogRetention,
		},
		Health: HealthConfig{
			QuickTimeout: DefaultHealthQuickTimeout,
			FullTimeout:  DefaultHealthFullTimeout,
		},
		Handlers: HandlersConfig{
			SendRate:        DefaultHandlersSendRate,
			SendBurst:       DefaultHandlersSendBurst,
			SendBatchSize:   DefaultHandlersSendBatchSize,
			ImportBatchSize: DefaultHandlersImportBatchSize,
			ImportMirrorTTL: DefaultHandlersImportMirrorTTL,
		},
		Retention: RetentionConfig{
			Schedule:  DefaultRetentionSchedule,
			Jobs:      DefaultRetentionJobs,
			Incidents: DefaultRetentionIncidents,
		},
	}
}

// setViperDefaults registers scalar defaults with a viper instance. List
// sections (queues, alert rules) are filled after unmarshalling when the
// file leaves them empty.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)

	v.SetDefault("daemon.http_port", DefaultDaemonHTTPPort)
	v.SetDefault("daemon.http_bind", DefaultDaemonHTTPBind)
	v.SetDefault("daemon.shutdown_timeout", DefaultDaemonShutdownTimeout)
	v.SetDefault("daemon.pid_file", DefaultDaemonPIDFile)
	v.SetDefault("daemon.stream_interval", DefaultDaemonStreamInterval)
	v.SetDefault("daemon.event_buffer", DefaultDaemonEventBuffer)

	v.SetDefault("store.driver", DefaultStoreDriver)
	v.SetDefault("store.url", DefaultStoreURL)
	v.SetDefault("store.pool_size", DefaultStorePoolSize)
	v.SetDefault("store.dial_timeout", DefaultStoreDialTimeout)
	v.SetDefault("store.read_timeout", DefaultStoreReadTimeout)
	v.SetDefault("store.write_timeout", DefaultStoreWriteTimeout)

	v.SetDefault("workers.poll_interval", DefaultWorkersPollInterval)
	v.SetDefault("workers.heartbeat_interval", DefaultWorkersHeartbeatInterval)
	v.SetDefault("workers.liveness", DefaultWorkersLiveness)
	v.SetDefault("workers.janitor_interval", DefaultWorkersJanitorInterval)
	v.SetDefault("workers.shutdown_timeout", DefaultWorkersShutdownTimeout)
	v.SetDefault("workers.start_timeout", DefaultWorkersStartTimeout)
	v.SetDefault("workers.stats_window", DefaultWorkersStatsWindow)
	v.SetDefault("workers.max_consecutive_panics", DefaultWorkersMaxPanics)
	v.SetDefault("workers.failure_ratio", DefaultWorkersFailureRatio)

	v.SetDefault("metrics.collection_interval", DefaultMetricsCollectionInterval)
	v.SetDefault("metrics.retention", DefaultMetricsRetention)

	v.SetDefault("alerts.poll_interval", DefaultAlertsPollInterval)
	v.SetDefault("alerts.rules_file", "")
	v.SetDefault("alerts.log_retention", DefaultAlertsLogRetention)

	v.SetDefault("health.quick_timeout", DefaultHealthQuickTimeout)
	v.SetDefault("health.full_timeout", DefaultHealthFullTimeout)

	v.SetDefault("handlers.send_rate", DefaultHandlersSendRate)
	v.SetDefault("handlers.send_burst", DefaultHandlersSendBurst)
	v.SetDefault("handlers.send_batch_size", DefaultHandlersSendBatchSize)
	v.SetDefault("handlers.import_batch_size", DefaultHandlersImportBatchSize)
	v.SetDefault("handlers.import_mirror_ttl", DefaultHandlersImportMirrorTTL)

	v.SetDefault("retention.schedule", DefaultRetentionSchedule)
	v.SetDefault("retention.jobs", DefaultRetentionJobs)
	v.SetDefault("retention.incidents", DefaultRetentionIncidents)
}

// applyListDefaults fills list sections left empty by the config file.
func applyListDefaults(cfg *Config) {
	if len(cfg.Queues) == 0 {
		cfg.Queues = QueueConfigs(queue.DefaultDefinitions())
	}
	if len(cfg.Alerts.Rules) == 0 && cfg.Alerts.RulesFile == "" {
		cfg.Alerts.Rules = alerts.DefaultRules()
	}
}
