package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/handlers"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/probe"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// ComponentBuilder constructs daemon components in dependency order.
type ComponentBuilder struct {
	registry *ComponentRegistry
	cfg      *config.Config
	logger   *slog.Logger
	health   *HealthManager
	tap      *alerts.LogTap
	store    store.Store
}

// BuilderOption configures ComponentBuilder.
type BuilderOption func(*ComponentBuilder)

// WithBuilderLogger sets the logger for build operations and built components.
func WithBuilderLogger(l *slog.Logger) BuilderOption {
	return func(b *ComponentBuilder) {
		b.logger = l
	}
}

// WithLogTap uses tap as the log rule source. The tap should already be
// attached to the process logger.
func WithLogTap(tap *alerts.LogTap) BuilderOption {
	return func(b *ComponentBuilder) {
		b.tap = tap
	}
}

// WithBuilderHealth records retention sweep runs in hm.
func WithBuilderHealth(hm *HealthManager) BuilderOption {
	return func(b *ComponentBuilder) {
		b.health = hm
	}
}

// WithStore uses s instead of opening the configured store.
func WithStore(s store.Store) BuilderOption {
	return func(b *ComponentBuilder) {
		b.store = s
	}
}

// NewComponentBuilder creates a builder with registered component definitions.
func NewComponentBuilder(cfg *config.Config, opts ...BuilderOption) *ComponentBuilder {
	b := &ComponentBuilder{
		registry: NewComponentRegistry(),
		cfg:      cfg,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.registerDefinitions()
	return b
}

// Registry returns the underlying ComponentRegistry for ordering queries.
func (b *ComponentBuilder) Registry() *ComponentRegistry {
	return b.registry
}

// Build constructs all components in topological order.
// Fatal components that fail cause Build to return an error.
// Degradable components that fail are logged and skipped.
func (b *ComponentBuilder) Build(ctx context.Context) (*Runtime, error) {
	order, err := b.registry.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("failed to determine build order; %w", err)
	}

	rt := &Runtime{}
	for _, name := range order {
		def := b.registry.defs[name]
		obj, err := def.Build(ctx, rt)
		if err != nil {
			if def.Criticality == CriticalityFatal {
				return nil, fmt.Errorf("failed to build component %s; %w", name, err)
			}
			b.logger.Warn("component build failed; continuing in degraded mode",
				"component", name,
				"error", err,
			)
			continue
		}
		if obj == nil {
			continue
		}

		b.assignComponent(name, obj, rt)
		if def.Supervised {
			comp, ok := obj.(Component)
			if !ok {
				return nil, fmt.Errorf("supervised component %s does not implement Component", name)
			}
			rt.Background = append(rt.Background, supervised{def: def, comp: comp})
		}
	}

	return rt, nil
}

// assignComponent stores the built object in its Runtime field.
// Concrete types must appear before interface types in the switch.
func (b *ComponentBuilder) assignComponent(name string, obj any, rt *Runtime) {
	switch c := obj.(type) {
	case *events.EventBus:
		rt.Bus = c
	case *metrics.Collector:
		rt.Collector = c
	case *queue.Producer:
		rt.Producer = c
	case *handlers.Registry:
		rt.Handlers = c
	case *worker.Pool:
		rt.Pool = c
	case *worker.Janitor:
		rt.Janitor = c
	case *samplerComponent:
		rt.Sampler = c.Sampler
	case *alerts.LogTap:
		rt.LogTap = c
	case *alerts.HeartbeatSource:
		rt.Heartbeats = c
	case *alerts.SyntheticSource:
		rt.Synthetic = c
	case *alerts.Engine:
		rt.Engine = c
	case *alerts.RulesWatcher:
		rt.Rules = c
	case *Sweeper:
		rt.Sweeper = c
	case *health.Checker:
		rt.Checker = c
	case store.Store:
		rt.Store = c
	default:
		b.logger.Warn("unknown component type returned; ignoring", "component", name)
	}
}

// samplerComponent adapts the metrics sampler to Component.
type samplerComponent struct {
	*metrics.Sampler
}

func (samplerComponent) Name() string { return "metrics-sampler" }

// registerDefinitions populates the component registry with definitions.
func (b *ComponentBuilder) registerDefinitions() {
	cfg := b.cfg
	logger := b.logger

	b.registry.Register(ComponentDefinition{
		Name:          "bus",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			bus := events.NewBus(
				events.WithBufferSize(cfg.Daemon.EventBuffer),
				events.WithLogger(logger),
			)
			config.SetEventBus(bus)
			return bus, nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "store",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			if b.store != nil {
				return b.store, nil
			}
			return openStore(ctx, cfg.Store, cfg.Retention)
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "collector",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"store"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return metrics.NewCollector(rt.Store, metrics.WithLogger(logger)), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "producer",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"bus", "store"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return queue.NewProducer(rt.Store, cfg.QueueDefinitions(),
				queue.WithBus(rt.Bus),
				queue.WithLogger(logger),
			)
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "handlers",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"producer", "store"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return handlers.DefaultRegistry(handlers.Deps{
				Enqueuer:        rt.Producer,
				Mirror:          rt.Store,
				SendRate:        cfg.Handlers.SendRate,
				SendBurst:       cfg.Handlers.SendBurst,
				SendBatchSize:   cfg.Handlers.SendBatchSize,
				ImportBatchSize: cfg.Handlers.ImportBatchSize,
				ImportMirrorTTL: cfg.Handlers.ImportMirrorTTL,
				Logger:          logger,
			}), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "pool",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"bus", "store", "collector", "handlers"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return worker.NewPool(rt.Store, rt.Handlers, rt.Collector,
				worker.WithConfig(PoolConfig(cfg.Workers)),
				worker.WithBus(rt.Bus),
				worker.WithLogger(logger),
			), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "janitor",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartOnFailure,
		Dependencies:  []string{"bus", "store", "collector"},
		Supervised:    true,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return worker.NewJanitor(rt.Store, rt.Collector, queue.Names(cfg.QueueDefinitions()),
				worker.WithJanitorInterval(cfg.Workers.JanitorInterval),
				worker.WithLiveness(cfg.Workers.Liveness),
				worker.WithJanitorBus(rt.Bus),
				worker.WithJanitorLogger(logger),
			), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "sampler",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartOnFailure,
		Dependencies:  []string{"pool"},
		Supervised:    true,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			s := metrics.NewSampler(cfg.Metrics.CollectionInterval, logger)
			s.Register("worker-pool", rt.Pool)
			return &samplerComponent{s}, nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "logtap",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartNever,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			if b.tap != nil {
				return b.tap, nil
			}
			return alerts.NewLogTap(slog.LevelInfo, cfg.Alerts.LogRetention, 0), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "heartbeats",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"store"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return alerts.NewHeartbeatSource(rt.Store), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "synthetic",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"store", "collector", "heartbeats"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			syn := alerts.NewSyntheticSource(rt.Collector, rt.Heartbeats, cfg.Health.FullTimeout)
			syn.Register(probe.Func{ProbeName: "store", Fn: rt.Store.Ping})
			for _, dep := range cfg.Health.Dependencies {
				syn.Register(probe.NewHTTP(dep))
			}
			return syn, nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "alerts",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartOnFailure,
		Dependencies:  []string{"bus", "store", "collector", "logtap", "heartbeats", "synthetic"},
		Supervised:    true,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			return b.buildEngine(rt)
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "rules-watcher",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartOnFailure,
		Dependencies:  []string{"alerts"},
		Supervised:    true,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			if cfg.Alerts.RulesFile == "" || rt.Engine == nil {
				return nil, nil
			}
			return alerts.NewRulesWatcher(rt.Engine, config.ExpandPath(cfg.Alerts.RulesFile),
				cfg.Alerts.Rules, rt.Bus, logger), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "sweeper",
		Criticality:   CriticalityDegradable,
		RestartPolicy: RestartOnFailure,
		Dependencies:  []string{"store", "collector", "alerts"},
		Supervised:    true,
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			var pruner IncidentPruner
			if rt.Engine != nil {
				pruner = rt.Engine
			}
			return NewSweeper(SweeperConfig{
				Schedule:          cfg.Retention.Schedule,
				MetricRetention:   cfg.Metrics.Retention,
				IncidentRetention: cfg.Retention.Incidents,
				Queues:            queue.Names(cfg.QueueDefinitions()),
			}, rt.Collector, pruner, rt.Store, NewJobRunner(b.health, logger), logger), nil
		},
	})

	b.registry.Register(ComponentDefinition{
		Name:          "checker",
		Criticality:   CriticalityFatal,
		RestartPolicy: RestartNever,
		Dependencies:  []string{"store", "pool"},
		Build: func(ctx context.Context, rt *Runtime) (any, error) {
			c := health.NewChecker(rt.Store, rt.Pool, health.Config{
				QuickTimeout: cfg.Health.QuickTimeout,
				FullTimeout:  cfg.Health.FullTimeout,
				FailureRatio: cfg.Workers.FailureRatio,
			})
			for _, dep := range cfg.Health.Dependencies {
				c.AddDependency(health.Dependency{Probe: probe.NewHTTP(dep), Critical: dep.Critical})
			}
			return c, nil
		},
	})
}

// buildEngine creates the alert engine with every rule source and the
// configured notification targets. Rules from the rules file override
// configured rules with the same id; an unreadable file falls back to the
// configured rules.
func (b *ComponentBuilder) buildEngine(rt *Runtime) (*alerts.Engine, error) {
	cfg := b.cfg
	rules := cfg.Alerts.Rules
	if cfg.Alerts.RulesFile != "" {
		fileRules, err := alerts.LoadRulesFile(config.ExpandPath(cfg.Alerts.RulesFile))
		if err != nil {
			b.logger.Warn("failed to load rules file; using configured rules",
				"path", cfg.Alerts.RulesFile, "error", err)
		} else {
			rules = alerts.MergeRules(rules, fileRules)
		}
	}

	opts := []alerts.Option{
		alerts.WithBus(rt.Bus),
		alerts.WithLogger(b.logger),
		alerts.WithPollInterval(cfg.Alerts.PollInterval),
		alerts.WithSource(alerts.RuleMetric, alerts.MetricSource{Collector: rt.Collector}),
		alerts.WithNotifier(alerts.NewLogNotifier(b.logger)),
		alerts.WithNotifier(alerts.NewBusNotifier(rt.Bus)),
	}
	if rt.LogTap != nil {
		opts = append(opts, alerts.WithSource(alerts.RuleLog, alerts.LogSource{Tap: rt.LogTap}))
	}
	if rt.Heartbeats != nil {
		opts = append(opts, alerts.WithSource(alerts.RuleHeartbeat, rt.Heartbeats))
	}
	if rt.Synthetic != nil {
		opts = append(opts, alerts.WithSource(alerts.RuleSynthetic, rt.Synthetic))
	}
	for _, wh := range cfg.Alerts.Webhooks {
		opts = append(opts, alerts.WithNotifier(alerts.NewWebhookNotifier(wh, b.logger)))
	}
	return alerts.NewEngine(rt.Store, rules, opts...)
}

// openStore connects the configured store driver.
func openStore(ctx context.Context, sc config.StoreConfig, rc config.RetentionConfig) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		s := store.NewMemoryStore()
		s.SetJobTTL(rc.Jobs)
		return s, nil
	case "redis", "":
		return store.NewRedisStore(ctx, store.RedisOptions{
			URL:          sc.URL,
			PoolSize:     sc.PoolSize,
			DialTimeout:  sc.DialTimeout,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
			JobTTL:       rc.Jobs,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// PoolConfig maps the workers config section onto pool tuning.
func PoolConfig(wc config.WorkersConfig) worker.Config {
	pc := worker.DefaultConfig()
	pc.PollInterval = wc.PollInterval
	pc.HeartbeatInterval = wc.HeartbeatInterval
	pc.ShutdownTimeout = wc.ShutdownTimeout
	pc.StartTimeout = wc.StartTimeout
	pc.StatsWindow = wc.StatsWindow
	pc.MaxConsecutivePanics = wc.MaxConsecutivePanics
	return pc
}
