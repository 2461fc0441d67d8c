package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweeperConfig configures the retention sweeper.
type SweeperConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1h".
	Schedule          string
	MetricRetention   time.Duration
	IncidentRetention time.Duration
	Queues            []string
}

// MetricTrimmer deletes metric points older than a retention period.
type MetricTrimmer interface {
	Trim(ctx context.Context, retention time.Duration) (int64, error)
}

// IncidentPruner deletes resolved incidents older than an age.
type IncidentPruner interface {
	PruneResolved(ctx context.Context, age time.Duration) (int, error)
}

// IndexPruner drops job index entries whose record has expired.
type IndexPruner interface {
	PruneJobIndex(ctx context.Context, queue string) (int64, error)
}

// Sweeper runs the retention job on a cron schedule.
type Sweeper struct {
	cfg       SweeperConfig
	metrics   MetricTrimmer
	incidents IncidentPruner
	index     IndexPruner
	runner    *JobRunner
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper. Any of metrics, incidents and index may be
// nil, which skips that part of the sweep.
func NewSweeper(cfg SweeperConfig, m MetricTrimmer, inc IncidentPruner, idx IndexPruner, runner *JobRunner, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewJobRunner(nil, logger)
	}
	return &Sweeper{
		cfg:       cfg,
		metrics:   m,
		incidents: inc,
		index:     idx,
		runner:    runner,
		logger:    logger.With("component", "retention-sweeper"),
	}
}

// Name returns the component name.
func (s *Sweeper) Name() string {
	return "retention-sweeper"
}

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	logger := sweeperCronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce(runCtx) }); err != nil {
		return fmt.Errorf("failed to schedule retention sweep %q; %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("retention sweeper started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep. Every part runs even when an earlier part
// fails; a sweep with some failures is partial.
func (s *Sweeper) RunOnce(ctx context.Context) RunResult {
	return s.runner.Run(ctx, s.Name(), func(ctx context.Context) RunResult {
		res := RunResult{Counts: map[string]int{}}
		var errs []error

		if s.metrics != nil && s.cfg.MetricRetention > 0 {
			n, err := s.metrics.Trim(ctx, s.cfg.MetricRetention)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to trim metrics; %w", err))
			}
			res.Counts["metric_points"] = int(n)
		}

		if s.incidents != nil && s.cfg.IncidentRetention > 0 {
			n, err := s.incidents.PruneResolved(ctx, s.cfg.IncidentRetention)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to prune incidents; %w", err))
			}
			res.Counts["incidents"] = n
		}

		if s.index != nil {
			var total int64
			for _, q := range s.cfg.Queues {
				n, err := s.index.PruneJobIndex(ctx, q)
				if err != nil {
					errs = append(errs, fmt.Errorf("failed to prune job index for queue %q; %w", q, err))
					continue
				}
				total += n
			}
			res.Counts["job_index"] = int(total)
		}

		switch {
		case len(errs) == 0:
			res.Status = RunSuccess
		case len(errs) < s.parts():
			res.Status = RunPartial
		default:
			res.Status = RunFailed
		}
		if err := errors.Join(errs...); err != nil {
			res.Error = strings.ReplaceAll(err.Error(), "\n", "; ")
		}
		return res
	})
}

func (s *Sweeper) parts() int {
	n := 0
	if s.metrics != nil && s.cfg.MetricRetention > 0 {
		n++
	}
	if s.incidents != nil && s.cfg.IncidentRetention > 0 {
		n++
	}
	if s.index != nil {
		n += len(s.cfg.Queues)
	}
	return n
}

type sweeperCronLogger struct {
	logger *slog.Logger
}

func (l sweeperCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l sweeperCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
