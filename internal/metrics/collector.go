package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/leefowlercu/mailroom/internal/store"
)

// ErrInvalidWindow is returned for non-positive query arguments.
var ErrInvalidWindow = errors.New("window size and count must be positive")

// Point is one recorded metric sample.
type Point = store.MetricPoint

// Aggregation reduces the points of one window to a single value.
type Aggregation string

const (
	AggregateSum Aggregation = "sum"
	AggregateAvg Aggregation = "avg"
)

// Window is one fixed-width interval reduced to a single value.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// Collector records metric points in the store and answers time-range and
// fixed-window queries over them.
type Collector struct {
	store  store.MetricStore
	logger *slog.Logger
	now    func() time.Time

	mu           sync.RWMutex
	aggregations map[string]Aggregation
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// WithAggregation declares how a metric's windows are reduced.
func WithAggregation(name string, agg Aggregation) Option {
	return func(c *Collector) {
		c.aggregations[name] = agg
	}
}

// NewCollector creates a Collector on the given store.
func NewCollector(s store.MetricStore, opts ...Option) *Collector {
	c := &Collector{
		store:        s,
		logger:       slog.Default(),
		now:          time.Now,
		aggregations: make(map[string]Aggregation),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "metrics")
	return c
}

// SetAggregation declares how a metric's windows are reduced.
func (c *Collector) SetAggregation(name string, agg Aggregation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggregations[name] = agg
}

// AggregationFor returns the reduction used for name. Counters (last segment
// "count", starting with "jobs_" or ending in "_total" or "_count") are
// summed, every other metric is averaged.
func (c *Collector) AggregationFor(name string) Aggregation {
	c.mu.RLock()
	agg, ok := c.aggregations[name]
	c.mu.RUnlock()
	if ok {
		return agg
	}

	last := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		last = name[i+1:]
	}
	if last == "count" || strings.HasPrefix(last, "jobs_") || strings.HasSuffix(last, "_total") || strings.HasSuffix(last, "_count") {
		return AggregateSum
	}
	return AggregateAvg
}

// Record appends a point. It never fails the caller: store errors are
// logged and counted.
func (c *Collector) Record(ctx context.Context, name string, value float64, tags map[string]string) {
	if name == "" || math.IsNaN(value) || math.IsInf(value, 0) {
		c.logger.Warn("dropping invalid metric point", "name", name, "value", value)
		return
	}
	err := c.store.AppendPoint(ctx, Point{
		Name:      name,
		Value:     value,
		Timestamp: c.now(),
		Tags:      tags,
	})
	if err != nil {
		PointWriteErrorsTotal.Inc()
		c.logger.Warn("failed to record metric", "name", name, "error", err)
		return
	}
	PointsRecordedTotal.Inc()
}

// GetMetric returns the raw points recorded in the trailing hours.
func (c *Collector) GetMetric(ctx context.Context, name string, hours int) ([]Point, error) {
	if hours <= 0 {
		return nil, ErrInvalidWindow
	}
	now := c.now()
	pts, err := c.store.RangePoints(ctx, name, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric %q; %w", name, err)
	}
	if pts == nil {
		pts = []Point{}
	}
	return pts, nil
}

// TimeSeriesCadence returns the bucket width used for a series spanning hours.
func TimeSeriesCadence(hours int) time.Duration {
	switch {
	case hours <= 1:
		return time.Minute
	case hours <= 6:
		return 5 * time.Minute
	case hours <= 24:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// GetTimeSeriesMetric returns the trailing hours resampled to a fixed
// cadence. Each point is stamped with its bucket start; empty buckets are 0.
func (c *Collector) GetTimeSeriesMetric(ctx context.Context, name string, hours int) ([]Point, error) {
	if hours <= 0 {
		return nil, ErrInvalidWindow
	}
	cadence := TimeSeriesCadence(hours)
	count := int(time.Duration(hours) * time.Hour / cadence)

	windows, err := c.windows(ctx, name, cadence, count)
	if err != nil {
		return nil, err
	}
	series := make([]Point, len(windows))
	for i, w := range windows {
		series[i] = Point{Name: name, Value: w.Value, Timestamp: w.Start}
	}
	return series, nil
}

// GetMetricsByWindow returns exactly windowCount windows of windowMinutes
// each, right-aligned to now and ordered oldest first. A window with no
// points has value 0.
func (c *Collector) GetMetricsByWindow(ctx context.Context, name string, windowMinutes, windowCount int) ([]Window, error) {
	if windowMinutes <= 0 || windowCount <= 0 {
		return nil, ErrInvalidWindow
	}
	return c.windows(ctx, name, time.Duration(windowMinutes)*time.Minute, windowCount)
}

// Latest returns the value of the most recent window of the given width.
func (c *Collector) Latest(ctx context.Context, name string, windowMinutes int) (float64, error) {
	ws, err := c.GetMetricsByWindow(ctx, name, windowMinutes, 1)
	if err != nil {
		return 0, err
	}
	return ws[0].Value, nil
}

func (c *Collector) windows(ctx context.Context, name string, width time.Duration, count int) ([]Window, error) {
	now := c.now()
	from := now.Add(-width * time.Duration(count))

	pts, err := c.store.RangePoints(ctx, name, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric %q; %w", name, err)
	}

	windows := make([]Window, count)
	sums := make([]float64, count)
	for i := range windows {
		windows[i].Start = from.Add(width * time.Duration(i))
		windows[i].End = windows[i].Start.Add(width)
	}

	for _, p := range pts {
		age := now.Sub(p.Timestamp)
		if age < 0 {
			continue
		}
		idx := count - 1 - int(age/width)
		if idx < 0 {
			continue
		}
		sums[idx] += p.Value
		windows[idx].Count++
	}

	agg := c.AggregationFor(name)
	for i := range windows {
		switch {
		case windows[i].Count == 0:
			windows[i].Value = 0
		case agg == AggregateAvg:
			windows[i].Value = sums[i] / float64(windows[i].Count)
		default:
			windows[i].Value = sums[i]
		}
	}
	return windows, nil
}

// Names lists every metric with recorded points.
func (c *Collector) Names(ctx context.Context) ([]string, error) {
	names, err := c.store.MetricNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics; %w", err)
	}
	return names, nil
}

// Trim deletes points older than retention.
func (c *Collector) Trim(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := c.store.TrimPoints(ctx, c.now().Add(-retention))
	if err != nil {
		return n, fmt.Errorf("failed to trim metrics; %w", err)
	}
	return n, nil
}
