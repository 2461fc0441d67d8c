package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/config"
	"github.com/leefowlercu/mailroom/internal/daemon"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/version"
	"github.com/leefowlercu/mailroom/internal/worker"
)

const (
	DefaultTimeout = 5 * time.Second
	WorkersTimeout = 45 * time.Second
)

// Client provides a shared HTTP client for daemon endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithBaseURL points the client at an explicit address instead of the
// configured bind and port.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// New creates a Client using daemon configuration.
func New(cfg config.DaemonConfig, opts ...Option) *Client {
	client := &Client{
		baseURL: ResolveBaseURL(cfg),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// NewFromConfig creates a Client from the root config.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return New(cfg.Daemon, opts...), nil
}

// ResolveBaseURL builds the daemon base URL from config.
func ResolveBaseURL(cfg config.DaemonConfig) string {
	bind := NormalizeBind(cfg.HTTPBind)
	return fmt.Sprintf("http://%s:%d", bind, cfg.HTTPPort)
}

// NormalizeBind maps wildcard binds to loopback for local clients.
func NormalizeBind(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" {
		return "127.0.0.1"
	}
	if strings.Contains(bind, ":") && !strings.HasPrefix(bind, "[") {
		return "[" + bind + "]"
	}
	return bind
}

// BaseURL returns the daemon address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-success response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon request failed; status %d", e.Status)
	}
	return fmt.Sprintf("daemon request failed; %s", e.Message)
}

// Health fetches /healthz. A degraded result is returned without error.
func (c *Client) Health(ctx context.Context) (*health.QuickResult, error) {
	var res health.QuickResult
	if err := c.doJSON(ctx, http.MethodGet, "/healthz", nil, &res, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &res, nil
}

// Ready fetches /readyz. An unhealthy report is returned without error.
func (c *Client) Ready(ctx context.Context) (*daemon.ReadyResponse, error) {
	var res daemon.ReadyResponse
	if err := c.doJSON(ctx, http.MethodGet, "/readyz", nil, &res, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &res, nil
}

// Queues fetches the live overview of pool state and queue counters.
func (c *Client) Queues(ctx context.Context) (*daemon.Overview, error) {
	var ov daemon.Overview
	if err := c.doJSON(ctx, http.MethodGet, "/api/queues", nil, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// Stats fetches per-queue statistics.
func (c *Client) Stats(ctx context.Context) (map[string]worker.QueueStats, error) {
	var stats map[string]worker.QueueStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/queues/stats", nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Enqueue submits a job to the queue named in req.
func (c *Client) Enqueue(ctx context.Context, req queue.EnqueueRequest) (*daemon.EnqueueResponse, error) {
	var res daemon.EnqueueResponse
	if err := c.doJSON(ctx, http.MethodPost, queuePath(req.Queue, "jobs"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListJobs fetches up to limit jobs of a queue, newest first. A limit of
// zero uses the daemon default.
func (c *Client) ListJobs(ctx context.Context, queueName string, limit int) ([]*jobs.Job, error) {
	path := queuePath(queueName, "jobs")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list []*jobs.Job
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, queueName, id string) (*jobs.Job, error) {
	var job jobs.Job
	if err := c.doJSON(ctx, http.MethodGet, queuePath(queueName, "jobs", id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel asks the daemon to cancel a job.
func (c *Client) Cancel(ctx context.Context, queueName, id string) (*daemon.CancelResponse, error) {
	var res daemon.CancelResponse
	if err := c.doJSON(ctx, http.MethodPost, queuePath(queueName, "jobs", id, "cancel"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartWorkers starts the worker pool.
func (c *Client) StartWorkers(ctx context.Context) (*daemon.WorkersResponse, error) {
	var res daemon.WorkersResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/workers/start", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StopWorkers drains and stops the worker pool.
func (c *Client) StopWorkers(ctx context.Context) (*daemon.WorkersResponse, error) {
	var res daemon.WorkersResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/workers/stop", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Metric fetches the raw points of a metric over the last hours.
func (c *Client) Metric(ctx context.Context, name string, hours int) (*daemon.MetricResponse, error) {
	return c.metricPoints(ctx, metricPath(name), hours)
}

// Series fetches a metric averaged into hourly buckets.
func (c *Client) Series(ctx context.Context, name string, hours int) (*daemon.MetricResponse, error) {
	return c.metricPoints(ctx, metricPath(name, "series"), hours)
}

func (c *Client) metricPoints(ctx context.Context, path string, hours int) (*daemon.MetricResponse, error) {
	if hours > 0 {
		path += "?hours=" + strconv.Itoa(hours)
	}
	var res daemon.MetricResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Windows fetches count fixed windows of windowMinutes each.
func (c *Client) Windows(ctx context.Context, name string, windowMinutes, count int) (*daemon.WindowsResponse, error) {
	q := url.Values{}
	if windowMinutes > 0 {
		q.Set("window", strconv.Itoa(windowMinutes))
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	path := metricPath(name, "windows")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res daemon.WindowsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordMetric records one point for a metric.
func (c *Client) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	req := daemon.RecordMetricRequest{Value: value, Tags: tags}
	return c.doJSON(ctx, http.MethodPost, metricPath(name), req, nil)
}

// Rules fetches the alert rules with their trigger counters.
func (c *Client) Rules(ctx context.Context) ([]alerts.Rule, error) {
	var rules []alerts.Rule
	if err := c.doJSON(ctx, http.MethodGet, "/api/alerts/rules", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// Incidents fetches incidents matching filter. Since is not sent.
func (c *Client) Incidents(ctx context.Context, filter alerts.IncidentFilter) ([]*alerts.Incident, error) {
	q := url.Values{}
	if filter.State != "" {
		q.Set("state", string(filter.State))
	}
	if filter.Severity != "" {
		q.Set("severity", string(filter.Severity))
	}
	if filter.RuleID != "" {
		q.Set("rule", filter.RuleID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/alerts/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*alerts.Incident
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Incident fetches one incident.
func (c *Client) Incident(ctx context.Context, id string) (*alerts.Incident, error) {
	return c.incident(ctx, http.MethodGet, incidentPath(id))
}

// Ack acknowledges an open incident.
func (c *Client) Ack(ctx context.Context, id string) (*alerts.Incident, error) {
	return c.incident(ctx, http.MethodPost, incidentPath(id, "ack"))
}

// Resolve resolves an incident by hand.
func (c *Client) Resolve(ctx context.Context, id string) (*alerts.Incident, error) {
	return c.incident(ctx, http.MethodPost, incidentPath(id, "resolve"))
}

func (c *Client) incident(ctx context.Context, method, path string) (*alerts.Incident, error) {
	var inc alerts.Incident
	if err := c.doJSON(ctx, method, path, nil, &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

// AlertStats fetches incident statistics with the top firing rules.
func (c *Client) AlertStats(ctx context.Context, top int) (*alerts.Stats, error) {
	path := "/api/alerts/stats"
	if top > 0 {
		path += "?top=" + strconv.Itoa(top)
	}
	var stats alerts.Stats
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// StreamURL returns the websocket address of the live event stream.
func (c *Client) StreamURL() string {
	u := c.baseURL + "/api/stream"
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

func queuePath(name string, parts ...string) string {
	return joinPath("/api/queues/"+url.PathEscape(name), parts...)
}

func metricPath(name string, parts ...string) string {
	return joinPath("/api/metrics/"+url.PathEscape(name), parts...)
}

func incidentPath(id string, parts ...string) string {
	return joinPath("/api/alerts/incidents/"+url.PathEscape(id), parts...)
}

func joinPath(base string, parts ...string) string {
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

// doJSON sends in as the request body and decodes a 2xx response into out.
// Statuses listed in accept are decoded like successes.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request; %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request; %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon; %w", err)
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode, accept) {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp daemon.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response; %w", err)
	}

	return nil
}

func success(status int, accept []int) bool {
	return (status >= 200 && status < 300) || slices.Contains(accept, status)
}
