package daemon

import (
	"time"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/worker"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeUnknownQueue      = "unknown_queue"
	CodeInvalidTransition = "invalid_transition"
	CodeStoreUnavailable  = "store_unavailable"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ReadyResponse is the body of /readyz: the full health report plus the
// daemon's supervised components.
type ReadyResponse struct {
	health.Report
	State   DaemonState          `json:"state"`
	Uptime  time.Duration        `json:"uptime"`
	Version string               `json:"version"`
	Jobs    map[string]JobHealth `json:"jobs,omitempty"`
}

// Overview is the body of /api/queues and the status frames of /api/stream.
type Overview struct {
	State    DaemonState                 `json:"state"`
	Uptime   time.Duration               `json:"uptime"`
	Pool     worker.PoolStatus           `json:"pool"`
	Counters map[string]map[string]int64 `json:"counters,omitempty"`
	At       time.Time                   `json:"at"`
}

// EnqueueResponse is returned for an accepted job.
type EnqueueResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	ID     string             `json:"id"`
	Result store.CancelResult `json:"result"`
}

// WorkersResponse reports the pool state after a start or stop request.
type WorkersResponse struct {
	State worker.PoolState `json:"state"`
}

// MetricResponse carries the points of one metric.
type MetricResponse struct {
	Name   string          `json:"name"`
	Hours  int             `json:"hours"`
	Points []metrics.Point `json:"points"`
}

// WindowsResponse carries fixed-window aggregates of one metric.
type WindowsResponse struct {
	Name          string           `json:"name"`
	WindowMinutes int              `json:"window_minutes"`
	Windows       []metrics.Window `json:"windows"`
}

// RecordMetricRequest records one metric point.
type RecordMetricRequest struct {
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Stream frame types.
const (
	FrameStatus = "status"
	FrameEvent  = "event"
)

// StreamFrame is one websocket message on /api/stream.
type StreamFrame struct {
	Type   string        `json:"type"`
	Status *Overview     `json:"status,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
}
