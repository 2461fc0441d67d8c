package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leefowlercu/mailroom/internal/alerts"
	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/health"
	"github.com/leefowlercu/mailroom/internal/jobs"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/queue"
	"github.com/leefowlercu/mailroom/internal/store"
	"github.com/leefowlercu/mailroom/internal/version"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port int
	Bind string
	// StreamInterval is the period of status frames on /api/stream.
	StreamInterval time.Duration
}

const maxRequestBody = 1 << 20

// Server is the daemon's HTTP API. It is safe for concurrent use.
type Server struct {
	mu       sync.RWMutex
	rt       *Runtime
	health   *HealthManager
	config   ServerConfig
	logger   *slog.Logger
	state    func() DaemonState
	server   *http.Server
	listener net.Listener
	router   *chi.Mux
	stream   *StreamHub
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStateFunc reports the daemon state in status responses.
func WithStateFunc(fn func() DaemonState) ServerOption {
	return func(s *Server) {
		s.state = fn
	}
}

// NewServer creates the HTTP API over a built runtime.
func NewServer(rt *Runtime, hm *HealthManager, config ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		rt:     rt,
		health: hm,
		config: config,
		logger: slog.Default(),
		state:  func() DaemonState { return DaemonStateRunning },
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	s.stream = NewStreamHub(s.overview, config.StreamInterval, s.logger)

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/queues", s.handleQueues)
		r.Get("/queues/stats", s.handleQueueStats)
		r.Post("/queues/{queue}/jobs", s.handleEnqueue)
		r.Get("/queues/{queue}/jobs", s.handleListJobs)
		r.Get("/queues/{queue}/jobs/{id}", s.handleGetJob)
		r.Post("/queues/{queue}/jobs/{id}/cancel", s.handleCancelJob)

		r.Post("/workers/start", s.handleStartWorkers)
		r.Post("/workers/stop", s.handleStopWorkers)

		r.Get("/metrics/{name}", s.handleGetMetric)
		r.Post("/metrics/{name}", s.handleRecordMetric)
		r.Get("/metrics/{name}/series", s.handleMetricSeries)
		r.Get("/metrics/{name}/windows", s.handleMetricWindows)

		r.Get("/alerts/rules", s.handleListRules)
		r.Get("/alerts/incidents", s.handleListIncidents)
		r.Get("/alerts/incidents/{id}", s.handleGetIncident)
		r.Post("/alerts/incidents/{id}/ack", s.handleAcknowledge)
		r.Post("/alerts/incidents/{id}/resolve", s.handleResolve)
		r.Get("/alerts/stats", s.handleAlertStats)

		r.Get("/stream", s.stream.ServeHTTP)
	})
}

// Handler returns the HTTP handler for testing purposes.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Addr returns the bound listener address once Start has been called.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleHealthz answers the quick check: 200 when ok, 503 when degraded.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.rt.Checker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, CodeUnavailable, "health checker not available")
		return
	}
	res := s.rt.Checker.Quick(r.Context())
	status := http.StatusOK
	if res.Status != health.QuickOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// handleReadyz answers the full check merged with supervision state. Only
// an unhealthy report returns 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.rt.Checker == nil {
		writeJSONError(w, http.StatusServiceUnavailable, CodeUnavailable, "health checker not available")
		return
	}
	report := s.rt.Checker.Full(r.Context())
	report.Components = append(report.Components, s.health.HealthComponents()...)
	report.Status = health.Classify(report.Components)

	hs := s.health.Status()
	resp := ReadyResponse{
		Report:  report,
		State:   s.state(),
		Uptime:  hs.Uptime,
		Version: version.Get().Version,
		Jobs:    hs.Jobs,
	}

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) overview(ctx context.Context) Overview {
	ov := Overview{
		State:  s.state(),
		Uptime: s.health.Status().Uptime,
		At:     time.Now(),
	}
	if s.rt.Pool == nil {
		return ov
	}
	ov.Pool = s.rt.Pool.Status()

	ov.Counters = make(map[string]map[string]int64)
	for _, def := range s.rt.Producer.Definitions() {
		counters, err := s.rt.Store.QueueCounters(ctx, def.Name)
		if err != nil {
			s.logger.Debug("failed to read queue counters", "queue", def.Name, "error", err)
			continue
		}
		ov.Counters[def.Name] = counters
	}
	return ov
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overview(r.Context()))
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.rt.Pool.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Queue = chi.URLParam(r, "queue")

	id, err := s.rt.Producer.Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: id, Queue: req.Queue})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 0)
	if !ok {
		return
	}
	list, err := s.rt.Producer.List(r.Context(), chi.URLParam(r, "queue"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.rt.Producer.Get(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.rt.Producer.Cancel(r.Context(), chi.URLParam(r, "queue"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{ID: id, Result: res})
}

func (s *Server) handleStartWorkers(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Pool.Start(r.Context(), s.rt.Producer.Definitions()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkersResponse{State: s.rt.Pool.State()})
}

func (s *Server) handleStopWorkers(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Pool.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WorkersResponse{State: s.rt.Pool.State()})
}

func (s *Server) handleGetMetric(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, s.rt.Collector.GetMetric)
}

func (s *Server) handleMetricSeries(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, s.rt.Collector.GetTimeSeriesMetric)
}

func (s *Server) serveMetric(w http.ResponseWriter, r *http.Request, get func(context.Context, string, int) ([]metrics.Point, error)) {
	hours, ok := intParam(w, r, "hours", 24)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	points, err := get(r.Context(), name, hours)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if points == nil {
		points = []metrics.Point{}
	}
	writeJSON(w, http.StatusOK, MetricResponse{Name: name, Hours: hours, Points: points})
}

func (s *Server) handleMetricWindows(w http.ResponseWriter, r *http.Request) {
	window, ok := intParam(w, r, "window", 5)
	if !ok {
		return
	}
	count, ok := intParam(w, r, "count", 12)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	windows, err := s.rt.Collector.GetMetricsByWindow(r.Context(), name, window, count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WindowsResponse{Name: name, WindowMinutes: window, Windows: windows})
}

func (s *Server) handleRecordMetric(w http.ResponseWriter, r *http.Request) {
	var req RecordMetricRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.rt.Collector.Record(r.Context(), chi.URLParam(r, "name"), req.Value, req.Tags)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.rt.Engine.ListRules())
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	limit, ok := intParam(w, r, "limit", 0)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := alerts.IncidentFilter{
		State:    alerts.IncidentState(q.Get("state")),
		Severity: alerts.Severity(q.Get("severity")),
		RuleID:   q.Get("rule"),
		Limit:    limit,
	}
	list, err := s.rt.Engine.ListIncidents(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []*alerts.Incident{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	inc, err := s.rt.Engine.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	inc, err := s.rt.Engine.Acknowledge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	inc, err := s.rt.Engine.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireEngine(w) {
		return
	}
	top, ok := intParam(w, r, "top", 5)
	if !ok {
		return
	}
	stats, err := s.rt.Engine.GetStats(r.Context(), top)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) requireEngine(w http.ResponseWriter) bool {
	if s.rt.Engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, CodeUnavailable, "alert engine not available")
		return false
	}
	return true
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSONError(w, status, code, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrUnknownQueue):
		return http.StatusNotFound, CodeUnknownQueue
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, alerts.ErrIncidentNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, queue.ErrKindNotRouted),
		errors.Is(err, jobs.ErrUnknownKind),
		errors.Is(err, metrics.ErrInvalidWindow),
		jobs.IsPermanent(err):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, alerts.ErrInvalidTransition):
		return http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeStoreUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body; %v", err))
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid %s %q", key, raw))
		return 0, false
	}
	return n, true
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s; %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	server := s.server
	s.mu.Unlock()

	var bus events.Bus
	if s.rt.Bus != nil {
		bus = s.rt.Bus
	}
	s.stream.Start(ctx, bus)

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error; %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server and disconnects stream
// clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()

	if server == nil {
		return nil
	}

	s.stream.Stop()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server; %w", err)
	}
	return nil
}
