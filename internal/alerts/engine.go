package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/metrics"
	"github.com/leefowlercu/mailroom/internal/store"
)

// Engine evaluates rules on a schedule and owns incident state.
//
// A rule moves between not-met and met. The move into met opens an
// incident, bumps the rule's trigger count and notifies the rule's
// targets; the move out of met resolves the rule's unresolved incident.
// Evaluations that do not change the met state have no effect.
type Engine struct {
	store        store.AlertStore
	bus          events.Bus
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
	retryDelay   time.Duration

	// mu serializes evaluations and incident transitions.
	mu        sync.Mutex
	rules     map[string]Rule
	states    map[string]ruleState
	sources   map[RuleType]Source
	notifiers map[string]Notifier

	cronMu sync.Mutex
	cron   *cron.Cron
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes incident events.
func WithBus(bus events.Bus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPollInterval sets how often enabled rules are evaluated.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithRetryDelay sets the pause before the single notification retry.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.retryDelay = d
	}
}

// WithSource sets the observation source for a rule type.
func WithSource(t RuleType, s Source) Option {
	return func(e *Engine) {
		e.sources[t] = s
	}
}

// WithNotifier registers a notification target under its name.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifiers[n.Name()] = n
	}
}

// NewEngine creates an engine holding rules.
func NewEngine(s store.AlertStore, rules []Rule, opts ...Option) (*Engine, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, fmt.Errorf("failed to validate alert rules; %w", err)
	}
	e := &Engine{
		store:        s,
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: 30 * time.Second,
		retryDelay:   2 * time.Second,
		rules:        make(map[string]Rule, len(rules)),
		states:       make(map[string]ruleState),
		sources:      make(map[RuleType]Source),
		notifiers:    make(map[string]Notifier),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "alert-engine")
	for _, r := range rules {
		e.rules[r.ID] = r
	}
	return e, nil
}

// Name returns the component name.
func (e *Engine) Name() string {
	return "alert-engine"
}

// Load merges persisted rule bookkeeping onto the rule definitions and
// resets the open-incident gauge.
func (e *Engine) Load(ctx context.Context) error {
	states, err := e.store.RuleStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rule states; %w", err)
	}

	e.mu.Lock()
	for id, h := range states {
		e.states[id] = ruleStateFromHash(h)
	}
	for id, r := range e.rules {
		e.rules[id] = e.withState(r)
	}
	e.mu.Unlock()

	incidents, err := e.listIncidents(ctx)
	if err != nil {
		return err
	}
	var open int
	for _, i := range incidents {
		if i.State.Unresolved() {
			open++
		}
	}
	metrics.IncidentsOpen.Set(float64(open))
	return nil
}

func (e *Engine) withState(r Rule) Rule {
	st := e.states[r.ID]
	r.TriggerCount = st.triggerCount
	r.LastTriggeredAt = st.lastTriggeredAt
	return r
}

// SetRules replaces the rule set. Bookkeeping of rules that survive is kept.
func (e *Engine) SetRules(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return fmt.Errorf("failed to validate alert rules; %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]Rule, len(rules))
	for _, r := range rules {
		e.rules[r.ID] = e.withState(r)
	}
	e.logger.Info("alert rules updated", "count", len(rules))
	return nil
}

// ListRules returns every rule ordered by id.
func (e *Engine) ListRules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := slices.Sorted(maps.Keys(e.rules))
	out := make([]Rule, len(ids))
	for i, id := range ids {
		out[i] = e.rules[id]
	}
	return out
}

// GetRule returns one rule.
func (e *Engine) GetRule(id string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	return r, ok
}

// Start loads state and begins evaluating rules every poll interval.
func (e *Engine) Start(ctx context.Context) error {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		return nil
	}
	if err := e.Load(ctx); err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	logger := cronLogger{e.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	spec := fmt.Sprintf("@every %s", e.pollInterval)
	if _, err := c.AddFunc(spec, func() {
		if err := e.Tick(runCtx); err != nil {
			e.logger.Warn("alert evaluation finished with errors", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule alert polling; %w", err)
	}
	c.Start()
	e.cron = c
	e.logger.Info("alert engine started", "poll_interval", e.pollInterval, "rules", len(e.ListRules()))
	return nil
}

// Stop halts polling and waits for a running evaluation to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronMu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		e.logger.Info("alert engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick observes and evaluates every enabled rule once.
func (e *Engine) Tick(ctx context.Context) error {
	var errs []error
	for _, r := range e.ListRules() {
		if !r.Enabled {
			continue
		}
		src, ok := e.sources[r.Type]
		if !ok {
			metrics.RecordEvaluation(string(r.Type), false, ErrNoSource)
			errs = append(errs, fmt.Errorf("rule %q: %w %q", r.ID, ErrNoSource, r.Type))
			continue
		}
		value, err := src.Observe(ctx, r)
		if err != nil {
			metrics.RecordEvaluation(string(r.Type), false, err)
			e.logger.Debug("failed to observe rule", "rule_id", r.ID, "error", err)
			errs = append(errs, fmt.Errorf("failed to observe rule %q; %w", r.ID, err))
			continue
		}
		if _, err := e.Evaluate(ctx, r.ID, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evaluate applies one observation to a rule. It returns the incident that
// was opened or resolved by this observation, or nil when the rule's met
// state did not change.
func (e *Engine) Evaluate(ctx context.Context, ruleID string, value float64) (*Incident, error) {
	e.mu.Lock()
	rule, ok := e.rules[ruleID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w %q", ErrUnknownRule, ruleID)
	}

	met, err := rule.Operator.Compare(value, rule.Threshold)
	metrics.RecordEvaluation(string(rule.Type), met, err)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("failed to evaluate rule %q; %w", ruleID, err)
	}

	prev := e.states[ruleID]
	var inc *Incident
	switch {
	case met && !prev.met:
		inc, err = e.openLocked(ctx, rule, value)
	case !met && prev.met:
		inc, err = e.autoResolveLocked(ctx, rule)
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if inc != nil && inc.State == IncidentOpen {
		e.dispatch(ctx, inc, rule)
	}
	return inc, nil
}

func (e *Engine) openLocked(ctx context.Context, rule Rule, value float64) (*Incident, error) {
	existing, err := e.unresolvedLocked(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// The previous breach never resolved; keep it as the rule's incident.
		e.setMetLocked(ctx, rule.ID, true)
		e.logger.Warn("rule breached with an unresolved incident", "rule_id", rule.ID, "incident_id", existing.ID)
		return nil, nil
	}

	now := e.now()
	inc := &Incident{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		State:       IncidentOpen,
		Value:       value,
		TriggeredAt: now,
	}
	if err := e.store.PutAlert(ctx, inc.ID, inc.TriggeredAt, inc.toHash()); err != nil {
		return nil, fmt.Errorf("failed to record incident for rule %q; %w", rule.ID, err)
	}

	st := e.states[rule.ID]
	st.met = true
	st.triggerCount++
	st.lastTriggeredAt = &now
	if err := e.store.PutRuleState(ctx, rule.ID, st.toHash()); err != nil {
		e.logger.Warn("failed to persist rule state", "rule_id", rule.ID, "error", err)
	}
	e.states[rule.ID] = st
	e.rules[rule.ID] = e.withState(rule)

	metrics.IncidentsTotal.WithLabelValues(string(inc.Severity)).Inc()
	metrics.IncidentsOpen.Inc()
	e.logger.Warn("incident opened",
		"incident_id", inc.ID,
		"rule_id", rule.ID,
		"severity", inc.Severity,
		"value", value,
		"threshold", rule.Threshold,
	)
	e.publish(ctx, events.IncidentOpened, inc)
	return inc, nil
}

// autoResolveLocked resolves the rule's unresolved incident. The rule stays
// met until that succeeds, so a failed attempt is retried on the next
// observation instead of leaving the incident orphaned.
func (e *Engine) autoResolveLocked(ctx context.Context, rule Rule) (*Incident, error) {
	inc, err := e.unresolvedLocked(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if inc != nil {
		if err := e.resolveLocked(ctx, inc, ResolvedAuto); err != nil {
			return nil, err
		}
	}
	e.setMetLocked(ctx, rule.ID, false)
	// inc is nil when the incident was already resolved by hand.
	return inc, nil
}

// unresolvedLocked returns the open or acknowledged incident of a rule, or
// nil when it has none.
func (e *Engine) unresolvedLocked(ctx context.Context, ruleID string) (*Incident, error) {
	incidents, err := e.listIncidents(ctx)
	if err != nil {
		return nil, err
	}
	for _, inc := range incidents {
		if inc.RuleID == ruleID && inc.State.Unresolved() {
			return inc, nil
		}
	}
	return nil, nil
}

func (e *Engine) setMetLocked(ctx context.Context, ruleID string, met bool) {
	st := e.states[ruleID]
	st.met = met
	if err := e.store.PutRuleState(ctx, ruleID, st.toHash()); err != nil {
		e.logger.Warn("failed to persist rule state", "rule_id", ruleID, "error", err)
	}
	e.states[ruleID] = st
}

func (e *Engine) resolveLocked(ctx context.Context, inc *Incident, by ResolvedBy) error {
	now := e.now()
	if now.Before(inc.TriggeredAt) {
		now = inc.TriggeredAt
	}
	inc.State = IncidentResolved
	inc.ResolvedAt = &now
	inc.ResolvedBy = by
	if err := e.store.PutAlert(ctx, inc.ID, inc.TriggeredAt, inc.toHash()); err != nil {
		return fmt.Errorf("failed to resolve incident %s; %w", inc.ID, err)
	}
	metrics.IncidentsOpen.Dec()
	e.logger.Info("incident resolved", "incident_id", inc.ID, "rule_id", inc.RuleID, "resolved_by", by)
	e.publish(ctx, events.IncidentResolved, inc)
	return nil
}

// Acknowledge moves an open incident to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id string) (*Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc, err := e.getIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.State != IncidentOpen {
		return nil, fmt.Errorf("%w; incident %s is %s", ErrInvalidTransition, id, inc.State)
	}
	now := e.now()
	inc.State = IncidentAcknowledged
	inc.AcknowledgedAt = &now
	if err := e.store.PutAlert(ctx, inc.ID, inc.TriggeredAt, inc.toHash()); err != nil {
		return nil, fmt.Errorf("failed to acknowledge incident %s; %w", id, err)
	}
	e.logger.Info("incident acknowledged", "incident_id", id, "rule_id", inc.RuleID)
	e.publish(ctx, events.IncidentAcknowledged, inc)
	return inc, nil
}

// Resolve manually resolves an open or acknowledged incident.
func (e *Engine) Resolve(ctx context.Context, id string) (*Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc, err := e.getIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inc.State.Unresolved() {
		return nil, fmt.Errorf("%w; incident %s is %s", ErrInvalidTransition, id, inc.State)
	}
	if err := e.resolveLocked(ctx, inc, ResolvedManual); err != nil {
		return nil, err
	}
	return inc, nil
}

// GetIncident returns one incident.
func (e *Engine) GetIncident(ctx context.Context, id string) (*Incident, error) {
	return e.getIncident(ctx, id)
}

func (e *Engine) getIncident(ctx context.Context, id string) (*Incident, error) {
	h, err := e.store.GetAlert(ctx, id)
	if errors.Is(err, store.ErrAlertNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read incident %s; %w", id, err)
	}
	return incidentFromHash(h)
}

func (e *Engine) listIncidents(ctx context.Context) ([]*Incident, error) {
	records, err := e.store.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents; %w", err)
	}
	out := make([]*Incident, 0, len(records))
	for _, h := range records {
		inc, err := incidentFromHash(h)
		if err != nil {
			e.logger.Warn("skipping unreadable incident record", "error", err)
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

// ListIncidents returns matching incidents, newest first.
func (e *Engine) ListIncidents(ctx context.Context, f IncidentFilter) ([]*Incident, error) {
	all, err := e.listIncidents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Incident, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if f.matches(all[i]) {
			out = append(out, all[i])
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// GetStats summarizes every recorded incident. top limits TopRules; zero
// returns every rule.
func (e *Engine) GetStats(ctx context.Context, top int) (Stats, error) {
	all, err := e.listIncidents(ctx)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(all, top), nil
}

// PruneResolved deletes resolved incidents resolved before now-age.
func (e *Engine) PruneResolved(ctx context.Context, age time.Duration) (int, error) {
	all, err := e.listIncidents(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.now().Add(-age)
	var ids []string
	for _, inc := range all {
		if inc.State == IncidentResolved && inc.ResolvedAt != nil && inc.ResolvedAt.Before(cutoff) {
			ids = append(ids, inc.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.store.DeleteAlerts(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to prune incidents; %w", err)
	}
	return len(ids), nil
}

// dispatch notifies each target of the rule. A failed delivery is retried
// once; the incident is never rolled back.
func (e *Engine) dispatch(ctx context.Context, inc *Incident, rule Rule) {
	for _, target := range rule.Notify {
		n, ok := e.notifiers[target]
		if !ok {
			e.logger.Warn("unknown notification target", "target", target, "rule_id", rule.ID)
			continue
		}

		err := n.Notify(ctx, inc, rule)
		if err != nil && ctx.Err() == nil {
			e.logger.Debug("notification failed; retrying once", "target", target, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(e.retryDelay):
				err = n.Notify(ctx, inc, rule)
			}
		}
		metrics.RecordNotification(target, err)
		if err != nil {
			nerr := &NotificationError{Target: target, Err: err}
			e.logger.Error("failed to deliver notification", "incident_id", inc.ID, "error", nerr)
		}
	}
}

func (e *Engine) publish(ctx context.Context, t events.EventType, inc *Incident) {
	if e.bus == nil {
		return
	}
	at := inc.TriggeredAt
	switch {
	case inc.ResolvedAt != nil:
		at = *inc.ResolvedAt
	case inc.AcknowledgedAt != nil:
		at = *inc.AcknowledgedAt
	}
	ev := events.NewIncidentEvent(t, events.IncidentEvent{
		IncidentID: inc.ID,
		RuleID:     inc.RuleID,
		RuleName:   inc.RuleName,
		Severity:   string(inc.Severity),
		State:      string(inc.State),
		Value:      inc.Value,
		At:         at,
	})
	if err := e.bus.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Debug("failed to publish event", "event_type", t, "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
