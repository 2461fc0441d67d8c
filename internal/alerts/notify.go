package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leefowlercu/mailroom/internal/events"
	"github.com/leefowlercu/mailroom/internal/version"
)

// Notifier delivers an opened incident to one target.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, inc *Incident, rule Rule) error
}

// NotificationError reports a delivery failure for one target.
type NotificationError struct {
	Target string
	Err    error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("failed to notify %s; %v", e.Target, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// LogNotifier writes incidents to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(ctx context.Context, inc *Incident, rule Rule) error {
	n.logger.WarnContext(ctx, "incident opened",
		"incident_id", inc.ID,
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"severity", inc.Severity,
		"value", inc.Value,
		"threshold", rule.Threshold,
		"operator", rule.Operator,
	)
	return nil
}

// BusNotifier publishes incident.notified events.
type BusNotifier struct {
	bus events.Bus
}

// NewBusNotifier creates a BusNotifier.
func NewBusNotifier(bus events.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

func (n *BusNotifier) Name() string { return "bus" }

func (n *BusNotifier) Notify(ctx context.Context, inc *Incident, rule Rule) error {
	return n.bus.Publish(ctx, events.NewIncidentEvent(events.IncidentNotified, events.IncidentEvent{
		IncidentID: inc.ID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Severity:   string(inc.Severity),
		State:      string(inc.State),
		Value:      inc.Value,
		At:         inc.TriggeredAt,
		Target:     n.Name(),
	}))
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	// BreakerFailures consecutive failures open the circuit.
	BreakerFailures uint32 `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// WebhookNotifier POSTs incidents as JSON through a circuit breaker.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

type webhookBody struct {
	Incident *Incident `json:"incident"`
	Rule     Rule      `json:"rule"`
}

// NewWebhookNotifier creates a WebhookNotifier.
func NewWebhookNotifier(cfg WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("notifier", cfg.Name)

	n := &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("webhook circuit state changed", "from", from.String(), "to", to.String())
		},
	})
	return n
}

func (n *WebhookNotifier) Name() string { return n.cfg.Name }

// State returns the circuit breaker state.
func (n *WebhookNotifier) State() gobreaker.State {
	return n.breaker.State()
}

func (n *WebhookNotifier) Notify(ctx context.Context, inc *Incident, rule Rule) error {
	body, err := json.Marshal(webhookBody{Incident: inc, Rule: rule})
	if err != nil {
		return fmt.Errorf("failed to encode webhook body; %w", err)
	}

	_, err = n.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build request; %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		for k, v := range n.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to post webhook; %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
