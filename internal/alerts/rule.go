// Package alerts evaluates alert rules against metrics, logs, heartbeats
// and synthetic probes, tracks the resulting incidents, and notifies
// configured targets when an incident opens.
package alerts

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// RuleType selects the observation source of a rule.
type RuleType string

const (
	RuleMetric    RuleType = "metric"
	RuleLog       RuleType = "log"
	RuleHeartbeat RuleType = "heartbeat"
	RuleSynthetic RuleType = "synthetic"
)

// Operator compares an observed value against a threshold.
type Operator string

const (
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// Compare reports whether value op threshold holds.
func (op Operator) Compare(value, threshold float64) (bool, error) {
	switch op {
	case OpGT:
		return value > threshold, nil
	case OpGE:
		return value >= threshold, nil
	case OpLT:
		return value < threshold, nil
	case OpLE:
		return value <= threshold, nil
	case OpEQ:
		return value == threshold, nil
	case OpNE:
		return value != threshold, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// Severity ranks incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DefaultWindowMinutes is the aggregation window used when a rule sets none.
const DefaultWindowMinutes = 5

// Rule is an alert rule. TriggerCount and LastTriggeredAt are maintained by
// the Engine and ignored when rules are loaded.
type Rule struct {
	ID            string   `json:"id" yaml:"id" mapstructure:"id"`
	Name          string   `json:"name" yaml:"name" mapstructure:"name"`
	Type          RuleType `json:"type" yaml:"type" mapstructure:"type"`
	Target        string   `json:"target" yaml:"target" mapstructure:"target"`
	Operator      Operator `json:"operator" yaml:"operator" mapstructure:"operator"`
	Threshold     float64  `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	WindowMinutes int      `json:"window_minutes" yaml:"window_minutes" mapstructure:"window_minutes"`
	Severity      Severity `json:"severity" yaml:"severity" mapstructure:"severity"`
	Enabled       bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Notify        []string `json:"notify,omitempty" yaml:"notify" mapstructure:"notify"`

	TriggerCount    int64      `json:"trigger_count" yaml:"-" mapstructure:"-"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-" mapstructure:"-"`
}

// Window returns the rule's aggregation window in minutes.
func (r Rule) Window() int {
	if r.WindowMinutes <= 0 {
		return DefaultWindowMinutes
	}
	return r.WindowMinutes
}

// Validate checks a rule definition.
func (r Rule) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	switch r.Type {
	case RuleMetric, RuleLog, RuleHeartbeat, RuleSynthetic:
	default:
		errs = append(errs, fmt.Errorf("unknown type %q", r.Type))
	}
	if r.Target == "" {
		errs = append(errs, errors.New("target is required"))
	}
	if _, err := r.Operator.Compare(0, 0); err != nil {
		errs = append(errs, err)
	}
	if r.WindowMinutes < 0 {
		errs = append(errs, errors.New("window_minutes must not be negative"))
	}
	if !r.Severity.valid() {
		errs = append(errs, fmt.Errorf("unknown severity %q", r.Severity))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	return nil
}

// ValidateRules checks every rule and that ids are unique.
func ValidateRules(rules []Rule) error {
	var errs []error
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate rule id %q", r.ID))
		}
		seen[r.ID] = true
	}
	return errors.Join(errs...)
}

// Rule bookkeeping fields in queue:rule:<id>.
const (
	fieldTriggerCount    = "trigger_count"
	fieldLastTriggeredAt = "last_triggered_at"
	fieldMet             = "met"
)

type ruleState struct {
	triggerCount    int64
	lastTriggeredAt *time.Time
	met             bool
}

func (s ruleState) toHash() map[string]string {
	h := map[string]string{
		fieldTriggerCount: strconv.FormatInt(s.triggerCount, 10),
		fieldMet:          strconv.FormatBool(s.met),
	}
	if s.lastTriggeredAt != nil {
		h[fieldLastTriggeredAt] = s.lastTriggeredAt.UTC().Format(time.RFC3339Nano)
	}
	return h
}

func ruleStateFromHash(h map[string]string) ruleState {
	var s ruleState
	s.triggerCount, _ = strconv.ParseInt(h[fieldTriggerCount], 10, 64)
	s.met, _ = strconv.ParseBool(h[fieldMet])
	if v := h[fieldLastTriggeredAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s.lastTriggeredAt = &t
		}
	}
	return s
}
