package alerts

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrIncidentNotFound is returned for an unknown incident id.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrInvalidTransition is returned when an incident cannot move to the
	// requested state.
	ErrInvalidTransition = errors.New("invalid incident transition")

	// ErrUnknownRule is returned when evaluating a rule the engine does not hold.
	ErrUnknownRule = errors.New("unknown rule")
)

// IncidentState is the lifecycle state of an incident.
type IncidentState string

const (
	IncidentOpen         IncidentState = "open"
	IncidentAcknowledged IncidentState = "acknowledged"
	IncidentResolved     IncidentState = "resolved"
)

// Unresolved reports whether the incident still counts against its rule.
func (s IncidentState) Unresolved() bool {
	return s == IncidentOpen || s == IncidentAcknowledged
}

// ResolvedBy records how an incident was resolved.
type ResolvedBy string

const (
	ResolvedAuto   ResolvedBy = "auto"
	ResolvedManual ResolvedBy = "manual"
)

// Incident is one breach of a rule.
type Incident struct {
	ID             string        `json:"id"`
	RuleID         string        `json:"rule_id"`
	RuleName       string        `json:"rule_name"`
	Severity       Severity      `json:"severity"`
	State          IncidentState `json:"state"`
	Value          float64       `json:"value"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy     ResolvedBy    `json:"resolved_by,omitempty"`
}

func (i *Incident) toHash() map[string]string {
	h := map[string]string{
		"id":           i.ID,
		"rule_id":      i.RuleID,
		"rule_name":    i.RuleName,
		"severity":     string(i.Severity),
		"state":        string(i.State),
		"value":        strconv.FormatFloat(i.Value, 'g', -1, 64),
		"triggered_at": formatTime(&i.TriggeredAt),
	}
	if i.AcknowledgedAt != nil {
		h["acknowledged_at"] = formatTime(i.AcknowledgedAt)
	}
	if i.ResolvedAt != nil {
		h["resolved_at"] = formatTime(i.ResolvedAt)
		h["resolved_by"] = string(i.ResolvedBy)
	}
	return h
}

func incidentFromHash(h map[string]string) (*Incident, error) {
	if h["id"] == "" {
		return nil, errors.New("incident record has no id")
	}
	value, err := strconv.ParseFloat(h["value"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse value of incident %s; %w", h["id"], err)
	}
	triggered := parseTime(h["triggered_at"])
	if triggered == nil {
		return nil, fmt.Errorf("incident %s has no triggered_at", h["id"])
	}
	return &Incident{
		ID:             h["id"],
		RuleID:         h["rule_id"],
		RuleName:       h["rule_name"],
		Severity:       Severity(h["severity"]),
		State:          IncidentState(h["state"]),
		Value:          value,
		TriggeredAt:    *triggered,
		AcknowledgedAt: parseTime(h["acknowledged_at"]),
		ResolvedAt:     parseTime(h["resolved_at"]),
		ResolvedBy:     ResolvedBy(h["resolved_by"]),
	}, nil
}

func formatTime(t *time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

// IncidentFilter selects incidents in ListIncidents. Zero fields match all.
type IncidentFilter struct {
	State    IncidentState
	Severity Severity
	RuleID   string
	Since    time.Time
	// Limit keeps the newest matches; zero means no limit.
	Limit int
}

func (f IncidentFilter) matches(i *Incident) bool {
	if f.State != "" && i.State != f.State {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	if f.RuleID != "" && i.RuleID != f.RuleID {
		return false
	}
	if !f.Since.IsZero() && i.TriggeredAt.Before(f.Since) {
		return false
	}
	return true
}
