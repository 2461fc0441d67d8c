package events

import "time"

// IncidentEvent describes an incident state change.
type IncidentEvent struct {
	IncidentID string    `json:"incident_id"`
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Severity   string    `json:"severity"`
	State      string    `json:"state"`
	Value      float64   `json:"value"`
	At         time.Time `json:"at"`
	// Target is set for IncidentNotified events.
	Target string `json:"target,omitempty"`
}

// NewIncidentEvent creates an incident event of the given type.
func NewIncidentEvent(eventType EventType, e IncidentEvent) Event {
	return NewEvent(eventType, &e)
}
