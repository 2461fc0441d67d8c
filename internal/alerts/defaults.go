package alerts

import "github.com/leefowlercu/mailroom/internal/metrics"

// DefaultRules returns the built-in rule set used when configuration
// declares none.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "email-backlog",
			Name:      "Email backlog high",
			Type:      RuleMetric,
			Target:    metrics.QueueMetric("email", metrics.Backlog),
			Operator:  OpGT,
			Threshold: 1000,
			Severity:  SeverityHigh,
			Enabled:   true,
			Notify:    []string{"log", "bus"},
		},
		{
			ID:            "email-failures",
			Name:          "Email jobs failing",
			Type:          RuleMetric,
			Target:        metrics.QueueMetric("email", metrics.JobsFailed),
			Operator:      OpGE,
			Threshold:     10,
			WindowMinutes: 15,
			Severity:      SeverityCritical,
			Enabled:       true,
			Notify:        []string{"log", "bus"},
		},
		{
			ID:            "imports-failures",
			Name:          "Imports failing",
			Type:          RuleMetric,
			Target:        metrics.QueueMetric("imports", metrics.JobsFailed),
			Operator:      OpGE,
			Threshold:     3,
			WindowMinutes: 15,
			Severity:      SeverityMedium,
			Enabled:       true,
			Notify:        []string{"log", "bus"},
		},
		{
			ID:        "email-workers-silent",
			Name:      "Email workers silent",
			Type:      RuleHeartbeat,
			Target:    "queue:email",
			Operator:  OpGT,
			Threshold: 120,
			Severity:  SeverityCritical,
			Enabled:   true,
			Notify:    []string{"log", "bus"},
		},
		{
			ID:            "error-logs",
			Name:          "Error log burst",
			Type:          RuleLog,
			Target:        "level=error",
			Operator:      OpGE,
			Threshold:     20,
			WindowMinutes: 5,
			Severity:      SeverityLow,
			Enabled:       true,
			Notify:        []string{"log"},
		},
	}
}
