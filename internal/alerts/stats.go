package alerts

import (
	"cmp"
	"slices"
	"time"
)

// RuleCount is one entry of Stats.TopRules.
type RuleCount struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Count    int    `json:"count"`
}

// Stats summarizes incident history.
type Stats struct {
	Total        int           `json:"total"`
	Open         int           `json:"open"`
	Acknowledged int           `json:"acknowledged"`
	Resolved     int           `json:"resolved"`
	MTTR         time.Duration `json:"mttr"`
	MTBF         time.Duration `json:"mtbf"`
	TopRules     []RuleCount   `json:"top_rules"`
}

// MTTR returns the mean of ResolvedAt - TriggeredAt over resolved
// incidents, or 0 when none are resolved.
func MTTR(incidents []*Incident) time.Duration {
	var total time.Duration
	var n int
	for _, i := range incidents {
		if i.State != IncidentResolved || i.ResolvedAt == nil {
			continue
		}
		total += i.ResolvedAt.Sub(i.TriggeredAt)
		n++
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// MTBF returns the span from the first to the last trigger divided by the
// number of incidents, or 0 with fewer than two incidents. For triggers at
// t0, t0+10s and t0+30s it is 10s.
func MTBF(incidents []*Incident) time.Duration {
	if len(incidents) < 2 {
		return 0
	}
	first, last := incidents[0].TriggeredAt, incidents[0].TriggeredAt
	for _, i := range incidents[1:] {
		if i.TriggeredAt.Before(first) {
			first = i.TriggeredAt
		}
		if i.TriggeredAt.After(last) {
			last = i.TriggeredAt
		}
	}
	return last.Sub(first) / time.Duration(len(incidents))
}

// TopRules returns the n rules with the most incidents, most first. Ties
// are ordered by rule id.
func TopRules(incidents []*Incident, n int) []RuleCount {
	counts := make(map[string]*RuleCount)
	for _, i := range incidents {
		rc, ok := counts[i.RuleID]
		if !ok {
			rc = &RuleCount{RuleID: i.RuleID, RuleName: i.RuleName}
			counts[i.RuleID] = rc
		}
		rc.Count++
	}

	out := make([]RuleCount, 0, len(counts))
	for _, rc := range counts {
		out = append(out, *rc)
	}
	slices.SortFunc(out, func(a, b RuleCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.RuleID, b.RuleID)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func computeStats(incidents []*Incident, top int) Stats {
	s := Stats{
		Total:    len(incidents),
		MTTR:     MTTR(incidents),
		MTBF:     MTBF(incidents),
		TopRules: TopRules(incidents, top),
	}
	for _, i := range incidents {
		switch i.State {
		case IncidentOpen:
			s.Open++
		case IncidentAcknowledged:
			s.Acknowledged++
		case IncidentResolved:
			s.Resolved++
		}
	}
	return s
}
