// Package notify raises alerts when a validation run finds anomalies at or
// above the configured severity. A run produces at most one notification,
// regardless of how many tables flagged.
package notify

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"idxwatch/pkg/contracts/domain"
)

// Notifier delivers one run-level alert or digest.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Kind distinguishes immediate run alerts from the periodic digest.
type Kind string

const (
	KindAlert        Kind = "alert"
	KindDailySummary Kind = "daily_summary"
)

// RuleCount pairs a rule name with how many anomalies it produced.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// Notification summarizes findings for delivery. Recipients, when set,
// overrides the notifier's default recipient list.
type Notification struct {
	Kind           Kind                    `json:"kind"`
	RunID          uuid.UUID               `json:"run_id,omitempty"`
	StartedAt      time.Time               `json:"started_at"`
	FinishedAt     time.Time               `json:"finished_at"`
	MaxSeverity    domain.Severity         `json:"max_severity"`
	Tables         int                     `json:"tables"`
	Runs           int                     `json:"runs,omitempty"`
	StatusCounts   map[domain.Status]int   `json:"status_counts"`
	SeverityCounts map[domain.Severity]int `json:"severity_counts"`
	TopRules       []RuleCount             `json:"top_rules"`
	Recipients     []string                `json:"-"`
}

// topRuleLimit caps how many rules a notification names.
const topRuleLimit = 5

// Build condenses a run summary into a notification.
func Build(summary domain.RunSummary) Notification {
	severityCounts := make(map[domain.Severity]int)
	ruleCounts := make(map[string]int)
	maxSev := domain.SeverityInfo
	haveAnomaly := false

	for _, res := range summary.Results {
		for _, a := range res.Anomalies {
			severityCounts[a.Severity]++
			ruleCounts[a.Rule]++
			haveAnomaly = true
			if a.Severity.AtLeast(maxSev) {
				maxSev = a.Severity
			}
		}
	}
	if !haveAnomaly {
		maxSev = ""
	}

	return Notification{
		Kind:           KindAlert,
		RunID:          summary.ID,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		MaxSeverity:    maxSev,
		Tables:         len(summary.Results),
		StatusCounts:   summary.Counts(),
		SeverityCounts: severityCounts,
		TopRules:       topRules(ruleCounts),
	}
}

// BuildDailySummary condenses every result since the period start into one
// digest. Unlike alerts, a digest is worth sending even when nothing fired,
// so callers deliver it unconditionally.
func BuildDailySummary(results []*domain.Result, periodStart, periodEnd time.Time) Notification {
	severityCounts := make(map[domain.Severity]int)
	statusCounts := make(map[domain.Status]int)
	ruleCounts := make(map[string]int)
	tables := make(map[domain.TableKind]struct{})
	maxSev := domain.SeverityInfo
	haveAnomaly := false

	for _, res := range results {
		statusCounts[res.Status]++
		tables[res.Table] = struct{}{}
		for _, a := range res.Anomalies {
			severityCounts[a.Severity]++
			ruleCounts[a.Rule]++
			haveAnomaly = true
			if a.Severity.AtLeast(maxSev) {
				maxSev = a.Severity
			}
		}
	}
	if !haveAnomaly {
		maxSev = ""
	}

	return Notification{
		Kind:           KindDailySummary,
		StartedAt:      periodStart,
		FinishedAt:     periodEnd,
		MaxSeverity:    maxSev,
		Tables:         len(tables),
		Runs:           len(results),
		StatusCounts:   statusCounts,
		SeverityCounts: severityCounts,
		TopRules:       topRules(ruleCounts),
	}
}

// topRules orders rules by descending anomaly count, name as tiebreak, and
// keeps the busiest few.
func topRules(ruleCounts map[string]int) []RuleCount {
	rules := make([]RuleCount, 0, len(ruleCounts))
	for rule, count := range ruleCounts {
		rules = append(rules, RuleCount{Rule: rule, Count: count})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Count != rules[j].Count {
			return rules[i].Count > rules[j].Count
		}
		return rules[i].Rule < rules[j].Rule
	})
	if len(rules) > topRuleLimit {
		rules = rules[:topRuleLimit]
	}
	return rules
}

// ShouldNotify reports whether the run's worst finding reaches the
// threshold.
func ShouldNotify(summary domain.RunSummary, threshold domain.Severity) bool {
	for _, res := range summary.Results {
		if max, ok := res.MaxSeverity(); ok && max.AtLeast(threshold) {
			return true
		}
	}
	return false
}
