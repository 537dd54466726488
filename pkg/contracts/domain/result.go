package domain

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks how serious an anomaly is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Status is the outcome of a single table validation.
type Status string

const (
	// StatusSuccess means every rule ran to completion, whatever the
	// anomaly count. Findings are data, not run failures.
	StatusSuccess Status = "success"
	// StatusPartial means at least one rule failed internally while the
	// others completed.
	StatusPartial Status = "partial"
	// StatusFailed means the run could not complete, typically because the
	// dataset could not be fetched.
	StatusFailed Status = "failed"
)

// Anomaly is a single finding produced by one rule against one record or
// record group.
type Anomaly struct {
	Rule      string    `json:"rule"`
	Severity  Severity  `json:"severity"`
	Symbol    string    `json:"symbol,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
	Value     float64   `json:"value,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
}

// Result records one validation run of one table.
type Result struct {
	ID                  uuid.UUID     `json:"id"`
	Table               TableKind     `json:"table"`
	Range               DateRange     `json:"range"`
	ExecutedAt          time.Time     `json:"executed_at"`
	Duration            time.Duration `json:"duration_ns"`
	Status              Status        `json:"status"`
	RowCount            int           `json:"row_count"`
	Anomalies           []Anomaly     `json:"anomalies"`
	DegradedPersistence bool          `json:"degraded_persistence,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// MaxSeverity returns the highest severity among the result's anomalies.
// The second return is false when there are no anomalies.
func (r Result) MaxSeverity() (Severity, bool) {
	if len(r.Anomalies) == 0 {
		return "", false
	}
	max := SeverityInfo
	for _, a := range r.Anomalies {
		if a.Severity.AtLeast(max) {
			max = a.Severity
		}
	}
	return max, true
}

// CountBySeverity tallies anomalies per severity.
func (r Result) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, a := range r.Anomalies {
		counts[a.Severity]++
	}
	return counts
}

// RunSummary aggregates a run-all invocation: exactly one entry per
// registered table, keyed by kind.
type RunSummary struct {
	ID         uuid.UUID             `json:"id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Results    map[TableKind]*Result `json:"results"`
	Notified   bool                  `json:"notified"`
}

// Counts returns the number of tables per status across the summary.
func (s RunSummary) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, r := range s.Results {
		counts[r.Status]++
	}
	return counts
}
