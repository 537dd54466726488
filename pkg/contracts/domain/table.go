package domain

import (
	"fmt"
	"time"
)

// TableKind identifies one of the IDX datasets covered by the validation engine.
// The set is closed: rule dispatch is resolved per kind at startup, never by
// runtime string lookup.
type TableKind string

const (
	TableFinancialsAnnual    TableKind = "financials_annual"
	TableFinancialsQuarterly TableKind = "financials_quarterly"
	TableDailyPrices         TableKind = "daily_prices"
	TableDividends           TableKind = "dividends"
	TableAllTimePrice        TableKind = "all_time_price"
	TableFilings             TableKind = "filings"
	TableStockSplits         TableKind = "stock_splits"
)

// AllTableKinds returns every registered table kind in canonical order.
// The order is stable so run-all summaries and dashboards render consistently.
func AllTableKinds() []TableKind {
	return []TableKind{
		TableFinancialsAnnual,
		TableFinancialsQuarterly,
		TableDailyPrices,
		TableDividends,
		TableAllTimePrice,
		TableFilings,
		TableStockSplits,
	}
}

// ParseTableKind converts an external identifier into a TableKind.
func ParseTableKind(s string) (TableKind, error) {
	kind := TableKind(s)
	for _, k := range AllTableKinds() {
		if k == kind {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown table kind: %q", s)
}

// TableDescriptor describes one validated dataset for catalog and dashboard use.
type TableDescriptor struct {
	Kind          TableKind `json:"kind" validate:"required"`
	Label         string    `json:"label" validate:"required"`
	RuleSynopsis  string    `json:"rule_synopsis"`
	LastValidated time.Time `json:"last_validated,omitempty"`
}

// DateRange bounds a validation request. A nil side is unbounded.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the range. Zero times on rows are
// treated as absent and never counted as out of range here; completeness
// checks own that case.
func (r DateRange) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// Bounded reports whether at least one side of the range is set.
func (r DateRange) Bounded() bool {
	return r.Start != nil || r.End != nil
}

func (r DateRange) String() string {
	fmtSide := func(t *time.Time) string {
		if t == nil {
			return "unbounded"
		}
		return t.Format("2006-01-02")
	}
	return fmt.Sprintf("%s..%s", fmtSide(r.Start), fmtSide(r.End))
}
