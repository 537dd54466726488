package rules

import (
	"fmt"
	"math"

	"idxwatch/pkg/contracts/domain"
)

// dailyChangeThreshold is the largest close-to-close move the exchange's
// auto-rejection bands allow with generous slack. Anything beyond it is a
// data fault, not a market move.
const dailyChangeThreshold = 0.35

// DailyChangeRule flags day-over-day close changes beyond the exchange's
// price limits.
type DailyChangeRule struct{}

func (r *DailyChangeRule) Name() string { return "daily_change" }

func (r *DailyChangeRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	groups := ds.BySymbol()
	var out []domain.Anomaly
	for _, sym := range ds.Symbols() {
		rows := groups[sym]
		var prev float64
		havePrev := false
		for _, row := range rows {
			close, ok := row.Value("close")
			if !ok {
				continue
			}
			if havePrev {
				if c, ok := pctChange(prev, close); ok && math.Abs(c) > dailyChangeThreshold {
					out = append(out, domain.Anomaly{
						Rule:      r.Name(),
						Severity:  domain.SeverityWarning,
						Symbol:    row.Symbol,
						Date:      row.Date,
						Field:     "close",
						Value:     c,
						Threshold: dailyChangeThreshold,
						Message:   fmt.Sprintf("close moved %.1f%% in one session", c*100),
					})
				}
			}
			prev, havePrev = close, true
		}
	}
	return out
}

// hierarchyField pairs the high and low columns for one observation window.
type hierarchyField struct {
	label string
	high  string
	low   string
}

// hierarchyOrder lists the windows from shortest to longest. A shorter
// window's high can never exceed a longer window's, and its low can never
// be below a longer window's.
var hierarchyOrder = []hierarchyField{
	{label: "90d", high: "high_90d", low: "low_90d"},
	{label: "ytd", high: "high_ytd", low: "low_ytd"},
	{label: "52w", high: "high_52w", low: "low_52w"},
	{label: "all_time", high: "high_all", low: "low_all"},
}

// PriceHierarchyRule validates that the nested high/low windows are
// mutually consistent: each window's high fits under the next longer
// window's high, and its low sits above the next longer window's low.
type PriceHierarchyRule struct{}

func (r *PriceHierarchyRule) Name() string { return "price_hierarchy" }

func (r *PriceHierarchyRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	var out []domain.Anomaly
	for _, row := range ds.Rows {
		for i := 0; i < len(hierarchyOrder)-1; i++ {
			out = append(out, r.checkPair(row, hierarchyOrder[i], hierarchyOrder[i+1])...)
		}
	}
	return out
}

func (r *PriceHierarchyRule) checkPair(row domain.Row, shorter, longer hierarchyField) []domain.Anomaly {
	var out []domain.Anomaly
	if sh, ok1 := row.Value(shorter.high); ok1 {
		if lh, ok2 := row.Value(longer.high); ok2 && sh > lh {
			out = append(out, domain.Anomaly{
				Rule:     r.Name(),
				Severity: domain.SeverityCritical,
				Symbol:   row.Symbol,
				Date:     row.Date,
				Field:    shorter.high,
				Value:    sh,
				Message:  fmt.Sprintf("%s high %g exceeds %s high %g", shorter.label, sh, longer.label, lh),
			})
		}
	}
	if sl, ok1 := row.Value(shorter.low); ok1 {
		if ll, ok2 := row.Value(longer.low); ok2 && sl < ll {
			out = append(out, domain.Anomaly{
				Rule:     r.Name(),
				Severity: domain.SeverityCritical,
				Symbol:   row.Symbol,
				Date:     row.Date,
				Field:    shorter.low,
				Value:    sl,
				Message:  fmt.Sprintf("%s low %g below %s low %g", shorter.label, sl, longer.label, ll),
			})
		}
	}
	return out
}
