package rules

import (
	"fmt"
	"math"

	"idxwatch/pkg/contracts/domain"
)

// CompletenessRule flags rows missing the fields every record of the table
// kind must carry. Missing core fields make downstream checks meaningless,
// so findings are critical.
type CompletenessRule struct {
	Kind domain.TableKind
}

func (r *CompletenessRule) Name() string { return "completeness" }

func (r *CompletenessRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	required := requiredFields(r.Kind)
	if len(required) == 0 {
		return nil
	}

	var out []domain.Anomaly
	for _, row := range ds.Rows {
		for _, field := range required {
			if _, ok := row.Value(field); ok {
				continue
			}
			out = append(out, domain.Anomaly{
				Rule:     r.Name(),
				Severity: domain.SeverityCritical,
				Symbol:   row.Symbol,
				Date:     row.Date,
				Field:    field,
				Message:  fmt.Sprintf("required field %q is missing", field),
			})
		}
	}
	return out
}

// DuplicateRule flags repeated (symbol, date) pairs. The source tables key
// on that pair, so duplicates indicate a broken upstream merge.
type DuplicateRule struct{}

func (r *DuplicateRule) Name() string { return "duplicate" }

func (r *DuplicateRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	seen := make(map[string]int, len(ds.Rows))
	var out []domain.Anomaly
	for _, row := range ds.Rows {
		key := row.Symbol + "|" + row.Date.Format("2006-01-02")
		seen[key]++
		if seen[key] == 2 {
			out = append(out, domain.Anomaly{
				Rule:     r.Name(),
				Severity: domain.SeverityWarning,
				Symbol:   row.Symbol,
				Date:     row.Date,
				Message:  "duplicate row for symbol and date",
			})
		}
	}
	return out
}

// fieldRange bounds a field to a sane interval. Inclusive on both ends.
type fieldRange struct {
	field string
	min   float64
	max   float64
}

// rangeChecks returns the sanity bounds per table kind. Prices and ratios
// have hard physical limits; balance-sheet magnitudes are capped well above
// any listed issuer.
func rangeChecks(kind domain.TableKind) []fieldRange {
	switch kind {
	case domain.TableDailyPrices:
		return []fieldRange{{field: "close", min: 1, max: 1e7}}
	case domain.TableDividends:
		return []fieldRange{{field: "yield", min: 0, max: 1}}
	case domain.TableAllTimePrice:
		return []fieldRange{
			{field: "high_all", min: 1, max: 1e7},
			{field: "low_all", min: 1, max: 1e7},
		}
	case domain.TableFilings:
		return []fieldRange{{field: "price", min: 1, max: 1e7}}
	case domain.TableStockSplits:
		return []fieldRange{{field: "ratio", min: 1e-4, max: 1e4}}
	case domain.TableFinancialsAnnual, domain.TableFinancialsQuarterly:
		return []fieldRange{{field: "total_assets", min: 0, max: 1e19}}
	default:
		return nil
	}
}

// RangeRule flags values outside the physically plausible interval for
// their field, plus NaN and infinities, plus rows whose date is logically
// impossible: dated after the fetch or outside the requested window.
type RangeRule struct {
	Kind domain.TableKind
}

func (r *RangeRule) Name() string { return "range" }

func (r *RangeRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	checks := rangeChecks(r.Kind)
	var out []domain.Anomaly
	for _, row := range ds.Rows {
		if a, ok := r.checkDate(ds, row); ok {
			out = append(out, a)
		}
		for _, c := range checks {
			v, ok := row.Value(c.field)
			if !ok {
				continue
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				out = append(out, domain.Anomaly{
					Rule:     r.Name(),
					Severity: domain.SeverityCritical,
					Symbol:   row.Symbol,
					Date:     row.Date,
					Field:    c.field,
					Value:    v,
					Message:  fmt.Sprintf("%s is not a finite number", c.field),
				})
				continue
			}
			if v < c.min || v > c.max {
				out = append(out, domain.Anomaly{
					Rule:      r.Name(),
					Severity:  domain.SeverityCritical,
					Symbol:    row.Symbol,
					Date:      row.Date,
					Field:     c.field,
					Value:     v,
					Threshold: c.max,
					Message:   fmt.Sprintf("%s=%g outside sane range [%g, %g]", c.field, v, c.min, c.max),
				})
			}
		}
	}
	return out
}

// checkDate flags impossible row dates. A row dated after the fetch cannot
// exist yet; a row outside the requested window means the source ignored
// the filter. Zero dates are left to the completeness check.
func (r *RangeRule) checkDate(ds domain.Dataset, row domain.Row) (domain.Anomaly, bool) {
	if row.Date.IsZero() {
		return domain.Anomaly{}, false
	}
	if !ds.FetchedAt.IsZero() && row.Date.After(ds.FetchedAt) {
		return domain.Anomaly{
			Rule:     r.Name(),
			Severity: domain.SeverityCritical,
			Symbol:   row.Symbol,
			Date:     row.Date,
			Field:    "date",
			Message:  fmt.Sprintf("row dated %s is in the future", row.Date.Format("2006-01-02")),
		}, true
	}
	if !ds.Range.Contains(row.Date) {
		return domain.Anomaly{
			Rule:     r.Name(),
			Severity: domain.SeverityCritical,
			Symbol:   row.Symbol,
			Date:     row.Date,
			Field:    "date",
			Message:  fmt.Sprintf("row dated %s falls outside the requested window %s", row.Date.Format("2006-01-02"), ds.Range),
		}, true
	}
	return domain.Anomaly{}, false
}

// OutlierRule flags values that deviate from the symbol's rolling mean by
// more than Sigma standard deviations. The window slides over the symbol's
// rows in date order and excludes the value under test.
type OutlierRule struct {
	Kind   domain.TableKind
	Sigma  float64
	Window int
}

func (r *OutlierRule) Name() string { return "outlier" }

func (r *OutlierRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	fields := outlierFields(r.Kind)
	if len(fields) == 0 || r.Window < 3 {
		return nil
	}

	groups := ds.BySymbol()
	var out []domain.Anomaly
	for _, sym := range ds.Symbols() {
		for _, field := range fields {
			out = append(out, r.scanSeries(groups[sym], field)...)
		}
	}
	return out
}

func (r *OutlierRule) scanSeries(rows []domain.Row, field string) []domain.Anomaly {
	var out []domain.Anomaly
	var window []float64
	for _, row := range rows {
		v, ok := row.Value(field)
		if !ok {
			continue
		}
		if len(window) >= r.Window/2 {
			m := mean(window)
			sd := stddev(window, m)
			if sd > 0 && math.Abs(v-m) > r.Sigma*sd {
				out = append(out, domain.Anomaly{
					Rule:      r.Name(),
					Severity:  domain.SeverityWarning,
					Symbol:    row.Symbol,
					Date:      row.Date,
					Field:     field,
					Value:     v,
					Threshold: r.Sigma,
					Message:   fmt.Sprintf("%s=%g deviates %.1f sigma from rolling mean %g", field, v, math.Abs(v-m)/sd, m),
				})
			}
		}
		window = append(window, v)
		if len(window) > r.Window {
			window = window[1:]
		}
	}
	return out
}
