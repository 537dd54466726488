package rules

import (
	"fmt"
	"math"
	"sort"
	"time"

	"idxwatch/pkg/contracts/domain"
)

const (
	// yearlyYieldThreshold is the summed dividend yield per calendar year
	// above which the data is suspect. A few issuers do pay this much in
	// special dividends, hence warning rather than critical.
	yearlyYieldThreshold = 0.30

	// yieldShiftThreshold is the year-over-year change in summed yield, in
	// percentage points, that flags an inconsistent series.
	yieldShiftThreshold = 0.10

	// filingPriceThreshold is the relative gap between a filing's reported
	// transaction price and the same-day market close beyond which one of
	// the two is presumed wrong.
	filingPriceThreshold = 0.50

	// splitProximityDays flags two splits for the same symbol this close
	// together. Exchanges do not approve back-to-back splits; a second
	// record is almost always a duplicate announcement.
	splitProximityDays = 14
)

// DividendYieldRule sums each symbol's dividend yields per calendar year
// and flags implausibly high totals.
type DividendYieldRule struct{}

func (r *DividendYieldRule) Name() string { return "dividend_yield" }

func (r *DividendYieldRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	totals := yearlyYields(ds)
	var out []domain.Anomaly
	for _, symbol := range sortedSymbols(totals) {
		years := totals[symbol]
		for _, year := range sortedYears(years) {
			total := years[year]
			if total < yearlyYieldThreshold {
				continue
			}
			out = append(out, domain.Anomaly{
				Rule:      r.Name(),
				Severity:  domain.SeverityWarning,
				Symbol:    symbol,
				Date:      time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
				Field:     "yield",
				Value:     total,
				Threshold: yearlyYieldThreshold,
				Message:   fmt.Sprintf("total yield %.1f%% for %d", total*100, year),
			})
		}
	}
	return out
}

// DividendYieldShiftRule compares consecutive years' summed yields per
// symbol and flags jumps beyond the percentage-point threshold.
type DividendYieldShiftRule struct{}

func (r *DividendYieldShiftRule) Name() string { return "dividend_yield_shift" }

func (r *DividendYieldShiftRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	totals := yearlyYields(ds)
	var out []domain.Anomaly
	for _, symbol := range sortedSymbols(totals) {
		years := totals[symbol]
		order := sortedYears(years)

		for i := 1; i < len(order); i++ {
			// Only adjacent calendar years are comparable.
			if order[i] != order[i-1]+1 {
				continue
			}
			shift := years[order[i]] - years[order[i-1]]
			if math.Abs(shift) < yieldShiftThreshold {
				continue
			}
			out = append(out, domain.Anomaly{
				Rule:      r.Name(),
				Severity:  domain.SeverityWarning,
				Symbol:    symbol,
				Date:      time.Date(order[i], 12, 31, 0, 0, 0, 0, time.UTC),
				Field:     "yield",
				Value:     shift,
				Threshold: yieldShiftThreshold,
				Message:   fmt.Sprintf("total yield moved %.1f points from %d to %d", shift*100, order[i-1], order[i]),
			})
		}
	}
	return out
}

// sortedSymbols returns the map's symbol keys in ascending order so anomaly
// output is deterministic across runs.
func sortedSymbols(totals map[string]map[int]float64) []string {
	out := make([]string, 0, len(totals))
	for sym := range totals {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func sortedYears(years map[int]float64) []int {
	out := make([]int, 0, len(years))
	for y := range years {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// yearlyYields sums yield per symbol per calendar year.
func yearlyYields(ds domain.Dataset) map[string]map[int]float64 {
	totals := make(map[string]map[int]float64)
	for _, row := range ds.Rows {
		y, ok := row.Value("yield")
		if !ok {
			continue
		}
		years := totals[row.Symbol]
		if years == nil {
			years = make(map[int]float64)
			totals[row.Symbol] = years
		}
		years[row.Date.Year()] += y
	}
	return totals
}

// FilingPriceRule compares a filing's reported transaction price against
// the same-day close from the daily price table carried as the dataset's
// reference rows. Filings without a same-day close are skipped.
type FilingPriceRule struct{}

func (r *FilingPriceRule) Name() string { return "filing_price" }

func (r *FilingPriceRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	closes := ds.ReferenceBySymbolDate()
	if len(closes) == 0 {
		return nil
	}

	var out []domain.Anomaly
	for _, row := range ds.Rows {
		price, ok := row.Value("price")
		if !ok || price <= 0 {
			continue
		}
		ref, ok := closes[row.Symbol][row.Date.Format("2006-01-02")]
		if !ok {
			continue
		}
		close, ok := ref.Value("close")
		if !ok || close <= 0 {
			continue
		}
		diff := math.Abs(price-close) / close
		if diff < filingPriceThreshold {
			continue
		}
		out = append(out, domain.Anomaly{
			Rule:      r.Name(),
			Severity:  domain.SeverityWarning,
			Symbol:    row.Symbol,
			Date:      row.Date,
			Field:     "price",
			Value:     price,
			Threshold: filingPriceThreshold,
			Message:   fmt.Sprintf("filing price %g differs %.0f%% from close %g", price, diff*100, close),
		})
	}
	return out
}

// SplitProximityRule flags pairs of split records for the same symbol
// within the proximity window.
type SplitProximityRule struct{}

func (r *SplitProximityRule) Name() string { return "split_proximity" }

func (r *SplitProximityRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	groups := ds.BySymbol()
	var out []domain.Anomaly
	for _, sym := range ds.Symbols() {
		rows := groups[sym]
		for i := 1; i < len(rows); i++ {
			gap := rows[i].Date.Sub(rows[i-1].Date)
			if gap > splitProximityDays*24*time.Hour {
				continue
			}
			out = append(out, domain.Anomaly{
				Rule:      r.Name(),
				Severity:  domain.SeverityWarning,
				Symbol:    rows[i].Symbol,
				Date:      rows[i].Date,
				Value:     gap.Hours() / 24,
				Threshold: splitProximityDays,
				Message:   fmt.Sprintf("second split %.0f days after the previous one", gap.Hours()/24),
			})
		}
	}
	return out
}
