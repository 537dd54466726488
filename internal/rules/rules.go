// Package rules implements the anomaly rule set evaluated against fetched
// datasets. Rules are pure: they read a dataset and emit findings, never
// touching network or storage. The set for each table kind is resolved once
// at startup.
package rules

import (
	"math"

	"idxwatch/pkg/contracts/domain"
)

// Rule evaluates one class of anomaly against a dataset.
type Rule interface {
	Name() string
	Evaluate(ds domain.Dataset) []domain.Anomaly
}

// Params carries the tunable thresholds shared across rules.
type Params struct {
	OutlierSigma  float64
	OutlierWindow int
}

// DefaultParams returns the standard thresholds.
func DefaultParams() Params {
	return Params{
		OutlierSigma:  3.0,
		OutlierWindow: 20,
	}
}

// ForKind returns the ordered rule set for a table kind. Generic data
// quality rules run first, then the kind-specific domain rules.
func ForKind(kind domain.TableKind, p Params) []Rule {
	generic := []Rule{
		&CompletenessRule{Kind: kind},
		&DuplicateRule{},
		&RangeRule{Kind: kind},
		&OutlierRule{Kind: kind, Sigma: p.OutlierSigma, Window: p.OutlierWindow},
	}

	switch kind {
	case domain.TableFinancialsAnnual:
		return append(generic,
			&ExtremeChangeRule{Period: PeriodAnnual},
			&AccountingIdentityRule{},
			&BankingRatioRule{},
		)
	case domain.TableFinancialsQuarterly:
		return append(generic,
			&ExtremeChangeRule{Period: PeriodQuarterly},
			&AccountingIdentityRule{},
			&BankingRatioRule{},
		)
	case domain.TableDailyPrices:
		return append(generic, &DailyChangeRule{})
	case domain.TableDividends:
		return append(generic, &DividendYieldRule{}, &DividendYieldShiftRule{})
	case domain.TableAllTimePrice:
		return append(generic, &PriceHierarchyRule{})
	case domain.TableFilings:
		return append(generic, &FilingPriceRule{})
	case domain.TableStockSplits:
		return append(generic, &SplitProximityRule{})
	default:
		return generic
	}
}

// requiredFields lists the fields a row must carry for each table kind.
// Missing fields fail the completeness check.
func requiredFields(kind domain.TableKind) []string {
	switch kind {
	case domain.TableFinancialsAnnual, domain.TableFinancialsQuarterly:
		return []string{"revenue", "earnings", "total_assets"}
	case domain.TableDailyPrices:
		return []string{"close"}
	case domain.TableDividends:
		return []string{"yield"}
	case domain.TableAllTimePrice:
		return []string{"high_all", "low_all"}
	case domain.TableFilings:
		return []string{"price"}
	case domain.TableStockSplits:
		return []string{"ratio"}
	default:
		return nil
	}
}

// outlierFields lists the fields the rolling-window outlier check watches.
func outlierFields(kind domain.TableKind) []string {
	switch kind {
	case domain.TableFinancialsAnnual, domain.TableFinancialsQuarterly:
		return []string{"revenue", "earnings", "total_assets"}
	case domain.TableDailyPrices:
		return []string{"close"}
	case domain.TableDividends:
		return []string{"yield"}
	default:
		return nil
	}
}

// mean returns the arithmetic mean of vs. Caller guarantees len(vs) > 0.
func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// stddev returns the population standard deviation of vs around m.
func stddev(vs []float64, m float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vs)))
}

// pctChange returns the relative change from prev to cur. The second return
// is false when prev is zero.
func pctChange(prev, cur float64) (float64, bool) {
	if prev == 0 {
		return 0, false
	}
	return (cur - prev) / math.Abs(prev), true
}
