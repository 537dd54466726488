package rules

import (
	"fmt"
	"math"

	"idxwatch/pkg/contracts/domain"
)

// Period selects the thresholds for period-over-period change checks.
type Period int

const (
	PeriodAnnual Period = iota
	PeriodQuarterly
)

// extremeChangeFields are the series watched for implausible swings.
var extremeChangeFields = []string{"revenue", "earnings", "total_assets"}

// ExtremeChangeRule flags symbols whose period-over-period changes are both
// large in absolute terms and far above the symbol's own typical change. A
// single large move is often a genuine business event; repeated ones in the
// same series usually mean a unit or restatement error, so the rule only
// fires when at least two changes in a series are extreme.
type ExtremeChangeRule struct {
	Period Period
}

func (r *ExtremeChangeRule) Name() string {
	if r.Period == PeriodQuarterly {
		return "extreme_change_quarterly"
	}
	return "extreme_change_annual"
}

func (r *ExtremeChangeRule) thresholds() (pct, multiplier float64, minPeriods int) {
	if r.Period == PeriodQuarterly {
		return 1.00, 2.5, 4
	}
	return 0.75, 2.0, 2
}

func (r *ExtremeChangeRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	pct, multiplier, minPeriods := r.thresholds()

	groups := ds.BySymbol()
	var out []domain.Anomaly
	for _, sym := range ds.Symbols() {
		rows := groups[sym]
		if len(rows) < minPeriods {
			continue
		}
		for _, field := range extremeChangeFields {
			out = append(out, r.scanSeries(rows, field, pct, multiplier)...)
		}
	}
	return out
}

func (r *ExtremeChangeRule) scanSeries(rows []domain.Row, field string, pct, multiplier float64) []domain.Anomaly {
	type change struct {
		row domain.Row
		val float64
	}

	var changes []change
	var prev float64
	havePrev := false
	for _, row := range rows {
		v, ok := row.Value(field)
		if !ok {
			continue
		}
		if havePrev {
			if c, ok := pctChange(prev, v); ok {
				changes = append(changes, change{row: row, val: c})
			}
		}
		prev, havePrev = v, true
	}
	if len(changes) < 2 {
		return nil
	}

	abs := make([]float64, len(changes))
	for i, c := range changes {
		abs[i] = math.Abs(c.val)
	}
	avgAbs := mean(abs)

	var extremes []change
	for _, c := range changes {
		if math.Abs(c.val) > pct && math.Abs(c.val) > multiplier*avgAbs {
			extremes = append(extremes, c)
		}
	}
	if len(extremes) < 2 {
		return nil
	}

	out := make([]domain.Anomaly, 0, len(extremes))
	for _, c := range extremes {
		out = append(out, domain.Anomaly{
			Rule:      r.Name(),
			Severity:  domain.SeverityWarning,
			Symbol:    c.row.Symbol,
			Date:      c.row.Date,
			Field:     field,
			Value:     c.val,
			Threshold: pct,
			Message:   fmt.Sprintf("%s changed %.0f%%, %.1fx the series average change", field, c.val*100, math.Abs(c.val)/avgAbs),
		})
	}
	return out
}

// identityCheck describes one balance equation with a relative tolerance.
// absFloor, when set, ignores mismatches below that absolute amount in IDR.
type identityCheck struct {
	name     string
	left     string
	terms    []string
	negTerms []string
	absTerms []string
	tol      float64
	absFloor float64
	severity domain.Severity
}

// identityChecks are the accounting equations validated per row. The loan
// equation subtracts the allowance magnitude since sources report it with
// inconsistent sign.
var identityChecks = []identityCheck{
	{
		name:     "net_loan_identity",
		left:     "net_loan",
		terms:    []string{"gross_loan"},
		absTerms: []string{"allowance"},
		tol:      0.02,
		severity: domain.SeverityWarning,
	},
	{
		name:     "earnings_before_tax_identity",
		left:     "earnings_before_tax",
		terms:    []string{"earnings", "tax"},
		tol:      0.05,
		severity: domain.SeverityWarning,
	},
	{
		name:     "net_cash_flow_identity",
		left:     "net_cash_flow",
		terms:    []string{"cash_from_operating", "cash_from_investing", "cash_from_financing"},
		tol:      0.05,
		severity: domain.SeverityWarning,
	},
	{
		name:     "total_deposit_identity",
		left:     "total_deposit",
		terms:    []string{"current_account", "savings_account", "time_deposit"},
		tol:      0.03,
		severity: domain.SeverityInfo,
	},
	{
		name:     "free_cash_flow_identity",
		left:     "free_cash_flow",
		terms:    []string{"cash_from_operating"},
		negTerms: []string{"capital_expenditure"},
		tol:      0.05,
		absFloor: 5e8,
		severity: domain.SeverityInfo,
	},
}

// balanceSheetAbsTolerance is the floor below which balance sheet rounding
// noise is ignored, in IDR.
const balanceSheetAbsTolerance = 1e9

// AccountingIdentityRule checks the balance equations that must hold on
// every financial statement row. The whole rule is skipped on very small
// datasets where a mismatch is more likely a partial scrape than bad data.
type AccountingIdentityRule struct{}

func (r *AccountingIdentityRule) Name() string { return "accounting_identity" }

func (r *AccountingIdentityRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	if len(ds.Rows) <= 10 {
		return nil
	}

	var out []domain.Anomaly
	for _, row := range ds.Rows {
		out = append(out, r.checkBalanceSheet(row)...)
		for _, c := range identityChecks {
			out = append(out, r.checkIdentity(row, c)...)
		}
	}
	return out
}

// checkBalanceSheet validates assets = liabilities + equity with a graded
// severity: small mismatches are informational, large ones critical.
func (r *AccountingIdentityRule) checkBalanceSheet(row domain.Row) []domain.Anomaly {
	assets, ok1 := row.Value("total_assets")
	liab, ok2 := row.Value("total_liabilities")
	equity, ok3 := row.Value("total_equity")
	if !ok1 || !ok2 || !ok3 || assets == 0 {
		return nil
	}

	diff := math.Abs(assets - (liab + equity))
	tol := math.Max(0.10*math.Abs(assets), balanceSheetAbsTolerance)
	if diff <= tol {
		return nil
	}

	rel := diff / math.Abs(assets)
	sev := domain.SeverityInfo
	switch {
	case rel > 0.11:
		sev = domain.SeverityCritical
	case rel > 0.05:
		sev = domain.SeverityWarning
	}

	return []domain.Anomaly{{
		Rule:      r.Name(),
		Severity:  sev,
		Symbol:    row.Symbol,
		Date:      row.Date,
		Field:     "total_assets",
		Value:     rel,
		Threshold: 0.10,
		Message:   fmt.Sprintf("assets differ from liabilities+equity by %.1f%%", rel*100),
	}}
}

func (r *AccountingIdentityRule) checkIdentity(row domain.Row, c identityCheck) []domain.Anomaly {
	left, ok := row.Value(c.left)
	if !ok {
		return nil
	}

	sum := 0.0
	for _, f := range c.terms {
		v, ok := row.Value(f)
		if !ok {
			return nil
		}
		sum += v
	}
	for _, f := range c.negTerms {
		v, ok := row.Value(f)
		if !ok {
			return nil
		}
		sum -= v
	}
	for _, f := range c.absTerms {
		v, ok := row.Value(f)
		if !ok {
			return nil
		}
		sum -= math.Abs(v)
	}

	diff := math.Abs(left - sum)
	if diff <= c.absFloor {
		return nil
	}
	scale := math.Max(math.Abs(left), math.Abs(sum))
	if scale == 0 {
		return nil
	}
	rel := diff / scale
	if rel <= c.tol {
		return nil
	}

	return []domain.Anomaly{{
		Rule:      c.name,
		Severity:  c.severity,
		Symbol:    row.Symbol,
		Date:      row.Date,
		Field:     c.left,
		Value:     rel,
		Threshold: c.tol,
		Message:   fmt.Sprintf("%s off its components by %.1f%%", c.left, rel*100),
	}}
}

// ratioCheck bounds a derived banking ratio to a plausible interval.
type ratioCheck struct {
	name     string
	low      float64
	high     float64
	severity domain.Severity
	compute  func(row domain.Row) (float64, bool)
}

func ratio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func fieldRatio(row domain.Row, numField, denField string) (float64, bool) {
	num, ok1 := row.Value(numField)
	den, ok2 := row.Value(denField)
	if !ok1 || !ok2 {
		return 0, false
	}
	return ratio(num, den)
}

var bankingRatios = []ratioCheck{
	{
		name: "loan_to_deposit", low: 0.4, high: 1.3, severity: domain.SeverityWarning,
		compute: func(row domain.Row) (float64, bool) {
			return fieldRatio(row, "net_loan", "total_deposit")
		},
	},
	{
		name: "casa_ratio", low: 0, high: 1, severity: domain.SeverityWarning,
		compute: func(row domain.Row) (float64, bool) {
			cur, ok1 := row.Value("current_account")
			sav, ok2 := row.Value("savings_account")
			dep, ok3 := row.Value("total_deposit")
			if !ok1 || !ok2 || !ok3 {
				return 0, false
			}
			return ratio(cur+sav, dep)
		},
	},
	{
		name: "capital_adequacy", low: 0.1, high: 1, severity: domain.SeverityWarning,
		compute: func(row domain.Row) (float64, bool) {
			return fieldRatio(row, "total_equity", "total_assets")
		},
	},
	{
		name: "net_interest_margin", low: -0.02, high: 0.25, severity: domain.SeverityInfo,
		compute: func(row domain.Row) (float64, bool) {
			inc, ok1 := row.Value("interest_income")
			exp, ok2 := row.Value("interest_expense")
			assets, ok3 := row.Value("total_assets")
			if !ok1 || !ok2 || !ok3 {
				return 0, false
			}
			return ratio(inc-exp, assets)
		},
	},
	{
		name: "cost_to_income", low: 0, high: 3, severity: domain.SeverityWarning,
		compute: func(row domain.Row) (float64, bool) {
			return fieldRatio(row, "operating_expense", "operating_income")
		},
	},
	{
		name: "loan_coverage", low: 0, high: 0.5, severity: domain.SeverityInfo,
		compute: func(row domain.Row) (float64, bool) {
			allow, ok1 := row.Value("allowance")
			gross, ok2 := row.Value("gross_loan")
			if !ok1 || !ok2 {
				return 0, false
			}
			return ratio(math.Abs(allow), gross)
		},
	},
}

// BankingRatioRule derives standard banking ratios and flags values outside
// plausible bounds. Rows without banking fields are skipped, so the rule is
// a no-op for non-bank issuers.
type BankingRatioRule struct{}

func (r *BankingRatioRule) Name() string { return "banking_ratio" }

func (r *BankingRatioRule) Evaluate(ds domain.Dataset) []domain.Anomaly {
	var out []domain.Anomaly
	for _, row := range ds.Rows {
		for _, rc := range bankingRatios {
			v, ok := rc.compute(row)
			if !ok {
				continue
			}
			if v >= rc.low && v <= rc.high {
				continue
			}
			out = append(out, domain.Anomaly{
				Rule:      rc.name,
				Severity:  rc.severity,
				Symbol:    row.Symbol,
				Date:      row.Date,
				Value:     v,
				Threshold: rc.high,
				Message:   fmt.Sprintf("%s=%.3f outside plausible range [%g, %g]", rc.name, v, rc.low, rc.high),
			})
		}
	}
	return out
}
