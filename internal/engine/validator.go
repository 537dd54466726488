package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"idxwatch/internal/datasource"
	"idxwatch/internal/infrastructure"
	"idxwatch/internal/rules"
	"idxwatch/pkg/contracts/domain"
)

// LookbackFunc returns the implicit lookback for a table kind when the
// caller supplies no range. Zero means unbounded.
type LookbackFunc func(kind domain.TableKind) time.Duration

// Validator fetches one table and evaluates its rule set.
type Validator struct {
	source   datasource.DataSource
	registry *Registry
	lookback LookbackFunc
	logger   *slog.Logger
	metrics  *infrastructure.BusinessMetrics
	now      func() time.Time
}

// NewValidator wires a validator. metrics may be nil in tests; a nil
// lookback disables implicit ranges.
func NewValidator(source datasource.DataSource, registry *Registry, lookback LookbackFunc, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		source:   source,
		registry: registry,
		lookback: lookback,
		logger:   logger.With(slog.String("component", "validator")),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Validate runs the table's rule set against the rows in rng. An unbounded
// rng gets the kind's default lookback applied. The returned result is
// always non-nil when the table kind is known, including on fetch failure,
// so the caller can persist failed runs too.
func (v *Validator) Validate(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (*domain.Result, error) {
	ruleSet, err := v.registry.Rules(kind)
	if err != nil {
		return nil, err
	}

	rng = v.resolveRange(kind, rng)
	started := v.now()
	res := &domain.Result{
		ID:         uuid.New(),
		Table:      kind,
		Range:      rng,
		ExecutedAt: started,
	}

	ds, err := v.source.Fetch(ctx, kind, rng)
	if err != nil {
		res.Status = domain.StatusFailed
		res.Error = err.Error()
		res.Duration = v.now().Sub(started)
		v.logger.ErrorContext(ctx, "dataset fetch failed",
			slog.String("table", string(kind)),
			slog.String("range", rng.String()),
			slog.String("error", err.Error()))
		return res, err
	}
	ds.Range = rng
	ds.FetchedAt = started

	res.RowCount = len(ds.Rows)
	ruleFailed := false
	for _, rule := range ruleSet {
		anomalies, err := v.evaluateRule(ctx, kind, rule, ds)
		if err != nil {
			ruleFailed = true
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Rule:     rule.Name(),
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("rule evaluation failed: %v", err),
			})
			continue
		}
		res.Anomalies = append(res.Anomalies, anomalies...)
	}

	res.Status = domain.StatusSuccess
	if ruleFailed {
		res.Status = domain.StatusPartial
	}
	res.Duration = v.now().Sub(started)

	v.recordMetrics(ctx, res)
	v.logger.InfoContext(ctx, "table validated",
		slog.String("table", string(kind)),
		slog.String("range", rng.String()),
		slog.String("status", string(res.Status)),
		slog.Int("rows", res.RowCount),
		slog.Int("anomalies", len(res.Anomalies)),
		slog.Duration("duration", res.Duration))

	return res, nil
}

// evaluateRule runs one rule, containing panics so a single broken rule
// degrades the run to partial instead of killing the process.
func (v *Validator) evaluateRule(ctx context.Context, kind domain.TableKind, rule rules.Rule, ds domain.Dataset) (anomalies []domain.Anomaly, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			v.logger.ErrorContext(ctx, "rule panicked",
				slog.String("table", string(kind)),
				slog.String("rule", rule.Name()),
				slog.Any("panic", r))
			if v.metrics != nil && v.metrics.RuleEvaluationFailures != nil {
				v.metrics.RuleEvaluationFailures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("table", string(kind)),
					attribute.String("rule", rule.Name()),
				))
			}
		}
	}()

	return rule.Evaluate(ds), nil
}

func (v *Validator) resolveRange(kind domain.TableKind, rng domain.DateRange) domain.DateRange {
	if rng.Bounded() || v.lookback == nil {
		return rng
	}
	lookback := v.lookback(kind)
	if lookback <= 0 {
		return rng
	}
	start := v.now().Add(-lookback)
	return domain.DateRange{Start: &start}
}

func (v *Validator) recordMetrics(ctx context.Context, res *domain.Result) {
	infrastructure.RecordValidationMetrics(ctx, v.metrics,
		string(res.Table), string(res.Status), res.RowCount, len(res.Anomalies), res.Duration)
}
