package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"idxwatch/internal/config"
	"idxwatch/internal/infrastructure"
	"idxwatch/internal/notify"
	"idxwatch/internal/store"
	"idxwatch/pkg/contracts/domain"
)

// Orchestrator coordinates validation runs: bounded fan-out for run-all,
// persistence with cache fallback, and the single notification decision
// per run. Runs are never serialized; no lock is ever held across a fetch
// or a store write.
type Orchestrator struct {
	validator   *Validator
	registry    *Registry
	results     store.ResultStore
	cache       *store.Cache
	notifier    notify.Notifier
	notifyCfg   config.NotifyConfig
	concurrency int
	logger      *slog.Logger
	metrics     *infrastructure.BusinessMetrics
	now         func() time.Time
}

// NewOrchestrator wires the run coordinator. notifier may be nil when
// alerting is disabled.
func NewOrchestrator(
	validator *Validator,
	registry *Registry,
	results store.ResultStore,
	cache *store.Cache,
	notifier notify.Notifier,
	notifyCfg config.NotifyConfig,
	concurrency int,
	logger *slog.Logger,
	metrics *infrastructure.BusinessMetrics,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		validator:   validator,
		registry:    registry,
		results:     results,
		cache:       cache,
		notifier:    notifier,
		notifyCfg:   notifyCfg,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "orchestrator")),
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Tables returns the catalog of validated tables.
func (o *Orchestrator) Tables() []domain.TableDescriptor {
	return o.registry.Descriptors()
}

// RunOne validates a single table. The result is persisted even when
// validation fails, so the dashboard shows failed runs too; the error is
// returned alongside for the transport layer to map. Concurrent runs of
// the same table are permitted and each records its own result.
func (o *Orchestrator) RunOne(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (*domain.Result, error) {
	res, runErr := o.run(ctx, kind, rng)
	if res == nil {
		return nil, runErr
	}

	summary := domain.RunSummary{
		ID:         uuid.New(),
		StartedAt:  res.ExecutedAt,
		FinishedAt: o.now(),
		Results:    map[domain.TableKind]*domain.Result{kind: res},
	}
	o.maybeNotify(ctx, &summary)

	return res, runErr
}

// RunAll validates every registered table against rng with bounded
// concurrency. The summary always covers all tables. Tables already
// started keep running to completion even when the caller's context is
// cancelled mid-run; only their traces and values are inherited from it.
func (o *Orchestrator) RunAll(ctx context.Context, rng domain.DateRange) (*domain.RunSummary, error) {
	summary := &domain.RunSummary{
		ID:        uuid.New(),
		StartedAt: o.now(),
		Results:   make(map[domain.TableKind]*domain.Result, len(domain.AllTableKinds())),
	}

	runCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for _, kind := range domain.AllTableKinds() {
		g.Go(func() error {
			res := o.runTable(runCtx, kind, rng)
			mu.Lock()
			summary.Results[kind] = res
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	summary.FinishedAt = o.now()
	o.maybeNotify(runCtx, summary)

	counts := summary.Counts()
	o.logger.InfoContext(ctx, "run completed",
		slog.String("run_id", summary.ID.String()),
		slog.Int("success", counts[domain.StatusSuccess]),
		slog.Int("partial", counts[domain.StatusPartial]),
		slog.Int("failed", counts[domain.StatusFailed]),
		slog.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
		slog.Bool("notified", summary.Notified))

	return summary, nil
}

// runTable is the per-table body of RunAll. Validation failures surface as
// a failed result, never as a run abort.
func (o *Orchestrator) runTable(ctx context.Context, kind domain.TableKind, rng domain.DateRange) *domain.Result {
	res, _ := o.run(ctx, kind, rng)
	if res == nil {
		// Only an unknown kind produces a nil result, and RunAll iterates
		// the registered set.
		res = &domain.Result{
			ID:         uuid.New(),
			Table:      kind,
			ExecutedAt: o.now(),
			Status:     domain.StatusFailed,
			Error:      "table not registered",
		}
	}
	return res
}

// run validates one table and persists the result.
func (o *Orchestrator) run(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (*domain.Result, error) {
	infrastructure.RecordActiveRunChange(ctx, o.metrics, 1, string(kind))
	defer infrastructure.RecordActiveRunChange(ctx, o.metrics, -1, string(kind))

	res, runErr := o.validator.Validate(ctx, kind, rng)
	if res == nil {
		return nil, runErr
	}

	o.persist(ctx, res)
	o.registry.markValidated(kind, res.ExecutedAt)
	return res, runErr
}

// persist writes the result to the cache and the primary store. A primary
// failure marks the result degraded instead of failing the run; the cached
// copy keeps it readable until the store recovers.
func (o *Orchestrator) persist(ctx context.Context, res *domain.Result) {
	if o.results == nil {
		return
	}

	err := o.results.Save(ctx, res)
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		res.DegradedPersistence = true
		o.logger.WarnContext(ctx, "result store unavailable, result held in local cache only",
			slog.String("result_id", res.ID.String()),
			slog.String("table", string(res.Table)),
			slog.String("error", err.Error()))
		if o.metrics != nil && o.metrics.StoreWriteFailures != nil {
			o.metrics.StoreWriteFailures.Add(ctx, 1)
		}
	} else if err != nil {
		o.logger.ErrorContext(ctx, "persisting result failed",
			slog.String("result_id", res.ID.String()),
			slog.String("error", err.Error()))
	}

	if o.cache != nil {
		_ = o.cache.Save(ctx, res)
	}
}

// SendDailySummary condenses every result of the last summary period into
// one digest and delivers it to the summary recipients. The digest goes out
// even when the period was quiet.
func (o *Orchestrator) SendDailySummary(ctx context.Context) error {
	if o.notifier == nil || !o.notifyCfg.Enabled {
		return nil
	}

	interval := o.notifyCfg.SummaryInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	end := o.now()
	start := end.Add(-interval)

	results, err := o.periodResults(ctx, start)
	if err != nil {
		return err
	}

	n := notify.BuildDailySummary(results, start, end)
	n.Recipients = o.notifyCfg.SummaryRecipients

	nctx := ctx
	if o.notifyCfg.Timeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, o.notifyCfg.Timeout)
		defer cancel()
	}

	if err := o.notifier.Notify(nctx, n); err != nil {
		o.logger.ErrorContext(ctx, "daily summary failed",
			slog.String("error", err.Error()))
		if o.metrics != nil && o.metrics.NotificationFailures != nil {
			o.metrics.NotificationFailures.Add(ctx, 1)
		}
		return err
	}

	if o.metrics != nil && o.metrics.NotificationsSent != nil {
		o.metrics.NotificationsSent.Add(ctx, 1)
	}
	o.logger.InfoContext(ctx, "daily summary sent",
		slog.Int("runs", n.Runs),
		slog.Int("tables", n.Tables),
		slog.String("max_severity", string(n.MaxSeverity)))
	return nil
}

// periodResults reads the digest window from the primary store, falling
// back to the local cache when the store is unreachable.
func (o *Orchestrator) periodResults(ctx context.Context, cutoff time.Time) ([]*domain.Result, error) {
	if o.results != nil {
		results, err := o.results.Since(ctx, cutoff)
		var storeErr *store.StoreError
		if err == nil {
			return results, nil
		}
		if !errors.As(err, &storeErr) {
			return nil, err
		}
		o.logger.WarnContext(ctx, "result store unavailable, summarizing from local cache",
			slog.String("error", err.Error()))
	}
	if o.cache == nil {
		return nil, nil
	}
	return o.cache.Since(ctx, cutoff)
}

// maybeNotify sends at most one notification for the run, and only when
// the worst finding reaches the configured threshold.
func (o *Orchestrator) maybeNotify(ctx context.Context, summary *domain.RunSummary) {
	if o.notifier == nil || !o.notifyCfg.Enabled {
		return
	}
	if !notify.ShouldNotify(*summary, o.notifyCfg.SeverityThreshold) {
		return
	}

	nctx := ctx
	if o.notifyCfg.Timeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(ctx, o.notifyCfg.Timeout)
		defer cancel()
	}

	if err := o.notifier.Notify(nctx, notify.Build(*summary)); err != nil {
		o.logger.ErrorContext(ctx, "notification failed",
			slog.String("run_id", summary.ID.String()),
			slog.String("error", err.Error()))
		if o.metrics != nil && o.metrics.NotificationFailures != nil {
			o.metrics.NotificationFailures.Add(ctx, 1)
		}
		return
	}

	summary.Notified = true
	if o.metrics != nil && o.metrics.NotificationsSent != nil {
		o.metrics.NotificationsSent.Add(ctx, 1)
	}
}
