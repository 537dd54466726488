package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxwatch/internal/config"
	apperrors "idxwatch/internal/errors"
	"idxwatch/internal/notify"
	"idxwatch/internal/rules"
	"idxwatch/internal/store"
	"idxwatch/pkg/contracts/domain"
)

// stubSource serves canned datasets per table kind.
type stubSource struct {
	datasets map[domain.TableKind]domain.Dataset
	err      error
	errFor   map[domain.TableKind]error

	mu     sync.Mutex
	calls  []domain.TableKind
	ranges []domain.DateRange
}

func (s *stubSource) Fetch(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (domain.Dataset, error) {
	s.mu.Lock()
	s.calls = append(s.calls, kind)
	s.ranges = append(s.ranges, rng)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Dataset{}, err
	}
	if s.err != nil {
		return domain.Dataset{}, s.err
	}
	if err := s.errFor[kind]; err != nil {
		return domain.Dataset{}, err
	}
	return s.datasets[kind], nil
}

func (s *stubSource) fetchedRanges() []domain.DateRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DateRange(nil), s.ranges...)
}

// recordingStore captures saves and optionally fails them.
type recordingStore struct {
	mu    sync.Mutex
	saved []*domain.Result
	err   error
}

func (s *recordingStore) Save(_ context.Context, res *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, res)
	return s.err
}

func (s *recordingStore) Recent(context.Context, int) ([]*domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

func (s *recordingStore) Since(context.Context, time.Time) ([]*domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

type recordingNotifier struct {
	notifications []notify.Notification
	err           error
}

func (n *recordingNotifier) Notify(_ context.Context, notification notify.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.notifications = append(n.notifications, notification)
	return nil
}

func cleanDatasets() map[domain.TableKind]domain.Dataset {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	mk := func(kind domain.TableKind, values map[string]float64) domain.Dataset {
		return domain.Dataset{Kind: kind, Rows: []domain.Row{
			{Symbol: "BBCA", Date: d, Values: values},
		}}
	}
	return map[domain.TableKind]domain.Dataset{
		domain.TableFinancialsAnnual:    mk(domain.TableFinancialsAnnual, map[string]float64{"revenue": 100, "earnings": 10, "total_assets": 1000}),
		domain.TableFinancialsQuarterly: mk(domain.TableFinancialsQuarterly, map[string]float64{"revenue": 25, "earnings": 3, "total_assets": 1000}),
		domain.TableDailyPrices:         mk(domain.TableDailyPrices, map[string]float64{"close": 9500}),
		domain.TableDividends:           mk(domain.TableDividends, map[string]float64{"yield": 0.05}),
		domain.TableAllTimePrice:        mk(domain.TableAllTimePrice, map[string]float64{"high_all": 10000, "low_all": 5000}),
		domain.TableFilings:             mk(domain.TableFilings, map[string]float64{"price": 9400}),
		domain.TableStockSplits:         mk(domain.TableStockSplits, map[string]float64{"ratio": 2}),
	}
}

func newTestValidator(source *stubSource, lookback LookbackFunc) (*Validator, *Registry) {
	registry := NewRegistry(rules.DefaultParams())
	return NewValidator(source, registry, lookback, nil, nil), registry
}

func TestRegistry_Descriptors(t *testing.T) {
	registry := NewRegistry(rules.DefaultParams())

	descs := registry.Descriptors()
	require.Len(t, descs, len(domain.AllTableKinds()))
	assert.Equal(t, domain.TableFinancialsAnnual, descs[0].Kind)
	assert.Equal(t, "Annual financial statements", descs[0].Label)
	assert.Contains(t, descs[0].RuleSynopsis, "extreme_change_annual")
	assert.True(t, descs[0].LastValidated.IsZero())
}

func TestRegistry_MarkValidatedConcurrent(t *testing.T) {
	registry := NewRegistry(rules.DefaultParams())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			registry.markValidated(domain.TableDailyPrices, time.Now().UTC())
			registry.Descriptors()
		}()
	}
	wg.Wait()

	for _, d := range registry.Descriptors() {
		if d.Kind == domain.TableDailyPrices {
			assert.False(t, d.LastValidated.IsZero())
		}
	}
}

func TestValidator_CleanRun(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	validator, _ := newTestValidator(source, nil)

	res, err := validator.Validate(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.RowCount)
	assert.Empty(t, res.Anomalies)
	assert.NotZero(t, res.ID)
}

func TestValidator_CriticalAnomalyStaysSuccess(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableDailyPrices: {Rows: []domain.Row{
			// Missing close fails the completeness check; the run itself
			// still completed, so the finding is data, not a run failure.
			{Symbol: "BBCA", Date: d, Values: map[string]float64{"open": 100}},
		}},
	}}
	validator, _ := newTestValidator(source, nil)

	res, err := validator.Validate(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	require.NotEmpty(t, res.Anomalies)
	assert.Equal(t, "completeness", res.Anomalies[0].Rule)
	assert.Equal(t, domain.SeverityCritical, res.Anomalies[0].Severity)
}

func TestValidator_FlagsRowsOutsideWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableDailyPrices: {Rows: []domain.Row{
			{Symbol: "BBCA", Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Values: map[string]float64{"close": 9500}},
			// The source ignored the window filter for this one.
			{Symbol: "BBCA", Date: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), Values: map[string]float64{"close": 9600}},
		}},
	}}
	validator, _ := newTestValidator(source, nil)

	res, err := validator.Validate(context.Background(), domain.TableDailyPrices, domain.DateRange{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "range", res.Anomalies[0].Rule)
	assert.Equal(t, domain.SeverityCritical, res.Anomalies[0].Severity)
	assert.Contains(t, res.Anomalies[0].Message, "outside the requested window")
}

func TestValidator_FlagsFutureDatedRows(t *testing.T) {
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableFilings: {Rows: []domain.Row{
			{Symbol: "BBCA", Date: time.Now().UTC().Add(48 * time.Hour), Values: map[string]float64{"price": 9400}},
		}},
	}}
	validator, _ := newTestValidator(source, nil)

	res, err := validator.Validate(context.Background(), domain.TableFilings, domain.DateRange{})
	require.NoError(t, err)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "range", res.Anomalies[0].Rule)
	assert.Equal(t, domain.SeverityCritical, res.Anomalies[0].Severity)
	assert.Contains(t, res.Anomalies[0].Message, "future")
}

func TestValidator_FetchFailure(t *testing.T) {
	source := &stubSource{err: apperrors.ErrSourceUnavailable}
	validator, _ := newTestValidator(source, nil)

	res, err := validator.Validate(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestValidator_EmptyDataset(t *testing.T) {
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{}}
	validator, _ := newTestValidator(source, nil)

	// A fetch that genuinely returns no rows is a clean run over an empty
	// window, not a failure.
	res, err := validator.Validate(context.Background(), domain.TableDividends, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, 0, res.RowCount)
	assert.Empty(t, res.Anomalies)
}

func TestValidator_UnknownTable(t *testing.T) {
	validator, _ := newTestValidator(&stubSource{}, nil)

	res, err := validator.Validate(context.Background(), domain.TableKind("bogus"), domain.DateRange{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperrors.ErrUnknownTable))
}

func TestValidator_AppliesDefaultLookback(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	lookback := func(kind domain.TableKind) time.Duration {
		if kind == domain.TableDailyPrices {
			return 7 * 24 * time.Hour
		}
		return 0
	}
	validator, _ := newTestValidator(source, lookback)
	ctx := context.Background()

	_, err := validator.Validate(ctx, domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	require.Len(t, source.ranges, 1)
	require.NotNil(t, source.ranges[0].Start)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), *source.ranges[0].Start, time.Minute)

	// Explicit ranges pass through untouched.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = validator.Validate(ctx, domain.TableDailyPrices, domain.DateRange{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, start, *source.ranges[1].Start)

	// Tables without a lookback stay unbounded.
	_, err = validator.Validate(ctx, domain.TableDividends, domain.DateRange{})
	require.NoError(t, err)
	assert.False(t, source.ranges[2].Bounded())
}

// panicRule exercises rule containment.
type panicRule struct{}

func (panicRule) Name() string { return "panicky" }

func (panicRule) Evaluate(domain.Dataset) []domain.Anomaly { panic("boom") }

func TestValidator_RecoversPanickingRule(t *testing.T) {
	registry := NewRegistry(rules.DefaultParams())
	registry.entries[domain.TableDailyPrices].rules = []rules.Rule{panicRule{}}

	source := &stubSource{datasets: cleanDatasets()}
	validator := NewValidator(source, registry, nil, nil, nil)

	res, err := validator.Validate(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, res.Status)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "panicky", res.Anomalies[0].Rule)
	assert.Equal(t, domain.SeverityCritical, res.Anomalies[0].Severity)
	assert.Contains(t, res.Anomalies[0].Message, "rule evaluation failed")
}

func notifyAll() config.NotifyConfig {
	return config.NotifyConfig{
		Enabled:           true,
		SeverityThreshold: domain.SeverityWarning,
		Timeout:           time.Second,
	}
}

func newTestOrchestrator(source *stubSource, results store.ResultStore, notifier notify.Notifier) *Orchestrator {
	validator, registry := newTestValidator(source, nil)
	return NewOrchestrator(validator, registry, results, store.NewCache(10), notifier, notifyAll(), 4, nil, nil)
}

func TestOrchestrator_RunOnePersists(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	results := &recordingStore{}
	notifier := &recordingNotifier{}
	o := newTestOrchestrator(source, results, notifier)

	res, err := o.RunOne(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.False(t, res.DegradedPersistence)

	require.Len(t, results.saved, 1)
	assert.Equal(t, res.ID, results.saved[0].ID)

	// Clean run, nothing to alert on.
	assert.Empty(t, notifier.notifications)

	// Last-validated is visible in the catalog afterwards.
	for _, d := range o.registry.Descriptors() {
		if d.Kind == domain.TableDailyPrices {
			assert.False(t, d.LastValidated.IsZero())
		}
	}
}

func TestOrchestrator_RunOneDegradedPersistence(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	results := &recordingStore{err: store.NewStoreError("save", errors.New("connection refused"))}
	o := newTestOrchestrator(source, results, nil)

	res, err := o.RunOne(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.True(t, res.DegradedPersistence)

	// The cached copy is still readable.
	cached, cerr := o.cache.Recent(context.Background(), 10)
	require.NoError(t, cerr)
	require.Len(t, cached, 1)
	assert.Equal(t, res.ID, cached[0].ID)
}

func TestOrchestrator_RunOneNotifiesOnAnomalies(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableDailyPrices: {Rows: []domain.Row{
			{Symbol: "BBCA", Date: d, Values: map[string]float64{"close": 1000}},
			{Symbol: "BBCA", Date: d.AddDate(0, 0, 1), Values: map[string]float64{"close": 100}},
		}},
	}}
	notifier := &recordingNotifier{}
	o := newTestOrchestrator(source, &recordingStore{}, notifier)

	res, err := o.RunOne(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Anomalies)

	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, domain.SeverityWarning, notifier.notifications[0].MaxSeverity)
}

func TestOrchestrator_ConcurrentRunsSameTable(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	results := &recordingStore{}
	o := newTestOrchestrator(source, results, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.RunOne(context.Background(), domain.TableFilings, domain.DateRange{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	results.mu.Lock()
	defer results.mu.Unlock()
	assert.Len(t, results.saved, 4)
}

func TestOrchestrator_RunAll(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	results := &recordingStore{}
	notifier := &recordingNotifier{}
	o := newTestOrchestrator(source, results, notifier)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	rng := domain.DateRange{Start: &start, End: &end}

	summary, err := o.RunAll(context.Background(), rng)
	require.NoError(t, err)
	require.Len(t, summary.Results, len(domain.AllTableKinds()))

	counts := summary.Counts()
	assert.Equal(t, len(domain.AllTableKinds()), counts[domain.StatusSuccess])
	assert.False(t, summary.Notified)
	assert.Empty(t, notifier.notifications)
	assert.Len(t, results.saved, len(domain.AllTableKinds()))

	// The requested window reaches every table's fetch.
	fetched := source.fetchedRanges()
	require.Len(t, fetched, len(domain.AllTableKinds()))
	for _, got := range fetched {
		require.NotNil(t, got.Start)
		require.NotNil(t, got.End)
		assert.Equal(t, start, *got.Start)
		assert.Equal(t, end, *got.End)
	}
}

func TestOrchestrator_RunAllFinishesAfterCallerCancels(t *testing.T) {
	source := &stubSource{datasets: cleanDatasets()}
	results := &recordingStore{}
	o := newTestOrchestrator(source, results, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.RunAll(ctx, domain.DateRange{})
	require.NoError(t, err)

	counts := summary.Counts()
	assert.Equal(t, len(domain.AllTableKinds()), counts[domain.StatusSuccess])
	assert.Zero(t, counts[domain.StatusFailed])
}

func TestOrchestrator_RunAllPartialFailure(t *testing.T) {
	// Dividends cannot be fetched: that table fails, the rest proceed.
	source := &stubSource{
		datasets: cleanDatasets(),
		errFor:   map[domain.TableKind]error{domain.TableDividends: apperrors.ErrSourceUnavailable},
	}
	o := newTestOrchestrator(source, &recordingStore{}, nil)

	summary, err := o.RunAll(context.Background(), domain.DateRange{})
	require.NoError(t, err)

	counts := summary.Counts()
	assert.Equal(t, 1, counts[domain.StatusFailed])
	assert.Equal(t, len(domain.AllTableKinds())-1, counts[domain.StatusSuccess])
	assert.Equal(t, domain.StatusFailed, summary.Results[domain.TableDividends].Status)
}

func TestOrchestrator_RunAllSingleNotification(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	datasets := cleanDatasets()
	// Two tables with warnings still produce exactly one notification.
	datasets[domain.TableDailyPrices] = domain.Dataset{Rows: []domain.Row{
		{Symbol: "BBCA", Date: d, Values: map[string]float64{"close": 1000}},
		{Symbol: "BBCA", Date: d.AddDate(0, 0, 1), Values: map[string]float64{"close": 100}},
	}}
	datasets[domain.TableStockSplits] = domain.Dataset{Rows: []domain.Row{
		{Symbol: "DUPE", Date: d, Values: map[string]float64{"ratio": 2}},
		{Symbol: "DUPE", Date: d.AddDate(0, 0, 3), Values: map[string]float64{"ratio": 2}},
	}}

	source := &stubSource{datasets: datasets}
	notifier := &recordingNotifier{}
	o := newTestOrchestrator(source, &recordingStore{}, notifier)

	summary, err := o.RunAll(context.Background(), domain.DateRange{})
	require.NoError(t, err)
	assert.True(t, summary.Notified)
	require.Len(t, notifier.notifications, 1)
	assert.GreaterOrEqual(t, notifier.notifications[0].SeverityCounts[domain.SeverityWarning], 2)
}

func TestOrchestrator_NotifierFailureDoesNotFailRun(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableDailyPrices: {Rows: []domain.Row{
			{Symbol: "BBCA", Date: d, Values: map[string]float64{"close": 1000}},
			{Symbol: "BBCA", Date: d.AddDate(0, 0, 1), Values: map[string]float64{"close": 100}},
		}},
	}}
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	o := newTestOrchestrator(source, &recordingStore{}, notifier)

	res, err := o.RunOne(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Anomalies)
}

func TestOrchestrator_SendDailySummary(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	source := &stubSource{datasets: map[domain.TableKind]domain.Dataset{
		domain.TableDailyPrices: {Rows: []domain.Row{
			{Symbol: "BBCA", Date: d, Values: map[string]float64{"close": 1000}},
			{Symbol: "BBCA", Date: d.AddDate(0, 0, 1), Values: map[string]float64{"close": 100}},
		}},
	}}
	notifier := &recordingNotifier{}
	validator, registry := newTestValidator(source, nil)
	cfg := notifyAll()
	cfg.SummaryRecipients = []string{"ops@example.com"}
	o := NewOrchestrator(validator, registry, &recordingStore{}, store.NewCache(10), notifier, cfg, 4, nil, nil)

	_, err := o.RunOne(context.Background(), domain.TableDailyPrices, domain.DateRange{})
	require.NoError(t, err)

	require.NoError(t, o.SendDailySummary(context.Background()))

	// One alert from the run plus the digest.
	require.Len(t, notifier.notifications, 2)
	digest := notifier.notifications[1]
	assert.Equal(t, notify.KindDailySummary, digest.Kind)
	assert.Equal(t, 1, digest.Runs)
	assert.Equal(t, []string{"ops@example.com"}, digest.Recipients)
	assert.NotEmpty(t, digest.TopRules)
}

func TestOrchestrator_SendDailySummaryQuietPeriod(t *testing.T) {
	notifier := &recordingNotifier{}
	validator, registry := newTestValidator(&stubSource{}, nil)
	o := NewOrchestrator(validator, registry, &recordingStore{}, store.NewCache(10), notifier, notifyAll(), 4, nil, nil)

	// The digest goes out even when nothing ran.
	require.NoError(t, o.SendDailySummary(context.Background()))
	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, notify.KindDailySummary, notifier.notifications[0].Kind)
	assert.Zero(t, notifier.notifications[0].Runs)
	assert.Empty(t, notifier.notifications[0].MaxSeverity)
}
