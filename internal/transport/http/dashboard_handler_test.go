package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apierrors "idxwatch/internal/errors"
	"idxwatch/pkg/contracts/domain"
)

type stubDashboardService struct {
	results   []*domain.Result
	stats     *DashboardStats
	trends    []TrendBucket
	fromCache bool
	err       error
	lastTable domain.TableKind
	lastLimit int
	lastDays  int
}

func (s *stubDashboardService) Recent(_ context.Context, table domain.TableKind, limit int) ([]*domain.Result, bool, error) {
	s.lastTable = table
	s.lastLimit = limit
	return s.results, s.fromCache, s.err
}

func (s *stubDashboardService) Stats(context.Context) (*DashboardStats, bool, error) {
	return s.stats, s.fromCache, s.err
}

func (s *stubDashboardService) Trends(_ context.Context, days int) ([]TrendBucket, bool, error) {
	s.lastDays = days
	return s.trends, s.fromCache, s.err
}

func newDashboardServer(t *testing.T, svc *stubDashboardService) *httptest.Server {
	t.Helper()
	logger := testLogger()
	h := NewDashboardHandler(svc, logger, apierrors.NewErrorHandler(logger, false))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestGetResults(t *testing.T) {
	svc := &stubDashboardService{results: []*domain.Result{
		{ID: uuid.New(), Table: domain.TableDailyPrices, Status: domain.StatusSuccess},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/results?limit=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "store", resp.Header.Get("X-Data-Source"))
	assert.Equal(t, 5, svc.lastLimit)

	body := decodeBody(t, resp)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, false, body["from_cache"])
}

func TestGetResults_TableFilter(t *testing.T) {
	svc := &stubDashboardService{results: []*domain.Result{
		{ID: uuid.New(), Table: domain.TableDividends, Status: domain.StatusSuccess},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/results?table=dividends")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.TableDividends, svc.lastTable)

	resp, err = http.Get(srv.URL + "/results?table=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetResults_CacheFallbackMarked(t *testing.T) {
	svc := &stubDashboardService{fromCache: true}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/results")
	require.NoError(t, err)
	assert.Equal(t, "cache", resp.Header.Get("X-Data-Source"))

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["from_cache"])
}

func TestGetResults_BadLimit(t *testing.T) {
	srv := newDashboardServer(t, &stubDashboardService{})

	resp, err := http.Get(srv.URL + "/results?limit=-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStats(t *testing.T) {
	svc := &stubDashboardService{stats: &DashboardStats{
		TotalRuns:    12,
		StatusCounts: map[domain.Status]int{domain.StatusSuccess: 10, domain.StatusFailed: 2},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(12), data["total_runs"])
}

func TestGetTrends(t *testing.T) {
	svc := &stubDashboardService{trends: []TrendBucket{
		{Day: "2024-06-01"}, {Day: "2024-06-02", Runs: 3, Anomalies: 7},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/trends?days=14")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 14, svc.lastDays)

	resp.Body.Close()

	// Window cap enforced.
	resp, err = http.Get(srv.URL + "/trends?days=365")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStats_StoreDown(t *testing.T) {
	svc := &stubDashboardService{err: apierrors.ErrStoreUnavailable}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/problem+json")
}

func TestExport(t *testing.T) {
	svc := &stubDashboardService{results: []*domain.Result{
		{
			ID:         uuid.New(),
			Table:      domain.TableDividends,
			ExecutedAt: time.Now().UTC(),
			Status:     domain.StatusSuccess,
			RowCount:   42,
		},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Runs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "dividends", rows[1][1])
}

func TestExport_CSV(t *testing.T) {
	svc := &stubDashboardService{results: []*domain.Result{
		{
			ID:    uuid.New(),
			Table: domain.TableDividends,
			Anomalies: []domain.Anomaly{
				{Rule: "yearly_yield", Severity: domain.SeverityWarning, Symbol: "HMSP"},
			},
		},
	}}
	srv := newDashboardServer(t, svc)

	resp, err := http.Get(srv.URL + "/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "yearly_yield")
	assert.Contains(t, string(body), "HMSP")
}

func TestExport_BadFormat(t *testing.T) {
	srv := newDashboardServer(t, &stubDashboardService{})

	resp, err := http.Get(srv.URL + "/export?format=pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
