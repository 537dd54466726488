// Package datasource fetches table snapshots from the upstream dataset
// service. The engine only sees the DataSource interface, so tests swap in
// fixtures without a server.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"idxwatch/internal/config"
	apperrors "idxwatch/internal/errors"
	"idxwatch/pkg/contracts/domain"
)

// DataSource fetches the rows of one table for a date range.
type DataSource interface {
	Fetch(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (domain.Dataset, error)
}

// maxResponseBytes caps upstream payloads. The largest table snapshot
// observed is well under 100MB.
const maxResponseBytes = 256 << 20

// HTTPSource is the production DataSource backed by the dataset service's
// JSON API.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSource builds a source from configuration. A nil logger falls back
// to slog's default.
func NewHTTPSource(cfg config.SourceConfig, logger *slog.Logger) *HTTPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: logger.With(slog.String("component", "datasource")),
	}
}

// rowPayload is the wire shape of one table row. Values uses pointers so
// explicit nulls and absent keys both read as missing.
type rowPayload struct {
	Symbol  string              `json:"symbol"`
	Date    string              `json:"date"`
	Values  map[string]*float64 `json:"values"`
	Tickers []string            `json:"tickers,omitempty"`
}

type tablePayload struct {
	Table string       `json:"table"`
	Rows  []rowPayload `json:"rows"`
}

// Fetch retrieves one table's rows, bounded by rng when set. For the
// filings table it also pulls the daily price rows of the same range so the
// filing-versus-close comparison has its reference data.
func (s *HTTPSource) Fetch(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (domain.Dataset, error) {
	rows, err := s.fetchRows(ctx, kind, rng)
	if err != nil {
		return domain.Dataset{}, err
	}

	ds := domain.Dataset{Kind: kind, Rows: rows}

	if kind == domain.TableFilings && len(rows) > 0 {
		ref, err := s.fetchRows(ctx, domain.TableDailyPrices, referenceRange(rows, rng))
		if err != nil {
			// The filings check degrades to skipping the comparison; the
			// rest of the rule set still runs.
			s.logger.WarnContext(ctx, "reference fetch failed, filings price check will be skipped",
				slog.String("error", err.Error()))
		} else {
			ds.Reference = ref
		}
	}

	return ds, nil
}

func (s *HTTPSource) fetchRows(ctx context.Context, kind domain.TableKind, rng domain.DateRange) ([]domain.Row, error) {
	u, err := url.Parse(s.baseURL + "/api/tables/" + string(kind))
	if err != nil {
		return nil, apperrors.NewFetchError(fmt.Sprintf("invalid source URL for table %s", kind), err)
	}
	q := u.Query()
	if rng.Start != nil {
		q.Set("start", rng.Start.Format("2006-01-02"))
	}
	if rng.End != nil {
		q.Set("end", rng.End.Format("2006-01-02"))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.NewFetchError("building source request", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w: %w", kind, apperrors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("table %s: %w", kind, apperrors.ErrUnknownTable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetching %s: %w: upstream returned %d", kind, apperrors.ErrSourceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewFetchError(fmt.Sprintf("fetching %s: unexpected status %d", kind, resp.StatusCode), nil)
	}

	var payload tablePayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, apperrors.NewFetchError(fmt.Sprintf("decoding %s response", kind), err)
	}

	rows, err := decodeRows(payload.Rows)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("parsing %s rows", kind), err)
	}

	s.logger.DebugContext(ctx, "table fetched",
		slog.String("table", string(kind)),
		slog.Int("rows", len(rows)),
		slog.Duration("duration", time.Since(start)))

	return rows, nil
}

func decodeRows(payload []rowPayload) ([]domain.Row, error) {
	rows := make([]domain.Row, 0, len(payload))
	for i, p := range payload {
		date, err := parseDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		values := make(map[string]float64, len(p.Values))
		for k, v := range p.Values {
			if v != nil {
				values[k] = *v
			}
		}
		rows = append(rows, domain.Row{
			Symbol:  p.Symbol,
			Date:    date,
			Values:  values,
			Tickers: p.Tickers,
		})
	}
	return rows, nil
}

// parseDate accepts both the plain date and full RFC 3339 forms the
// upstream emits across tables.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q", s)
	}
	return t.UTC(), nil
}

// referenceRange widens rng to cover every filing date so the same-day
// close lookup cannot miss rows at the edges.
func referenceRange(rows []domain.Row, rng domain.DateRange) domain.DateRange {
	min, max := rows[0].Date, rows[0].Date
	for _, r := range rows[1:] {
		if r.Date.Before(min) {
			min = r.Date
		}
		if r.Date.After(max) {
			max = r.Date
		}
	}
	if rng.Start != nil && rng.Start.Before(min) {
		min = *rng.Start
	}
	if rng.End != nil && rng.End.After(max) {
		max = *rng.End
	}
	return domain.DateRange{Start: &min, End: &max}
}
