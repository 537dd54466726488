// Package dashboard aggregates persisted validation results into the
// read models the UI endpoints serve. Reads go through the store's
// fallback reader, so a remote outage degrades to cached data instead of
// an error; every response carries a from-cache marker.
package dashboard

import (
	"context"
	"log/slog"
	"time"

	"idxwatch/internal/store"
	"idxwatch/pkg/contracts/domain"
)

const (
	// DefaultRecentLimit bounds the recent-results listing when the caller
	// does not specify one.
	DefaultRecentLimit = 20

	// statsWindow is how many recent results feed the aggregate stats.
	statsWindow = 100

	// DefaultTrendDays is the trend window when none is requested.
	DefaultTrendDays = 7
)

// TableStatus is the latest outcome for one table.
type TableStatus struct {
	Status     domain.Status `json:"status"`
	ExecutedAt time.Time     `json:"executed_at"`
	Anomalies  int           `json:"anomalies"`
	Degraded   bool          `json:"degraded,omitempty"`
}

// Stats aggregates recent runs for the dashboard header. FailureRate is
// the fraction of runs that finished failed or partial.
type Stats struct {
	TotalRuns      int                              `json:"total_runs"`
	StatusCounts   map[domain.Status]int            `json:"status_counts"`
	SeverityCounts map[domain.Severity]int          `json:"severity_counts"`
	FailureRate    float64                          `json:"failure_rate"`
	Tables         map[domain.TableKind]TableStatus `json:"tables"`
}

// TrendBucket is one day of the anomaly trend series.
type TrendBucket struct {
	Day            string                  `json:"day"`
	Runs           int                     `json:"runs"`
	Anomalies      int                     `json:"anomalies"`
	SeverityCounts map[domain.Severity]int `json:"severity_counts"`
}

// Service builds the dashboard read models.
type Service struct {
	reader *store.FallbackReader
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the dashboard over the fallback reader.
func NewService(reader *store.FallbackReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reader: reader,
		logger: logger.With(slog.String("component", "dashboard")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Recent returns the newest results, newest first, optionally restricted
// to one table kind. The boolean reports whether the data came from the
// local cache.
func (s *Service) Recent(ctx context.Context, table domain.TableKind, limit int) ([]*domain.Result, bool, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if table == "" {
		return s.reader.Recent(ctx, limit)
	}

	// Filtered reads scan a wider window so one chatty table cannot push
	// another's runs past the limit.
	results, fromCache, err := s.reader.Recent(ctx, statsWindow)
	if err != nil {
		return nil, fromCache, err
	}
	filtered := make([]*domain.Result, 0, limit)
	for _, res := range results {
		if res.Table != table {
			continue
		}
		filtered = append(filtered, res)
		if len(filtered) == limit {
			break
		}
	}
	return filtered, fromCache, nil
}

// Stats aggregates the most recent runs into per-status, per-severity and
// per-table counts.
func (s *Service) Stats(ctx context.Context) (*Stats, bool, error) {
	results, fromCache, err := s.reader.Recent(ctx, statsWindow)
	if err != nil {
		return nil, fromCache, err
	}

	stats := &Stats{
		TotalRuns:      len(results),
		StatusCounts:   make(map[domain.Status]int),
		SeverityCounts: make(map[domain.Severity]int),
		Tables:         make(map[domain.TableKind]TableStatus),
	}

	for _, res := range results {
		stats.StatusCounts[res.Status]++
		for sev, n := range res.CountBySeverity() {
			stats.SeverityCounts[sev] += n
		}

		// Results arrive newest first, so the first sighting of a table is
		// its latest run.
		if _, seen := stats.Tables[res.Table]; !seen {
			stats.Tables[res.Table] = TableStatus{
				Status:     res.Status,
				ExecutedAt: res.ExecutedAt,
				Anomalies:  len(res.Anomalies),
				Degraded:   res.DegradedPersistence,
			}
		}
	}
	if stats.TotalRuns > 0 {
		bad := stats.StatusCounts[domain.StatusFailed] + stats.StatusCounts[domain.StatusPartial]
		stats.FailureRate = float64(bad) / float64(stats.TotalRuns)
	}
	return stats, fromCache, nil
}

// Trends returns one bucket per day over the window, oldest first. Days
// without runs appear as zero buckets so chart axes stay dense.
func (s *Service) Trends(ctx context.Context, days int) ([]TrendBucket, bool, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}

	today := s.now().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -(days - 1))

	results, fromCache, err := s.reader.Since(ctx, cutoff)
	if err != nil {
		return nil, fromCache, err
	}

	byDay := make(map[string]*TrendBucket, days)
	buckets := make([]TrendBucket, 0, days)
	for i := 0; i < days; i++ {
		day := cutoff.AddDate(0, 0, i).Format("2006-01-02")
		buckets = append(buckets, TrendBucket{
			Day:            day,
			SeverityCounts: make(map[domain.Severity]int),
		})
		byDay[day] = &buckets[len(buckets)-1]
	}

	for _, res := range results {
		bucket, ok := byDay[res.ExecutedAt.Format("2006-01-02")]
		if !ok {
			continue
		}
		bucket.Runs++
		bucket.Anomalies += len(res.Anomalies)
		for sev, n := range res.CountBySeverity() {
			bucket.SeverityCounts[sev] += n
		}
	}
	return buckets, fromCache, nil
}
