package http

import (
	"context"

	"idxwatch/internal/dashboard"
	"idxwatch/pkg/contracts/domain"
)

// Read-model shapes are owned by the dashboard package; alias them so the
// interface stays satisfiable by its concrete service.
type (
	DashboardStats = dashboard.Stats
	TrendBucket    = dashboard.TrendBucket
)

// ValidationServiceInterface is what the validation endpoints need from the
// engine.
type ValidationServiceInterface interface {
	// Tables returns the catalog of validated tables.
	Tables() []domain.TableDescriptor
	// RunOne validates one table over rng. An unbounded rng gets the
	// table's default lookback.
	RunOne(ctx context.Context, kind domain.TableKind, rng domain.DateRange) (*domain.Result, error)
	// RunAll validates every table over rng with bounded concurrency.
	RunAll(ctx context.Context, rng domain.DateRange) (*domain.RunSummary, error)
}

// DashboardServiceInterface is what the dashboard endpoints need. The
// boolean returns report whether the data was served from the local cache
// because the result store was unreachable.
type DashboardServiceInterface interface {
	// Recent lists the newest results, optionally restricted to one table
	// kind; an empty kind means no filter.
	Recent(ctx context.Context, table domain.TableKind, limit int) ([]*domain.Result, bool, error)
	Stats(ctx context.Context) (*DashboardStats, bool, error)
	Trends(ctx context.Context, days int) ([]TrendBucket, bool, error)
}
