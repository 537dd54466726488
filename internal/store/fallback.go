package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"idxwatch/internal/infrastructure"
	"idxwatch/pkg/contracts/domain"
)

// FallbackReader reads results from the primary store and falls back to the
// local cache when the primary fails with a StoreError. Other errors, such
// as bad arguments, propagate unchanged. The boolean return reports whether
// the data came from the cache.
type FallbackReader struct {
	primary ResultStore
	cache   *Cache
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics
}

// NewFallbackReader wires a primary store with its cache. metrics may be
// nil in tests.
func NewFallbackReader(primary ResultStore, cache *Cache, logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *FallbackReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackReader{
		primary: primary,
		cache:   cache,
		logger:  logger.With(slog.String("component", "store_fallback")),
		metrics: metrics,
	}
}

func (f *FallbackReader) Recent(ctx context.Context, limit int) ([]*domain.Result, bool, error) {
	results, err := f.primary.Recent(ctx, limit)
	if err == nil {
		return results, false, nil
	}
	if !f.fallbackEligible(ctx, "recent", err) {
		return nil, false, err
	}
	cached, _ := f.cache.Recent(ctx, limit)
	return cached, true, nil
}

func (f *FallbackReader) Since(ctx context.Context, cutoff time.Time) ([]*domain.Result, bool, error) {
	results, err := f.primary.Since(ctx, cutoff)
	if err == nil {
		return results, false, nil
	}
	if !f.fallbackEligible(ctx, "since", err) {
		return nil, false, err
	}
	cached, _ := f.cache.Since(ctx, cutoff)
	return cached, true, nil
}

func (f *FallbackReader) fallbackEligible(ctx context.Context, op string, err error) bool {
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return false
	}

	f.logger.WarnContext(ctx, "primary store unavailable, serving cached results",
		slog.String("op", op),
		slog.String("error", err.Error()))
	if f.metrics != nil && f.metrics.CacheFallbackReads != nil {
		f.metrics.CacheFallbackReads.Add(ctx, 1)
	}
	return true
}
