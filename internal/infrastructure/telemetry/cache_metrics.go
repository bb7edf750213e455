package telemetry

import (
	"context"
	"fmt"
	"time"
)

// CacheMetrics records read-model cache outcomes. It satisfies the cache
// package's Metrics interface; every data point is tagged with the logical
// read-model name so dashboards can break hit rates down per model.
type CacheMetrics struct {
	hits           *Counter
	misses         *Counter
	staleHits      *Counter
	loaderFailures *Counter
	loaderDuration *Histogram
}

// NewCacheMetrics creates the cache outcome counters on the given provider
func NewCacheMetrics(mp *MeterProvider) (*CacheMetrics, error) {
	meter := mp.Meter("console/cache")

	hits, err := NewCounter(meter, "cache.hits", "Fresh cache hits", "{hit}")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	misses, err := NewCounter(meter, "cache.misses", "Cache misses requiring a fetch", "{miss}")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	staleHits, err := NewCounter(meter, "cache.stale_hits", "Stale entries served while revalidating", "{hit}")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	loaderFailures, err := NewCounter(meter, "cache.loader_failures", "Loader calls that returned an error", "{failure}")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	loaderDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "cache.loader_duration",
		Description: "Read-model loader call duration",
		Unit:        "s",
		Boundaries:  LoaderDurationBuckets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}

	return &CacheMetrics{
		hits:           hits,
		misses:         misses,
		staleHits:      staleHits,
		loaderFailures: loaderFailures,
		loaderDuration: loaderDuration,
	}, nil
}

// Hit records a fresh cache hit
func (m *CacheMetrics) Hit(ctx context.Context, logicalName string) {
	m.hits.Inc(ctx, AttrLogicalName.String(logicalName))
}

// Miss records a cache miss
func (m *CacheMetrics) Miss(ctx context.Context, logicalName string) {
	m.misses.Inc(ctx, AttrLogicalName.String(logicalName))
}

// StaleHit records a stale entry served while a background refresh runs
func (m *CacheMetrics) StaleHit(ctx context.Context, logicalName string) {
	m.staleHits.Inc(ctx, AttrLogicalName.String(logicalName))
}

// LoaderFailure records a loader error
func (m *CacheMetrics) LoaderFailure(ctx context.Context, logicalName string) {
	m.loaderFailures.Inc(ctx, AttrLogicalName.String(logicalName))
}

// LoaderDuration records how long one loader call took, tagged with its outcome
func (m *CacheMetrics) LoaderDuration(ctx context.Context, logicalName string, d time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.loaderDuration.RecordDuration(ctx, d,
		AttrLogicalName.String(logicalName),
		AttrOutcome.String(outcome))
}
