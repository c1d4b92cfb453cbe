package cache

import "go.opentelemetry.io/otel/metric"

// Metrics holds the block cache's otel instruments, following the same
// per-package Metrics/NewMetrics shape as pagestore.Metrics. A nil *Metrics
// disables recording.
type Metrics struct {
	Hits      metric.Int64Counter
	Misses    metric.Int64Counter
	Evictions metric.Int64Counter
}

// NewMetrics registers the cache's instruments against meter, per
// SPEC_FULL's AMBIENT STACK: "the cache publishes hit/miss/eviction
// counters."
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	hits, err := meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Block cache reads served from residency."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Block cache reads that fell through to the backend."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Cached blocks invalidated by writes, truncation or page frees; blocks dropped under the HIR budget are not counted."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{Hits: hits, Misses: misses, Evictions: evictions}, nil
}
