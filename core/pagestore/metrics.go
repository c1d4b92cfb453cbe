package pagestore

import "go.opentelemetry.io/otel/metric"

// Metrics holds the page store's otel instruments, built the way
// internal/telemetry/grpc_metric.go built gRPC gateway metrics in the
// teacher: one named Int64Counter/Histogram per signal, constructed once
// from the process's shared meter and handed to every Store that wants
// them. A nil *Metrics (the default) means Store records nothing, so
// telemetry stays opt-in the same way *zap.Logger does.
type Metrics struct {
	ChangeCount     metric.Int64Counter
	PageAllocations metric.Int64Counter
}

// NewMetrics registers the page store's instruments against meter, per
// SPEC_FULL's AMBIENT STACK: the page store publishes a change_count
// counter and a page-allocation counter. PageAllocations carries a
// "page_type" attribute per call rather than one gauge per type, since
// otel's counter API already aggregates by attribute set.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	changeCount, err := meter.Int64Counter(
		"pagestore.change_count",
		metric.WithDescription("Cumulative page store mutations (allocate, update, free, root change)."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	pageAllocations, err := meter.Int64Counter(
		"pagestore.page_allocations",
		metric.WithDescription("Pages allocated, by page type."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{ChangeCount: changeCount, PageAllocations: pageAllocations}, nil
}
