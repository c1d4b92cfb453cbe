package joinopt

import "go.opentelemetry.io/otel/metric"

// Metrics holds the optimizer's otel instruments, following the same
// per-package Metrics/NewMetrics shape as pagestore.Metrics and
// cache.Metrics. A nil *Metrics disables recording.
type Metrics struct {
	SearchIterations metric.Int64Histogram
	ChosenPlanCost   metric.Int64Histogram
}

// NewMetrics registers the optimizer's instruments against meter, per
// SPEC_FULL's AMBIENT STACK: "the optimizer publishes a histogram of
// search iterations and chosen-plan cost."
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	iterations, err := meter.Int64Histogram(
		"joinopt.search_iterations",
		metric.WithDescription("Candidate orderings evaluated per Optimize call."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	planCost, err := meter.Int64Histogram(
		"joinopt.chosen_plan_cost",
		metric.WithDescription("Estimated cost of the plan Optimize selected."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{SearchIterations: iterations, ChosenPlanCost: planCost}, nil
}
