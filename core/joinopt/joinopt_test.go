package joinopt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/costmodel"
)

func namedFilters(names ...string) []*Filter {
	out := make([]*Filter, len(names))
	for i, n := range names {
		out[i] = &Filter{Name: n}
	}
	return out
}

// penalizeF2BeforeF1 returns a CostFunc charging a fixed base cost for
// every filter, plus a penalty when
// f2 is placed before f1 — giving the optimizer an unambiguous "right
// answer" to converge on regardless of which search strategy runs.
func penalizeF2BeforeF1(filters []*Filter) CostFunc {
	return func(order []*Filter) int64 {
		cost := int64(10)
		seenF2 := false
		for _, f := range order {
			cost += 10
			if f.Name == "f2" {
				seenF2 = true
			}
			if f.Name == "f1" && seenF2 {
				cost += 10000
			}
		}
		return cost
	}
}

func TestOptimizeSingleFilterForcesTrivialPlan(t *testing.T) {
	filters := namedFilters("only")
	opt := New(filters, penalizeF2BeforeF1(filters), false, nil)
	plan := opt.Optimize()
	require.Len(t, plan.Order, 1)
	require.Equal(t, "only", plan.Order[0].Name)
	require.Greater(t, plan.Cost, int64(0))
}

func TestOptimizeForceJoinOrderSkipsSearch(t *testing.T) {
	filters := namedFilters("f2", "f1")
	opt := New(filters, penalizeF2BeforeF1(filters), true, nil)
	plan := opt.Optimize()
	require.Equal(t, []*Filter{filters[0], filters[1]}, plan.Order)
}

func TestOptimizeBruteForceFindsCheaperOrder(t *testing.T) {
	filters := namedFilters("f2", "f1", "f3")
	opt := New(filters, penalizeF2BeforeF1(filters), false, nil)
	plan := opt.Optimize()

	f1Pos, f2Pos := -1, -1
	for i, f := range plan.Order {
		if f.Name == "f1" {
			f1Pos = i
		}
		if f.Name == "f2" {
			f2Pos = i
		}
	}
	require.True(t, f1Pos < f2Pos, "brute force should avoid the penalized f2-before-f1 ordering")
}

func TestOptimizePlansCarryUniqueIDs(t *testing.T) {
	filters := namedFilters("a", "b")
	opt := New(filters, penalizeF2BeforeF1(filters), false, nil)
	p1 := opt.Optimize()
	p2 := opt.Optimize()
	require.NotEqual(t, p1.ID, p2.ID)
}

func TestMaxBruteForcePositionsStaysUnderBudget(t *testing.T) {
	k := maxBruteForcePositions(10)
	require.GreaterOrEqual(t, k, 0)
	require.LessOrEqual(t, k, 10)
	// One position costs 10*(10*9/2) = 450 < 2000; a second would cost
	// 90*(9*8/2) = 3240, over the maxBruteForce budget.
	require.Equal(t, 1, k)
}

func TestGreedyFillCompletesPrefixUsingEveryFilterOnce(t *testing.T) {
	filters := namedFilters("f2", "f1", "f3", "f4")
	opt := New(filters, penalizeF2BeforeF1(filters), false, nil)
	order := opt.greedyFill(filters[:1])
	require.Len(t, order, len(filters))
	seen := map[string]bool{}
	for _, f := range order {
		require.False(t, seen[f.Name], "greedyFill must not repeat a filter")
		seen[f.Name] = true
	}
}

func TestOptimizeLargeFilterSetUsesGeneticSearch(t *testing.T) {
	names := make([]string, maxBruteForceFilters+3)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	filters := namedFilters(names...)
	opt := New(filters, func(order []*Filter) int64 {
		var cost int64 = 1
		for i, f := range order {
			cost += int64(i+1) * int64(len(f.Name))
		}
		return cost
	}, false, nil)
	plan := opt.Optimize()
	require.NotNil(t, opt.rnd, "only the genetic search seeds the optimizer's random source")
	require.Len(t, plan.Order, len(filters))
	require.Greater(t, plan.Cost, int64(0))
}

func TestVirtualRangeCostIsConstant(t *testing.T) {
	require.Equal(t, costmodel.VirtualIndexCost, virtualRangeCost())
}
