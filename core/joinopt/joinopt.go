// Package joinopt implements the cost-based join-order optimizer (C9):
// given one TableFilter per joined table, it searches filter orderings
// for the cheapest estimated plan. Grounded directly on
// org.h2.command.query.Optimizer from original_source/h2 — the brute
// force/greedy/genetic algorithm selection by filter count, the
// canStop(x) time-boxed early exit, and the switched-positions bitset
// for shuffleTwo are all carried over structurally; google/uuid tags
// each produced Plan so a higher layer can cache plans by id instead of
// by filter-order equality.
package joinopt

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sushant-115/pagestorecore/core/costmodel"
)

const (
	maxBruteForceFilters = 7
	maxBruteForce        = 2000
	maxGenetic           = 500
)

// Filter is one joined table's filter, opaque to the optimizer beyond its
// name; orderings are scored by the Optimizer's CostFunc, not by Filter.
type Filter struct {
	Name  string
	used  bool
}

// CostFunc estimates the cost of a candidate filter ordering (the
// equivalent of Plan.calculateCost): it is called with the prefix of
// filters placed so far, in order, and returns that prefix's estimated
// cost — which must always be strictly positive, per §4.9's numerical
// invariant.
type CostFunc func(order []*Filter) int64

// Plan is the result of a search: a filter order and its estimated cost.
type Plan struct {
	ID    uuid.UUID
	Order []*Filter
	Cost  int64
}

// Optimizer searches filter orderings for the lowest-cost Plan.
type Optimizer struct {
	filters        []*Filter
	costFn         CostFunc
	forceJoinOrder bool

	startAt    time.Time
	cost       int64
	best       []*Filter
	rnd        *rand.Rand
	switched   map[int]bool
	iterations int64

	metrics *Metrics
}

// New builds an optimizer over filters, scoring candidate orders with
// costFn. forceJoinOrder, when true, skips search entirely and evaluates
// the input ordering once, per §4.9. metrics may be nil, which disables
// instrument recording.
func New(filters []*Filter, costFn CostFunc, forceJoinOrder bool, metrics *Metrics) *Optimizer {
	return &Optimizer{filters: filters, costFn: costFn, forceJoinOrder: forceJoinOrder, cost: -1, metrics: metrics}
}

// Optimize runs the search and returns the best plan found.
func (o *Optimizer) Optimize() *Plan {
	switch {
	case o.forceJoinOrder || len(o.filters) == 1:
		o.testPlan(append([]*Filter(nil), o.filters...))
	default:
		o.startAt = time.Now()
		if len(o.filters) <= maxBruteForceFilters {
			o.calculateBruteForceAll()
		} else {
			o.calculateBruteForceSome()
			o.rnd = rand.New(rand.NewSource(0))
			o.calculateGenetic()
		}
	}
	if o.metrics != nil {
		ctx := context.Background()
		o.metrics.SearchIterations.Record(ctx, o.iterations)
		o.metrics.ChosenPlanCost.Record(ctx, o.cost)
	}
	return &Plan{ID: uuid.New(), Order: o.best, Cost: o.cost}
}

func (o *Optimizer) canStop(x int) bool {
	if x&127 != 0 || o.cost < 0 {
		return false
	}
	return time.Since(o.startAt) > time.Duration(o.cost*100_000)
}

func (o *Optimizer) testPlan(order []*Filter) bool {
	o.iterations++
	costNow := o.costFn(order)
	if o.cost < 0 || costNow < o.cost {
		o.cost = costNow
		o.best = order
		return true
	}
	return false
}

// calculateBruteForceAll enumerates every permutation of all filters, per
// §4.9's n <= MAX_BRUTE_FORCE_FILTERS case.
func (o *Optimizer) calculateBruteForceAll() {
	x := 0
	permute(o.filters, len(o.filters), func(order []*Filter) bool {
		if o.canStop(x) {
			return false
		}
		x++
		o.testPlan(append([]*Filter(nil), order...))
		return true
	})
}

// maxBruteForcePositions returns the largest k such that brute-forcing k
// of n positions and greedily filling the rest stays under
// maxBruteForce total candidate work, per §4.9's getMaxBruteForceFilters.
func maxBruteForcePositions(n int) int {
	i, j, total := 0, n, n
	for j > 0 && total*(j*(j-1)/2) < maxBruteForce {
		j--
		total *= j
		i++
	}
	return i
}

func (o *Optimizer) calculateBruteForceSome() {
	k := maxBruteForcePositions(len(o.filters))
	x := 0
	permuteK(o.filters, k, func(prefix []*Filter) bool {
		if o.canStop(x) {
			return false
		}
		x++
		order := o.greedyFill(prefix)
		o.testPlan(order)
		return true
	})
}

// greedyFill completes prefix (already the chosen first len(prefix)
// filters) by repeatedly appending whichever remaining filter minimizes
// the incremental cost, per §4.9.
func (o *Optimizer) greedyFill(prefix []*Filter) []*Filter {
	for _, f := range o.filters {
		f.used = false
	}
	order := append([]*Filter(nil), prefix...)
	for _, f := range order {
		f.used = true
	}
	for len(order) < len(o.filters) {
		bestCost := int64(-1)
		bestIdx := -1
		for j, f := range o.filters {
			if f.used {
				continue
			}
			if len(order) == len(o.filters)-1 {
				bestIdx = j
				break
			}
			candidate := append(order, f)
			costNow := o.costFn(candidate)
			if bestCost < 0 || costNow < bestCost {
				bestCost = costNow
				bestIdx = j
			}
		}
		o.filters[bestIdx].used = true
		order = append(order, o.filters[bestIdx])
	}
	return order
}

func (o *Optimizer) calculateGenetic() {
	best := append([]*Filter(nil), o.filters...)
	for x := 0; x < maxGenetic; x++ {
		if o.canStop(x) {
			break
		}
		generateRandom := x&127 == 0
		list := append([]*Filter(nil), best...)
		if !generateRandom {
			if !o.shuffleTwo(list) {
				generateRandom = true
			}
		}
		if generateRandom {
			o.switched = make(map[int]bool)
			list = append([]*Filter(nil), o.filters...)
			o.shuffleAll(list)
			best = append([]*Filter(nil), list...)
		}
		if o.testPlan(list) {
			o.switched = make(map[int]bool)
			best = append([]*Filter(nil), list...)
		}
	}
}

func (o *Optimizer) shuffleAll(f []*Filter) {
	for i := 0; i < len(f)-1; i++ {
		j := i + o.rnd.Intn(len(f)-i)
		f[i], f[j] = f[j], f[i]
	}
}

func (o *Optimizer) shuffleTwo(f []*Filter) bool {
	n := len(f)
	var a, b int
	ok := false
	for i := 0; i < 20; i++ {
		a, b = o.rnd.Intn(n), o.rnd.Intn(n)
		if a == b {
			continue
		}
		if a < b {
			a, b = b, a
		}
		s := a*n + b
		if o.switched[s] {
			continue
		}
		o.switched[s] = true
		ok = true
		break
	}
	if !ok {
		return false
	}
	f[a], f[b] = f[b], f[a]
	return true
}

// virtualRangeCost is the cost a minimal range/virtual index reports —
// grounded on index/RangeIndex.java (original_source/h2), which always
// returns a constant cost regardless of row count, letting the optimizer
// treat an unbounded synthetic range the same as any other access path
// when comparing candidate orders (§9 supplemented feature #7, §4.9).
func virtualRangeCost() int64 { return costmodel.VirtualIndexCost }

// permute calls visit with every permutation of items, stopping as soon
// as visit returns false.
func permute(items []*Filter, n int, visit func([]*Filter) bool) {
	permuteK(items, n, visit)
}

// permuteK calls visit with every ordered k-length selection from items,
// stopping as soon as visit returns false.
func permuteK(items []*Filter, k int, visit func([]*Filter) bool) {
	used := make([]bool, len(items))
	cur := make([]*Filter, 0, k)
	var rec func() bool
	rec = func() bool {
		if len(cur) == k {
			return visit(cur)
		}
		for i, it := range items {
			if used[i] {
				continue
			}
			used[i] = true
			cur = append(cur, it)
			cont := rec()
			cur = cur[:len(cur)-1]
			used[i] = false
			if !cont {
				return false
			}
		}
		return true
	}
	rec()
}
