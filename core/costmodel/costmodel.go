// Package costmodel holds the small set of cost constants shared by every
// index's getCost implementation and the join-order optimizer (§4.9),
// grounded on H2's Constants.COST_ROW_OFFSET (org.h2.engine.Constants),
// which the original source comments describe as deliberately large enough
// to make a full scan a last resort next to any real index.
package costmodel

const (
	// CostRowOffset is added to a scan's row-count estimate so that any
	// usable index, however weak, is preferred over a full scan.
	CostRowOffset = int64(1000)
	// VirtualIndexCost is what a range/virtual index reports (§4.9).
	VirtualIndexCost = int64(1)
	// EqualityHashCost is what a non-unique hash index reports on an
	// all-equality lookup (§4.7).
	EqualityHashCost = int64(2)
	// MaxCost is returned by an index that cannot service the requested
	// predicate mask at all.
	MaxCost = int64(^uint64(0) >> 1)
)
