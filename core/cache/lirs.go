// Package cache implements the block read cache (C2): a LIRS-based 4 KiB
// cache layered atop any pagefile.Backend, with write-through invalidation.
// There is no LIRS implementation anywhere in the retrieved corpus, so this
// file is hand-rolled against the published algorithm description rather
// than grounded on an example; everything else in this package (the
// Backend-wrapping shape, per-channel serialization) follows
// core/indexing/btree/diskmanager.go's locking discipline and the teacher's
// container/list-based LRU in core/write_engine/page_manager/page.go.
package cache

import (
	"container/list"

	"go.uber.org/zap"
)

// node is one entry in the LIRS recency stack S and/or resident queue Q.
type node struct {
	offset   int64
	isLIR    bool
	resident bool // false once evicted to ghost/history status
	data     []byte
}

// lirs implements the stack (S) + queue (Q) LIRS structure described by Jiang
// & Zhang. S holds LIR blocks plus a bounded history of recently-seen HIR
// blocks (resident or not); Q holds only resident HIR blocks, FIFO.
type lirs struct {
	capacity    int // total resident block budget
	hirCapacity int // resident HIR budget, a small slice of capacity
	historyCap  int // bound on total S length (LIR + ghost HIR)

	stack      *list.List // front = MRU
	queue      *list.List // front = oldest resident HIR
	stackIndex map[int64]*list.Element
	queueIndex map[int64]*list.Element

	residentLIR int
	residentHIR int

	log *zap.Logger
}

func newLIRS(capacityBlocks int, log *zap.Logger) *lirs {
	if capacityBlocks < 2 {
		capacityBlocks = 2
	}
	hirCap := capacityBlocks / 100
	if hirCap < 1 {
		hirCap = 1
	}
	if hirCap >= capacityBlocks {
		hirCap = capacityBlocks - 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &lirs{
		capacity:    capacityBlocks,
		hirCapacity: hirCap,
		historyCap:  capacityBlocks * 2,
		stack:       list.New(),
		queue:       list.New(),
		stackIndex:  make(map[int64]*list.Element),
		queueIndex:  make(map[int64]*list.Element),
		log:         log,
	}
}

// get returns the cached bytes for offset and true on a resident hit.
func (l *lirs) get(offset int64) ([]byte, bool) {
	se, inStack := l.stackIndex[offset]
	if inStack {
		n := se.Value.(*node)
		if n.resident {
			if n.isLIR {
				l.stack.MoveToFront(se)
				l.pruneStackBottom()
				return n.data, true
			}
			// resident HIR with stack history: promote to LIR.
			if qe, ok := l.queueIndex[offset]; ok {
				l.queue.Remove(qe)
				delete(l.queueIndex, offset)
				l.residentHIR--
			}
			n.isLIR = true
			l.residentLIR++
			l.stack.MoveToFront(se)
			l.demoteStackBottomIfNeeded()
			l.pruneStackBottom()
			return n.data, true
		}
	}
	if qe, ok := l.queueIndex[offset]; ok {
		// Resident HIR with no current stack membership: refresh recency in
		// both structures without promoting (single extra touch, not yet a
		// second *stack* hit).
		n := qe.Value.(*node)
		l.queue.MoveToBack(qe)
		l.pushStackFront(offset, n)
		return n.data, true
	}
	return nil, false
}

// put inserts freshly read data for offset, evicting resident HIR entries
// past budget. Called only after a cache miss.
func (l *lirs) put(offset int64, data []byte) {
	if se, ok := l.stackIndex[offset]; ok {
		n := se.Value.(*node)
		if !n.resident {
			// Non-resident HIR ghost hit: promote straight to LIR.
			n.resident = true
			n.data = data
			n.isLIR = true
			l.residentLIR++
			l.stack.MoveToFront(se)
			l.demoteStackBottomIfNeeded()
			l.pruneStackBottom()
			l.enforceHIRBudget()
			return
		}
	}
	n := &node{offset: offset, isLIR: false, resident: true, data: data}
	l.pushStackFront(offset, n)
	qe := l.queue.PushBack(n)
	l.queueIndex[offset] = qe
	l.residentHIR++
	l.enforceHIRBudget()
	l.pruneHistory()
}

// invalidate removes offset from residency entirely (used by write-through
// invalidation and truncate), leaving no ghost trace — a written-over block
// must not be confused with stale history.
func (l *lirs) invalidate(offset int64) {
	if se, ok := l.stackIndex[offset]; ok {
		n := se.Value.(*node)
		if n.resident && n.isLIR {
			l.residentLIR--
		}
		l.stack.Remove(se)
		delete(l.stackIndex, offset)
	}
	if qe, ok := l.queueIndex[offset]; ok {
		n := qe.Value.(*node)
		if n.resident {
			l.residentHIR--
		}
		l.queue.Remove(qe)
		delete(l.queueIndex, offset)
	}
}

func (l *lirs) clear() {
	l.stack.Init()
	l.queue.Init()
	l.stackIndex = make(map[int64]*list.Element)
	l.queueIndex = make(map[int64]*list.Element)
	l.residentLIR = 0
	l.residentHIR = 0
}

func (l *lirs) pushStackFront(offset int64, n *node) {
	if se, ok := l.stackIndex[offset]; ok {
		se.Value = n
		l.stack.MoveToFront(se)
		return
	}
	se := l.stack.PushFront(n)
	l.stackIndex[offset] = se
}

// demoteStackBottomIfNeeded demotes the LIR block at the bottom of S to HIR
// when the LIR population exceeds the non-HIR share of capacity, keeping
// the resident LIR+HIR mix within the configured budget.
func (l *lirs) demoteStackBottomIfNeeded() {
	lirBudget := l.capacity - l.hirCapacity
	for l.residentLIR > lirBudget {
		e := l.stack.Back()
		for e != nil {
			n := e.Value.(*node)
			if n.isLIR {
				break
			}
			e = e.Prev()
		}
		if e == nil {
			break
		}
		n := e.Value.(*node)
		n.isLIR = false
		l.residentLIR--
		qe := l.queue.PushBack(n)
		l.queueIndex[n.offset] = qe
		l.residentHIR++
	}
}

// pruneStackBottom drops non-LIR entries from the bottom of S, the classic
// LIRS "stack pruning" step: S's bottom must always be a LIR block (or S is
// empty) once pruning completes.
func (l *lirs) pruneStackBottom() {
	for {
		e := l.stack.Back()
		if e == nil {
			return
		}
		n := e.Value.(*node)
		if n.isLIR {
			return
		}
		l.stack.Remove(e)
		delete(l.stackIndex, n.offset)
	}
}

// enforceHIRBudget evicts the oldest resident HIR block in Q once the
// resident-HIR population exceeds its budget; the evicted block keeps a
// ghost (non-resident) record in S if one remains there, or is dropped
// entirely otherwise.
func (l *lirs) enforceHIRBudget() {
	for l.residentHIR > l.hirCapacity {
		e := l.queue.Front()
		if e == nil {
			return
		}
		n := e.Value.(*node)
		l.queue.Remove(e)
		delete(l.queueIndex, n.offset)
		l.residentHIR--
		n.resident = false
		n.data = nil
		l.log.Warn("evicting resident HIR block under budget pressure", zap.Int64("offset", n.offset), zap.Int("hir_capacity", l.hirCapacity))
		if _, ok := l.stackIndex[n.offset]; !ok {
			// No history entry survives; nothing further to track.
			continue
		}
	}
}

// pruneHistory bounds the total length of S (LIR + ghost HIR) so history
// does not grow unboundedly for a cache that sees many distinct cold
// blocks.
func (l *lirs) pruneHistory() {
	for l.stack.Len() > l.historyCap {
		e := l.stack.Back()
		if e == nil {
			return
		}
		n := e.Value.(*node)
		if n.isLIR {
			// Never evict a live LIR entry from the history bound; resident
			// LIR is already bounded by demoteStackBottomIfNeeded.
			return
		}
		l.stack.Remove(e)
		delete(l.stackIndex, n.offset)
	}
}
