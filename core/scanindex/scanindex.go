// Package scanindex implements the scan index + tombstone freelist (C5): a
// purely in-memory, dense row sequence used for temporary tables and as a
// fallback access path, with an LIFO free-list threading through removed
// slots. Grounded on the tagged-variant redesign DESIGN NOTES §9 prescribes
// for the tombstone chain ("a tagged variant Row ∈ {Live{values,key},
// Free{nextFree}}"), reusing dbiface.Row: a tombstone is a Row with
// Values == nil and Key holding the next free-list pointer.
package scanindex

import (
	"sync"

	"github.com/sushant-115/pagestorecore/core/costmodel"
	"github.com/sushant-115/pagestorecore/core/dbiface"
)

// NoFree is the sentinel "no free slot" value for firstFree, mirroring the
// -1 convention in §4.5.
const NoFree int64 = -1

// ScanIndex is a dense, position-addressable row sequence with tombstone
// slot reuse.
type ScanIndex struct {
	mu        sync.Mutex
	rows      []*dbiface.Row
	firstFree int64
	rowCount  int
}

func New() *ScanIndex {
	return &ScanIndex{firstFree: NoFree}
}

// Add inserts row, reusing the head of the free list (LIFO) if one exists,
// else appending. The row's Key is set to its assigned slot position and
// returned.
func (s *ScanIndex) Add(row *dbiface.Row) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos int64
	if s.firstFree == NoFree {
		pos = int64(len(s.rows))
		s.rows = append(s.rows, row)
	} else {
		pos = s.firstFree
		s.firstFree = s.rows[pos].Key // tombstone's Key holds next-free
		s.rows[pos] = row
	}
	row.Key = pos
	s.rowCount++
	return pos
}

// Remove deletes the row at pos. If it is the only live row, the whole
// index is cleared; otherwise the slot becomes a tombstone threading into
// the free list.
func (s *ScanIndex) Remove(pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rowCount == 1 {
		s.rows = nil
		s.firstFree = NoFree
		s.rowCount = 0
		return
	}
	tomb := dbiface.NewRow(s.firstFree, nil)
	s.rows[pos] = tomb
	s.firstFree = pos
	s.rowCount--
}

// GetNextRow advances from pos (exclusive), skipping tombstones, returning
// the next live row and its position.
func (s *ScanIndex) GetNextRow(pos int64) (*dbiface.Row, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := pos + 1; p < int64(len(s.rows)); p++ {
		if r := s.rows[p]; r != nil && !r.IsTombstone() {
			return r, p, true
		}
	}
	return nil, 0, false
}

// RowCount is the number of live (non-tombstone) rows.
func (s *ScanIndex) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowCount
}

// TombstoneCount reports the number of free slots, by walking the free
// list — exercised by invariant 3 (§8): every tombstone's stored
// next-pointer must reach NoFree in exactly TombstoneCount hops.
func (s *ScanIndex) TombstoneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := s.firstFree; p != NoFree; {
		n++
		p = s.rows[p].Key
	}
	return n
}

// GetCost always dominates any real index, per §4.5.
func (s *ScanIndex) GetCost() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return costmodel.CostRowOffset + int64(s.rowCount)
}
