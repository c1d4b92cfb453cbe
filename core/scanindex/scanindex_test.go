package scanindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/costmodel"
	"github.com/sushant-115/pagestorecore/core/dbiface"
)

func TestAddAppendsWhenNoFreeSlot(t *testing.T) {
	s := New()
	pos := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(1)}))
	require.Equal(t, int64(0), pos)
	require.Equal(t, 1, s.RowCount())
}

func TestRemoveThenAddReusesSlotLIFO(t *testing.T) {
	s := New()
	p0 := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(1)}))
	p1 := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(2)}))
	_ = s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(3)})) // keeps one row live so Remove doesn't hit its clear-index case

	s.Remove(p0)
	s.Remove(p1)
	require.Equal(t, 1, s.RowCount())
	require.Equal(t, 2, s.TombstoneCount())

	reused := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(4)}))
	require.Equal(t, p1, reused, "LIFO free list reuses the most recently freed slot first")
	require.Equal(t, 1, s.TombstoneCount())
}

func TestRemoveLastLiveRowClearsIndex(t *testing.T) {
	s := New()
	p0 := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(1)}))
	s.Remove(p0)
	require.Equal(t, 0, s.RowCount())
	require.Equal(t, 0, s.TombstoneCount())
}

func TestGetNextRowSkipsTombstones(t *testing.T) {
	s := New()
	p0 := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(1)}))
	_ = s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(2)}))
	p2 := s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(3)}))

	s.Remove(p0 + 1) // tombstone the middle slot

	row, pos, ok := s.GetNextRow(p0)
	require.True(t, ok)
	require.Equal(t, p2, pos)
	require.Equal(t, dbiface.Int64Value(3), row.Values[0])

	_, _, ok = s.GetNextRow(pos)
	require.False(t, ok)
}

func TestTombstoneChainReachesNoFreeInExactHops(t *testing.T) {
	s := New()
	positions := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		positions = append(positions, s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(int64(i))})))
	}
	// Remove all but the last row: each hop threads a fresh tombstone onto
	// the free list, so TombstoneCount should walk exactly that many links
	// before reaching NoFree.
	for _, p := range positions[:len(positions)-1] {
		s.Remove(p)
	}
	require.Equal(t, len(positions)-1, s.TombstoneCount())

	// Removing the final live row clears the whole index (Remove's
	// rowCount==1 special case), dropping the free list entirely.
	s.Remove(positions[len(positions)-1])
	require.Equal(t, 0, s.TombstoneCount())
	require.Equal(t, 0, s.RowCount())
}

func TestGetCostDominatesRowCount(t *testing.T) {
	s := New()
	require.Equal(t, costmodel.CostRowOffset, s.GetCost())
	s.Add(dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(1)}))
	require.Equal(t, costmodel.CostRowOffset+1, s.GetCost())
}
