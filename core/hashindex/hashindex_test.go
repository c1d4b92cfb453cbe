package hashindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/costmodel"
	"github.com/sushant-115/pagestorecore/core/dbiface"
)

func TestAddThenFindReturnsAllRowsWithValue(t *testing.T) {
	idx := New(0, true)
	idx.Add(dbiface.NewRow(1, []dbiface.Value{dbiface.Int64Value(7)}))
	idx.Add(dbiface.NewRow(2, []dbiface.Value{dbiface.Int64Value(7)}))
	idx.Add(dbiface.NewRow(3, []dbiface.Value{dbiface.Int64Value(9)}))

	got := idx.Find(dbiface.Int64Value(7))
	require.Equal(t, []int64{1, 2}, got)
}

func TestFindMissingValueReturnsNil(t *testing.T) {
	idx := New(0, true)
	idx.Add(dbiface.NewRow(1, []dbiface.Value{dbiface.Int64Value(1)}))
	require.Nil(t, idx.Find(dbiface.Int64Value(42)))
}

func TestRemoveDropsEmptyBucket(t *testing.T) {
	idx := New(0, true)
	row := dbiface.NewRow(1, []dbiface.Value{dbiface.Int64Value(5)})
	idx.Add(row)
	idx.Remove(row)

	require.Empty(t, idx.buckets)
	require.Nil(t, idx.Find(dbiface.Int64Value(5)))
}

func TestRemoveOneOfManyKeepsOthers(t *testing.T) {
	idx := New(0, true)
	idx.Add(dbiface.NewRow(1, []dbiface.Value{dbiface.Int64Value(5)}))
	idx.Add(dbiface.NewRow(2, []dbiface.Value{dbiface.Int64Value(5)}))

	idx.Remove(dbiface.NewRow(1, []dbiface.Value{dbiface.Int64Value(5)}))

	require.Equal(t, []int64{2}, idx.Find(dbiface.Int64Value(5)))
}

func TestBytesValueKeyingWorks(t *testing.T) {
	idx := New(0, false)
	idx.Add(dbiface.NewRow(1, []dbiface.Value{dbiface.BytesValue("alpha")}))
	idx.Add(dbiface.NewRow(2, []dbiface.Value{dbiface.BytesValue("beta")}))

	require.Equal(t, []int64{1}, idx.Find(dbiface.BytesValue("alpha")))
	require.Equal(t, []int64{2}, idx.Find(dbiface.BytesValue("beta")))
}

func TestGetCostRequiresAllEqualityMasks(t *testing.T) {
	require.Equal(t, costmodel.EqualityHashCost, GetCost([]EqualityMask{MaskEquality, MaskEquality}))
	require.Equal(t, costmodel.MaxCost, GetCost([]EqualityMask{MaskEquality, MaskRange}))
	require.Equal(t, costmodel.MaxCost, GetCost(nil), "no equality column present means no cheap hash lookup")
	require.Equal(t, costmodel.MaxCost, GetCost([]EqualityMask{}), "empty masks is the same as nil")
}
