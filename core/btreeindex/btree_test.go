package btreeindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/dbiface"
	"github.com/sushant-115/pagestorecore/core/pagefile"
	"github.com/sushant-115/pagestorecore/core/pagestore"
)

// fakeUndoLog is a recording dbiface.UndoRecorder: it keeps the op of every
// Add call, for exercising the B-tree in isolation from core/undolog.
type fakeUndoLog struct {
	ops []dbiface.UndoOp
}

func (f *fakeUndoLog) Add(op dbiface.UndoOp, tableID int64, row *dbiface.Row) {
	f.ops = append(f.ops, op)
}

// fakeSession is the minimal dbiface.Session double used across storage
// core tests.
type fakeSession struct {
	context.Context
	id          string
	lockModeOff bool
	undo        *fakeUndoLog
}

func newFakeSession() *fakeSession {
	return &fakeSession{Context: context.Background(), id: "test-session", undo: &fakeUndoLog{}}
}

func (s *fakeSession) ID() string             { return s.id }
func (s *fakeSession) LockModeOff() bool      { return s.lockModeOff }
func (s *fakeSession) UndoLog() dbiface.UndoRecorder { return s.undo }

func newTestBTree(t *testing.T) *BTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := pagestore.Open(pf, nil, nil)
	require.NoError(t, err)
	bt, err := Open(store, 1, dbiface.Int64Codec{}, 0, nil, 1, nil)
	require.NoError(t, err)
	return bt
}

func row(key int64) *dbiface.Row {
	return dbiface.NewRow(key, []dbiface.Value{dbiface.Int64Value(key)})
}

func TestAddThenFindRoundTrip(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()

	require.NoError(t, bt.Add(sess, row(10)))
	require.NoError(t, bt.Add(sess, row(5)))
	require.NoError(t, bt.Add(sess, row(20)))

	require.Equal(t, int64(3), bt.RowCount())

	rows, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	keys := []int64{rows[0].Key, rows[1].Key, rows[2].Key}
	require.ElementsMatch(t, []int64{5, 10, 20}, keys)
}

func TestAddManyRowsForcesSplit(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()

	const n = 500
	for i := int64(1); i <= n; i++ {
		require.NoError(t, bt.Add(sess, row(i)))
	}
	require.Equal(t, int64(n), bt.RowCount())

	rows, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, n)
}

func TestFindRangeIsBounded(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	for i := int64(1); i <= 50; i++ {
		require.NoError(t, bt.Add(sess, row(i)))
	}

	lo, hi := int64(10), int64(15)
	rows, err := bt.Find(&lo, &hi)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	for _, r := range rows {
		require.GreaterOrEqual(t, r.Key, lo)
		require.LessOrEqual(t, r.Key, hi)
	}
}

func TestRemoveDropsRowAndDecrementsCount(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Add(sess, row(2)))

	require.NoError(t, bt.Remove(sess, row(1)))
	require.Equal(t, int64(1), bt.RowCount())

	rows, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Key)
}

func TestRemoveLastRowResetsRoot(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Remove(sess, row(1)))
	require.Equal(t, int64(0), bt.RowCount())

	rows, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestRemoveMissingRowUnderLockModeOffIsSilent(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Add(sess, row(2)))

	sess.lockModeOff = true
	require.NoError(t, bt.Remove(sess, row(999)))
}

func TestRemoveMissingRowErrorsByDefault(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Add(sess, row(2)))

	err := bt.Remove(sess, row(999))
	require.Error(t, err)
}

func TestAddDuplicateKeyOnMainIndexColumnErrors(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))

	err := bt.Add(sess, row(1))
	require.ErrorIs(t, err, bt.DuplicateKeyError())
}

func TestAddAutoKeyInsertsEveryRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := pagestore.Open(pf, nil, nil)
	require.NoError(t, err)
	bt, err := Open(store, 1, dbiface.Int64Codec{}, -1, nil, 1, nil) // no main index column: auto-increment + retry path
	require.NoError(t, err)
	sess := newFakeSession()

	for i := 0; i < 10; i++ {
		r := dbiface.NewRow(0, []dbiface.Value{dbiface.Int64Value(int64(i))})
		require.NoError(t, bt.Add(sess, r))
	}
	require.Equal(t, int64(10), bt.RowCount())
}

func TestGetCostGrowsWithRowCount(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	before := bt.GetCost()
	require.NoError(t, bt.Add(sess, row(1)))
	require.Greater(t, bt.GetCost(), before)
}

func TestCloseDoesNotErrorOnEmptyTree(t *testing.T) {
	bt := newTestBTree(t)
	require.NoError(t, bt.Close())
}

func TestCloseOnPopulatedTreeKeepsRowCount(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()
	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Add(sess, row(2)))
	require.NoError(t, bt.Close())
	require.Equal(t, int64(2), bt.RowCount())
}

func TestAddAndRemoveRouteThroughStoreUndoSeam(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()

	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Remove(sess, row(1)))

	require.Equal(t, []dbiface.UndoOp{dbiface.UndoOpInsert, dbiface.UndoOpDelete}, sess.undo.ops,
		"Add/Remove must log through Store.LogAddOrRemoveRow, which forwards to the session's undo log")
}

func TestRowCountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := pagestore.Open(pf, nil, nil)
	require.NoError(t, err)
	bt, err := Open(store, 1, dbiface.Int64Codec{}, 0, nil, 1, nil)
	require.NoError(t, err)
	sess := newFakeSession()

	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.Add(sess, row(2)))
	require.NoError(t, bt.Add(sess, row(3)))
	require.NoError(t, bt.Close())
	require.NoError(t, store.Flush())
	require.NoError(t, pf.Close())

	backend2, err := pagefile.OpenDiskBackend(path, pagefile.ModeOpenExisting)
	require.NoError(t, err)
	pf2, err := pagefile.Open(backend2, 512, pagefile.ModeOpenExisting)
	require.NoError(t, err)
	store2, err := pagestore.Open(pf2, nil, nil)
	require.NoError(t, err)
	bt2, err := Open(store2, 1, dbiface.Int64Codec{}, 0, nil, 1, nil)
	require.NoError(t, err)

	require.Equal(t, int64(3), bt2.RowCount(), "reopen must restore row count from the root page's RowCountHint")

	rows, err := bt2.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestRollbackRestoresPageMutatedSinceLastFlush(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()

	require.NoError(t, bt.Add(sess, row(1)))
	require.NoError(t, bt.store.Flush()) // checkpoint: closes the preimage journal

	require.NoError(t, bt.Add(sess, row(2)))
	after, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, after, 2)

	require.NoError(t, bt.store.Rollback())

	restored, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, restored, 1, "rollback must undo only the in-place leaf mutation made since the last flush")
	require.Equal(t, int64(1), restored[0].Key)
}

func TestTruncateEmptiesIndexAndAllowsReinsert(t *testing.T) {
	bt := newTestBTree(t)
	sess := newFakeSession()

	const n = 200
	for i := int64(1); i <= n; i++ {
		require.NoError(t, bt.Add(sess, row(i)))
	}
	require.Equal(t, int64(n), bt.RowCount())
	changeCountBefore := bt.store.ChangeCount()

	require.NoError(t, bt.Truncate(sess))

	require.Equal(t, int64(0), bt.RowCount())
	require.Greater(t, bt.store.ChangeCount(), changeCountBefore, "Truncate must mark a boundary via LogTruncate")

	rows, err := bt.Find(nil, nil)
	require.NoError(t, err)
	require.Empty(t, rows)

	// Re-inserting the same rows after Truncate must succeed and leave a
	// full, searchable index again.
	for i := int64(1); i <= n; i++ {
		require.NoError(t, bt.Add(sess, row(i)))
	}
	require.Equal(t, int64(n), bt.RowCount())
	rows, err = bt.Find(nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, n)
}
