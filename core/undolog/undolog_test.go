package undolog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/dbiface"
)

// fakeDatabase is a minimal dbiface.Database double handing out temp files
// under t.TempDir().
type fakeDatabase struct {
	dir        string
	mvStore    bool
	tempSeq    int
}

func newFakeDatabase(t *testing.T) *fakeDatabase {
	t.Helper()
	return &fakeDatabase{dir: t.TempDir()}
}

func (d *fakeDatabase) MVStoreEnabled() bool { return d.mvStore }

func (d *fakeDatabase) TempFileFactory(purpose string) (string, error) {
	d.tempSeq++
	return filepath.Join(d.dir, purpose+".tmp"), nil
}

func row(key int64) *dbiface.Row {
	return dbiface.NewRow(key, []dbiface.Value{dbiface.Int64Value(key)})
}

func TestAddIncreasesSize(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 1000, nil)
	l.Add(dbiface.UndoOpInsert, 1, row(1))
	l.Add(dbiface.UndoOpInsert, 1, row(2))
	require.Equal(t, 2, l.Size())
}

func TestGetLastReturnsMostRecentWithoutRemoving(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 1000, nil)
	l.Add(dbiface.UndoOpInsert, 1, row(1))
	l.Add(dbiface.UndoOpDelete, 1, row(2))

	last, err := l.GetLast()
	require.NoError(t, err)
	require.Equal(t, dbiface.UndoOpDelete, last.Op)
	require.Equal(t, int64(2), last.Row.Key)
	require.Equal(t, 2, l.Size(), "GetLast must not remove the record")
}

func TestRemoveLastPopsTrailingRecord(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 1000, nil)
	l.Add(dbiface.UndoOpInsert, 1, row(1))
	l.Add(dbiface.UndoOpInsert, 1, row(2))

	l.RemoveLast()
	require.Equal(t, 1, l.Size())

	last, err := l.GetLast()
	require.NoError(t, err)
	require.Equal(t, int64(1), last.Row.Key)
}

func TestAddSpillsOnceMemoryThresholdExceeded(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 2, nil)
	for i := int64(1); i <= 6; i++ {
		l.Add(dbiface.UndoOpInsert, 1, row(i))
	}
	require.Equal(t, 6, l.Size())
	require.Greater(t, l.storedEntries, 0, "exceeding maxMemoryUndo should spill the batch to the temp file")
	require.Empty(t, l.records, "a full spill clears the in-memory batch")
}

func TestGetLastRehydratesSpilledBatch(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 2, nil)
	for i := int64(1); i <= 6; i++ {
		l.Add(dbiface.UndoOpInsert, 1, row(i))
	}
	require.Empty(t, l.records)

	last, err := l.GetLast()
	require.NoError(t, err)
	require.Equal(t, int64(6), last.Row.Key)
	require.NotEmpty(t, l.records, "GetLast must rehydrate the spilled batch into memory")
}

func TestMVStoreEnabledDatabaseNeverSpills(t *testing.T) {
	db := newFakeDatabase(t)
	db.mvStore = true
	l := New(db, dbiface.Int64Codec{}, 1, nil)
	for i := int64(1); i <= 5; i++ {
		l.Add(dbiface.UndoOpInsert, 1, row(i))
	}
	require.Equal(t, 0, l.storedEntries)
	require.Len(t, l.records, 5)
}

func TestClearResetsLogAndClosesSpillFile(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 2, nil)
	for i := int64(1); i <= 5; i++ {
		l.Add(dbiface.UndoOpInsert, 1, row(i))
	}
	require.NoError(t, l.Clear())
	require.Equal(t, 0, l.Size())
	require.Nil(t, l.pf)
}

func TestRemoveLastDeletesSpillFileOnceDrained(t *testing.T) {
	l := New(newFakeDatabase(t), dbiface.Int64Codec{}, 2, nil)
	for i := int64(1); i <= 5; i++ {
		l.Add(dbiface.UndoOpInsert, 1, row(i))
	}
	require.Greater(t, l.storedEntries, 0, "exceeding maxMemoryUndo should have spilled")
	path := l.filePath
	require.NotEmpty(t, path)

	for l.Size() > 0 {
		_, err := l.GetLast()
		require.NoError(t, err)
		l.RemoveLast()
	}

	require.Nil(t, l.pf, "draining the log to empty must close the spill file")
	require.Empty(t, l.filePath)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "draining the log to empty must delete the spill file")
}
