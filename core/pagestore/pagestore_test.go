package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/pagefile"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := Open(pf, nil, nil)
	require.NoError(t, err)
	return store
}

func TestAllocateAndGetPageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	p.Payload = []byte("leaf payload")
	store.Update(p)

	got, err := store.GetPage(p.ID, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("leaf payload"), got.Payload)
}

func TestGetPageTypeMismatchIsFileCorrupted(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	store.Update(p)

	_, err = store.GetPage(p.ID, PageTypeNode)
	require.Error(t, err)
}

func TestRootRegistryPersistsAcrossFlushAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := Open(pf, nil, nil)
	require.NoError(t, err)

	leaf, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	leaf.Payload = []byte("root content")
	store.Update(leaf)
	store.SetRoot(42, leaf.ID)
	require.NoError(t, store.Flush())
	require.NoError(t, pf.Close())

	backend2, err := pagefile.OpenDiskBackend(path, pagefile.ModeOpenExisting)
	require.NoError(t, err)
	pf2, err := pagefile.Open(backend2, 512, pagefile.ModeOpenExisting)
	require.NoError(t, err)
	store2, err := Open(pf2, nil, nil)
	require.NoError(t, err)

	root, ok := store2.Root(42)
	require.True(t, ok)
	require.Equal(t, leaf.ID, root)

	got, err := store2.GetPage(root, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("root content"), got.Payload)
}

func TestChangeCountIncreasesOnMutation(t *testing.T) {
	store := newTestStore(t)
	before := store.ChangeCount()
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	store.Update(p)
	require.Greater(t, store.ChangeCount(), before)
}

func TestFreeDropsResidentTracking(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	store.Update(p)
	store.Free(p.ID)

	_, err = store.GetPage(p.ID, PageTypeLeaf)
	require.Error(t, err, "a freed page should no longer resolve as its old type once overwritten")
}

func TestRollbackRestoresLoggedPreimage(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	p.Payload = []byte("original")
	store.Update(p)

	raw, err := store.SerializePage(p)
	require.NoError(t, err)
	store.LogUndo(p, raw)

	p.Payload = []byte("mutated")
	store.Update(p)

	got, err := store.GetPage(p.ID, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("mutated"), got.Payload)

	require.NoError(t, store.Rollback())

	got, err = store.GetPage(p.ID, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got.Payload)
}

func TestLogUndoOnlyKeepsFirstPreimagePerCheckpoint(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	p.Payload = []byte("v1")
	store.Update(p)

	raw1, err := store.SerializePage(p)
	require.NoError(t, err)
	store.LogUndo(p, raw1)

	p.Payload = []byte("v2")
	store.Update(p)
	raw2, err := store.SerializePage(p)
	require.NoError(t, err)
	store.LogUndo(p, raw2) // no-op: a preimage is already logged for p since the last Flush

	p.Payload = []byte("v3")
	store.Update(p)

	require.NoError(t, store.Rollback())
	got, err := store.GetPage(p.ID, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Payload, "Rollback must restore to the earliest preimage in the checkpoint, not the most recent")
}

func TestFlushClearsPreimageJournal(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	p.Payload = []byte("v1")
	store.Update(p)

	raw, err := store.SerializePage(p)
	require.NoError(t, err)
	store.LogUndo(p, raw)
	require.NoError(t, store.Flush())

	p.Payload = []byte("v2")
	store.Update(p)
	require.NoError(t, store.Rollback())

	got, err := store.GetPage(p.ID, PageTypeLeaf)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got.Payload, "Rollback after a checkpoint must not undo mutations made before that checkpoint")
}

func TestFreeDropsPendingPreimage(t *testing.T) {
	store := newTestStore(t)
	p, err := store.Allocate(PageTypeLeaf, pagefile.InvalidPageID)
	require.NoError(t, err)
	p.Payload = []byte("v1")
	store.Update(p)

	raw, err := store.SerializePage(p)
	require.NoError(t, err)
	store.LogUndo(p, raw)
	store.Free(p.ID)

	require.NoError(t, store.Rollback(), "rolling back a freed page's stale preimage must not error")
}
