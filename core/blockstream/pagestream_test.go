package blockstream

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/pagestorecore/core/pagefile"
	"github.com/sushant-115/pagestorecore/core/pagestore"
)

func newTestStore(t *testing.T) *pagestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	backend, err := pagefile.OpenDiskBackend(path, pagefile.ModeCreateNew)
	require.NoError(t, err)
	pf, err := pagefile.Open(backend, 512, pagefile.ModeCreateNew)
	require.NoError(t, err)
	store, err := pagestore.Open(pf, nil, nil)
	require.NoError(t, err)
	return store
}

func TestWriteChainThenReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte("abcdefgh"), 200) // larger than a single page's capacity

	trunk, err := WriteChain(store, payload, 7)
	require.NoError(t, err)

	in, err := NewPageInputStream(store, trunk, 7)
	require.NoError(t, err)

	got, err := io.ReadAll(in)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWriteChainEmptyPayloadStillYieldsOneDataPage(t *testing.T) {
	store := newTestStore(t)
	trunk, err := WriteChain(store, nil, 1)
	require.NoError(t, err)

	in, err := NewPageInputStream(store, trunk, 1)
	require.NoError(t, err)

	got, err := io.ReadAll(in)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPageInputStreamRejectsLogKeyMismatch(t *testing.T) {
	store := newTestStore(t)
	trunk, err := WriteChain(store, []byte("hello"), 42)
	require.NoError(t, err)

	_, err = NewPageInputStream(store, trunk, 99)
	require.ErrorIs(t, err, io.EOF)
}

func TestAllocateAllPagesWalksEntireChain(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte("x"), 4000)
	trunk, err := WriteChain(store, payload, 3)
	require.NoError(t, err)

	require.NoError(t, AllocateAllPages(store, trunk, 3))
}

func TestAllocateAllPagesRejectsLogKeyMismatch(t *testing.T) {
	store := newTestStore(t)
	trunk, err := WriteChain(store, []byte("payload"), 5)
	require.NoError(t, err)

	err = AllocateAllPages(store, trunk, 999)
	require.Error(t, err)
}
