package pagestore

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/pagestorecore/core/dberr"
	"github.com/sushant-115/pagestorecore/core/dbiface"
	"github.com/sushant-115/pagestorecore/core/pagefile"
)

const metaPageID pagefile.PageID = 0

// Store is the page store (C3): allocator, root registry, typed dispatch,
// and the dirty/clean lifecycle over a pagefile.PagedFile.
type Store struct {
	mu sync.Mutex

	pf       *pagefile.PagedFile
	pageSize int
	log      *zap.Logger
	metrics  *Metrics

	bitmap   []byte // 1 bit per page id; bit set => allocated
	resident map[pagefile.PageID]*Page
	dirty    map[pagefile.PageID]*Page
	roots    map[int64]pagefile.PageID

	changeCount uint64

	// preimages holds the first observed image of a page since the last
	// checkpoint (Flush), per §4.3's logUndo — only the earliest prewrite
	// image per page is kept, matching H2 PageStore.logUndo's once-per-
	// checkpoint semantics.
	preimages map[pagefile.PageID][]byte
}

// Open initializes a Store over pf. When pf is freshly created (only the
// reserved header page exists) it writes an empty meta page; otherwise it
// reads the root registry and allocation bitmap back from page 0. metrics
// may be nil, which disables instrument recording (see Metrics).
func Open(pf *pagefile.PagedFile, log *zap.Logger, metrics *Metrics) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		pf:        pf,
		pageSize:  pf.PageSize(),
		log:       log,
		metrics:   metrics,
		resident:  make(map[pagefile.PageID]*Page),
		dirty:     make(map[pagefile.PageID]*Page),
		roots:     make(map[int64]pagefile.PageID),
		preimages: make(map[pagefile.PageID][]byte),
	}
	fresh := pf.Length() == int64(s.pageSize)
	if fresh {
		s.bitmap = []byte{0b1} // page 0 reserved/allocated
		s.log.Debug("initializing fresh page store", zap.Int("page_size", s.pageSize))
		if err := s.writeMeta(); err != nil {
			return nil, err
		}
		return s, nil
	}
	raw := make([]byte, s.pageSize)
	if err := pf.Read(metaPageID, raw); err != nil {
		return nil, err
	}
	metaPage, err := deserializePage(metaPageID, raw)
	if err != nil {
		s.log.Error("meta page checksum failed", zap.Uint32("page_id", uint32(metaPageID)), zap.Error(err))
		return nil, err
	}
	if metaPage.Type != PageTypeMeta {
		s.log.Error("meta page has unexpected type", zap.Stringer("type", metaPage.Type))
		return nil, dberr.FileCorrupted(int64(metaPageID))
	}
	roots, bitmap, err := decodeMeta(metaPage.Payload)
	if err != nil {
		s.log.Error("meta page payload is corrupt", zap.Error(err))
		return nil, dberr.Wrap(dberr.CodeFileCorrupted, "decode meta page", err)
	}
	s.roots = roots
	s.bitmap = bitmap
	s.log.Debug("reopened page store", zap.Int("roots", len(roots)))
	return s, nil
}

func (s *Store) bitSet(id pagefile.PageID) bool {
	byteIdx := int(id) / 8
	if byteIdx >= len(s.bitmap) {
		return false
	}
	return s.bitmap[byteIdx]&(1<<(uint(id)%8)) != 0
}

func (s *Store) setBit(id pagefile.PageID, v bool) {
	byteIdx := int(id) / 8
	for byteIdx >= len(s.bitmap) {
		s.bitmap = append(s.bitmap, 0)
	}
	if v {
		s.bitmap[byteIdx] |= 1 << (uint(id) % 8)
	} else {
		s.bitmap[byteIdx] &^= 1 << (uint(id) % 8)
	}
}

func (s *Store) writeMeta() error {
	meta := &Page{ID: metaPageID, Type: PageTypeMeta, Payload: encodeMeta(s.roots, s.bitmap)}
	buf, err := serializePage(meta, s.pageSize)
	if err != nil {
		return dberr.Wrap(dberr.CodeFileCorrupted, "serialize meta page (roots/bitmap too large for one page)", err)
	}
	return s.pf.Write(metaPageID, buf)
}

// Allocate reserves a fresh page of the given type, recording parent (or
// chain-link) id.
func (s *Store) Allocate(pt PageType, link pagefile.PageID) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.pf.Allocate()
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeFileCorrupted, "allocate page", err)
	}
	s.setBit(id, true)
	p := &Page{ID: id, Type: pt, Link: link, state: StateAllocated}
	s.resident[id] = p
	s.dirty[id] = p
	p.state = StateDirty
	if s.metrics != nil {
		s.metrics.PageAllocations.Add(context.Background(), 1, metric.WithAttributes(attribute.String("page_type", pt.String())))
	}
	s.bumpChangeCount()
	s.log.Debug("allocated page", zap.Uint32("page_id", uint32(id)), zap.Stringer("type", pt))
	return p, nil
}

// GetPage loads a page, verifying it carries the expected type. A type
// mismatch or checksum failure surfaces FILE_CORRUPTED_1 with page
// context, per §4.3.
func (s *Store) GetPage(id pagefile.PageID, expect PageType) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.resident[id]; ok {
		if p.Type != expect {
			s.log.Error("resident page type mismatch", zap.Uint32("page_id", uint32(id)), zap.Stringer("got", p.Type), zap.Stringer("want", expect))
			return nil, dberr.FileCorrupted(int64(id))
		}
		return p, nil
	}
	raw := make([]byte, s.pageSize)
	if err := s.pf.Read(id, raw); err != nil {
		return nil, err
	}
	p, err := deserializePage(id, raw)
	if err != nil {
		s.log.Error("page checksum failed", zap.Uint32("page_id", uint32(id)), zap.Error(err))
		return nil, err
	}
	if p.Type != expect {
		s.log.Error("page type mismatch", zap.Uint32("page_id", uint32(id)), zap.Stringer("got", p.Type), zap.Stringer("want", expect))
		return nil, dberr.FileCorrupted(int64(id))
	}
	p.state = StateClean
	s.resident[id] = p
	return p, nil
}

// Update marks page dirty for later Flush.
func (s *Store) Update(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.state = StateDirty
	s.resident[p.ID] = p
	s.dirty[p.ID] = p
	s.bumpChangeCount()
}

// LogUndo records prevImage as the preimage of page, if this is the first
// mutation of that page since the last checkpoint. Later calls for the
// same page before the next Flush are no-ops, matching H2's "log the
// preimage only on first touch per checkpoint" rule. prevImage is expected
// to be page's full prior on-disk encoding, as returned by SerializePage
// before the caller mutates it in place — that is what Rollback restores.
func (s *Store) LogUndo(page *Page, prevImage []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.preimages[page.ID]; ok {
		return
	}
	cp := make([]byte, len(prevImage))
	copy(cp, prevImage)
	s.preimages[page.ID] = cp
}

// SerializePage returns p's current on-disk encoding, for a caller to stash
// as a preimage via LogUndo immediately before mutating p in place.
func (s *Store) SerializePage(p *Page) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serializePage(p, s.pageSize)
}

// Rollback restores every page logged via LogUndo since the last checkpoint
// (Flush) to its preimage, discarding whatever was written to those pages in
// between, then clears the preimage journal — matching H2
// PageStore.rollback()'s per-checkpoint undo scope: only mutations since the
// last Flush can be undone this way, since LogUndo only ever holds the
// earliest preimage per page within one checkpoint.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for id, raw := range s.preimages {
		p, err := deserializePage(id, raw)
		if err != nil {
			return dberr.Wrap(dberr.CodeFileCorrupted, "restore page preimage", err)
		}
		p.state = StateDirty
		s.resident[id] = p
		s.dirty[id] = p
		restored++
	}
	s.preimages = make(map[pagefile.PageID][]byte)
	s.bumpChangeCount()
	s.log.Warn("rolled back page store to last checkpoint", zap.Int("pages_restored", restored))
	return nil
}

// LogAddOrRemoveRow forwards a row mutation to the session's own undo log
// (C8); the page store does not own undo state, per §5's single-owner
// rule for undo logs.
func (s *Store) LogAddOrRemoveRow(session dbiface.Session, tableID int64, row *dbiface.Row, insert bool) {
	op := dbiface.UndoOpDelete
	if insert {
		op = dbiface.UndoOpInsert
	}
	session.UndoLog().Add(op, tableID, row)
}

// LogTruncate records a table truncation boundary: it bumps the change
// count, giving optimistic readers racing the truncate a happens-after
// point to detect. Per-page preimage cleanup is not this method's job —
// the caller frees each page individually as it walks the table being
// truncated, and Free already drops that page's preimage entry, so by the
// time LogTruncate runs there is nothing page-specific left to clear.
func (s *Store) LogTruncate(session dbiface.Session, tableID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpChangeCount()
}

func (s *Store) bumpChangeCount() {
	atomic.AddUint64(&s.changeCount, 1)
	if s.metrics != nil {
		s.metrics.ChangeCount.Add(context.Background(), 1)
	}
}

// ChangeCount returns the store-global monotonic mutation counter (§5): a
// happens-after point for each mutating call, for optimistic read
// validation by higher layers.
func (s *Store) ChangeCount() uint64 {
	return atomic.LoadUint64(&s.changeCount)
}

// Flush writes every dirty page to the backing file, transitions them to
// CLEAN, persists the root registry and allocation bitmap, clears the
// preimage journal (closing the checkpoint), and syncs.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := len(s.dirty)
	for id, p := range s.dirty {
		buf, err := serializePage(p, s.pageSize)
		if err != nil {
			return err
		}
		if err := s.pf.Write(id, buf); err != nil {
			return err
		}
		p.state = StateClean
		delete(s.dirty, id)
	}
	if err := s.writeMeta(); err != nil {
		return err
	}
	s.preimages = make(map[pagefile.PageID][]byte)
	s.log.Debug("flushed page store", zap.Int("pages_written", written))
	return s.pf.Sync()
}

// Free releases id back to the allocator and drops any resident/dirty
// tracking for it.
func (s *Store) Free(id pagefile.PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBit(id, false)
	delete(s.resident, id)
	delete(s.dirty, id)
	delete(s.preimages, id)
	s.pf.Free(id)
	s.bumpChangeCount()
}

// MarkAllocated sets id's bitmap bit without touching resident/dirty
// tracking, for crash-recovery reconciliation (see blockstream.AllocateAllPages).
func (s *Store) MarkAllocated(id pagefile.PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBit(id, true)
	s.bumpChangeCount()
}

// Root returns the persisted root page id for an index/table id.
func (s *Store) Root(id int64) (pagefile.PageID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.roots[id]
	return p, ok
}

// SetRoot persists a new root page id for an index/table id.
func (s *Store) SetRoot(id int64, page pagefile.PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[id] = page
	s.bumpChangeCount()
}

func (s *Store) PageSize() int { return s.pageSize }

// PayloadCapacity returns the usable payload bytes per page, after the
// fixed header and trailing checksum — the figure every index's split
// threshold is computed against.
func (s *Store) PayloadCapacity() int { return s.pageSize - pageHeaderSize - checksumSize }
