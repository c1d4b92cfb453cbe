// Package pagefile implements the paged file abstraction (C1): fixed-size
// page I/O over a random-access file, with the same surface available over
// an in-memory region so the page store (C3) and the off-heap backing (C10)
// can share one contract. Grounded on the teacher's
// core/indexing/btree/diskmanager.go DiskManager, generalized away from the
// B-tree-specific header and widened to the full open/read/write/allocate/
// free/truncate/sync/length/seek surface §4.1 names.
package pagefile

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sushant-115/pagestorecore/core/dberr"
)

// PageID addresses a single fixed-size page. 0 is reserved (header/invalid).
type PageID uint32

const InvalidPageID PageID = 0

// Mode selects how Open behaves when the file does and doesn't exist.
type Mode int

const (
	// ModeOpenExisting fails if the file is absent.
	ModeOpenExisting Mode = iota
	// ModeCreateNew fails if the file already exists.
	ModeCreateNew
	// ModeOpenOrCreate opens the file, creating it if absent.
	ModeOpenOrCreate
)

// Backend is the raw byte-addressable device a PagedFile is built over. A
// disk file and the off-heap store (C10) both implement it, so PagedFile
// behaves identically regardless of backing.
type Backend interface {
	ReadFully(pos int64, dst []byte) error
	WriteFully(pos int64, src []byte) error
	Truncate(size int64) error
	Sync() error
	Length() (int64, error)
	Close() error
}

// PagedFile layers page-aligned allocate/free/read/write and a stateful
// file-pointer cursor (used by the buffered block streams, C4) over a
// Backend.
type PagedFile struct {
	mu       sync.Mutex
	backend  Backend
	pageSize int
	numPages uint32
	freeList []PageID // LIFO of pages released via Free, eligible for reuse
	pos      int64    // file_pointer, advanced by Seek/sequential Read/Write
}

// Open wraps an existing Backend as a PagedFile. When mode is
// ModeCreateNew/ModeOpenOrCreate and the backend is empty, page 0 (the
// header page) is implicitly reserved so the first real allocation returns
// page 1, matching the teacher's "PageID 0 is occupied by the header"
// convention.
func Open(backend Backend, pageSize int, mode Mode) (*PagedFile, error) {
	length, err := backend.Length()
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeFileCorrupted, "stat backend", err)
	}
	pf := &PagedFile{backend: backend, pageSize: pageSize}
	switch {
	case length == 0:
		if mode == ModeOpenExisting {
			return nil, fmt.Errorf("pagefile: backend is empty, expected existing store")
		}
		pf.numPages = 1 // reserve page 0 for the header
	default:
		if mode == ModeCreateNew {
			return nil, fmt.Errorf("pagefile: backend already populated")
		}
		if length%int64(pageSize) != 0 {
			return nil, dberr.New(dberr.CodeFileCorrupted, "backend length is not a page multiple")
		}
		pf.numPages = uint32(length / int64(pageSize))
	}
	return pf, nil
}

func (pf *PagedFile) PageSize() int { return pf.pageSize }

// Length reports the logical size in bytes (numPages * pageSize).
func (pf *PagedFile) Length() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return int64(pf.numPages) * int64(pf.pageSize)
}

// Seek repositions the stateful file pointer used by sequential readers.
func (pf *PagedFile) Seek(offset int64) {
	pf.mu.Lock()
	pf.pos = offset
	pf.mu.Unlock()
}

// FilePointer returns the current stateful cursor position.
func (pf *PagedFile) FilePointer() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.pos
}

// Read fills out with exactly one page's worth of bytes from pageID,
// blocking until satisfied (readFully semantics); out must be len ==
// PageSize().
func (pf *PagedFile) Read(pageID PageID, out []byte) error {
	if len(out) != pf.pageSize {
		return fmt.Errorf("pagefile: buffer size %d != page size %d", len(out), pf.pageSize)
	}
	offset := int64(pageID) * int64(pf.pageSize)
	if err := pf.backend.ReadFully(offset, out); err != nil {
		if err == io.EOF {
			return dberr.FileCorrupted(int64(pageID))
		}
		return dberr.Wrap(dberr.CodeFileCorrupted, fmt.Sprintf("read page %d", pageID), err)
	}
	pf.mu.Lock()
	pf.pos = offset + int64(pf.pageSize)
	pf.mu.Unlock()
	return nil
}

// Write stores buf (exactly one page) at pageID.
func (pf *PagedFile) Write(pageID PageID, buf []byte) error {
	if len(buf) != pf.pageSize {
		return fmt.Errorf("pagefile: buffer size %d != page size %d", len(buf), pf.pageSize)
	}
	offset := int64(pageID) * int64(pf.pageSize)
	if err := pf.backend.WriteFully(offset, buf); err != nil {
		return dberr.Wrap(dberr.CodeFileCorrupted, fmt.Sprintf("write page %d", pageID), err)
	}
	pf.mu.Lock()
	pf.pos = offset + int64(pf.pageSize)
	pf.mu.Unlock()
	return nil
}

// Allocate returns a fresh page id, preferring a previously Free'd page
// (LIFO reuse) over extending the backend.
func (pf *PagedFile) Allocate() (PageID, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if n := len(pf.freeList); n > 0 {
		id := pf.freeList[n-1]
		pf.freeList = pf.freeList[:n-1]
		return id, nil
	}
	id := PageID(pf.numPages)
	empty := make([]byte, pf.pageSize)
	offset := int64(id) * int64(pf.pageSize)
	if err := pf.backend.WriteFully(offset, empty); err != nil {
		return InvalidPageID, dberr.Wrap(dberr.CodeFileCorrupted, "extend backend", err)
	}
	pf.numPages++
	return id, nil
}

// Invalidator is implemented by backends (the block cache) that hold a view
// of backend bytes independent of the PagedFile's own state, and so must be
// told explicitly when a page is freed without being overwritten.
type Invalidator interface {
	InvalidateRange(pos, length int64)
}

// Free returns pageID to the reuse pool. It does not shrink the backend;
// truncation is a separate, explicit operation. Any cached view of the
// page's bytes is dropped, matching §4.3's "free... invalidates cache
// lines".
func (pf *PagedFile) Free(pageID PageID) {
	pf.mu.Lock()
	pf.freeList = append(pf.freeList, pageID)
	pf.mu.Unlock()
	if inv, ok := pf.backend.(Invalidator); ok {
		inv.InvalidateRange(int64(pageID)*int64(pf.pageSize), int64(pf.pageSize))
	}
}

// Truncate shrinks the backend to size bytes, which must be a page
// multiple, and drops any free-list entries beyond the new bound.
func (pf *PagedFile) Truncate(size int64) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if size%int64(pf.pageSize) != 0 {
		return fmt.Errorf("pagefile: truncate size %d is not a page multiple", size)
	}
	if err := pf.backend.Truncate(size); err != nil {
		return dberr.Wrap(dberr.CodeFileCorrupted, "truncate backend", err)
	}
	pf.numPages = uint32(size / int64(pf.pageSize))
	kept := pf.freeList[:0]
	for _, id := range pf.freeList {
		if id < PageID(pf.numPages) {
			kept = append(kept, id)
		}
	}
	pf.freeList = kept
	if pf.pos > size {
		pf.pos = size
	}
	return nil
}

// ReadBytes performs a raw, non-page-aligned read against the backend at an
// arbitrary byte offset, for consumers (the buffered block streams, C4)
// that frame their own records independently of page boundaries.
func (pf *PagedFile) ReadBytes(pos int64, dst []byte) error {
	return pf.backend.ReadFully(pos, dst)
}

// WriteBytes performs a raw, non-page-aligned write; see ReadBytes.
func (pf *PagedFile) WriteBytes(pos int64, src []byte) error {
	return pf.backend.WriteFully(pos, src)
}

func (pf *PagedFile) Sync() error {
	return pf.backend.Sync()
}

func (pf *PagedFile) Close() error {
	return pf.backend.Close()
}

// DiskBackend is the on-disk Backend implementation: a single *os.File
// addressed with ReadAt/WriteAt, mirroring the teacher's DiskManager I/O
// calls but without any B-tree-specific header baked in.
type DiskBackend struct {
	mu   sync.Mutex
	file *os.File
}

// OpenDiskBackend opens or creates path per mode.
func OpenDiskBackend(path string, mode Mode) (*DiskBackend, error) {
	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		if mode == ModeOpenExisting {
			return nil, fmt.Errorf("pagefile: %s: %w", path, os.ErrNotExist)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
		if err != nil {
			return nil, fmt.Errorf("pagefile: creating %s: %w", path, err)
		}
		return &DiskBackend{file: f}, nil
	case statErr == nil:
		if mode == ModeCreateNew {
			return nil, fmt.Errorf("pagefile: %s already exists", path)
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0o666)
		if err != nil {
			return nil, fmt.Errorf("pagefile: opening %s: %w", path, err)
		}
		return &DiskBackend{file: f}, nil
	default:
		return nil, fmt.Errorf("pagefile: stat %s: %w", path, statErr)
	}
}

func (d *DiskBackend) ReadFully(pos int64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.file.ReadAt(dst, pos)
	if err != nil && !(err == io.EOF && n == len(dst)) {
		return err
	}
	if n != len(dst) {
		return io.EOF
	}
	return nil
}

func (d *DiskBackend) WriteFully(pos int64, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.file.WriteAt(src, pos)
	return err
}

func (d *DiskBackend) Truncate(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Truncate(size)
}

func (d *DiskBackend) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Sync()
}

func (d *DiskBackend) Length() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fi, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *DiskBackend) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	_ = d.file.Sync()
	err := d.file.Close()
	d.file = nil
	return err
}
