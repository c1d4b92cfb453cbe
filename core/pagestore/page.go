// Package pagestore implements the page store (C3): a bitmap-based page
// allocator, a root-page registry persisted in meta pages, typed page
// dispatch, and the dirty/clean page lifecycle. Layout and checksum
// discipline are grounded on the teacher's
// core/indexing/btree/node.go serialize/deserialize pair (length-prefixed
// fields, trailing CRC32); the allocation/free bookkeeping builds on
// core/indexing/btree/diskmanager.go's header conventions, generalized
// from a single B-tree root to the multi-index root registry §4.3 needs.
package pagestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/sushant-115/pagestorecore/core/dberr"
	"github.com/sushant-115/pagestorecore/core/pagefile"
)

// PageType tags every page's role, per §6.
type PageType uint8

const (
	PageTypeInvalid PageType = iota
	PageTypeLeaf
	PageTypeNode
	PageTypeOverflow
	PageTypeStreamTrunk
	PageTypeStreamData
	PageTypeMeta
)

func (t PageType) String() string {
	switch t {
	case PageTypeLeaf:
		return "LEAF"
	case PageTypeNode:
		return "NODE"
	case PageTypeOverflow:
		return "OVERFLOW"
	case PageTypeStreamTrunk:
		return "STREAM_TRUNK"
	case PageTypeStreamData:
		return "STREAM_DATA"
	case PageTypeMeta:
		return "META"
	default:
		return "INVALID"
	}
}

// State is a page slot's lifecycle position, per §4.3's state machine:
// FREE -> ALLOCATED -> DIRTY <-> CLEAN -> FREE.
type State int

const (
	StateFree State = iota
	StateAllocated
	StateDirty
	StateClean
)

const (
	pageHeaderSize = 15 // type(1) + link(4) + rowCountHint(8) + payloadLen(2)
	checksumSize   = 4
)

// Page is an in-memory, typed copy of one on-disk page. Link doubles as the
// parent-page id for B-tree leaf/node pages and as the next-page pointer
// for chained stream/meta-continuation pages — documented in DESIGN.md as a
// deliberate field reuse, since a page is never both a tree node and a
// chain link.
type Page struct {
	ID           pagefile.PageID
	Type         PageType
	Link         pagefile.PageID
	RowCountHint int64
	Payload      []byte
	state        State
}

func (p *Page) Parent() pagefile.PageID { return p.Link }
func (p *Page) Next() pagefile.PageID   { return p.Link }
func (p *Page) State() State            { return p.state }

func serializePage(p *Page, pageSize int) ([]byte, error) {
	if len(p.Payload)+pageHeaderSize+checksumSize > pageSize {
		return nil, fmt.Errorf("pagestore: payload %d exceeds page capacity %d", len(p.Payload), pageSize-pageHeaderSize-checksumSize)
	}
	buf := make([]byte, pageSize)
	buf[0] = byte(p.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(p.Link))
	binary.LittleEndian.PutUint64(buf[5:13], uint64(p.RowCountHint))
	binary.LittleEndian.PutUint16(buf[13:15], uint16(len(p.Payload)))
	copy(buf[pageHeaderSize:], p.Payload)
	checksum := crc32.ChecksumIEEE(buf[:pageSize-checksumSize])
	binary.LittleEndian.PutUint32(buf[pageSize-checksumSize:], checksum)
	return buf, nil
}

func deserializePage(id pagefile.PageID, raw []byte) (*Page, error) {
	pageSize := len(raw)
	stored := binary.LittleEndian.Uint32(raw[pageSize-checksumSize:])
	calculated := crc32.ChecksumIEEE(raw[:pageSize-checksumSize])
	if stored != calculated {
		return nil, dberr.FileCorrupted(int64(id))
	}
	p := &Page{
		ID:           id,
		Type:         PageType(raw[0]),
		Link:         pagefile.PageID(binary.LittleEndian.Uint32(raw[1:5])),
		RowCountHint: int64(binary.LittleEndian.Uint64(raw[5:13])),
	}
	payloadLen := int(binary.LittleEndian.Uint16(raw[13:15]))
	if pageHeaderSize+payloadLen+checksumSize > pageSize {
		return nil, dberr.FileCorrupted(int64(id))
	}
	p.Payload = make([]byte, payloadLen)
	copy(p.Payload, raw[pageHeaderSize:pageHeaderSize+payloadLen])
	return p, nil
}

// metaRecord is the on-disk shape of the root registry plus allocation
// bitmap, stored in the Payload of the single META page, page 0; writeMeta
// fails if the record does not fit in one page.
func encodeMeta(roots map[int64]pagefile.PageID, bitmap []byte) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(len(roots)))
	for tableID, pageID := range roots {
		binary.Write(buf, binary.LittleEndian, tableID)
		binary.Write(buf, binary.LittleEndian, uint32(pageID))
	}
	binary.Write(buf, binary.LittleEndian, uint32(len(bitmap)))
	buf.Write(bitmap)
	return buf.Bytes()
}

func decodeMeta(data []byte) (roots map[int64]pagefile.PageID, bitmap []byte, err error) {
	r := bytes.NewReader(data)
	var rootCount uint32
	if err = binary.Read(r, binary.LittleEndian, &rootCount); err != nil {
		return nil, nil, err
	}
	roots = make(map[int64]pagefile.PageID, rootCount)
	for i := uint32(0); i < rootCount; i++ {
		var tableID int64
		var pageID uint32
		if err = binary.Read(r, binary.LittleEndian, &tableID); err != nil {
			return nil, nil, err
		}
		if err = binary.Read(r, binary.LittleEndian, &pageID); err != nil {
			return nil, nil, err
		}
		roots[tableID] = pagefile.PageID(pageID)
	}
	var bitmapLen uint32
	if err = binary.Read(r, binary.LittleEndian, &bitmapLen); err != nil {
		return nil, nil, err
	}
	bitmap = make([]byte, bitmapLen)
	if _, err = r.Read(bitmap); err != nil && bitmapLen > 0 {
		return nil, nil, err
	}
	return roots, bitmap, nil
}
