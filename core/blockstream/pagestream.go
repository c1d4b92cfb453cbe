package blockstream

import (
	"encoding/binary"
	"io"

	"github.com/sushant-115/pagestorecore/core/dberr"
	"github.com/sushant-115/pagestorecore/core/pagefile"
	"github.com/sushant-115/pagestorecore/core/pagestore"
)

// trunk page payload: logKey(8) | nextTrunk(4) | dataCount(2) | dataPageIDs[dataCount](4 each)
const trunkFixedSize = 8 + 4 + 2

func encodeTrunk(logKey uint64, next pagefile.PageID, dataPages []pagefile.PageID) []byte {
	buf := make([]byte, trunkFixedSize+4*len(dataPages))
	binary.LittleEndian.PutUint64(buf[0:8], logKey)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(next))
	binary.LittleEndian.PutUint16(buf[12:14], uint16(len(dataPages)))
	for i, id := range dataPages {
		binary.LittleEndian.PutUint32(buf[trunkFixedSize+4*i:], uint32(id))
	}
	return buf
}

func decodeTrunk(payload []byte) (logKey uint64, next pagefile.PageID, dataPages []pagefile.PageID) {
	logKey = binary.LittleEndian.Uint64(payload[0:8])
	next = pagefile.PageID(binary.LittleEndian.Uint32(payload[8:12]))
	count := int(binary.LittleEndian.Uint16(payload[12:14]))
	dataPages = make([]pagefile.PageID, count)
	for i := 0; i < count; i++ {
		dataPages[i] = pagefile.PageID(binary.LittleEndian.Uint32(payload[trunkFixedSize+4*i:]))
	}
	return
}

// WriteChain pages data across STREAM_DATA pages linked from one or more
// STREAM_TRUNK pages tagged with logKey, and returns the id of the first
// trunk page. logKey lets PageInputStream detect a stale/reused chain on
// read, per §4.4.
func WriteChain(store *pagestore.Store, data []byte, logKey uint64) (pagefile.PageID, error) {
	dataCapacity := store.PayloadCapacity()
	trunkCapacity := (store.PayloadCapacity() - trunkFixedSize) / 4

	var dataPageIDs []pagefile.PageID
	for off := 0; off < len(data); off += dataCapacity {
		end := off + dataCapacity
		if end > len(data) {
			end = len(data)
		}
		dp, err := store.Allocate(pagestore.PageTypeStreamData, pagefile.InvalidPageID)
		if err != nil {
			return pagefile.InvalidPageID, err
		}
		dp.Payload = append([]byte(nil), data[off:end]...)
		store.Update(dp)
		dataPageIDs = append(dataPageIDs, dp.ID)
	}
	if len(dataPageIDs) == 0 {
		dp, err := store.Allocate(pagestore.PageTypeStreamData, pagefile.InvalidPageID)
		if err != nil {
			return pagefile.InvalidPageID, err
		}
		store.Update(dp)
		dataPageIDs = append(dataPageIDs, dp.ID)
	}

	var trunkIDs []pagefile.PageID
	for i := 0; i < len(dataPageIDs); i += trunkCapacity {
		end := i + trunkCapacity
		if end > len(dataPageIDs) {
			end = len(dataPageIDs)
		}
		tp, err := store.Allocate(pagestore.PageTypeStreamTrunk, pagefile.InvalidPageID)
		if err != nil {
			return pagefile.InvalidPageID, err
		}
		tp.Payload = encodeTrunk(logKey, pagefile.InvalidPageID, dataPageIDs[i:end])
		store.Update(tp)
		trunkIDs = append(trunkIDs, tp.ID)
	}
	// Link trunks to each other in order.
	for i := 0; i+1 < len(trunkIDs); i++ {
		tp, err := store.GetPage(trunkIDs[i], pagestore.PageTypeStreamTrunk)
		if err != nil {
			return pagefile.InvalidPageID, err
		}
		logKeyStored, _, dps := decodeTrunk(tp.Payload)
		tp.Payload = encodeTrunk(logKeyStored, trunkIDs[i+1], dps)
		store.Update(tp)
	}
	return trunkIDs[0], nil
}

// PageInputStream reads the byte sequence stored by WriteChain, validating
// logKey on every trunk it crosses; it stops at an absent next trunk or a
// logKey mismatch, per §4.4.
type PageInputStream struct {
	store       *pagestore.Store
	expectedKey uint64
	trunk       pagefile.PageID
	dataPages   []pagefile.PageID
	dataIdx     int
	cur         []byte
	curOff      int
	done        bool
}

// NewPageInputStream begins reading the chain rooted at trunk, which must
// carry expectedKey.
func NewPageInputStream(store *pagestore.Store, trunk pagefile.PageID, expectedKey uint64) (*PageInputStream, error) {
	s := &PageInputStream{store: store, expectedKey: expectedKey, trunk: trunk}
	if err := s.loadTrunk(trunk); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PageInputStream) loadTrunk(id pagefile.PageID) error {
	tp, err := s.store.GetPage(id, pagestore.PageTypeStreamTrunk)
	if err != nil {
		return err
	}
	logKey, next, dps := decodeTrunk(tp.Payload)
	if logKey != s.expectedKey {
		s.done = true
		return io.EOF
	}
	s.trunk = next
	s.dataPages = dps
	s.dataIdx = 0
	return nil
}

func (s *PageInputStream) refill() error {
	for {
		if s.done {
			return io.EOF
		}
		if s.dataIdx < len(s.dataPages) {
			dp, err := s.store.GetPage(s.dataPages[s.dataIdx], pagestore.PageTypeStreamData)
			if err != nil {
				return err
			}
			s.dataIdx++
			s.cur = dp.Payload
			s.curOff = 0
			return nil
		}
		if s.trunk == pagefile.InvalidPageID {
			s.done = true
			return io.EOF
		}
		if err := s.loadTrunk(s.trunk); err != nil {
			return err
		}
	}
}

// Read implements io.Reader over the full chain.
func (s *PageInputStream) Read(p []byte) (int, error) {
	if s.curOff >= len(s.cur) {
		if err := s.refill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.cur[s.curOff:])
	s.curOff += n
	return n, nil
}

// AllocateAllPages walks the chain rooted at trunk and marks every trunk and
// data page it visits as allocated in the store's bitmap, without altering
// their contents — a building block for reconciling the on-disk
// allocation bitmap against still-referenced stream chains (§9
// supplemented feature). No recovery pass in this repository calls it;
// pagestore.Open does not scan stream chains.
func AllocateAllPages(store *pagestore.Store, trunk pagefile.PageID, expectedKey uint64) error {
	cur := trunk
	for cur != pagefile.InvalidPageID {
		tp, err := store.GetPage(cur, pagestore.PageTypeStreamTrunk)
		if err != nil {
			return err
		}
		logKey, next, dps := decodeTrunk(tp.Payload)
		if logKey != expectedKey {
			return dberr.FileCorrupted(int64(cur))
		}
		store.MarkAllocated(cur)
		for _, d := range dps {
			store.MarkAllocated(d)
		}
		cur = next
	}
	return nil
}
