package btreeindex

import "encoding/binary"

// leafEntry is one (key, encoded row) pair inside a leaf page.
type leafEntry struct {
	key   int64
	value []byte
}

// encodeLeaf serializes a sorted slice of entries: numEntries(2) |
// {key(8) valueLen(4) value[valueLen]}*.
func encodeLeaf(entries []leafEntry) []byte {
	size := 2
	for _, e := range entries {
		size += 8 + 4 + len(e.value)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(entries)))
	off := 2
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.key))
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.value)))
		off += 4
		copy(buf[off:], e.value)
		off += len(e.value)
	}
	return buf
}

func decodeLeaf(payload []byte) []leafEntry {
	if len(payload) < 2 {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(payload[0:2]))
	entries := make([]leafEntry, n)
	off := 2
	for i := 0; i < n; i++ {
		key := int64(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
		vlen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		value := append([]byte(nil), payload[off:off+vlen]...)
		off += vlen
		entries[i] = leafEntry{key: key, value: value}
	}
	return entries
}

// encodeNode serializes an interior node: numKeys(2) | keys[numKeys](8
// each) | children[numKeys+1](4 each, pagefile.PageID).
func encodeNode(keys []int64, children []uint32) []byte {
	size := 2 + 8*len(keys) + 4*len(children)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(keys)))
	off := 2
	for _, k := range keys {
		binary.LittleEndian.PutUint64(buf[off:], uint64(k))
		off += 8
	}
	for _, c := range children {
		binary.LittleEndian.PutUint32(buf[off:], c)
		off += 4
	}
	return buf
}

func decodeNode(payload []byte) (keys []int64, children []uint32) {
	n := int(binary.LittleEndian.Uint16(payload[0:2]))
	keys = make([]int64, n)
	off := 2
	for i := 0; i < n; i++ {
		keys[i] = int64(binary.LittleEndian.Uint64(payload[off:]))
		off += 8
	}
	children = make([]uint32, n+1)
	for i := 0; i < n+1; i++ {
		children[i] = binary.LittleEndian.Uint32(payload[off:])
		off += 4
	}
	return
}
