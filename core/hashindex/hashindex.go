// Package hashindex implements the non-unique, equality-only hash index
// (C7): a bucket map from an encoded value to the set of row keys holding
// it. Every value, whatever its type, is bucketed by the cespare/xxhash/v2
// hash of its canonical bytes (Value.Bytes), with a byte-equality re-check
// separating distinct values that share a hash. No ordered or tree-map
// variant is kept, and two values count as equal only when their Bytes()
// encodings are identical. xxhash is the same non-cryptographic hash the
// teacher's cache layer reaches for elsewhere in the corpus.
package hashindex

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/sushant-115/pagestorecore/core/costmodel"
	"github.com/sushant-115/pagestorecore/core/dbiface"
)

// Index is a single-column, non-unique hash index.
type Index struct {
	mu sync.RWMutex

	column  int
	ordered bool // true: column has a total numeric order (Int64Value-like)

	// buckets maps a bucket key (xxhash of the value's canonical bytes) to
	// the row keys sharing that value. Collisions across distinct values
	// mapping to the same hash are resolved by re-checking value bytes.
	buckets map[uint64][]entry
}

type entry struct {
	valueBytes []byte
	rowKeys    []int64
}

// New builds a hash index over column, given whether the column's values
// carry a total numeric order (used only to pick the grounding doc's
// hash-map-vs-tree-map language; the Go implementation always buckets by
// hash, since an unordered map has no ordering to exploit either way).
func New(column int, ordered bool) *Index {
	return &Index{column: column, ordered: ordered, buckets: make(map[uint64][]entry)}
}

func bucketKey(b []byte) uint64 { return xxhash.Sum64(b) }

func findEntry(bucket []entry, valueBytes []byte) int {
	for i, e := range bucket {
		if string(e.valueBytes) == string(valueBytes) {
			return i
		}
	}
	return -1
}

// Add appends row.Key to the bucket for row.Values[column].
func (idx *Index) Add(row *dbiface.Row) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	vb := row.Values[idx.column].Bytes()
	key := bucketKey(vb)
	bucket := idx.buckets[key]
	if i := findEntry(bucket, vb); i >= 0 {
		bucket[i].rowKeys = append(bucket[i].rowKeys, row.Key)
		idx.buckets[key] = bucket
		return
	}
	idx.buckets[key] = append(bucket, entry{valueBytes: vb, rowKeys: []int64{row.Key}})
}

// Remove deletes row.Key from the bucket for row.Values[column]. The
// bucket entry is dropped entirely once its row-key list is empty, per
// §4.7.
func (idx *Index) Remove(row *dbiface.Row) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	vb := row.Values[idx.column].Bytes()
	key := bucketKey(vb)
	bucket := idx.buckets[key]
	i := findEntry(bucket, vb)
	if i < 0 {
		return
	}
	keys := bucket[i].rowKeys
	for j, rk := range keys {
		if rk == row.Key {
			keys = append(keys[:j], keys[j+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		bucket = append(bucket[:i], bucket[i+1:]...)
	} else {
		bucket[i].rowKeys = keys
	}
	if len(bucket) == 0 {
		delete(idx.buckets, key)
	} else {
		idx.buckets[key] = bucket
	}
}

// Find returns the row keys whose value has the same canonical bytes as
// probe; a hash-index lookup is always a single-value point lookup. The
// keys returned are sorted for deterministic cursor order.
func (idx *Index) Find(probe dbiface.Value) []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	vb := probe.Bytes()
	bucket := idx.buckets[bucketKey(vb)]
	i := findEntry(bucket, vb)
	if i < 0 {
		return nil
	}
	out := append([]int64(nil), bucket[i].rowKeys...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// EqualityMask describes, per joined column, whether the optimizer's
// predicate mask for that column is an equality condition.
type EqualityMask int

const (
	MaskRange EqualityMask = iota
	MaskEquality
)

// GetCost returns costmodel.MaxCost unless masks is non-empty and every
// entry is an equality condition, in which case it returns the constant
// equality-hash hit cost, per §4.7/§4.9. No masks at all means no
// equality column is present to hash on, matching H2's
// NonUniqueHashIndex, which reports MAX rather than vacuously cheap in
// that case.
func GetCost(masks []EqualityMask) int64 {
	if len(masks) == 0 {
		return costmodel.MaxCost
	}
	for _, m := range masks {
		if m != MaskEquality {
			return costmodel.MaxCost
		}
	}
	return costmodel.EqualityHashCost
}
