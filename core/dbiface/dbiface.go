// Package dbiface holds the contracts for collaborators this storage core
// treats as external: the session/transaction envelope, the database and
// table registries, compression, and LOB materialization. None of
// these are implemented here — the SQL front end and connection layer own
// them. Every core package depends only on these interfaces, never on a
// concrete session/database type.
package dbiface

import (
	"context"
	"fmt"
)

// Value is a single typed column value. The concrete representation is
// opaque to the storage core; indexes only need to order and compare it.
type Value interface {
	// Compare returns <0, 0, >0 the way bytes.Compare does.
	Compare(other Value) int
	// AsLong returns the value coerced to a row-key-compatible integer, for
	// main-index-column fast paths. ok is false when the coercion is lossy
	// or undefined for this value's type.
	AsLong() (v int64, ok bool)
	// Bytes returns a canonical byte encoding, used by hash indexes and
	// on-disk row payload encoding.
	Bytes() []byte
}

// Row is an ordered tuple of column values plus its key. A tombstone row
// (see scanindex) carries Values == nil.
type Row struct {
	Key    int64
	Values []Value
	// memEstimate caches Row.Memory(); -1 means uncomputed.
	memEstimate int64
}

// NewRow builds a live row with an uncomputed memory estimate.
func NewRow(key int64, values []Value) *Row {
	return &Row{Key: key, Values: values, memEstimate: -1}
}

// IsTombstone reports whether this row is a RemovedRow placeholder.
func (r *Row) IsTombstone() bool { return r.Values == nil }

// Memory estimates the row's in-memory footprint in bytes, computing and
// caching it on first call.
func (r *Row) Memory() int64 {
	if r.memEstimate >= 0 {
		return r.memEstimate
	}
	var n int64 = 24
	for _, v := range r.Values {
		n += int64(len(v.Bytes())) + 16
	}
	r.memEstimate = n
	return n
}

// UndoOp distinguishes the two record kinds an undo log holds (§3).
type UndoOp int

const (
	UndoOpInsert UndoOp = iota
	UndoOpDelete
)

func (op UndoOp) String() string {
	if op == UndoOpInsert {
		return "INSERT"
	}
	return "DELETE"
}

// UndoRecorder is the per-session undo log (C8) as seen by the page store
// and data index: an append-only sink for row mutations. The concrete
// undolog.Log implements this without the page store needing to import it.
type UndoRecorder interface {
	Add(op UndoOp, tableID int64, row *Row)
}

// ValueCodec encodes/decodes a row's column values to/from the byte
// payload stored in a B-tree leaf entry. The SQL front end owns the
// concrete Value types and therefore the only codec capable of round-
// tripping them; the storage core only ever calls through this interface.
type ValueCodec interface {
	Encode(values []Value) []byte
	Decode(data []byte) ([]Value, error)
}

// LobMarker is implemented by Value types that may carry out-of-line large
// object data; IsLOB reports whether this particular value should be
// intercepted by LobStorage on insert (§9 supplemented feature #2).
type LobMarker interface {
	IsLOB() bool
}

// Int64Value is a minimal, total-order Value backed by a plain int64 — the
// natural value type for a main-index (primary-key) column, and good
// enough to exercise the storage core end to end without a SQL type
// system.
type Int64Value int64

func (v Int64Value) Compare(other Value) int {
	o := other.(Int64Value)
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

func (v Int64Value) AsLong() (int64, bool) { return int64(v), true }

func (v Int64Value) Bytes() []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}

// BytesValue is a Value backed by an opaque byte slice, ordered
// lexicographically — representative of a text/blob column without a total
// numeric ordering; the hash index buckets it by its bytes like any other
// value.
type BytesValue []byte

func (v BytesValue) Compare(other Value) int {
	o := other.(BytesValue)
	n := len(v)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if v[i] != o[i] {
			if v[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(v) < len(o):
		return -1
	case len(v) > len(o):
		return 1
	default:
		return 0
	}
}

func (v BytesValue) AsLong() (int64, bool) { return 0, false }
func (v BytesValue) Bytes() []byte         { return v }

// Int64Codec round-trips rows whose single column is an Int64Value, plus
// an optional trailing opaque blob — enough to drive the storage core's own
// tests without a SQL type system.
type Int64Codec struct{}

func (Int64Codec) Encode(values []Value) []byte {
	if len(values) == 0 {
		return nil
	}
	iv := values[0].(Int64Value)
	out := iv.Bytes()
	if len(values) > 1 {
		out = append(out, values[1].(BytesValue)...)
	}
	return out
}

func (Int64Codec) Decode(data []byte) ([]Value, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("dbiface: short payload for Int64Codec: %d bytes", len(data))
	}
	var iv int64
	for i := 0; i < 8; i++ {
		iv |= int64(data[i]) << (8 * uint(i))
	}
	values := []Value{Int64Value(iv)}
	if len(data) > 8 {
		values = append(values, BytesValue(append([]byte(nil), data[8:]...)))
	}
	return values, nil
}

// Session is the minimal transaction/connection envelope the storage core
// needs: an identity for undo-log ownership, a cancellation context, a
// lock-mode query used to decide whether certain constraint violations may
// be silently ignored (see dberr.RowNotFoundWhenDeleting policy), and the
// session's own undo log.
type Session interface {
	context.Context
	ID() string
	// LockModeOff reports whether this session runs under LOCK_MODE=OFF,
	// under which concurrent-delete races are expected and tolerated.
	LockModeOff() bool
	UndoLog() UndoRecorder
}

// Database is the process-wide registry the storage core consults for
// cross-cutting policy: multi-version store selection and temp-file
// naming. It is never owned by a single store.
type Database interface {
	// MVStoreEnabled reports whether the multi-version store backs this
	// database (MV_STORE option); when true, undo-log spill is disabled.
	MVStoreEnabled() bool
	// TempFileFactory returns a fresh path for a temporary spill file,
	// rooted under the database's configured temp directory.
	TempFileFactory(purpose string) (string, error)
}

// Table identifies a table for undo-log and page-store bookkeeping. The
// storage core never inspects table schema; it only needs a stable id.
type Table interface {
	ID() int64
}

// CompressTool performs the opaque per-block compression named in the
// buffered-block-stream record format. The algorithm name is carried
// alongside the record, never embedded in it.
type CompressTool interface {
	Compress(src []byte, algorithm string) (compressed []byte, err error)
	// Expand decompresses src into dst starting at off, returning the
	// number of bytes written.
	Expand(src []byte, dst []byte, off int) (n int, err error)
}

// LobStorage intercepts large-object values, per the supplemented
// LOB-interception feature: the data index calls CopyLob for each LOB value
// on add and stores the returned reference. RemoveAtCommit is part of the
// contract, but the data index does not call it on remove or rollback.
type LobStorage interface {
	CopyLob(sess Session, tableID int64, v Value) (ref Value, err error)
	RemoveAtCommit(sess Session, ref Value) error
}
