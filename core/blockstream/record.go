// Package blockstream implements the buffered block streams (C4): a
// producer/consumer pair that frames arbitrary byte payloads into
// length-prefixed, optionally compressed, block-aligned records over the
// paged file, plus PageInputStream, the trunk/data chain reader used by
// recovery. Grounded on the teacher's length-prefixed field style in
// core/indexing/btree/node.go, generalized from node-key/value framing to
// the record layout §4.4/§6 specify; compression is delegated to the
// dbiface.CompressTool contract, concretely backed by github.com/ulikunitz/xz
// (see SPEC_FULL's DOMAIN STACK).
package blockstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/sushant-115/pagestorecore/core/dbiface"
	"github.com/sushant-115/pagestorecore/core/pagefile"
)

// FileBlockSize is FILE_BLOCK_SIZE from §4.4: every record is zero-padded
// to a multiple of this size.
const FileBlockSize = 4096

func alignUp(n int) int {
	if r := n % FileBlockSize; r != 0 {
		return n + (FileBlockSize - r)
	}
	return n
}

// Writer partitions arbitrary byte input into block-aligned records, one
// per Write call, with optional per-block compression.
type Writer struct {
	pf        *pagefile.PagedFile
	pos       int64
	compress  dbiface.CompressTool
	algorithm string
}

// NewWriter creates a Writer appending at pos. A nil compress disables
// compression, yielding the uncompressed record layout.
func NewWriter(pf *pagefile.PagedFile, pos int64, compress dbiface.CompressTool, algorithm string) *Writer {
	return &Writer{pf: pf, pos: pos, compress: compress, algorithm: algorithm}
}

// Write emits buf as a single record at the writer's current position and
// advances it past the record's zero-padding.
func (w *Writer) Write(buf []byte) (int, error) {
	var header, payload []byte
	if w.compress != nil {
		compressed, err := w.compress.Compress(buf, w.algorithm)
		if err != nil {
			return 0, fmt.Errorf("blockstream: compress: %w", err)
		}
		header = make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(compressed)))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(buf)))
		payload = compressed
	} else {
		header = make([]byte, 4)
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(buf)))
		payload = buf
	}
	total := len(header) + len(payload)
	padded := alignUp(total)
	record := make([]byte, padded)
	copy(record, header)
	copy(record[len(header):], payload)
	if err := w.pf.WriteBytes(w.pos, record); err != nil {
		return 0, err
	}
	w.pos += int64(padded)
	return len(buf), nil
}

// Pos reports the writer's current position, the byte offset the next
// record will start at.
func (w *Writer) Pos() int64 { return w.pos }

// Reader is the inverse of Writer: it reads one aligned record at a time
// and yields its payload through a remainingInBuffer cursor (§4.4).
type Reader struct {
	pf        *pagefile.PagedFile
	pos       int64
	end       int64 // exclusive upper bound of valid stream data
	compress  dbiface.CompressTool
	buf       []byte
	bufOff    int
	closed    bool
	log       *zap.Logger
}

// NewReader creates a Reader starting at pos, reading no further than end.
func NewReader(pf *pagefile.PagedFile, pos, end int64, compress dbiface.CompressTool) *Reader {
	return &Reader{pf: pf, pos: pos, end: end, compress: compress, log: zap.NewNop()}
}

// NewReaderWithLogger is NewReader with an explicit logger for corruption
// diagnostics; a nil log behaves like NewReader.
func NewReaderWithLogger(pf *pagefile.PagedFile, pos, end int64, compress dbiface.CompressTool, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{pf: pf, pos: pos, end: end, compress: compress, log: log}
}

func (r *Reader) refill() error {
	if r.pos >= r.end {
		r.closed = true
		return io.EOF
	}
	header := make([]byte, 4)
	if err := r.pf.ReadBytes(r.pos, header); err != nil {
		r.closed = true
		return io.EOF
	}
	firstLen := int32(binary.LittleEndian.Uint32(header))
	if firstLen < 0 {
		// Negative length prefix: corruption. Close cleanly per §4.4/§7.5.
		r.log.Error("blockstream record has negative length prefix", zap.Int64("pos", r.pos), zap.Int32("length", firstLen))
		r.closed = true
		return io.EOF
	}
	var payloadLen int
	var headerLen int
	var uncompressedLen int
	if r.compress != nil {
		more := make([]byte, 4)
		if err := r.pf.ReadBytes(r.pos+4, more); err != nil {
			r.closed = true
			return io.EOF
		}
		uncompressedLen = int(int32(binary.LittleEndian.Uint32(more)))
		if uncompressedLen < 0 {
			r.closed = true
			return io.EOF
		}
		headerLen = 8
		payloadLen = int(firstLen)
	} else {
		headerLen = 4
		payloadLen = int(firstLen)
	}
	compressed := make([]byte, payloadLen)
	if err := r.pf.ReadBytes(r.pos+int64(headerLen), compressed); err != nil {
		r.closed = true
		return io.EOF
	}
	var payload []byte
	if r.compress != nil {
		payload = make([]byte, uncompressedLen)
		if _, err := r.compress.Expand(compressed, payload, 0); err != nil {
			r.log.Error("blockstream record failed to decompress", zap.Int64("pos", r.pos), zap.Error(err))
			r.closed = true
			return io.EOF
		}
	} else {
		payload = compressed
	}
	padded := alignUp(headerLen + payloadLen)
	r.pos += int64(padded)
	r.buf = payload
	r.bufOff = 0
	return nil
}

// Read implements io.Reader, refilling from the next aligned record when
// the current one is exhausted.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}
	if r.bufOff >= len(r.buf) {
		if err := r.refill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.bufOff:])
	r.bufOff += n
	return n, nil
}

// ReadAll drains the reader to completion, returning every record's payload
// concatenated — the round-trip shape invariant 7 (§8) is stated against.
func ReadAll(r *Reader) ([]byte, error) {
	out := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
