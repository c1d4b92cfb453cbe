package cache

import (
	"context"
	"io"
	"sync"

	"github.com/sushant-115/pagestorecore/core/pagefile"
	"go.uber.org/zap"
)

// BlockSize is CACHE_BLOCK_SIZE from §3: the cache's unit of residency,
// independent of the page store's configured page size (though in the
// default configuration the two coincide).
const BlockSize = 4096

// DefaultCapacityBytes is the default total resident budget (§3: "default 1
// MiB => 256 entries").
const DefaultCapacityBytes = 1 << 20

// CachedBackend wraps a pagefile.Backend with a read-through LIRS cache and
// write-through invalidation, implementing pagefile.Backend itself so it is
// interchangeable with the disk-file or off-heap backing underneath it.
type CachedBackend struct {
	mu      sync.Mutex
	under   pagefile.Backend
	lirs    *lirs
	log     *zap.Logger
	metrics *Metrics
	hits    uint64
	misses  uint64
	evicted uint64
}

// NewCachedBackend wraps under with a LIRS cache sized to hold
// capacityBytes/BlockSize blocks. metrics may be nil, which disables
// instrument recording (see Metrics).
func NewCachedBackend(under pagefile.Backend, capacityBytes int, log *zap.Logger, metrics *Metrics) *CachedBackend {
	if capacityBytes <= 0 {
		capacityBytes = DefaultCapacityBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedBackend{
		under:   under,
		lirs:    newLIRS(capacityBytes/BlockSize, log),
		log:     log,
		metrics: metrics,
	}
}

func alignedBlock(pos int64) (aligned int64, off int) {
	aligned = pos - pos%BlockSize
	off = int(pos - aligned)
	return
}

// ReadFully satisfies invariant 1 (cache coherence, §8): it always consults
// the cache one block at a time, filling from the underlying backend and
// populating the cache only for full-block reads (short reads at EOF are
// never cached, per §4.2).
func (c *CachedBackend) ReadFully(pos int64, dst []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := dst
	cur := pos
	for len(remaining) > 0 {
		aligned, off := alignedBlock(cur)
		n := BlockSize - off
		if n > len(remaining) {
			n = len(remaining)
		}
		if buf, ok := c.lirs.get(aligned); ok {
			copy(remaining[:n], buf[off:off+n])
			c.hits++
			if c.metrics != nil {
				c.metrics.Hits.Add(context.Background(), 1)
			}
			remaining = remaining[n:]
			cur += int64(n)
			continue
		}
		c.misses++
		if c.metrics != nil {
			c.metrics.Misses.Add(context.Background(), 1)
		}
		block := make([]byte, BlockSize)
		if err := c.under.ReadFully(aligned, block); err != nil {
			if err == io.EOF {
				// Short/partial block: serve what is available, do not
				// cache it, per §4.2 "short reads are not cached".
				partial := make([]byte, BlockSize)
				_ = c.under.ReadFully(aligned, partial) // best effort, may still be partial at backend level
				copy(remaining[:n], partial[off:off+n])
				remaining = remaining[n:]
				cur += int64(n)
				continue
			}
			return err
		}
		c.lirs.put(aligned, block)
		copy(remaining[:n], block[off:off+n])
		remaining = remaining[n:]
		cur += int64(n)
	}
	return nil
}

// WriteFully evicts every cached block intersecting [pos, pos+len(src)),
// strictly before delegating to the underlying backend, so invariant 1
// (§8) holds: a reader that misses the cache after this call always sees
// the new bytes, and the evict-then-write ordering matches the happens-
// before requirement in §5.
func (c *CachedBackend) WriteFully(pos int64, src []byte) error {
	c.mu.Lock()
	c.evictRange(pos, int64(len(src)))
	c.mu.Unlock()
	return c.under.WriteFully(pos, src)
}

// Truncate clears every cached block at or beyond size before delegating.
func (c *CachedBackend) Truncate(size int64) error {
	c.mu.Lock()
	c.evictFrom(size)
	c.mu.Unlock()
	return c.under.Truncate(size)
}

func (c *CachedBackend) Sync() error   { return c.under.Sync() }
func (c *CachedBackend) Close() error  { return c.under.Close() }
func (c *CachedBackend) Length() (int64, error) { return c.under.Length() }

func (c *CachedBackend) evictRange(pos, length int64) {
	first, _ := alignedBlock(pos)
	last, _ := alignedBlock(pos + length - 1)
	if length <= 0 {
		last = first
	}
	for off := first; off <= last; off += BlockSize {
		c.lirs.invalidate(off)
		c.evicted++
		c.recordEviction()
	}
}

func (c *CachedBackend) evictFrom(size int64) {
	aligned, rem := alignedBlock(size)
	if rem != 0 {
		c.lirs.invalidate(aligned)
		c.evicted++
		c.recordEviction()
		aligned += BlockSize
	}
	for off := range c.lirs.stackIndex {
		if off >= aligned {
			c.lirs.invalidate(off)
			c.evicted++
			c.recordEviction()
		}
	}
	for off := range c.lirs.queueIndex {
		if off >= aligned {
			c.lirs.invalidate(off)
			c.evicted++
			c.recordEviction()
		}
	}
}

func (c *CachedBackend) recordEviction() {
	if c.metrics != nil {
		c.metrics.Evictions.Add(context.Background(), 1)
	}
}

// InvalidateRange implements pagefile.Invalidator, letting PagedFile.Free
// drop cached residency for a page that is released without being
// overwritten.
func (c *CachedBackend) InvalidateRange(pos, length int64) {
	c.mu.Lock()
	c.evictRange(pos, length)
	c.mu.Unlock()
}

// Stats reports cumulative hit/miss/eviction counters, the natural
// instrumentation point for the telemetry counters named in SPEC_FULL's
// ambient stack section.
func (c *CachedBackend) Stats() (hits, misses, evictions uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evicted
}
