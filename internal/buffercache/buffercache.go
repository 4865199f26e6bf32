// Package buffercache implements the reference-counted, fixed-capacity
// LRU over open upstream pixel buffers described in spec.md §4.3.
//
// The wrapper shape — one mutex guarding an ordered cache plus an
// eviction hook — is adapted from Perkeep's pkg/lru (a container/list
// MRU cache guarded by a single sync.Mutex). The list/map engine itself
// is swapped for the retrieval pack's real LRU library,
// hashicorp/golang-lru/v2/simplelru, per the rule that a pack-provided
// library beats a hand-rolled equivalent; the refcount/lease bookkeeping
// spec.md requires is layered on top via simplelru's eviction callback,
// since no LRU library models leases natively.
package buffercache

import (
	"fmt"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/scireader/zarrimaged/internal/upstream"
)

type cacheKey struct {
	imageID    int64
	resolution int
}

// refs tracks, per distinct underlying buffer, how many cache entries
// and how many outstanding leases reference it. Per spec.md open
// question #4, these are kept as two separate counters rather than one
// conflated count, even though a freshly-opened buffer effectively
// starts at "one of each" the moment it's inserted with an outstanding
// lease.
type refs struct {
	cacheRefs int
	leaseRefs int
}

func (r *refs) total() int { return r.cacheRefs + r.leaseRefs }

// Cache is a reference-counted LRU of capacity K over open
// upstream.PixelBuffer values, keyed by (imageId, resolution). Per
// spec.md §5, every operation — including the upstream buffer open on a
// miss — runs under a single mutex; the upstream is trusted to be a
// fast-opening, side-effect-free read path, so serializing opens behind
// evictions and lookups is the deliberate tradeoff spec.md §4.3 and §5
// describe, not an oversight.
type Cache struct {
	metadata upstream.MetadataSource
	pixels   upstream.PixelSource

	mu      sync.Mutex
	entries *lru.LRU[cacheKey, upstream.PixelBuffer]
	bufRefs map[upstream.PixelBuffer]*refs

	logger *log.Logger
}

// New builds a Cache of the given capacity, reading pixel metadata from
// metadata and opening buffers through pixels. logger may be nil, in
// which case the standard logger is used (mirrors pkg/webserver.Server's
// optional *log.Logger field).
func New(capacity int, metadata upstream.MetadataSource, pixels upstream.PixelSource, logger *log.Logger) *Cache {
	c := &Cache{
		metadata: metadata,
		pixels:   pixels,
		bufRefs:  make(map[upstream.PixelBuffer]*refs),
		logger:   logger,
	}
	entries, err := lru.NewLRU[cacheKey, upstream.PixelBuffer](capacity, c.onEvict)
	if err != nil {
		// Only returned by simplelru for capacity < 1, which
		// config.Load already rejects; a panic here means the
		// service was wired with an invalid capacity bypassing
		// config validation.
		panic(fmt.Sprintf("buffercache: %v", err))
	}
	c.entries = entries
	return c
}

func (c *Cache) printf(format string, v ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

// onEvict is invoked synchronously by c.entries while c.mu is already
// held by the caller of Acquire; it drops the evicted entry's cache-side
// reference and closes the buffer immediately if no lease is keeping it
// alive.
func (c *Cache) onEvict(_ cacheKey, buf upstream.PixelBuffer) {
	r, ok := c.bufRefs[buf]
	if !ok {
		return
	}
	r.cacheRefs--
	if r.total() <= 0 {
		delete(c.bufRefs, buf)
		if err := buf.Close(); err != nil {
			c.printf("buffercache: close evicted buffer: %v", err)
		}
	}
}

// Acquire returns an open buffer positioned at the requested resolution,
// with its lease count incremented by one for the caller. The caller
// must call Release(buf) exactly once when done. Returns
// upstream.ErrNotFound if the image is unknown or resolution is out of
// range.
func (c *Cache) Acquire(imageID int64, resolution int) (upstream.PixelBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{imageID, resolution}
	if buf, ok := c.entries.Get(key); ok {
		c.bufRefs[buf].leaseRefs++
		return buf, nil
	}

	pix, err := c.metadata.GetPixels(imageID)
	if err != nil {
		return nil, upstream.ErrNotFound
	}
	buf, err := c.pixels.OpenBuffer(pix)
	if err != nil {
		return nil, upstream.ErrNotFound
	}

	levels := buf.ResolutionLevels()
	if resolution < 0 || resolution >= levels {
		if cerr := buf.Close(); cerr != nil {
			c.printf("buffercache: close buffer opened for out-of-range resolution: %v", cerr)
		}
		return nil, upstream.ErrNotFound
	}
	// Service exposes level 0 as highest resolution; upstream orders
	// low (0) to high (levels-1).
	if err := buf.SetResolutionLevel(levels - 1 - resolution); err != nil {
		if cerr := buf.Close(); cerr != nil {
			c.printf("buffercache: close buffer after failed resolution set: %v", cerr)
		}
		return nil, upstream.ErrNotFound
	}

	r, ok := c.bufRefs[buf]
	if !ok {
		r = &refs{}
		c.bufRefs[buf] = r
	}
	r.cacheRefs++
	r.leaseRefs++
	c.entries.Add(key, buf)
	return buf, nil
}

// Release decrements the lease count for buf; once the total refcount
// for its underlying buffer reaches zero, the buffer is closed. Errors
// closing the buffer are logged and swallowed (best-effort cleanup).
func (c *Cache) Release(buf upstream.PixelBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.bufRefs[buf]
	if !ok {
		return
	}
	r.leaseRefs--
	if r.total() <= 0 {
		delete(c.bufRefs, buf)
		if err := buf.Close(); err != nil {
			c.printf("buffercache: close released buffer: %v", err)
		}
	}
}

// Len reports the number of distinct (imageId,resolution) entries
// currently cached, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
