// Package maskcache holds materialised per-ROI UnionMasks, bounded by a
// byte budget rather than an entry count, since ROI masks vary wildly in
// size (spec.md's "optional materialised-mask cache", §5). Grounded on
// the same retrieval-pack LRU library as internal/buffercache
// (hashicorp/golang-lru/v2/simplelru), with a running byte total tracked
// alongside it to evict down to budget rather than by a single
// node-size->count setting the way buffercache does.
package maskcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/scireader/zarrimaged/internal/mask"
)

// Cache memoizes the UnionMask built for each ROI id, up to a configured
// byte budget.
type Cache struct {
	mu     sync.Mutex
	budget int
	used   int
	lru    *lru.LRU[int64, mask.UnionMask]
}

// New builds a Cache with the given byte budget. A non-positive budget
// disables caching: Get always misses and Put is a no-op.
func New(budgetBytes int) *Cache {
	c := &Cache{budget: budgetBytes}
	if budgetBytes <= 0 {
		return c
	}
	// The count capacity is set far above any realistic entry count;
	// Put evicts by byte budget, and onEvict keeps the running byte
	// total in step with each removal.
	l, _ := lru.NewLRU[int64, mask.UnionMask](1<<30, c.onEvict)
	c.lru = l
	return c
}

func (c *Cache) onEvict(_ int64, m mask.UnionMask) {
	c.used -= m.SizeEstimate()
}

// Get returns the cached UnionMask for roiID, if present.
func (c *Cache) Get(roiID int64) (mask.UnionMask, bool) {
	if c.lru == nil {
		return mask.UnionMask{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(roiID)
}

// Put stores m for roiID, evicting the least-recently-used entries
// until the cache's byte budget is respected or only one entry is left;
// a single entry larger than the whole budget stays cached.
func (c *Cache) Put(roiID int64, m mask.UnionMask) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(roiID, m)
	c.used += m.SizeEstimate()
	for c.used > c.budget && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
}
