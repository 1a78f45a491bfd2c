package engine

import (
	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
)

// Statistics is a snapshot of engine health for monitoring and the admin
// HTTP surface (spec.md §4's stats operation).
type Statistics struct {
	TotalPages      uint32
	UsedPages       uint32
	FreePages       uint64
	CacheHits       uint64
	CacheMisses     uint64
	CacheHitRatio   float64
	CachedPageCount int

	CollectionCount int
	CollectionDocs  map[string]int

	ActiveTransactions int

	BackgroundFlushFailures int
}

// Statistics computes a point-in-time snapshot. Per-collection document
// counts only cover collections already touched this session (ensureLoaded
// is lazy); an untouched collection has no entry in CollectionDocs rather
// than paying for a scan just to answer a stats call.
func (e *Engine) Statistics() (Statistics, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := pagecache.Stats{}
	if e.cache != nil {
		stats = e.cache.Stats()
	}

	count, err := e.disk.PageCount()
	if err != nil {
		return Statistics{}, err
	}

	e.colMu.Lock()
	docs := make(map[string]int, len(e.collections))
	for name, c := range e.collections {
		n, err := c.state.Count()
		if err != nil {
			e.colMu.Unlock()
			return Statistics{}, err
		}
		docs[name] = n
	}
	e.colMu.Unlock()

	active := e.txns.Active()
	totalDocs := 0
	for _, n := range docs {
		totalDocs += n
	}

	if e.met != nil {
		e.met.UpdateDbStats(int64(count)*int64(page.Size), int64(count), int64(totalDocs))
		e.met.UpdateCacheStats(stats.HitRatio, stats.CachedLen)
		e.met.UpdateTxnStats(active)
	}

	return Statistics{
		TotalPages:              count,
		UsedPages:                count - uint32(e.alloc.Pending()),
		FreePages:                e.alloc.Pending(),
		CacheHits:                stats.Hits,
		CacheMisses:              stats.Misses,
		CacheHitRatio:            stats.HitRatio,
		CachedPageCount:          stats.CachedLen,
		CollectionCount:          len(e.metaStore.List()),
		CollectionDocs:           docs,
		ActiveTransactions:       active,
		BackgroundFlushFailures:  e.flushFailureStreak,
	}, nil
}
