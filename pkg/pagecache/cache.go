// Package pagecache implements the bounded page cache, free-page allocator
// and write-concern flush scheduler sitting between the B+tree/collection
// layers and the raw paged file (spec.md §2, components C2/C3/C6).
package pagecache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/tinydb-go/tinydb/pkg/page"
)

type entry struct {
	id    uint32
	data  []byte
	dirty bool
	elem  *list.Element
}

// Cache is a bounded, clean-page LRU in front of a page.DiskFile. Dirty
// pages are never evicted: they are pinned in memory until Flush or
// FlushAll writes them back, so an uncommitted change can never be silently
// dropped by eviction pressure.
type Cache struct {
	mu       sync.Mutex
	disk     *page.DiskFile
	capacity int
	entries  map[uint32]*entry
	lru      *list.List // most-recently-used at Front

	hits   uint64
	misses uint64
}

// New wraps disk with a cache holding at most capacity pages in memory.
func New(disk *page.DiskFile, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		disk:     disk,
		capacity: capacity,
		entries:  make(map[uint32]*entry),
		lru:      list.New(),
	}
}

// Get returns the bytes of page id, reading through to disk on a miss. The
// returned slice is owned by the cache; callers that mutate it must call
// MarkDirty so the change is not silently dropped on eviction.
func (c *Cache) Get(id uint32) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		c.lru.MoveToFront(e.elem)
		atomic.AddUint64(&c.hits, 1)
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	atomic.AddUint64(&c.misses, 1)
	data, err := c.disk.ReadPage(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.insertLocked(id, data, false)
	c.mu.Unlock()
	return data, nil
}

// Put installs data as the cached contents of page id, marking it dirty so
// it will be written back by a later Flush/FlushAll. Used after a page is
// built or mutated in memory (new B+tree node, rewritten data page).
func (c *Cache) Put(id uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.data = data
		e.dirty = true
		c.lru.MoveToFront(e.elem)
		return
	}
	c.insertLocked(id, data, true)
}

// MarkDirty flags an already-cached page as needing a write-back.
func (c *Cache) MarkDirty(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		e.dirty = true
		c.lru.MoveToFront(e.elem)
	}
}

func (c *Cache) insertLocked(id uint32, data []byte, dirty bool) {
	e := &entry{id: id, data: data, dirty: dirty}
	e.elem = c.lru.PushFront(e)
	c.entries[id] = e
	c.evictIfNeededLocked()
}

// evictIfNeededLocked drops clean pages from the back of the LRU list until
// the cache is back within capacity. Dirty pages are skipped and left in
// place; a cache that is all-dirty will grow past capacity rather than lose
// an unflushed write.
func (c *Cache) evictIfNeededLocked() {
	for len(c.entries) > c.capacity {
		victim := c.lru.Back()
		for victim != nil && victim.Value.(*entry).dirty {
			victim = victim.Value.(*entry).elem.Prev()
		}
		if victim == nil {
			return
		}
		e := victim.Value.(*entry)
		c.lru.Remove(victim)
		delete(c.entries, e.id)
	}
}

// Flush writes page id back to disk if dirty and clears its dirty flag.
func (c *Cache) Flush(id uint32) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || !e.dirty {
		c.mu.Unlock()
		return nil
	}
	data := e.data
	c.mu.Unlock()

	if err := c.disk.WritePage(id, data); err != nil {
		return err
	}

	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		e.dirty = false
	}
	c.mu.Unlock()
	return nil
}

// FlushAll writes back every dirty page, used at checkpoint and Close time.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	dirty := make([]uint32, 0)
	for id, e := range c.entries {
		if e.dirty {
			dirty = append(dirty, id)
		}
	}
	c.mu.Unlock()

	for _, id := range dirty {
		if err := c.Flush(id); err != nil {
			return err
		}
	}
	return nil
}

// DirtyPages returns the ids of every page currently buffered with
// unflushed changes, for a caller (the engine's WAL journaling step) that
// needs to know exactly what a write touched without the cache exposing
// its internal entry type.
func (c *Cache) DirtyPages() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint32
	for id, e := range c.entries {
		if e.dirty {
			out = append(out, id)
		}
	}
	return out
}

// Invalidate drops a page from the cache without writing it back, used when
// a page is freed and its bytes must not survive to be mistaken for live
// content.
func (c *Cache) Invalidate(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, id)
	}
}

// Stats reports cache effectiveness for the engine's Statistics() call.
type Stats struct {
	Hits      uint64
	Misses    uint64
	HitRatio  float64
	CachedLen int
}

func (c *Cache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{Hits: hits, Misses: misses, HitRatio: ratio, CachedLen: n}
}
