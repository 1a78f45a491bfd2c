package pagecache

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/page"
)

// freeListHeader is the fixed prefix of a free-list page: the next page in
// the chain. Stores 4-byte page ids since a page.DiskFile addresses pages
// by uint32.
const freeListHeader = 4

var freeListCap = (page.Size - page.HeaderSize - freeListHeader) / 4

// lnode is a free-list page body: a next-pointer followed by a flat array
// of free page ids.
type lnode []byte

func (n lnode) next() uint32        { return binary.LittleEndian.Uint32(n[0:4]) }
func (n lnode) setNext(v uint32)    { binary.LittleEndian.PutUint32(n[0:4], v) }
func (n lnode) ptr(i int) uint32    { return binary.LittleEndian.Uint32(n[freeListHeader+i*4:]) }
func (n lnode) setPtr(i int, v uint32) {
	binary.LittleEndian.PutUint32(n[freeListHeader+i*4:], v)
}

// Allocator hands out and reclaims page ids. Freed pages are queued on an
// unrolled linked list of free-list pages so the head/tail never needs more
// than two pages resident at once. The free list serves every page type
// this engine allocates (data, overflow, catalog, btree node), not just one
// structure's own pages.
type Allocator struct {
	disk  *page.DiskFile
	cache *Cache

	headPage uint32
	headSeq  uint64
	tailPage uint32
	tailSeq  uint64
}

// NewAllocator builds an allocator over disk/cache. headPage/headSeq/
// tailPage/tailSeq are restored from the meta page on reopen; pass all
// zeros for a brand new file.
func NewAllocator(disk *page.DiskFile, cache *Cache, headPage uint32, headSeq uint64, tailPage uint32, tailSeq uint64) *Allocator {
	return &Allocator{disk: disk, cache: cache, headPage: headPage, headSeq: headSeq, tailPage: tailPage, tailSeq: tailSeq}
}

// State returns the free-list bookkeeping fields the meta page must persist.
func (a *Allocator) State() (headPage uint32, headSeq uint64, tailPage uint32, tailSeq uint64) {
	return a.headPage, a.headSeq, a.tailPage, a.tailSeq
}

// NewPage allocates a page id, preferring a freed page over growing the
// file. The returned page is zeroed and not yet written to disk; callers
// must Put it into the cache once populated.
func (a *Allocator) NewPage() (uint32, error) {
	if id, ok, err := a.popFree(); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	count, err := a.disk.PageCount()
	if err != nil {
		return 0, err
	}
	if count == 0 {
		// Page 0 is never handed out: the free list and B+tree roots use 0
		// to mean "none".
		count = 1
	}
	if err := a.disk.Grow(count + 1); err != nil {
		return 0, err
	}
	return count, nil
}

// FreePage returns id to the free list for future reuse. The page's cached
// contents are invalidated so stale bytes can't be mistaken for live data.
func (a *Allocator) FreePage(id uint32) error {
	a.cache.Invalidate(id)
	return a.pushFree(id)
}

func (a *Allocator) popFree() (uint32, bool, error) {
	if a.headSeq >= a.tailSeq {
		return 0, false, nil
	}
	data, err := a.cache.Get(a.headPage)
	if err != nil {
		return 0, false, err
	}
	node := lnode(page.Body(data))
	idx := int(a.headSeq % uint64(freeListCap))
	id := node.ptr(idx)
	a.headSeq++

	if a.headSeq%uint64(freeListCap) == 0 {
		next := node.next()
		if next != 0 {
			a.headPage = next
		}
	}
	return id, true, nil
}

func (a *Allocator) pushFree(id uint32) error {
	if a.tailPage == 0 {
		newID, err := a.allocFreeListPage()
		if err != nil {
			return err
		}
		a.tailPage = newID
		if a.headPage == 0 {
			a.headPage = newID
		}
	}

	idx := int(a.tailSeq % uint64(freeListCap))
	if idx == 0 && a.tailSeq > 0 {
		newID, err := a.allocFreeListPage()
		if err != nil {
			return err
		}
		data, err := a.cache.Get(a.tailPage)
		if err != nil {
			return err
		}
		lnode(page.Body(data)).setNext(newID)
		a.cache.MarkDirty(a.tailPage)
		a.tailPage = newID
	}

	data, err := a.cache.Get(a.tailPage)
	if err != nil {
		return err
	}
	lnode(page.Body(data)).setPtr(idx, id)
	a.cache.MarkDirty(a.tailPage)
	a.tailSeq++
	return nil
}

// allocFreeListPage grows the file for a new free-list node directly,
// bypassing popFree to avoid the free list trying to recycle itself.
func (a *Allocator) allocFreeListPage() (uint32, error) {
	count, err := a.disk.PageCount()
	if err != nil {
		return 0, err
	}
	if err := a.disk.Grow(count + 1); err != nil {
		return 0, err
	}
	buf := page.New()
	h := page.Header{Type: page.TypeFreeList, PageID: count}
	h.Encode(buf)
	a.cache.Put(count, buf)
	return count, nil
}

// Pending returns the number of pages currently queued for reuse.
func (a *Allocator) Pending() uint64 {
	if a.headSeq >= a.tailSeq {
		return 0
	}
	return a.tailSeq - a.headSeq
}
