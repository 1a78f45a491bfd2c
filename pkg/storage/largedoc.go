package storage

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// overflowChunkHeaderSize is the 4-byte chunk-length prefix each Overflow
// page's body carries ahead of its payload bytes.
const overflowChunkHeaderSize = 4

// LargeDocStore persists documents too large to fit on a single Data page
// as a singly-linked chain of Overflow pages, each holding one page's worth
// of the document's serialized bytes (spec.md's large-document overflow
// chain). The chain is addressed only by its head page id; a Data page slot
// stores that id plus the total length instead of the document itself.
type LargeDocStore struct {
	cache *pagecache.Cache
	alloc *pagecache.Allocator
}

func NewLargeDocStore(cache *pagecache.Cache, alloc *pagecache.Allocator) *LargeDocStore {
	return &LargeDocStore{cache: cache, alloc: alloc}
}

func (s *LargeDocStore) chunkCapacity() int {
	return page.Size - page.HeaderSize - overflowChunkHeaderSize
}

// Write chains raw across as many Overflow pages as needed and returns the
// head page id.
func (s *LargeDocStore) Write(raw []byte) (uint32, error) {
	capacity := s.chunkCapacity()
	var headID uint32
	var prevID uint32
	hasPrev := false

	for offset := 0; offset < len(raw) || offset == 0; {
		end := offset + capacity
		if end > len(raw) {
			end = len(raw)
		}
		chunk := raw[offset:end]

		id, err := s.alloc.NewPage()
		if err != nil {
			return 0, err
		}
		buf := page.New()
		body := page.Body(buf)
		binary.LittleEndian.PutUint32(body[0:overflowChunkHeaderSize], uint32(len(chunk)))
		copy(body[overflowChunkHeaderSize:], chunk)

		h := page.Header{Type: page.TypeOverflow, PageID: id}
		h.Encode(buf)
		s.cache.Put(id, buf)

		if !hasPrev {
			headID = id
			hasPrev = true
		} else {
			s.linkNext(prevID, id)
		}
		prevID = id
		offset = end
		if len(raw) == 0 {
			break
		}
	}
	return headID, nil
}

func (s *LargeDocStore) linkNext(pageID, nextID uint32) error {
	buf, err := s.cache.Get(pageID)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "storage.LargeDocStore.linkNext", "bad page header")
	}
	h.NextPageID = nextID
	h.Encode(buf)
	s.cache.Put(pageID, buf)
	return nil
}

// Read reassembles the full document from the Overflow chain starting at headID.
func (s *LargeDocStore) Read(headID uint32) ([]byte, error) {
	const op = "storage.LargeDocStore.Read"
	var out []byte
	id := headID
	for id != 0 {
		buf, err := s.cache.Get(id)
		if err != nil {
			return nil, err
		}
		h, ok := page.Decode(buf)
		if !ok || h.Type != page.TypeOverflow {
			return nil, tinyerr.New(tinyerr.KindCorruption, op, "not an overflow page")
		}
		body := page.Body(buf)
		chunkLen := binary.LittleEndian.Uint32(body[0:overflowChunkHeaderSize])
		out = append(out, body[overflowChunkHeaderSize:overflowChunkHeaderSize+chunkLen]...)
		id = h.NextPageID
	}
	return out, nil
}

// Free releases every page in the chain back to the allocator.
func (s *LargeDocStore) Free(headID uint32) error {
	id := headID
	for id != 0 {
		buf, err := s.cache.Get(id)
		if err != nil {
			return err
		}
		h, ok := page.Decode(buf)
		if !ok {
			return tinyerr.New(tinyerr.KindCorruption, "storage.LargeDocStore.Free", "bad page header")
		}
		next := h.NextPageID
		if err := s.alloc.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}
