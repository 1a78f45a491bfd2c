// Package storage implements the record layout above the raw page cache:
// slotted data pages, chained overflow pages for oversized documents, the
// collection catalog, and each collection's in-memory runtime state
// (spec.md §2, components C7-C10).
package storage

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// slotHeaderSize is the two-byte tail pointer that precedes the slot
// directory in a Data page's body, recording where the record region
// (growing backward from the end of the page) currently begins.
const slotHeaderSize = 2

// slotEntrySize is (offset uint16, length uint16) per directory entry.
const slotEntrySize = 4

// tombstoneLength marks a deleted slot. A live record's length is always
// well under page.Size, so this value can never collide with one.
const tombstoneLength = 0xFFFF

// SlotRecord is one live record returned by ScanPage.
type SlotRecord struct {
	Slot uint16
	Raw  []byte
}

// DataPageAccess reads and writes the slotted layout of Data pages: a slot
// directory growing forward from the start of the body and record bytes
// growing backward from the end, the classic slotted-page arrangement. It
// knows nothing about documents, only opaque byte records, so collection
// logic owns the inline/overflow choice (see largedoc.go, collection.go).
type DataPageAccess struct {
	cache *pagecache.Cache
	alloc *pagecache.Allocator
}

func NewDataPageAccess(cache *pagecache.Cache, alloc *pagecache.Allocator) *DataPageAccess {
	return &DataPageAccess{cache: cache, alloc: alloc}
}

// NewDataPage allocates and initializes an empty Data page, linking it
// after prevPageID if nonzero (0 means "first page of the collection").
func (d *DataPageAccess) NewDataPage(prevPageID uint32) (uint32, error) {
	return d.NewPage(page.TypeData, prevPageID)
}

// NewPage allocates an empty slotted page of the given type, linking it
// after prevPageID if nonzero. CollectionMetaStore uses this with
// page.TypeCatalog so the catalog shares the same slotted layout and
// chaining as Data pages instead of a second bespoke format.
func (d *DataPageAccess) NewPage(t page.Type, prevPageID uint32) (uint32, error) {
	id, err := d.alloc.NewPage()
	if err != nil {
		return 0, err
	}
	buf := page.New()
	body := page.Body(buf)
	binary.LittleEndian.PutUint16(body[0:slotHeaderSize], uint16(len(body)))

	h := page.Header{Type: t, PageID: id, PrevPageID: prevPageID, FreeBytes: uint16(len(body) - slotHeaderSize)}
	h.Encode(buf)
	d.cache.Put(id, buf)

	if prevPageID != 0 {
		if err := d.linkNext(prevPageID, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (d *DataPageAccess) linkNext(pageID, nextID uint32) error {
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "storage.DataPageAccess.linkNext", "bad page header")
	}
	h.NextPageID = nextID
	h.Encode(buf)
	d.cache.Put(pageID, buf)
	return nil
}

func tailOffset(body []byte) int { return int(binary.LittleEndian.Uint16(body[0:slotHeaderSize])) }

func setTailOffset(body []byte, v int) {
	binary.LittleEndian.PutUint16(body[0:slotHeaderSize], uint16(v))
}

func directoryEnd(itemCount int) int { return slotHeaderSize + itemCount*slotEntrySize }

func readSlotEntry(body []byte, slot int) (offset, length int) {
	base := slotHeaderSize + slot*slotEntrySize
	offset = int(binary.LittleEndian.Uint16(body[base : base+2]))
	length = int(binary.LittleEndian.Uint16(body[base+2 : base+4]))
	return
}

func writeSlotEntry(body []byte, slot, offset, length int) {
	base := slotHeaderSize + slot*slotEntrySize
	binary.LittleEndian.PutUint16(body[base:base+2], uint16(offset))
	binary.LittleEndian.PutUint16(body[base+2:base+4], uint16(length))
}

// AppendSlot stores raw as a new record on pageID. ok is false if the page
// lacks room; the caller must allocate a new Data page and retry there.
func (d *DataPageAccess) AppendSlot(pageID uint32, raw []byte) (slot uint16, ok bool, err error) {
	const op = "storage.DataPageAccess.AppendSlot"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return 0, false, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return 0, false, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	body := page.Body(buf)

	tail := tailOffset(body)
	itemCount := int(h.ItemCount)
	free := tail - directoryEnd(itemCount) - slotEntrySize
	if free < len(raw) {
		return 0, false, nil
	}

	newTail := tail - len(raw)
	copy(body[newTail:tail], raw)
	writeSlotEntry(body, itemCount, newTail, len(raw))
	setTailOffset(body, newTail)

	h.ItemCount = uint16(itemCount + 1)
	h.FreeBytes = uint16(newTail - directoryEnd(itemCount+1))
	h.Encode(buf)
	d.cache.Put(pageID, buf)
	return uint16(itemCount), true, nil
}

// ReadSlot returns the raw bytes stored at (pageID, slot). tombstoned is
// true if the slot was deleted; Raw is nil in that case.
func (d *DataPageAccess) ReadSlot(pageID uint32, slot uint16) (raw []byte, tombstoned bool, err error) {
	const op = "storage.DataPageAccess.ReadSlot"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return nil, false, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return nil, false, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	if int(slot) >= int(h.ItemCount) {
		return nil, false, tinyerr.New(tinyerr.KindNotFound, op, "slot out of range")
	}
	body := page.Body(buf)
	offset, length := readSlotEntry(body, int(slot))
	if length == tombstoneLength {
		return nil, true, nil
	}
	out := make([]byte, length)
	copy(out, body[offset:offset+length])
	return out, false, nil
}

// OverwriteSlot replaces the bytes at (pageID, slot) in place. ok is false
// if raw is larger than the slot's existing capacity; the caller must
// Delete the slot and AppendSlot the new bytes elsewhere instead.
func (d *DataPageAccess) OverwriteSlot(pageID uint32, slot uint16, raw []byte) (ok bool, err error) {
	const op = "storage.DataPageAccess.OverwriteSlot"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return false, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return false, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	body := page.Body(buf)
	offset, capLen := readSlotEntry(body, int(slot))
	if capLen == tombstoneLength {
		return false, tinyerr.New(tinyerr.KindNotFound, op, "slot already deleted")
	}
	if len(raw) > capLen {
		return false, nil
	}
	copy(body[offset:offset+len(raw)], raw)
	writeSlotEntry(body, int(slot), offset, len(raw))
	h.Version++
	h.Encode(buf)
	d.cache.Put(pageID, buf)
	return true, nil
}

// DeleteSlot tombstones a slot. Its record bytes are reclaimed only by
// Compact, but a tombstoned slot at the end of the directory is popped
// immediately since nothing else references it by index.
func (d *DataPageAccess) DeleteSlot(pageID uint32, slot uint16) error {
	const op = "storage.DataPageAccess.DeleteSlot"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	body := page.Body(buf)
	offset, _ := readSlotEntry(body, int(slot))
	writeSlotEntry(body, int(slot), offset, tombstoneLength)
	if int(slot) == int(h.ItemCount)-1 {
		h.ItemCount--
	}
	h.Version++
	h.Encode(buf)
	d.cache.Put(pageID, buf)
	return nil
}

// IsEmpty reports whether pageID holds no live records, i.e. every slot in
// its directory is tombstoned. Called after DeleteSlot to decide whether
// the page itself can be freed.
func (d *DataPageAccess) IsEmpty(pageID uint32) (bool, error) {
	const op = "storage.DataPageAccess.IsEmpty"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return false, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return false, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	body := page.Body(buf)
	for i := 0; i < int(h.ItemCount); i++ {
		if _, length := readSlotEntry(body, i); length != tombstoneLength {
			return false, nil
		}
	}
	return true, nil
}

// FreeEmptyPage releases pageID, which must hold no live records, back to
// the allocator's free list and splices it out of the Data-page chain.
// prevID is the predecessor Data page in the collection's chain, or 0 if
// pageID was the first page; the return value is the page pageID pointed
// to next (0 if pageID was the last), for the caller to fix up its own
// chain-head/tail bookkeeping.
func (d *DataPageAccess) FreeEmptyPage(pageID, prevID uint32) (nextID uint32, err error) {
	const op = "storage.DataPageAccess.FreeEmptyPage"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return 0, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return 0, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	nextID = h.NextPageID
	if prevID != 0 {
		if err := d.linkNext(prevID, nextID); err != nil {
			return 0, err
		}
	}
	if err := d.alloc.FreePage(pageID); err != nil {
		return 0, err
	}
	return nextID, nil
}

// ScanPage returns every live (non-tombstoned) record on pageID.
func (d *DataPageAccess) ScanPage(pageID uint32) ([]SlotRecord, error) {
	const op = "storage.DataPageAccess.ScanPage"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return nil, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return nil, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	body := page.Body(buf)

	out := make([]SlotRecord, 0, h.ItemCount)
	for i := 0; i < int(h.ItemCount); i++ {
		offset, length := readSlotEntry(body, i)
		if length == tombstoneLength {
			continue
		}
		raw := make([]byte, length)
		copy(raw, body[offset:offset+length])
		out = append(out, SlotRecord{Slot: uint16(i), Raw: raw})
	}
	return out, nil
}

// Header returns the decoded header of pageID, for callers walking the
// Data-page chain (NextPageID) or checking FreeBytes before AppendSlot.
func (d *DataPageAccess) Header(pageID uint32) (page.Header, error) {
	const op = "storage.DataPageAccess.Header"
	buf, err := d.cache.Get(pageID)
	if err != nil {
		return page.Header{}, err
	}
	h, valid := page.Decode(buf)
	if !valid {
		return page.Header{}, tinyerr.New(tinyerr.KindCorruption, op, "bad page header")
	}
	return h, nil
}

// MaxRecordSize is the largest record AppendSlot can ever place on a freshly
// allocated empty page, used by collection logic to decide inline vs.
// overflow storage for a document.
func (d *DataPageAccess) MaxRecordSize() int {
	return page.Size - page.HeaderSize - slotHeaderSize - slotEntrySize
}
