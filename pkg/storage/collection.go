package storage

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// recordKind tags how a Data-page slot's bytes should be interpreted:
// the document inline, or a pointer into the Overflow chain.
type recordKind byte

const (
	recordInline   recordKind = 1
	recordOverflow recordKind = 2
)

// location pins a document to the (page, slot) its current record lives at.
type location struct {
	pageID uint32
	slot   uint16
}

// CollectionState is the in-memory runtime for one collection: the
// primary-key map (rebuilt lazily from a page scan on first access after
// Open), the list of Data pages it owns, and a hint for where the next
// insert should try to land first. Keeping this bookkeeping in memory avoids
// re-deriving it from a full page scan on every operation.
type CollectionState struct {
	name string

	pages   *DataPageAccess
	large   *LargeDocStore

	meta CollectionMeta

	byID       map[string]location
	ownedPages []uint32
	appendHint uint32

	loaded bool
}

// NewCollectionState wraps an existing (or brand new, FirstDataPageID==0)
// catalog entry in a runtime handle. The primary-key map is not built until
// the first operation that needs it (ensureLoaded), so opening a database
// with many collections doesn't pay for a full scan of all of them upfront.
func NewCollectionState(name string, meta CollectionMeta, pages *DataPageAccess, large *LargeDocStore) *CollectionState {
	return &CollectionState{
		name:  name,
		meta:  meta,
		pages: pages,
		large: large,
		byID:  make(map[string]location),
	}
}

func (c *CollectionState) Meta() CollectionMeta { return c.meta }

// Location returns the (pageID, slot) a live document is currently stored
// at, for a caller (the secondary-index runtime) that needs to build a
// btree.RecordID pointing at it. Callers must look this up after Insert/
// Update succeeds, or before Delete removes the entry.
func (c *CollectionState) Location(id bson.Value) (pageID uint32, slot uint16, ok bool) {
	if err := c.ensureLoaded(); err != nil {
		return 0, 0, false
	}
	loc, ok := c.byID[idKey(id)]
	return loc.pageID, loc.slot, ok
}

func idKey(v bson.Value) string {
	buf := bson.Marshal(bson.NewDocument().Set("_id", v))
	return string(buf)
}

// ensureLoaded rebuilds byID and ownedPages by scanning every Data page the
// collection owns, starting from FirstDataPageID. Cheap relative to a full
// WAL replay since it only touches this collection's own pages.
func (c *CollectionState) ensureLoaded() error {
	if c.loaded {
		return nil
	}
	c.loaded = true
	if c.meta.FirstDataPageID == 0 {
		return nil
	}

	pageID := c.meta.FirstDataPageID
	for pageID != 0 {
		c.ownedPages = append(c.ownedPages, pageID)
		records, err := c.pages.ScanPage(pageID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			doc, err := c.decodeRecord(rec.Raw)
			if err != nil {
				return err
			}
			id, ok := doc.Get("_id")
			if !ok {
				continue
			}
			c.byID[idKey(id)] = location{pageID: pageID, slot: rec.Slot}
		}
		h, err := c.pages.Header(pageID)
		if err != nil {
			return err
		}
		pageID = h.NextPageID
	}
	c.appendHint = c.meta.LastDataPageID
	return nil
}

// encodeRecord chooses inline vs. overflow storage for doc, writing the
// overflow chain immediately if needed.
func (c *CollectionState) encodeRecord(doc *bson.Document) ([]byte, error) {
	payload := bson.Marshal(doc)
	if len(payload)+1 <= c.pages.MaxRecordSize() {
		out := make([]byte, 1+len(payload))
		out[0] = byte(recordInline)
		copy(out[1:], payload)
		return out, nil
	}

	headID, err := c.large.Write(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+4+4)
	out[0] = byte(recordOverflow)
	binary.LittleEndian.PutUint32(out[1:5], headID)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(payload)))
	return out, nil
}

func (c *CollectionState) decodeRecord(raw []byte) (*bson.Document, error) {
	const op = "storage.CollectionState.decodeRecord"
	if len(raw) == 0 {
		return nil, tinyerr.New(tinyerr.KindCorruption, op, "empty record")
	}
	switch recordKind(raw[0]) {
	case recordInline:
		doc, _, err := bson.Unmarshal(raw[1:])
		return doc, err
	case recordOverflow:
		if len(raw) < 9 {
			return nil, tinyerr.New(tinyerr.KindCorruption, op, "truncated overflow pointer")
		}
		headID := binary.LittleEndian.Uint32(raw[1:5])
		payload, err := c.large.Read(headID)
		if err != nil {
			return nil, err
		}
		doc, _, err := bson.Unmarshal(payload)
		return doc, err
	default:
		return nil, tinyerr.New(tinyerr.KindCorruption, op, "unknown record kind")
	}
}

// freeRecordStorage releases any overflow chain raw points into, called
// before a slot's bytes are discarded by Delete or a relocating Update.
func (c *CollectionState) freeRecordStorage(raw []byte) error {
	if len(raw) == 0 || recordKind(raw[0]) != recordOverflow {
		return nil
	}
	headID := binary.LittleEndian.Uint32(raw[1:5])
	return c.large.Free(headID)
}

// Insert stores doc under its _id, which must not already be present.
func (c *CollectionState) Insert(doc *bson.Document) error {
	const op = "storage.CollectionState.Insert"
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	id, ok := doc.Get("_id")
	if !ok {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "document has no _id")
	}
	key := idKey(id)
	if _, exists := c.byID[key]; exists {
		return tinyerr.New(tinyerr.KindDuplicateKey, op, "duplicate _id")
	}

	raw, err := c.encodeRecord(doc)
	if err != nil {
		return err
	}

	loc, err := c.appendToCollection(raw)
	if err != nil {
		return err
	}
	c.byID[key] = loc
	return nil
}

func (c *CollectionState) appendToCollection(raw []byte) (location, error) {
	if c.appendHint == 0 {
		if c.meta.FirstDataPageID == 0 {
			id, err := c.pages.NewDataPage(0)
			if err != nil {
				return location{}, err
			}
			c.meta.FirstDataPageID = id
			c.meta.LastDataPageID = id
			c.appendHint = id
			c.ownedPages = append(c.ownedPages, id)
		} else {
			// The hint was cleared because the page it pointed at was freed
			// by Delete, not because the collection is empty; retry at the
			// chain's current tail.
			c.appendHint = c.meta.LastDataPageID
		}
	}

	slot, ok, err := c.pages.AppendSlot(c.appendHint, raw)
	if err != nil {
		return location{}, err
	}
	if ok {
		return location{pageID: c.appendHint, slot: slot}, nil
	}

	newID, err := c.pages.NewDataPage(c.appendHint)
	if err != nil {
		return location{}, err
	}
	c.meta.LastDataPageID = newID
	c.appendHint = newID
	c.ownedPages = append(c.ownedPages, newID)

	slot, ok, err = c.pages.AppendSlot(newID, raw)
	if err != nil {
		return location{}, err
	}
	if !ok {
		return location{}, tinyerr.New(tinyerr.KindTooLarge, "storage.CollectionState.appendToCollection", "record exceeds one page even alone")
	}
	return location{pageID: newID, slot: slot}, nil
}

// Get returns the document stored under id.
func (c *CollectionState) Get(id bson.Value) (*bson.Document, bool, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, false, err
	}
	loc, ok := c.byID[idKey(id)]
	if !ok {
		return nil, false, nil
	}
	raw, tombstoned, err := c.pages.ReadSlot(loc.pageID, loc.slot)
	if err != nil || tombstoned {
		return nil, false, err
	}
	doc, err := c.decodeRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// GetAt reads the document at a specific (pageID, slot), for a caller (a
// secondary-index lookup) that already holds a location and wants to skip
// the primary-key map entirely.
func (c *CollectionState) GetAt(pageID uint32, slot uint16) (*bson.Document, bool, error) {
	raw, tombstoned, err := c.pages.ReadSlot(pageID, slot)
	if err != nil || tombstoned {
		return nil, false, err
	}
	doc, err := c.decodeRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Update replaces the document stored under its own _id.
func (c *CollectionState) Update(doc *bson.Document) error {
	const op = "storage.CollectionState.Update"
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	id, ok := doc.Get("_id")
	if !ok {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "document has no _id")
	}
	key := idKey(id)
	loc, exists := c.byID[key]
	if !exists {
		return tinyerr.New(tinyerr.KindNotFound, op, "document not found")
	}

	oldRaw, _, err := c.pages.ReadSlot(loc.pageID, loc.slot)
	if err != nil {
		return err
	}
	newRaw, err := c.encodeRecord(doc)
	if err != nil {
		return err
	}
	// encodeRecord always allocates a fresh overflow chain rather than
	// reusing the old one, so any overflow storage behind oldRaw is
	// orphaned the moment newRaw replaces it, whether in place or not.
	if err := c.freeRecordStorage(oldRaw); err != nil {
		return err
	}

	if ok, err := c.pages.OverwriteSlot(loc.pageID, loc.slot, newRaw); err != nil {
		return err
	} else if ok {
		return nil
	}

	if err := c.pages.DeleteSlot(loc.pageID, loc.slot); err != nil {
		return err
	}
	newLoc, err := c.appendToCollection(newRaw)
	if err != nil {
		return err
	}
	c.byID[key] = newLoc
	return nil
}

// Delete removes the document stored under id.
func (c *CollectionState) Delete(id bson.Value) (bool, error) {
	if err := c.ensureLoaded(); err != nil {
		return false, err
	}
	key := idKey(id)
	loc, ok := c.byID[key]
	if !ok {
		return false, nil
	}
	raw, _, err := c.pages.ReadSlot(loc.pageID, loc.slot)
	if err != nil {
		return false, err
	}
	if err := c.freeRecordStorage(raw); err != nil {
		return false, err
	}
	if err := c.pages.DeleteSlot(loc.pageID, loc.slot); err != nil {
		return false, err
	}
	delete(c.byID, key)

	empty, err := c.pages.IsEmpty(loc.pageID)
	if err != nil {
		return false, err
	}
	if empty {
		if err := c.reclaimPage(loc.pageID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// reclaimPage frees pageID, which Delete has just emptied of every live
// record, and removes it from the collection's bookkeeping: the owned-page
// list, the chain linking its neighbors, and the append hint if it pointed
// there (spec.md §4.4).
func (c *CollectionState) reclaimPage(pageID uint32) error {
	idx := -1
	for i, id := range c.ownedPages {
		if id == pageID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	var prevID uint32
	if idx > 0 {
		prevID = c.ownedPages[idx-1]
	}

	nextID, err := c.pages.FreeEmptyPage(pageID, prevID)
	if err != nil {
		return err
	}
	c.ownedPages = append(c.ownedPages[:idx], c.ownedPages[idx+1:]...)

	if c.meta.FirstDataPageID == pageID {
		c.meta.FirstDataPageID = nextID
	}
	if c.meta.LastDataPageID == pageID {
		c.meta.LastDataPageID = prevID
	}
	if c.appendHint == pageID {
		c.appendHint = 0
	}
	return nil
}

// Scan calls fn with every live document in storage order, stopping early
// if fn returns false.
func (c *CollectionState) Scan(fn func(*bson.Document) bool) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	for _, pageID := range c.ownedPages {
		records, err := c.pages.ScanPage(pageID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			doc, err := c.decodeRecord(rec.Raw)
			if err != nil {
				return err
			}
			if !fn(doc) {
				return nil
			}
		}
	}
	return nil
}

// FreeOverflowChains releases every overflow chain referenced by a live
// record in this collection, for a caller (Compact) about to discard the
// Data pages themselves and that must not leak the Overflow pages they
// pointed into.
func (c *CollectionState) FreeOverflowChains() error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	for _, pageID := range c.ownedPages {
		records, err := c.pages.ScanPage(pageID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := c.freeRecordStorage(rec.Raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// OwnedPages returns every Data page id this collection currently holds,
// for a caller (Compact) that is about to free them wholesale after
// rewriting their contents elsewhere.
func (c *CollectionState) OwnedPages() ([]uint32, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	return append([]uint32(nil), c.ownedPages...), nil
}

// Count returns the number of live documents (requires ensureLoaded).
func (c *CollectionState) Count() (int, error) {
	if err := c.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(c.byID), nil
}
