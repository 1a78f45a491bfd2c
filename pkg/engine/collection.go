package engine

import (
	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/btree"
	"github.com/tinydb-go/tinydb/pkg/index"
	"github.com/tinydb-go/tinydb/pkg/storage"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// Collection is the handle a caller gets back from Engine.Collection: the
// primary-key map and page ownership (storage.CollectionState) plus the
// secondary-index fan-out (index.Manager) for one named collection, kept in
// sync the way pkg/storage/collection.go keeps overflow storage in sync with
// a document's own slot.
type Collection struct {
	name    string
	engine  *Engine
	state   *storage.CollectionState
	indexes *index.Manager
}

func (c *Collection) recordID(id bson.Value) (btree.RecordID, bool) {
	pageID, slot, ok := c.state.Location(id)
	if !ok {
		return btree.RecordID{}, false
	}
	return btree.RecordID{PageID: pageID, Slot: slot}, true
}

// Insert stores doc, which must carry an _id not already present, and adds
// its key to every secondary index.
func (c *Collection) Insert(doc *bson.Document) error {
	const op = "engine.Collection.Insert"
	if _, ok := doc.Get("_id"); !ok {
		doc = doc.Clone().Set("_id", bson.ObjectIDV(bson.NewObjectID()))
	}
	if err := c.engine.validate(c.name, doc); err != nil {
		return err
	}

	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()

	if err := c.state.Insert(doc); err != nil {
		return err
	}
	id, _ := doc.Get("_id")
	rid, ok := c.recordID(id)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, op, "document vanished immediately after insert")
	}
	if err := c.indexes.IndexInsert(doc, rid); err != nil {
		_, _ = c.state.Delete(id)
		return err
	}
	return c.engine.commitWrite(c)
}

// FindByID returns the document stored under id, if any.
func (c *Collection) FindByID(id bson.Value) (*bson.Document, bool, error) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.state.Get(id)
}

// Update replaces the document stored under its own _id, moving its key in
// every secondary index whose shape the change touches.
func (c *Collection) Update(doc *bson.Document) error {
	const op = "engine.Collection.Update"
	id, ok := doc.Get("_id")
	if !ok {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "document has no _id")
	}
	if err := c.engine.validate(c.name, doc); err != nil {
		return err
	}

	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()

	oldDoc, found, err := c.state.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return tinyerr.New(tinyerr.KindNotFound, op, "document not found")
	}
	oldRid, ok := c.recordID(id)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, op, "document has no storage location before update")
	}

	if err := c.state.Update(doc); err != nil {
		return err
	}
	newRid, ok := c.recordID(id)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, op, "document vanished immediately after update")
	}
	if oldRid != newRid {
		// encodeRecord/appendToCollection may have relocated the slot; the
		// index fan-out keys on RecordID, so a relocation is really a
		// delete-then-insert as far as every index is concerned.
		_ = c.indexes.IndexDelete(oldDoc, oldRid)
		if err := c.indexes.IndexInsert(doc, newRid); err != nil {
			return err
		}
		return c.engine.commitWrite(c)
	}
	if err := c.indexes.IndexUpdate(oldDoc, doc, newRid); err != nil {
		return err
	}
	return c.engine.commitWrite(c)
}

// Delete removes the document stored under id, if any.
func (c *Collection) Delete(id bson.Value) (bool, error) {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()

	doc, found, err := c.state.Get(id)
	if err != nil || !found {
		return false, err
	}
	rid, _ := c.recordID(id)
	removed, err := c.state.Delete(id)
	if err != nil || !removed {
		return removed, err
	}
	_ = c.indexes.IndexDelete(doc, rid)
	return true, c.engine.commitWrite(c)
}

// Scan calls fn with every live document, in storage order, stopping early
// if fn returns false.
func (c *Collection) Scan(fn func(*bson.Document) bool) error {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.state.Scan(fn)
}

// Count returns the number of live documents in the collection.
func (c *Collection) Count() (int, error) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	return c.state.Count()
}

// EnsureIndex creates (or, for a matching existing definition, no-ops) a
// secondary index over fields, then backfills it from every document
// already in the collection.
func (c *Collection) EnsureIndex(name string, fields []string, unique bool) error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()

	if _, ok := c.indexes.Get(name); ok {
		_, err := c.indexes.CreateIndex(name, fields, unique)
		return err
	}
	if _, err := c.indexes.CreateIndex(name, fields, unique); err != nil {
		return err
	}
	var backfillErr error
	_ = c.state.Scan(func(doc *bson.Document) bool {
		id, _ := doc.Get("_id")
		rid, ok := c.recordID(id)
		if !ok {
			return true
		}
		if err := c.indexes.IndexInsert(doc, rid); err != nil {
			backfillErr = err
			return false
		}
		return true
	})
	if backfillErr != nil {
		_ = c.indexes.DropIndex(name)
		return backfillErr
	}
	return c.engine.commitWrite(c)
}

// DropIndex removes a secondary index, freeing its pages.
func (c *Collection) DropIndex(name string) error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if err := c.indexes.DropIndex(name); err != nil {
		return err
	}
	return c.engine.commitWrite(c)
}

// IndexShape reports a secondary index's field list and uniqueness.
func (c *Collection) IndexShape(name string) (fields []string, unique bool, ok bool) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	def, ok := c.indexes.Get(name)
	if !ok {
		return nil, false, false
	}
	return def.Fields, def.Unique, true
}

// BestIndex returns the secondary index best matching fields, for a query
// planner deciding between an index scan and a full collection scan.
func (c *Collection) BestIndex(fields []string) (name string, ok bool) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	def, ok := c.indexes.GetBestIndex(fields)
	if !ok {
		return "", false
	}
	return def.Name, true
}

// IndexLookup returns every document matching fields in the named index.
func (c *Collection) IndexLookup(name string, fields []bson.Value) ([]*bson.Document, error) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	rids, err := c.indexes.Find(name, fields)
	if err != nil {
		return nil, err
	}
	docs := make([]*bson.Document, 0, len(rids))
	for _, rid := range rids {
		raw, tombstoned, err := c.readRecordID(rid)
		if err != nil || tombstoned {
			continue
		}
		docs = append(docs, raw)
	}
	return docs, nil
}

func (c *Collection) readRecordID(rid btree.RecordID) (*bson.Document, bool, error) {
	return c.state.GetAt(rid.PageID, rid.Slot)
}
