// Package index implements the secondary-index runtime (spec.md §4.6,
// component C13): a per-collection registry of named B+tree indexes that
// stay in sync with document writes, grounded on the document-maintenance
// pattern in pkg/storage/collection.go (encode once, fan out to every owned
// structure, roll back on partial failure) and built on pkg/btree (C11/C12).
package index

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/btree"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// Definition describes one index's shape: its field list in key order and
// whether it rejects duplicate keys. RootPage is the tree's current root
// page id, persisted by the catalog layer so a reopen can reattach without
// rebuilding the index from a full collection scan.
type Definition struct {
	Name     string
	Fields   []string
	Unique   bool
	RootPage uint32
}

func sameShape(a, b Definition) bool {
	if a.Unique != b.Unique || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}

type boundIndex struct {
	def  Definition
	tree *btree.BTree
}

func (b *boundIndex) extractKey(doc *bson.Document) []byte {
	vals := make([]bson.Value, len(b.def.Fields))
	for i, f := range b.def.Fields {
		vals[i] = doc.GetOr(f, bson.Null())
	}
	return btree.EncodeIndexKey(vals)
}

// Manager owns every secondary index for one collection. CreateIndex,
// DropIndex and the per-document Index* methods are all safe for
// concurrent use; callers still need the collection-level lock the engine
// holds around a write, since Manager only protects its own bookkeeping,
// not consistency with the primary store.
type Manager struct {
	mu      sync.RWMutex
	cache   *pagecache.Cache
	alloc   *pagecache.Allocator
	indexes map[string]*boundIndex
	order   []string // definition order, for getBestIndex tie-breaking
}

func NewManager(cache *pagecache.Cache, alloc *pagecache.Allocator) *Manager {
	return &Manager{cache: cache, alloc: alloc, indexes: make(map[string]*boundIndex)}
}

// Restore attaches an index whose shape and root page were already
// recorded in the catalog, skipping CreateIndex's shape checks.
func (m *Manager) Restore(def Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[def.Name] = &boundIndex{def: def, tree: btree.Open(m.cache, m.alloc, def.RootPage, def.Unique, 0)}
	m.order = append(m.order, def.Name)
}

// CreateIndex is idempotent when name already names an index with the same
// fields and uniqueness; it fails if name is reused with a different shape.
func (m *Manager) CreateIndex(name string, fields []string, unique bool) (Definition, error) {
	const op = "index.Manager.CreateIndex"
	if len(fields) == 0 {
		return Definition{}, tinyerr.New(tinyerr.KindInvalidArgument, op, "index must name at least one field")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	want := Definition{Name: name, Fields: fields, Unique: unique}
	if existing, ok := m.indexes[name]; ok {
		if sameShape(existing.def, want) {
			return existing.def, nil
		}
		return Definition{}, tinyerr.New(tinyerr.KindInvalidArgument, op,
			fmt.Sprintf("index %q already exists with a different shape", name))
	}

	tree := btree.New(m.cache, m.alloc, unique, 0)
	def := Definition{Name: name, Fields: append([]string(nil), fields...), Unique: unique}
	m.indexes[name] = &boundIndex{def: def, tree: tree}
	m.order = append(m.order, name)
	return def, nil
}

// DropIndex removes name and frees every page its tree owned. Dropping an
// index that does not exist is a no-op.
func (m *Manager) DropIndex(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[name]
	if !ok {
		return nil
	}
	pages, err := idx.tree.AllPages()
	if err != nil {
		return err
	}
	for _, id := range pages {
		if err := m.alloc.FreePage(id); err != nil {
			return err
		}
	}
	delete(m.indexes, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Definitions returns every index's current shape, with RootPage refreshed
// from the live tree, for the catalog layer to persist after every write.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.order))
	for _, name := range m.order {
		idx := m.indexes[name]
		idx.def.RootPage = idx.tree.Root
		out = append(out, idx.def)
	}
	return out
}

// Get returns the named index's shape, if present.
func (m *Manager) Get(name string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indexes[name]
	if !ok {
		return Definition{}, false
	}
	return idx.def, true
}

// IndexInsert adds doc's derived key to every index. A failure (a unique
// violation, almost always) rolls back the keys already inserted for this
// document in earlier indexes before returning the error.
func (m *Manager) IndexInsert(doc *bson.Document, rid btree.RecordID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	applied := make([]*boundIndex, 0, len(m.order))
	for _, name := range m.order {
		idx := m.indexes[name]
		key := idx.extractKey(doc)
		if err := idx.tree.Insert(key, rid); err != nil {
			for i := len(applied) - 1; i >= 0; i-- {
				_, _ = applied[i].tree.Delete(applied[i].extractKey(doc), rid)
			}
			return err
		}
		applied = append(applied, idx)
	}
	return nil
}

// IndexDelete removes doc's key from every index. Missing entries are
// tolerated (the primary document is already gone by the time this runs),
// but the first unexpected error is still reported after every index has
// been given a chance to clean up.
func (m *Manager) IndexDelete(doc *bson.Document, rid btree.RecordID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var firstErr error
	for _, name := range m.order {
		idx := m.indexes[name]
		key := idx.extractKey(doc)
		if _, err := idx.tree.Delete(key, rid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IndexUpdate moves doc's key from oldDoc's shape to newDoc's shape in
// every index. An index whose key is unchanged is left alone. A unique
// violation on the new key rolls back that index's own old-key removal,
// then rolls back every index already updated earlier in this call.
func (m *Manager) IndexUpdate(oldDoc, newDoc *bson.Document, rid btree.RecordID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type step struct {
		idx            *boundIndex
		oldKey, newKey []byte
	}
	var done []step
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			s := done[i]
			_, _ = s.idx.tree.Delete(s.newKey, rid)
			_ = s.idx.tree.Insert(s.oldKey, rid)
		}
	}

	for _, name := range m.order {
		idx := m.indexes[name]
		oldKey := idx.extractKey(oldDoc)
		newKey := idx.extractKey(newDoc)
		if bytes.Equal(oldKey, newKey) {
			done = append(done, step{idx, oldKey, newKey})
			continue
		}
		if _, err := idx.tree.Delete(oldKey, rid); err != nil {
			rollback()
			return err
		}
		if err := idx.tree.Insert(newKey, rid); err != nil {
			_ = idx.tree.Insert(oldKey, rid)
			rollback()
			return err
		}
		done = append(done, step{idx, oldKey, newKey})
	}
	return nil
}

// Find returns every RecordID stored under fields in the named index.
func (m *Manager) Find(name string, fields []bson.Value) ([]btree.RecordID, error) {
	const op = "index.Manager.Find"
	m.mu.RLock()
	idx, ok := m.indexes[name]
	m.mu.RUnlock()
	if !ok {
		return nil, tinyerr.New(tinyerr.KindNotFound, op, fmt.Sprintf("no index named %q", name))
	}
	return idx.tree.Find(btree.EncodeIndexKey(fields))
}

// Range scans the named index between lo and hi (either may be nil),
// calling fn with each matching RecordID in key order.
func (m *Manager) Range(name string, lo, hi []bson.Value, fn func(rid btree.RecordID) bool) error {
	const op = "index.Manager.Range"
	m.mu.RLock()
	idx, ok := m.indexes[name]
	m.mu.RUnlock()
	if !ok {
		return tinyerr.New(tinyerr.KindNotFound, op, fmt.Sprintf("no index named %q", name))
	}
	var loKey, hiKey []byte
	if lo != nil {
		loKey = btree.EncodeIndexKey(lo)
	}
	if hi != nil {
		hiKey = btree.EncodeIndexKey(hi)
	}
	return idx.tree.Range(loKey, hiKey, func(_ []byte, rid btree.RecordID) bool { return fn(rid) })
}

// getBestIndex scores every index against the fields a query filters or
// sorts on: prefix match length (how many leading fields of the index the
// query actually constrains) times a weight, plus a bonus for uniqueness,
// since a unique index guarantees at most one match. Ties favor the index
// defined first.
func (m *Manager) getBestIndex(fields []string) (Definition, bool) {
	const prefixWeight = 10
	const uniqueBonus = 1

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *boundIndex
	bestScore := -1
	for _, name := range m.order {
		idx := m.indexes[name]
		score := prefixMatchLen(idx.def.Fields, fields) * prefixWeight
		if score == 0 {
			continue
		}
		if idx.def.Unique {
			score += uniqueBonus
		}
		if score > bestScore {
			bestScore = score
			best = idx
		}
	}
	if best == nil {
		return Definition{}, false
	}
	return best.def, true
}

// GetBestIndex is the exported form of getBestIndex, for callers (the
// engine's query planner) outside this package.
func (m *Manager) GetBestIndex(fields []string) (Definition, bool) { return m.getBestIndex(fields) }

func prefixMatchLen(indexFields, queryFields []string) int {
	n := 0
	for n < len(indexFields) && n < len(queryFields) && indexFields[n] == queryFields[n] {
		n++
	}
	return n
}

// Names returns every index name in definition order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}
