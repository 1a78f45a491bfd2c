package btree

import (
	"sort"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// DefaultMaxKeys is the key-count ceiling a disk-backed tree uses when its
// caller doesn't override it: large enough that the page-byte-capacity
// check in fitsLeaf/fitsInternal is the one that actually trips for
// realistic key sizes, while still giving tests a knob (pass a small
// maxKeys to New/Open) to force splits and merges at a handful of keys.
const DefaultMaxKeys = 200

// entry is one decoded leaf entry, used as the scratch representation
// while rebuilding a node. Insert/delete work by decoding a node's entries
// into this slice, splicing in or out the affected one, and re-encoding
// the whole node back into its page body in one pass: coarser-grained than
// shifting bytes within the page but it keeps a node pinned to the same
// page id throughout its life, so parent/sibling links never need updating
// on a plain key insert or delete.
type entry struct {
	key []byte
	rid RecordID
}

// BTree is an on-disk B+tree: a root page id plus split/merge/borrow
// rebalancing on every mutation, mutating nodes in place rather than
// copying on write, over composite IndexKey values with optional
// duplicates.
type BTree struct {
	cache  *pagecache.Cache
	alloc  *pagecache.Allocator
	Root   uint32
	Unique bool

	// maxKeys/minKeys bound every non-root node's key count per spec.md
	// §4.5: overfull above maxKeys, underfull below minKeys = ceil(maxKeys/2).
	maxKeys int
	minKeys int
}

func normalizeMaxKeys(maxKeys int) (int, int) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if maxKeys < 2 {
		maxKeys = 2
	}
	return maxKeys, (maxKeys + 1) / 2
}

// New creates an empty tree. Root is 0 until the first Insert. maxKeys <= 0
// selects DefaultMaxKeys; a small value (e.g. 4) forces splits and merges
// without inserting hundreds of keys first.
func New(cache *pagecache.Cache, alloc *pagecache.Allocator, unique bool, maxKeys int) *BTree {
	maxKeys, minKeys := normalizeMaxKeys(maxKeys)
	return &BTree{cache: cache, alloc: alloc, Unique: unique, maxKeys: maxKeys, minKeys: minKeys}
}

// Open reopens a tree whose root page already exists (after a restart).
// maxKeys must match the value the tree was created with.
func Open(cache *pagecache.Cache, alloc *pagecache.Allocator, root uint32, unique bool, maxKeys int) *BTree {
	maxKeys, minKeys := normalizeMaxKeys(maxKeys)
	return &BTree{cache: cache, alloc: alloc, Root: root, Unique: unique, maxKeys: maxKeys, minKeys: minKeys}
}

func capacity() int { return page.Size - page.HeaderSize }

func (t *BTree) loadNode(id uint32) (Node, page.Header, error) {
	buf, err := t.cache.Get(id)
	if err != nil {
		return Node{}, page.Header{}, err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return Node{}, page.Header{}, tinyerr.New(tinyerr.KindCorruption, "btree.loadNode", "bad page header")
	}
	return newNode(page.Body(buf), h.Type == page.TypeBTreeLeaf), h, nil
}

func (t *BTree) newPage(isLeaf bool, parent uint32) (uint32, error) {
	id, err := t.alloc.NewPage()
	if err != nil {
		return 0, err
	}
	buf := page.New()
	typ := page.TypeBTreeInternal
	if isLeaf {
		typ = page.TypeBTreeLeaf
	}
	h := page.Header{Type: typ, PageID: id}
	n := newNode(page.Body(buf), isLeaf)
	n.setParent(parent)
	n.setNkeys(0)
	n.setOffset(0, 0)
	h.Encode(buf)
	t.cache.Put(id, buf)
	return id, nil
}

func (t *BTree) entries(n Node) []entry {
	out := make([]entry, n.nkeys())
	for i := range out {
		out[i] = entry{key: append([]byte(nil), n.getKey(uint16(i))...), rid: n.getRecordID(uint16(i))}
	}
	return out
}

// leafBytes mirrors Node.nbytes for a leaf built from entries: the header,
// one 2-byte offset per entry, and each entry's length-prefixed key+value.
func leafBytes(entries []entry) int {
	size := nodeHeaderSize + len(entries)*2
	for _, e := range entries {
		size += 4 + len(e.key) + recordIDSize
	}
	return size
}

// fitsLeaf reports whether entries can stay in one leaf: within the
// configured key-count ceiling and within one page's byte capacity. The
// byte check is the one that actually binds for realistic key sizes at the
// default maxKeys; the count check is what lets a test force a split at a
// handful of keys.
func (t *BTree) fitsLeaf(entries []entry) bool {
	return len(entries) <= t.maxKeys && leafBytes(entries) <= capacity()
}

// writeLeafEntries rebuilds a leaf page's body from entries, in sorted
// order, replacing whatever was there before.
func (t *BTree) writeLeafEntries(id uint32, parent uint32, entries []entry, prev, next uint32) error {
	buf, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "btree.writeLeafEntries", "bad page header")
	}
	h.Type = page.TypeBTreeLeaf
	h.PrevPageID = prev
	h.NextPageID = next
	h.ItemCount = uint16(len(entries))
	h.PageID = id

	n := newNode(page.Body(buf), true)
	n.setParent(parent)
	n.setNkeys(uint16(len(entries)))
	n.setOffset(0, 0)
	for i, e := range entries {
		n.appendLeafKV(uint16(i), e.key, e.rid)
	}
	h.Encode(buf)
	t.cache.Put(id, buf)
	return nil
}

type childEntry struct {
	key   []byte // separator key; nil for the first (leftmost) child
	child uint32
}

// internalBytes mirrors Node.nbytes for an internal node built from
// children: the header, len(children) child pointers, one 2-byte offset
// per separator key, and each separator's length-prefixed bytes.
func internalBytes(children []childEntry) int {
	size := nodeHeaderSize + len(children)*ptrSize + (len(children)-1)*2
	for _, c := range children[1:] {
		size += 4 + len(c.key)
	}
	return size
}

// fitsInternal is fitsLeaf's counterpart for an internal node; its key
// count is len(children)-1 (the separators, not the child pointers).
func (t *BTree) fitsInternal(children []childEntry) bool {
	return len(children)-1 <= t.maxKeys && internalBytes(children) <= capacity()
}

func (t *BTree) writeInternalChildren(id uint32, parent uint32, children []childEntry) error {
	buf, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "btree.writeInternalChildren", "bad page header")
	}
	h.Type = page.TypeBTreeInternal
	h.ItemCount = uint16(len(children) - 1)
	h.PageID = id

	n := newNode(page.Body(buf), false)
	n.setParent(parent)
	n.setNkeys(uint16(len(children) - 1))
	n.setOffset(0, 0)
	n.setPtr(0, children[0].child)
	for i := 1; i < len(children); i++ {
		n.appendInternalKey(uint16(i-1), children[i].child, children[i].key)
	}
	h.Encode(buf)
	t.cache.Put(id, buf)
	return nil
}

// Insert adds key->rid. If the tree is Unique and key already exists,
// returns a tinyerr KindDuplicateKey error.
func (t *BTree) Insert(key []byte, rid RecordID) error {
	const op = "btree.BTree.Insert"
	if t.Root == 0 {
		id, err := t.newPage(true, 0)
		if err != nil {
			return err
		}
		t.Root = id
	}

	leafID, path, err := t.descendToLeaf(key)
	if err != nil {
		return err
	}
	leaf, h, err := t.loadNode(leafID)
	if err != nil {
		return err
	}

	entries := t.entries(leaf)
	if t.Unique {
		for _, e := range entries {
			if CompareIndexKeys(e.key, key) == 0 {
				return tinyerr.New(tinyerr.KindDuplicateKey, op, "key already present")
			}
		}
	}
	pos := sort.Search(len(entries), func(i int) bool { return CompareIndexKeys(entries[i].key, key) >= 0 })
	entries = append(entries, entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry{key: key, rid: rid}

	if t.fitsLeaf(entries) {
		return t.writeLeafEntries(leafID, leaf.parent(), entries, h.PrevPageID, h.NextPageID)
	}
	return t.splitLeaf(leafID, leaf, h, entries, path)
}

// descendToLeaf walks from the root to the leaf that would contain key,
// returning the leaf's page id and the path of internal page ids visited,
// outermost (root) first, used to propagate a split or merge upward.
func (t *BTree) descendToLeaf(key []byte) (uint32, []uint32, error) {
	var path []uint32
	id := t.Root
	for {
		n, _, err := t.loadNode(id)
		if err != nil {
			return 0, nil, err
		}
		if n.isLeaf {
			return id, path, nil
		}
		path = append(path, id)
		idx := n.lookupLE(key)
		id = n.getPtr(idx)
	}
}

// splitLeaf divides entries across the existing leaf page and a freshly
// allocated sibling, then propagates the new separator into the parent.
func (t *BTree) splitLeaf(leafID uint32, leaf Node, h page.Header, entries []entry, path []uint32) error {
	mid := len(entries) / 2
	left := entries[:mid]
	right := entries[mid:]

	rightID, err := t.newPage(true, leaf.parent())
	if err != nil {
		return err
	}

	oldNext := h.NextPageID
	if err := t.writeLeafEntries(leafID, leaf.parent(), left, h.PrevPageID, rightID); err != nil {
		return err
	}
	if err := t.writeLeafEntries(rightID, leaf.parent(), right, leafID, oldNext); err != nil {
		return err
	}
	if oldNext != 0 {
		if err := t.relinkPrev(oldNext, rightID); err != nil {
			return err
		}
	}

	return t.insertIntoParent(dropLast(path), leaf.parent(), right[0].key, leafID, rightID)
}

func (t *BTree) relinkPrev(id, prev uint32) error {
	buf, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "btree.relinkPrev", "bad page header")
	}
	h.PrevPageID = prev
	h.Encode(buf)
	t.cache.Put(id, buf)
	return nil
}

// insertIntoParent adds (sepKey -> rightID) as a new separator above
// leftID. If parentID is 0, leftID was the root and a new root is
// created. path is the ancestor chain above parentID, outermost first
// (empty when parentID is itself the root).
func (t *BTree) insertIntoParent(path []uint32, parentID uint32, sepKey []byte, leftID, rightID uint32) error {
	if parentID == 0 {
		newRootID, err := t.newPage(false, 0)
		if err != nil {
			return err
		}
		if err := t.writeInternalChildren(newRootID, 0, []childEntry{{child: leftID}, {key: sepKey, child: rightID}}); err != nil {
			return err
		}
		if err := t.setNodeParent(leftID, newRootID); err != nil {
			return err
		}
		if err := t.setNodeParent(rightID, newRootID); err != nil {
			return err
		}
		t.Root = newRootID
		return nil
	}

	parent, _, err := t.loadNode(parentID)
	if err != nil {
		return err
	}
	children := t.children(parent)

	insertAt := -1
	for i, c := range children {
		if c.child == leftID {
			insertAt = i + 1
			break
		}
	}
	if insertAt == -1 {
		return tinyerr.New(tinyerr.KindCorruption, "btree.insertIntoParent", "left child not found in parent")
	}
	children = append(children, childEntry{})
	copy(children[insertAt+1:], children[insertAt:])
	children[insertAt] = childEntry{key: sepKey, child: rightID}

	if err := t.setNodeParent(rightID, parentID); err != nil {
		return err
	}
	if t.fitsInternal(children) {
		return t.writeInternalChildren(parentID, parent.parent(), children)
	}

	return t.splitInternal(parentID, parent, children, path)
}

func dropLast(path []uint32) []uint32 {
	if len(path) == 0 {
		return path
	}
	return path[:len(path)-1]
}

func (t *BTree) children(n Node) []childEntry {
	out := make([]childEntry, n.nkeys()+1)
	out[0] = childEntry{child: n.getPtr(0)}
	for i := uint16(1); i <= n.nkeys(); i++ {
		out[i] = childEntry{key: append([]byte(nil), n.getKey(i-1)...), child: n.getPtr(i)}
	}
	return out
}

func (t *BTree) splitInternal(nodeID uint32, n Node, children []childEntry, path []uint32) error {
	mid := len(children) / 2
	left := children[:mid]
	right := children[mid:]
	sepKey := right[0].key
	right[0] = childEntry{child: right[0].child} // the promoted separator leaves the right group

	rightID, err := t.newPage(false, n.parent())
	if err != nil {
		return err
	}
	if err := t.writeInternalChildren(nodeID, n.parent(), left); err != nil {
		return err
	}
	if err := t.writeInternalChildren(rightID, n.parent(), right); err != nil {
		return err
	}
	for _, c := range right {
		if err := t.setNodeParent(c.child, rightID); err != nil {
			return err
		}
	}

	return t.insertIntoParent(dropLast(path), n.parent(), sepKey, nodeID, rightID)
}

func (t *BTree) setNodeParent(id, parentID uint32) error {
	buf, err := t.cache.Get(id)
	if err != nil {
		return err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return tinyerr.New(tinyerr.KindCorruption, "btree.setNodeParent", "bad page header")
	}
	n := newNode(page.Body(buf), h.Type == page.TypeBTreeLeaf)
	n.setParent(parentID)
	h.Encode(buf)
	t.cache.Put(id, buf)
	return nil
}

// Find returns the RecordIDs stored under key in the leaf that key descends
// to (more than one if the tree permits duplicates). Only that leaf is
// searched: duplicates that a split left in an earlier sibling leaf are not
// returned.
func (t *BTree) Find(key []byte) ([]RecordID, error) {
	if t.Root == 0 {
		return nil, nil
	}
	leafID, _, err := t.descendToLeaf(key)
	if err != nil {
		return nil, err
	}
	leaf, _, err := t.loadNode(leafID)
	if err != nil {
		return nil, err
	}
	var out []RecordID
	nk := leaf.nkeys()
	for i := uint16(0); i < nk; i++ {
		if CompareIndexKeys(leaf.getKey(i), key) == 0 {
			out = append(out, leaf.getRecordID(i))
		}
	}
	return out, nil
}

// Range calls fn for every (key, RecordID) with lo <= key <= hi, in key
// order, following leaf sibling links left to right. A nil lo/hi bound is
// open-ended.
func (t *BTree) Range(lo, hi []byte, fn func(key []byte, rid RecordID) bool) error {
	if t.Root == 0 {
		return nil
	}
	var startLeaf uint32
	if lo != nil {
		id, _, err := t.descendToLeaf(lo)
		if err != nil {
			return err
		}
		startLeaf = id
	} else {
		id := t.Root
		for {
			n, _, err := t.loadNode(id)
			if err != nil {
				return err
			}
			if n.isLeaf {
				startLeaf = id
				break
			}
			id = n.getPtr(0)
		}
	}

	id := startLeaf
	for id != 0 {
		n, h, err := t.loadNode(id)
		if err != nil {
			return err
		}
		nk := n.nkeys()
		for i := uint16(0); i < nk; i++ {
			k := n.getKey(i)
			if lo != nil && CompareIndexKeys(k, lo) < 0 {
				continue
			}
			if hi != nil && CompareIndexKeys(k, hi) > 0 {
				return nil
			}
			if !fn(k, n.getRecordID(i)) {
				return nil
			}
		}
		id = h.NextPageID
	}
	return nil
}

// Delete removes the entry matching (key, rid) exactly, so duplicate keys
// are told apart by which document they point at. Reports whether an
// entry was actually removed.
func (t *BTree) Delete(key []byte, rid RecordID) (bool, error) {
	if t.Root == 0 {
		return false, nil
	}
	leafID, path, err := t.descendToLeaf(key)
	if err != nil {
		return false, err
	}
	leaf, h, err := t.loadNode(leafID)
	if err != nil {
		return false, err
	}

	entries := t.entries(leaf)
	idx := -1
	for i, e := range entries {
		if CompareIndexKeys(e.key, key) == 0 && e.rid == rid {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	entries = append(entries[:idx], entries[idx+1:]...)

	if err := t.writeLeafEntries(leafID, leaf.parent(), entries, h.PrevPageID, h.NextPageID); err != nil {
		return false, err
	}

	if leafID == t.Root {
		return true, nil // root may be sparse or empty; no rebalancing needed
	}
	if t.nodeUnderflowing(len(entries)) {
		if err := t.rebalanceLeaf(leafID, path); err != nil {
			return true, err
		}
	}
	return true, nil
}

// nodeUnderflowing reports whether a non-root node with keyCount keys has
// fallen below minKeys, the point at which it must borrow or merge
// (spec.md §4.5). The root is exempt and must never be passed here.
func (t *BTree) nodeUnderflowing(keyCount int) bool { return keyCount < t.minKeys }

// rebalanceLeaf borrows from a sibling if one has room to spare, otherwise
// merges with a sibling and removes the absorbed separator from the
// parent, recursing upward if the parent itself now underflows or becomes
// a single-child root.
func (t *BTree) rebalanceLeaf(leafID uint32, path []uint32) error {
	if len(path) == 0 {
		return nil
	}
	parentID := path[len(path)-1]
	parent, _, err := t.loadNode(parentID)
	if err != nil {
		return err
	}
	children := t.children(parent)
	myIdx := -1
	for i, c := range children {
		if c.child == leafID {
			myIdx = i
			break
		}
	}
	if myIdx == -1 {
		return tinyerr.New(tinyerr.KindCorruption, "btree.rebalanceLeaf", "node missing from parent")
	}

	leaf, h, err := t.loadNode(leafID)
	if err != nil {
		return err
	}
	myEntries := t.entries(leaf)

	if myIdx > 0 {
		leftID := children[myIdx-1].child
		leftNode, leftH, err := t.loadNode(leftID)
		if err != nil {
			return err
		}
		leftEntries := t.entries(leftNode)
		if len(leftEntries) > 1 && t.canShed(leftEntries) {
			borrowed := leftEntries[len(leftEntries)-1]
			leftEntries = leftEntries[:len(leftEntries)-1]
			myEntries = append([]entry{borrowed}, myEntries...)
			if err := t.writeLeafEntries(leftID, leftNode.parent(), leftEntries, leftH.PrevPageID, leftH.NextPageID); err != nil {
				return err
			}
			if err := t.writeLeafEntries(leafID, leaf.parent(), myEntries, h.PrevPageID, h.NextPageID); err != nil {
				return err
			}
			children[myIdx].key = borrowed.key
			return t.writeInternalChildren(parentID, parent.parent(), children)
		}
	}
	if myIdx < len(children)-1 {
		rightID := children[myIdx+1].child
		rightNode, rightH, err := t.loadNode(rightID)
		if err != nil {
			return err
		}
		rightEntries := t.entries(rightNode)
		if len(rightEntries) > 1 && t.canShed(rightEntries) {
			borrowed := rightEntries[0]
			rightEntries = rightEntries[1:]
			myEntries = append(myEntries, borrowed)
			if err := t.writeLeafEntries(leafID, leaf.parent(), myEntries, h.PrevPageID, h.NextPageID); err != nil {
				return err
			}
			if err := t.writeLeafEntries(rightID, rightNode.parent(), rightEntries, rightH.PrevPageID, rightH.NextPageID); err != nil {
				return err
			}
			children[myIdx+1].key = rightEntries[0].key
			return t.writeInternalChildren(parentID, parent.parent(), children)
		}
	}

	if myIdx > 0 {
		leftID := children[myIdx-1].child
		return t.mergeLeaves(leftID, leafID, parentID, children, myIdx-1, dropLast(path))
	}
	rightID := children[myIdx+1].child
	return t.mergeLeaves(leafID, rightID, parentID, children, myIdx, dropLast(path))
}

func (t *BTree) canShed(entries []entry) bool {
	return !t.nodeUnderflowing(len(entries) - 1)
}

// mergeLeaves folds rightID's entries into leftID, frees rightID, and
// removes the separator at children[leftPos+1] from the parent. If the
// combined entries do not fit in one page, both leaves are left as they are.
func (t *BTree) mergeLeaves(leftID, rightID, parentID uint32, children []childEntry, leftPos int, path []uint32) error {
	left, leftH, err := t.loadNode(leftID)
	if err != nil {
		return err
	}
	right, rightH, err := t.loadNode(rightID)
	if err != nil {
		return err
	}
	merged := append(t.entries(left), t.entries(right)...)
	if !t.fitsLeaf(merged) {
		return nil
	}
	if err := t.writeLeafEntries(leftID, left.parent(), merged, leftH.PrevPageID, rightH.NextPageID); err != nil {
		return err
	}
	if rightH.NextPageID != 0 {
		if err := t.relinkPrev(rightH.NextPageID, leftID); err != nil {
			return err
		}
	}
	if err := t.alloc.FreePage(rightID); err != nil {
		return err
	}

	children = append(children[:leftPos+1], children[leftPos+2:]...)
	return t.shrinkParent(parentID, children, path)
}

// shrinkParent rewrites parentID with one fewer child, collapsing the
// tree root if it has become a single-child internal node, and recursing
// into the grandparent if parentID itself now underflows.
func (t *BTree) shrinkParent(parentID uint32, children []childEntry, path []uint32) error {
	parent, _, err := t.loadNode(parentID)
	if err != nil {
		return err
	}

	if parentID == t.Root {
		if len(children) == 1 {
			t.Root = children[0].child
			return t.setNodeParent(t.Root, 0)
		}
		return t.writeInternalChildren(parentID, 0, children)
	}

	if err := t.writeInternalChildren(parentID, parent.parent(), children); err != nil {
		return err
	}
	if t.nodeUnderflowing(len(children) - 1) {
		return t.rebalanceInternal(parentID, path)
	}
	return nil
}

// rebalanceInternal mirrors rebalanceLeaf for internal nodes: borrow a
// child from a sibling if possible, else merge with a sibling.
func (t *BTree) rebalanceInternal(nodeID uint32, path []uint32) error {
	if len(path) == 0 {
		return nil
	}
	parentID := path[len(path)-1]
	parent, _, err := t.loadNode(parentID)
	if err != nil {
		return err
	}
	siblings := t.children(parent)
	myIdx := -1
	for i, c := range siblings {
		if c.child == nodeID {
			myIdx = i
			break
		}
	}
	if myIdx == -1 {
		return tinyerr.New(tinyerr.KindCorruption, "btree.rebalanceInternal", "node missing from parent")
	}

	node, _, err := t.loadNode(nodeID)
	if err != nil {
		return err
	}
	myChildren := t.children(node)

	if myIdx > 0 {
		leftID := siblings[myIdx-1].child
		leftNode, _, err := t.loadNode(leftID)
		if err != nil {
			return err
		}
		leftChildren := t.children(leftNode)
		if len(leftChildren) > 2 && !t.nodeUnderflowing(len(leftChildren)-2) {
			borrowed := leftChildren[len(leftChildren)-1]
			leftChildren = leftChildren[:len(leftChildren)-1]
			sep := siblings[myIdx].key
			myChildren = append([]childEntry{{child: borrowed.child}}, myChildren...)
			if len(myChildren) > 1 {
				myChildren[1].key = sep
			}
			if err := t.writeInternalChildren(leftID, leftNode.parent(), leftChildren); err != nil {
				return err
			}
			if err := t.writeInternalChildren(nodeID, node.parent(), myChildren); err != nil {
				return err
			}
			if err := t.setNodeParent(borrowed.child, nodeID); err != nil {
				return err
			}
			siblings[myIdx].key = borrowed.key
			return t.writeInternalChildren(parentID, parent.parent(), siblings)
		}
	}

	if myIdx < len(siblings)-1 {
		rightID := siblings[myIdx+1].child
		rightNode, _, err := t.loadNode(rightID)
		if err != nil {
			return err
		}
		rightChildren := t.children(rightNode)
		if len(rightChildren) > 2 && !t.nodeUnderflowing(len(rightChildren)-2) {
			borrowed := rightChildren[0]
			promoted := siblings[myIdx+1].key
			rightChildren = rightChildren[1:]
			nextSep := rightChildren[0].key
			rightChildren[0] = childEntry{child: rightChildren[0].child}
			myChildren = append(myChildren, childEntry{key: promoted, child: borrowed.child})
			if err := t.writeInternalChildren(nodeID, node.parent(), myChildren); err != nil {
				return err
			}
			if err := t.writeInternalChildren(rightID, rightNode.parent(), rightChildren); err != nil {
				return err
			}
			if err := t.setNodeParent(borrowed.child, nodeID); err != nil {
				return err
			}
			siblings[myIdx+1].key = nextSep
			return t.writeInternalChildren(parentID, parent.parent(), siblings)
		}
	}

	if myIdx > 0 {
		leftID := siblings[myIdx-1].child
		return t.mergeInternal(leftID, nodeID, parentID, siblings, myIdx-1, dropLast(path))
	}
	rightID := siblings[myIdx+1].child
	return t.mergeInternal(nodeID, rightID, parentID, siblings, myIdx, dropLast(path))
}

func (t *BTree) mergeInternal(leftID, rightID, parentID uint32, siblings []childEntry, leftPos int, path []uint32) error {
	left, _, err := t.loadNode(leftID)
	if err != nil {
		return err
	}
	right, _, err := t.loadNode(rightID)
	if err != nil {
		return err
	}
	leftChildren := t.children(left)
	rightChildren := t.children(right)
	rightChildren[0] = childEntry{key: siblings[leftPos+1].key, child: rightChildren[0].child}
	merged := append(leftChildren, rightChildren...)

	if err := t.writeInternalChildren(leftID, left.parent(), merged); err != nil {
		return err
	}
	for _, c := range rightChildren {
		if err := t.setNodeParent(c.child, leftID); err != nil {
			return err
		}
	}
	if err := t.alloc.FreePage(rightID); err != nil {
		return err
	}

	siblings = append(siblings[:leftPos+1], siblings[leftPos+2:]...)
	return t.shrinkParent(parentID, siblings, path)
}

// Height reports the number of levels from the root to a leaf (0 for an
// empty or single-leaf tree).
func (t *BTree) Height() (int, error) {
	if t.Root == 0 {
		return 0, nil
	}
	height := 0
	id := t.Root
	for {
		n, _, err := t.loadNode(id)
		if err != nil {
			return 0, err
		}
		if n.isLeaf {
			return height, nil
		}
		height++
		id = n.getPtr(0)
	}
}

// AllPages walks every node the tree owns and returns their page ids, for
// callers that need to free an entire tree at once (dropping an index).
func (t *BTree) AllPages() ([]uint32, error) {
	if t.Root == 0 {
		return nil, nil
	}
	var pages []uint32
	var walk func(id uint32) error
	walk = func(id uint32) error {
		n, _, err := t.loadNode(id)
		if err != nil {
			return err
		}
		pages = append(pages, id)
		if n.isLeaf {
			return nil
		}
		for _, c := range t.children(n) {
			if err := walk(c.child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.Root); err != nil {
		return nil, err
	}
	return pages, nil
}

// Count returns the number of leaf entries in the tree, walking every leaf;
// no running counter is maintained.
func (t *BTree) Count() (int, error) {
	if t.Root == 0 {
		return 0, nil
	}
	id := t.Root
	for {
		n, _, err := t.loadNode(id)
		if err != nil {
			return 0, err
		}
		if n.isLeaf {
			break
		}
		id = n.getPtr(0)
	}
	total := 0
	for id != 0 {
		n, h, err := t.loadNode(id)
		if err != nil {
			return 0, err
		}
		total += int(n.nkeys())
		id = h.NextPageID
	}
	return total, nil
}

// Validate walks the whole tree and checks the invariants spec.md §4.5
// names: keys strictly increasing within every node, every child's parent
// pointer matches its actual parent, every child's key range falls
// between its separators in the parent, and non-root nodes stay within
// [minKeys, maxKeys]. It returns the first violation found, or nil if the
// tree is well-formed.
func (t *BTree) Validate() error {
	const op = "btree.BTree.Validate"
	if t.Root == 0 {
		return nil
	}
	return t.validateNode(t.Root, 0, nil, nil)
}

// validateNode checks the subtree rooted at id, whose separator bounds in
// the parent are (lo, hi) — either may be nil for an open bound. expectParent
// is the page id id's own parent pointer must equal.
func (t *BTree) validateNode(id, expectParent uint32, lo, hi []byte) error {
	const op = "btree.BTree.Validate"
	n, _, err := t.loadNode(id)
	if err != nil {
		return err
	}
	if n.parent() != expectParent {
		return tinyerr.New(tinyerr.KindCorruption, op, "node's parent pointer does not match its actual parent")
	}

	if n.isLeaf {
		entries := t.entries(n)
		for i := 1; i < len(entries); i++ {
			if CompareIndexKeys(entries[i-1].key, entries[i].key) >= 0 {
				return tinyerr.New(tinyerr.KindCorruption, op, "leaf keys are not strictly increasing")
			}
		}
		if id != t.Root {
			if len(entries) > t.maxKeys {
				return tinyerr.New(tinyerr.KindCorruption, op, "leaf exceeds maxKeys")
			}
			if t.nodeUnderflowing(len(entries)) {
				return tinyerr.New(tinyerr.KindCorruption, op, "leaf is underflowing")
			}
		}
		for _, e := range entries {
			if lo != nil && CompareIndexKeys(e.key, lo) < 0 {
				return tinyerr.New(tinyerr.KindCorruption, op, "leaf key falls below its parent's separator bound")
			}
			if hi != nil && CompareIndexKeys(e.key, hi) >= 0 {
				return tinyerr.New(tinyerr.KindCorruption, op, "leaf key falls at or above its parent's separator bound")
			}
		}
		return nil
	}

	children := t.children(n)
	for i := 2; i < len(children); i++ {
		if CompareIndexKeys(children[i-1].key, children[i].key) >= 0 {
			return tinyerr.New(tinyerr.KindCorruption, op, "internal separators are not strictly increasing")
		}
	}
	if id != t.Root {
		keyCount := len(children) - 1
		if keyCount > t.maxKeys {
			return tinyerr.New(tinyerr.KindCorruption, op, "internal node exceeds maxKeys")
		}
		if t.nodeUnderflowing(keyCount) {
			return tinyerr.New(tinyerr.KindCorruption, op, "internal node is underflowing")
		}
	}

	for i, c := range children {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = c.key
		}
		if i+1 < len(children) {
			childHi = children[i+1].key
		}
		if err := t.validateNode(c.child, id, childLo, childHi); err != nil {
			return err
		}
	}
	return nil
}
