package btree

import (
	"bytes"
	"encoding/binary"
)

// nodeHeaderSize is the node-level preamble inside a btree page's body: the
// parent page id, needed for in-place split/merge/borrow to walk back up
// and fix a separator, plus the key count.
const nodeHeaderSize = 4 + 2 // ParentPageID uint32, nkeys uint16

// ptrSize is 4 bytes: child/record pages are addressed by the 32-bit ids
// page.DiskFile uses.
const ptrSize = 4

// recordIDSize is RecordID's encoded width: a leaf's value.
const recordIDSize = 6

// Node wraps one btree page's body (the bytes after page.HeaderSize) with
// plain byte-offset math over a slice, no intermediate struct allocation
// per field access.
type Node struct {
	body   []byte // page.Body(buf)
	isLeaf bool
}

func newNode(body []byte, isLeaf bool) Node { return Node{body: body, isLeaf: isLeaf} }

func (n Node) parent() uint32     { return binary.LittleEndian.Uint32(n.body[0:4]) }
func (n Node) setParent(p uint32) { binary.LittleEndian.PutUint32(n.body[0:4], p) }

func (n Node) nkeys() uint16      { return binary.LittleEndian.Uint16(n.body[4:6]) }
func (n Node) setNkeys(k uint16)  { binary.LittleEndian.PutUint16(n.body[4:6], k) }

// ptrsBase is where the child-pointer array starts for an internal node
// (nkeys+1 pointers). Leaf nodes have no pointer array.
func (n Node) ptrsBase() int { return nodeHeaderSize }

func (n Node) getPtr(i uint16) uint32 {
	pos := n.ptrsBase() + int(i)*ptrSize
	return binary.LittleEndian.Uint32(n.body[pos:])
}

func (n Node) setPtr(i uint16, v uint32) {
	pos := n.ptrsBase() + int(i)*ptrSize
	binary.LittleEndian.PutUint32(n.body[pos:], v)
}

// offsetsBase is where the per-key byte offset array starts: nkeys+1
// pointers for an internal node, none for a leaf (leaf entries are found by
// linear offset table alone, keyed the same way).
func (n Node) offsetsBase() int {
	if n.isLeaf {
		return nodeHeaderSize
	}
	return nodeHeaderSize + (int(n.nkeys())+1)*ptrSize
}

func (n Node) getOffset(i uint16) uint16 {
	if i == 0 {
		return 0
	}
	pos := n.offsetsBase() + int(i-1)*2
	return binary.LittleEndian.Uint16(n.body[pos:])
}

func (n Node) setOffset(i uint16, off uint16) {
	if i == 0 {
		return // offset 0 is implicit and not stored
	}
	pos := n.offsetsBase() + int(i-1)*2
	binary.LittleEndian.PutUint16(n.body[pos:], off)
}

func (n Node) kvBase() int {
	return n.offsetsBase() + int(n.nkeys())*2
}

func (n Node) kvPos(i uint16) int { return n.kvBase() + int(n.getOffset(i)) }

// getKey returns the i-th key's bytes.
func (n Node) getKey(i uint16) []byte {
	pos := n.kvPos(i)
	klen := binary.LittleEndian.Uint16(n.body[pos:])
	return n.body[pos+4 : pos+4+int(klen)]
}

// getRecordID returns the i-th leaf entry's RecordID value.
func (n Node) getRecordID(i uint16) RecordID {
	pos := n.kvPos(i)
	klen := binary.LittleEndian.Uint16(n.body[pos:])
	vlen := binary.LittleEndian.Uint16(n.body[pos+2:])
	_ = vlen
	return decodeRecordID(n.body[pos+4+int(klen):])
}

// nbytes returns how many body bytes this node currently uses.
func (n Node) nbytes() int { return n.kvBase() + int(n.getOffset(n.nkeys())) }

// appendKV writes one entry at logical index i into a node being built
// fresh (offsets must be filled left to right): key/value length prefixes,
// then bytes, then advance the next offset. For an internal node childPtr is
// the child to the right of key i, stored as pointer i+1; pointer 0 is set
// separately with setPtr.
func (n Node) appendKV(i uint16, childPtr uint32, key []byte, val []byte) {
	if !n.isLeaf {
		n.setPtr(i+1, childPtr)
	}
	pos := n.kvPos(i)
	binary.LittleEndian.PutUint16(n.body[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(n.body[pos+2:], uint16(len(val)))
	copy(n.body[pos+4:], key)
	copy(n.body[pos+4+len(key):], val)
	n.setOffset(i+1, n.getOffset(i)+4+uint16(len(key)+len(val)))
}

func (n Node) appendLeafKV(i uint16, key []byte, rid RecordID) {
	n.appendKV(i, 0, key, rid.encode())
}

func (n Node) appendInternalKey(i uint16, childPtr uint32, key []byte) {
	n.appendKV(i, childPtr, key, nil)
}

// appendRange copies n entries from src starting at srcIdx into dst
// starting at dstIdx.
func appendRange(dst, src Node, dstIdx, srcIdx, count uint16) {
	if !src.isLeaf {
		dst.setPtr(dstIdx, src.getPtr(srcIdx))
	}
	for i := uint16(0); i < count; i++ {
		key := append([]byte(nil), src.getKey(srcIdx+i)...)
		if src.isLeaf {
			dst.appendLeafKV(dstIdx+i, key, src.getRecordID(srcIdx+i))
		} else {
			dst.appendInternalKey(dstIdx+i, src.getPtr(srcIdx+i+1), key)
		}
	}
}

// lookupLE returns the index of the child pointer an internal node routes
// key to: the number of keys <= key (0 if key is smaller than every key
// present, nkeys if it is >= the last one), so a key equal to a separator
// goes to the separator's right child. Node fanout is small enough that a
// linear scan over an in-memory page beats the bookkeeping of a binary
// search.
func (n Node) lookupLE(key []byte) uint16 {
	nk := n.nkeys()
	var i uint16
	for i = 0; i < nk; i++ {
		if bytes.Compare(n.getKey(i), key) > 0 {
			break
		}
	}
	return i
}

// findExact returns the index of an entry whose key equals key, and ok.
// When duplicates are present the first matching index is returned; callers
// scanning a unique range continue forward while keys stay equal.
func (n Node) findExact(key []byte) (uint16, bool) {
	nk := n.nkeys()
	for i := uint16(0); i < nk; i++ {
		if bytes.Equal(n.getKey(i), key) {
			return i, true
		}
		if bytes.Compare(n.getKey(i), key) > 0 {
			break
		}
	}
	return 0, false
}
