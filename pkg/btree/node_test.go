package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/page"
)

func TestNodeLeafAppendAndRead(t *testing.T) {
	body := page.New()[page.HeaderSize:]
	n := newNode(body, true)
	n.setParent(7)
	n.setNkeys(2)
	n.setOffset(0, 0)
	n.appendLeafKV(0, []byte("aaa"), RecordID{PageID: 1, Slot: 2})
	n.appendLeafKV(1, []byte("bbbb"), RecordID{PageID: 3, Slot: 4})

	require.Equal(t, uint32(7), n.parent())
	require.Equal(t, uint16(2), n.nkeys())
	require.Equal(t, []byte("aaa"), n.getKey(0))
	require.Equal(t, []byte("bbbb"), n.getKey(1))
	require.Equal(t, RecordID{PageID: 1, Slot: 2}, n.getRecordID(0))
	require.Equal(t, RecordID{PageID: 3, Slot: 4}, n.getRecordID(1))
}

func TestNodeInternalAppendAndLookup(t *testing.T) {
	body := page.New()[page.HeaderSize:]
	n := newNode(body, false)
	n.setNkeys(2)
	n.setOffset(0, 0)
	n.setPtr(0, 100)
	n.appendInternalKey(0, 200, []byte("mmm"))
	n.appendInternalKey(1, 300, []byte("zzz"))

	require.Equal(t, uint32(100), n.getPtr(0))
	require.Equal(t, uint32(200), n.getPtr(1))
	require.Equal(t, uint32(300), n.getPtr(2))

	require.Equal(t, uint16(0), n.lookupLE([]byte("aaa")))
	require.Equal(t, uint16(1), n.lookupLE([]byte("mmm")))
	require.Equal(t, uint16(2), n.lookupLE([]byte("zzzzz")))
}

func TestNodeFindExactWithDuplicates(t *testing.T) {
	body := page.New()[page.HeaderSize:]
	n := newNode(body, true)
	n.setNkeys(3)
	n.setOffset(0, 0)
	n.appendLeafKV(0, []byte("dup"), RecordID{PageID: 1})
	n.appendLeafKV(1, []byte("dup"), RecordID{PageID: 2})
	n.appendLeafKV(2, []byte("zzz"), RecordID{PageID: 3})

	idx, ok := n.findExact([]byte("dup"))
	require.True(t, ok)
	require.Equal(t, uint16(0), idx)

	_, ok = n.findExact([]byte("missing"))
	require.False(t, ok)
}

func TestAppendRangeCopiesLeafEntries(t *testing.T) {
	srcBody := page.New()[page.HeaderSize:]
	src := newNode(srcBody, true)
	src.setNkeys(3)
	src.setOffset(0, 0)
	src.appendLeafKV(0, []byte("a"), RecordID{PageID: 1})
	src.appendLeafKV(1, []byte("b"), RecordID{PageID: 2})
	src.appendLeafKV(2, []byte("c"), RecordID{PageID: 3})

	dstBody := page.New()[page.HeaderSize:]
	dst := newNode(dstBody, true)
	dst.setNkeys(2)
	dst.setOffset(0, 0)
	appendRange(dst, src, 0, 1, 2)

	require.Equal(t, []byte("b"), dst.getKey(0))
	require.Equal(t, []byte("c"), dst.getKey(1))
}
