package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
)

func newTestTree(t *testing.T, unique bool) *BTree {
	t.Helper()
	disk, err := page.Open(filepath.Join(t.TempDir(), "idx.tinydb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	cache := pagecache.New(disk, 256)
	alloc := pagecache.NewAllocator(disk, cache, 0, 0, 0, 0)
	return New(cache, alloc, unique, 0)
}

func keyFor(i int) []byte { return []byte(fmt.Sprintf("key-%05d", i)) }

func TestInsertFindSingle(t *testing.T) {
	tree := newTestTree(t, true)
	require.NoError(t, tree.Insert(keyFor(1), RecordID{PageID: 1, Slot: 0}))

	rids, err := tree.Find(keyFor(1))
	require.NoError(t, err)
	require.Equal(t, []RecordID{{PageID: 1, Slot: 0}}, rids)
}

func TestInsertManyCausesSplits(t *testing.T) {
	tree := newTestTree(t, true)
	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(keyFor(i), RecordID{PageID: uint32(i), Slot: 0}))
	}

	height, err := tree.Height()
	require.NoError(t, err)
	require.Greater(t, height, 0, "tree should have split into multiple levels")

	for i := 0; i < n; i++ {
		rids, err := tree.Find(keyFor(i))
		require.NoError(t, err)
		require.Equal(t, []RecordID{{PageID: uint32(i), Slot: 0}}, rids)
	}
}

func TestUniqueInsertRejectsDuplicate(t *testing.T) {
	tree := newTestTree(t, true)
	require.NoError(t, tree.Insert(keyFor(1), RecordID{PageID: 1, Slot: 0}))
	err := tree.Insert(keyFor(1), RecordID{PageID: 2, Slot: 0})
	require.Error(t, err)
}

func TestDuplicateKeysAllowedWhenNotUnique(t *testing.T) {
	tree := newTestTree(t, false)
	require.NoError(t, tree.Insert(keyFor(1), RecordID{PageID: 1, Slot: 0}))
	require.NoError(t, tree.Insert(keyFor(1), RecordID{PageID: 2, Slot: 0}))

	rids, err := tree.Find(keyFor(1))
	require.NoError(t, err)
	require.ElementsMatch(t, []RecordID{{PageID: 1, Slot: 0}, {PageID: 2, Slot: 0}}, rids)
}

func TestRangeScanOrdersAndBounds(t *testing.T) {
	tree := newTestTree(t, true)
	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(keyFor(i), RecordID{PageID: uint32(i), Slot: 0}))
	}

	var seen []int
	err := tree.Range(keyFor(50), keyFor(60), func(key []byte, rid RecordID) bool {
		seen = append(seen, int(rid.PageID))
		return true
	})
	require.NoError(t, err)
	require.Len(t, seen, 11)
	for i, v := range seen {
		require.Equal(t, 50+i, v)
	}
}

func TestDeleteRemovesEntryAndRebalances(t *testing.T) {
	tree := newTestTree(t, true)
	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Insert(keyFor(i), RecordID{PageID: uint32(i), Slot: 0}))
	}

	for i := 0; i < n; i += 2 {
		ok, err := tree.Delete(keyFor(i), RecordID{PageID: uint32(i), Slot: 0})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := 0; i < n; i++ {
		rids, err := tree.Find(keyFor(i))
		require.NoError(t, err)
		if i%2 == 0 {
			require.Empty(t, rids)
		} else {
			require.Equal(t, []RecordID{{PageID: uint32(i), Slot: 0}}, rids)
		}
	}
}

func TestDeleteMissingKeyReportsNotFound(t *testing.T) {
	tree := newTestTree(t, true)
	ok, err := tree.Delete(keyFor(1), RecordID{PageID: 1, Slot: 0})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReopenPreservesTree(t *testing.T) {
	tree := newTestTree(t, true)
	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Insert(keyFor(i), RecordID{PageID: uint32(i), Slot: 0}))
	}

	reopened := Open(tree.cache, tree.alloc, tree.Root, true, 0)
	rids, err := reopened.Find(keyFor(25))
	require.NoError(t, err)
	require.Equal(t, []RecordID{{PageID: 25, Slot: 0}}, rids)
}
