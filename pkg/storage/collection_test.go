package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
)

func newTestCollection(t *testing.T) *CollectionState {
	t.Helper()
	disk, err := page.Open(filepath.Join(t.TempDir(), "coll.tinydb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	cache := pagecache.New(disk, 64)
	alloc := pagecache.NewAllocator(disk, cache, 0, 0, 0, 0)
	pages := NewDataPageAccess(cache, alloc)
	large := NewLargeDocStore(cache, alloc)

	return NewCollectionState("widgets", CollectionMeta{Name: "widgets"}, pages, large)
}

func doc(id int32, name string) *bson.Document {
	return bson.NewDocument().Set("_id", bson.Int32V(id)).Set("name", bson.StringV(name))
}

func TestCollectionInsertGetDelete(t *testing.T) {
	c := newTestCollection(t)

	require.NoError(t, c.Insert(doc(1, "alpha")))
	require.NoError(t, c.Insert(doc(2, "beta")))

	got, ok, err := c.Get(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := got.Get("name")
	require.Equal(t, "alpha", name.Str)

	deleted, err := c.Delete(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err = c.Get(bson.Int32V(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCollectionInsertDuplicateIDFails(t *testing.T) {
	c := newTestCollection(t)
	require.NoError(t, c.Insert(doc(1, "alpha")))
	err := c.Insert(doc(1, "alpha-again"))
	require.Error(t, err)
}

func TestCollectionUpdateReplacesDocument(t *testing.T) {
	c := newTestCollection(t)
	require.NoError(t, c.Insert(doc(1, "alpha")))

	updated := doc(1, "alpha-v2")
	require.NoError(t, c.Update(updated))

	got, ok, err := c.Get(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := got.Get("name")
	require.Equal(t, "alpha-v2", name.Str)
}

func TestCollectionScanVisitsAllLiveDocuments(t *testing.T) {
	c := newTestCollection(t)
	for i := int32(0); i < 10; i++ {
		require.NoError(t, c.Insert(doc(i, "item")))
	}
	_, err := c.Delete(bson.Int32V(3))
	require.NoError(t, err)

	count := 0
	require.NoError(t, c.Scan(func(d *bson.Document) bool {
		count++
		return true
	}))
	require.Equal(t, 9, count)
}

func TestCollectionLargeDocumentUsesOverflow(t *testing.T) {
	c := newTestCollection(t)
	big := make([]byte, page.Size*3)
	for i := range big {
		big[i] = byte(i)
	}
	d := bson.NewDocument().Set("_id", bson.Int32V(1)).Set("blob", bson.BinaryV(0, big))
	require.NoError(t, c.Insert(d))

	got, ok, err := c.Get(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok)
	blob, _ := got.Get("blob")
	require.Equal(t, big, blob.Bin)

	deleted, err := c.Delete(bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestCollectionMetaStorePersistsEntries(t *testing.T) {
	disk, err := page.Open(filepath.Join(t.TempDir(), "meta.tinydb"))
	require.NoError(t, err)
	defer disk.Close()
	cache := pagecache.New(disk, 64)
	alloc := pagecache.NewAllocator(disk, cache, 0, 0, 0, 0)
	pages := NewDataPageAccess(cache, alloc)

	store, err := OpenCollectionMetaStore(pages, 0)
	require.NoError(t, err)

	require.NoError(t, store.Put(CollectionMeta{Name: "widgets", FirstDataPageID: 5}))
	require.NoError(t, store.Put(CollectionMeta{Name: "gadgets", FirstDataPageID: 8}))

	reopened, err := OpenCollectionMetaStore(pages, store.RootPageID())
	require.NoError(t, err)

	m, ok, err := reopened.Get("widgets")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(5), m.FirstDataPageID)

	require.NoError(t, reopened.Drop("gadgets"))
	_, ok, err = reopened.Get("gadgets")
	require.NoError(t, err)
	require.False(t, ok)
}
