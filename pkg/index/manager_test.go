package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/btree"
	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	disk, err := page.Open(filepath.Join(t.TempDir(), "idx.tinydb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	cache := pagecache.New(disk, 256)
	alloc := pagecache.NewAllocator(disk, cache, 0, 0, 0, 0)
	return NewManager(cache, alloc)
}

func docWith(id int, age int32) *bson.Document {
	return bson.NewDocument().
		Set("_id", bson.Int32V(int32(id))).
		Set("age", bson.Int32V(age))
}

func TestCreateIndexIsIdempotentForSameShape(t *testing.T) {
	m := newTestManager(t)
	def1, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	def2, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	require.Equal(t, def1, def2)
}

func TestCreateIndexRejectsShapeChange(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	_, err = m.CreateIndex("by_age", []string{"age"}, true)
	require.Error(t, err)
}

func TestIndexInsertAndFind(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)

	doc := docWith(1, 30)
	rid := btree.RecordID{PageID: 1, Slot: 0}
	require.NoError(t, m.IndexInsert(doc, rid))

	rids, err := m.Find("by_age", []bson.Value{bson.Int32V(30)})
	require.NoError(t, err)
	require.Equal(t, []btree.RecordID{rid}, rids)
}

func TestIndexInsertRollsBackOnUniqueViolation(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	_, err = m.CreateIndex("by_id", []string{"_id"}, true)
	require.NoError(t, err)

	first := docWith(1, 30)
	require.NoError(t, m.IndexInsert(first, btree.RecordID{PageID: 1}))

	dup := docWith(1, 40)
	err = m.IndexInsert(dup, btree.RecordID{PageID: 2})
	require.Error(t, err)

	// by_age must not retain dup's key: the earlier successful index write
	// in this failed operation should have been rolled back.
	rids, err := m.Find("by_age", []bson.Value{bson.Int32V(40)})
	require.NoError(t, err)
	require.Empty(t, rids)
}

func TestIndexUpdateMovesKey(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)

	rid := btree.RecordID{PageID: 1}
	old := docWith(1, 30)
	require.NoError(t, m.IndexInsert(old, rid))

	updated := docWith(1, 31)
	require.NoError(t, m.IndexUpdate(old, updated, rid))

	rids, err := m.Find("by_age", []bson.Value{bson.Int32V(30)})
	require.NoError(t, err)
	require.Empty(t, rids)

	rids, err = m.Find("by_age", []bson.Value{bson.Int32V(31)})
	require.NoError(t, err)
	require.Equal(t, []btree.RecordID{rid}, rids)
}

func TestIndexUpdateRollsBackOnUniqueViolation(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, true)
	require.NoError(t, err)

	ridA := btree.RecordID{PageID: 1}
	ridB := btree.RecordID{PageID: 2}
	a := docWith(1, 30)
	b := docWith(2, 31)
	require.NoError(t, m.IndexInsert(a, ridA))
	require.NoError(t, m.IndexInsert(b, ridB))

	bUpdated := docWith(2, 30)
	err = m.IndexUpdate(b, bUpdated, ridB)
	require.Error(t, err)

	rids, err := m.Find("by_age", []bson.Value{bson.Int32V(31)})
	require.NoError(t, err)
	require.Equal(t, []btree.RecordID{ridB}, rids, "old key should be restored after rollback")
}

func TestIndexDeleteRemovesKey(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)

	rid := btree.RecordID{PageID: 1}
	doc := docWith(1, 30)
	require.NoError(t, m.IndexInsert(doc, rid))
	require.NoError(t, m.IndexDelete(doc, rid))

	rids, err := m.Find("by_age", []bson.Value{bson.Int32V(30)})
	require.NoError(t, err)
	require.Empty(t, rids)
}

func TestDropIndexFreesPagesAndRemovesDefinition(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	require.NoError(t, m.IndexInsert(docWith(1, 30), btree.RecordID{PageID: 1}))

	require.NoError(t, m.DropIndex("by_age"))
	_, ok := m.Get("by_age")
	require.False(t, ok)
}

func TestGetBestIndexScoresPrefixMatch(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateIndex("by_age", []string{"age"}, false)
	require.NoError(t, err)
	_, err = m.CreateIndex("by_name_age", []string{"name", "age"}, false)
	require.NoError(t, err)

	best, ok := m.GetBestIndex([]string{"name", "age"})
	require.True(t, ok)
	require.Equal(t, "by_name_age", best.Name)

	best, ok = m.GetBestIndex([]string{"age"})
	require.True(t, ok)
	require.Equal(t, "by_age", best.Name)

	_, ok = m.GetBestIndex([]string{"unrelated"})
	require.False(t, ok)
}
