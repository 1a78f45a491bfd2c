package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/bson"
)

// fakeStore is an in-memory Store used to exercise Transaction/Manager
// without the full engine.
type fakeStore struct {
	docs    map[string]map[string]*bson.Document // collection -> idKey -> doc
	indexes map[string]map[string]fakeIndex       // collection -> name -> shape
}

type fakeIndex struct {
	fields []string
	unique bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    make(map[string]map[string]*bson.Document),
		indexes: make(map[string]map[string]fakeIndex),
	}
}

func keyOf(v bson.Value) string { return string(bson.Marshal(bson.NewDocument().Set("_id", v))) }

func (s *fakeStore) Insert(collection string, doc *bson.Document) error {
	id, _ := doc.Get("_id")
	m, ok := s.docs[collection]
	if !ok {
		m = make(map[string]*bson.Document)
		s.docs[collection] = m
	}
	k := keyOf(id)
	if _, exists := m[k]; exists {
		return errDuplicate
	}
	m[k] = doc.Clone()
	return nil
}

func (s *fakeStore) Update(collection string, doc *bson.Document) error {
	id, _ := doc.Get("_id")
	m := s.docs[collection]
	if m == nil {
		return errNotFound
	}
	k := keyOf(id)
	if _, exists := m[k]; !exists {
		return errNotFound
	}
	m[k] = doc.Clone()
	return nil
}

func (s *fakeStore) Delete(collection string, id bson.Value) (bool, error) {
	m := s.docs[collection]
	if m == nil {
		return false, nil
	}
	k := keyOf(id)
	if _, exists := m[k]; !exists {
		return false, nil
	}
	delete(m, k)
	return true, nil
}

func (s *fakeStore) FindByID(collection string, id bson.Value) (*bson.Document, bool, error) {
	m := s.docs[collection]
	if m == nil {
		return nil, false, nil
	}
	doc, ok := m[keyOf(id)]
	if !ok {
		return nil, false, nil
	}
	return doc.Clone(), true, nil
}

func (s *fakeStore) CreateIndex(collection, name string, fields []string, unique bool) error {
	m, ok := s.indexes[collection]
	if !ok {
		m = make(map[string]fakeIndex)
		s.indexes[collection] = m
	}
	m[name] = fakeIndex{fields: fields, unique: unique}
	return nil
}

func (s *fakeStore) DropIndex(collection, name string) error {
	if m := s.indexes[collection]; m != nil {
		delete(m, name)
	}
	return nil
}

func (s *fakeStore) IndexShape(collection, name string) ([]string, bool, bool) {
	m := s.indexes[collection]
	if m == nil {
		return nil, false, false
	}
	idx, ok := m[name]
	if !ok {
		return nil, false, false
	}
	return idx.fields, idx.unique, true
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const (
	errDuplicate = simpleErr("duplicate")
	errNotFound  = simpleErr("not found")
)

func doc(id int32, name string) *bson.Document {
	return bson.NewDocument().Set("_id", bson.Int32V(id)).Set("name", bson.StringV(name))
}

func TestTransactionInsertIsInvisibleUntilCommit(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 0, 0)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Insert("widgets", doc(1, "a")))
	_, ok, err := store.FindByID("widgets", bson.Int32V(1))
	require.NoError(t, err)
	require.False(t, ok, "store must not see the insert before commit")

	found, ok, err := tx.FindByID("widgets", bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok, "transaction must see its own pending insert")
	require.Equal(t, "a", found.GetOr("name", bson.Null()).Str)

	require.NoError(t, tx.Commit())
	stored, ok, err := store.FindByID("widgets", bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", stored.GetOr("name", bson.Null()).Str)
}

func TestTransactionRollbackUndoesCommittedOps(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 0, 0)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Insert("widgets", doc(1, "a")))
	require.NoError(t, tx.Commit())
	require.Equal(t, Committed, tx.State())

	require.NoError(t, tx.Rollback())
	_, ok, err := store.FindByID("widgets", bson.Int32V(1))
	require.NoError(t, err)
	require.False(t, ok, "rollback should have deleted the committed insert")
	require.Equal(t, RolledBack, tx.State())
}

func TestTransactionUpdateThenDeleteRollback(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Insert("widgets", doc(1, "a")))

	mgr := NewManager(store, 0, 0)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Update("widgets", doc(1, "b")))
	require.NoError(t, tx.Delete("widgets", bson.Int32V(1)))
	require.NoError(t, tx.Commit())

	_, ok, _ := store.FindByID("widgets", bson.Int32V(1))
	require.False(t, ok)

	require.NoError(t, tx.Rollback())
	restored, ok, err := store.FindByID("widgets", bson.Int32V(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", restored.GetOr("name", bson.Null()).Str)
}

func TestSavepointDiscardsLaterOps(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 0, 0)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Insert("widgets", doc(1, "a")))
	sp := tx.Savepoint()
	require.NoError(t, tx.Insert("widgets", doc(2, "b")))
	require.NoError(t, tx.RollbackTo(sp))

	require.NoError(t, tx.Commit())
	_, ok, _ := store.FindByID("widgets", bson.Int32V(1))
	require.True(t, ok)
	_, ok, _ = store.FindByID("widgets", bson.Int32V(2))
	require.False(t, ok, "insert after the savepoint should have been discarded")
}

func TestCommitRejectsDuplicateInsertsWithinTheSameTransaction(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 0, 0)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Insert("widgets", doc(1, "a")))
	require.NoError(t, tx.Insert("widgets", doc(1, "a-again")))
	err = tx.Commit()
	require.Error(t, err)
	require.Equal(t, Failed, tx.State())
}

func TestBeginFailsAtMaxTransactions(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 1, 0)
	_, err := mgr.Begin()
	require.NoError(t, err)
	_, err = mgr.Begin()
	require.Error(t, err)
}

func TestReapExpiredMarksTimedOutTransactionsFailed(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(store, 0, time.Millisecond)
	tx, err := mgr.Begin()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	expired := mgr.ReapExpired()
	require.Contains(t, expired, tx.ID())
	require.Equal(t, Failed, tx.State())
}
