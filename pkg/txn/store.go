// Package txn implements TinyDb's transaction runtime (spec.md §4.7,
// component C14): an ordered operation log with before-images, replayed
// against the engine's non-transactional APIs on commit and reversible by
// walking the log backwards, grounded on the document-maintenance pattern
// in pkg/storage/collection.go and the index fan-out in pkg/index.Manager.
package txn

import "github.com/tinydb-go/tinydb/pkg/bson"

// Store is the non-transactional surface a Transaction replays its log
// against. The engine's Collection type satisfies it; tests can supply a
// fake.
type Store interface {
	Insert(collection string, doc *bson.Document) error
	Update(collection string, doc *bson.Document) error
	Delete(collection string, id bson.Value) (bool, error)
	FindByID(collection string, id bson.Value) (*bson.Document, bool, error)
	CreateIndex(collection, name string, fields []string, unique bool) error
	DropIndex(collection, name string) error
	IndexShape(collection, name string) (fields []string, unique bool, ok bool)
}
