package engine

import "github.com/tinydb-go/tinydb/pkg/bson"

// storeAdapter implements txn.Store by dispatching to the engine's
// collections, letting a Transaction replay its deferred log against the
// same Insert/Update/Delete/Index* paths an unbuffered caller uses.
type storeAdapter struct {
	e *Engine
}

func (a *storeAdapter) Insert(collection string, doc *bson.Document) error {
	c, err := a.e.Collection(collection)
	if err != nil {
		return err
	}
	return c.Insert(doc)
}

func (a *storeAdapter) Update(collection string, doc *bson.Document) error {
	c, err := a.e.Collection(collection)
	if err != nil {
		return err
	}
	return c.Update(doc)
}

func (a *storeAdapter) Delete(collection string, id bson.Value) (bool, error) {
	c, err := a.e.Collection(collection)
	if err != nil {
		return false, err
	}
	return c.Delete(id)
}

func (a *storeAdapter) FindByID(collection string, id bson.Value) (*bson.Document, bool, error) {
	c, err := a.e.Collection(collection)
	if err != nil {
		return nil, false, err
	}
	return c.FindByID(id)
}

func (a *storeAdapter) CreateIndex(collection, name string, fields []string, unique bool) error {
	c, err := a.e.Collection(collection)
	if err != nil {
		return err
	}
	return c.EnsureIndex(name, fields, unique)
}

func (a *storeAdapter) DropIndex(collection, name string) error {
	c, err := a.e.Collection(collection)
	if err != nil {
		return err
	}
	return c.DropIndex(name)
}

func (a *storeAdapter) IndexShape(collection, name string) (fields []string, unique bool, ok bool) {
	c, err := a.e.Collection(collection)
	if err != nil {
		return nil, false, false
	}
	return c.IndexShape(name)
}
