package txn

import "github.com/tinydb-go/tinydb/pkg/bson"

// op is one logged action. apply replays it against the store during
// Commit; invert runs the compensating action during Rollback, walking
// already-applied ops in reverse.
type op interface {
	collection() string
	apply(s Store) error
	invert(s Store) error
}

func idOf(doc *bson.Document) bson.Value {
	v, _ := doc.Get("_id")
	return v
}

type insertOp struct {
	coll string
	doc  *bson.Document
}

func (o *insertOp) collection() string   { return o.coll }
func (o *insertOp) apply(s Store) error  { return s.Insert(o.coll, o.doc) }
func (o *insertOp) invert(s Store) error { _, err := s.Delete(o.coll, idOf(o.doc)); return err }

type updateOp struct {
	coll   string
	before *bson.Document
	after  *bson.Document
}

func (o *updateOp) collection() string   { return o.coll }
func (o *updateOp) apply(s Store) error  { return s.Update(o.coll, o.after) }
func (o *updateOp) invert(s Store) error { return s.Update(o.coll, o.before) }

type deleteOp struct {
	coll   string
	before *bson.Document
}

func (o *deleteOp) collection() string   { return o.coll }
func (o *deleteOp) apply(s Store) error  { _, err := s.Delete(o.coll, idOf(o.before)); return err }
func (o *deleteOp) invert(s Store) error { return s.Insert(o.coll, o.before) }

type createIndexOp struct {
	coll   string
	name   string
	fields []string
	unique bool
}

func (o *createIndexOp) collection() string { return o.coll }
func (o *createIndexOp) apply(s Store) error {
	return s.CreateIndex(o.coll, o.name, o.fields, o.unique)
}
func (o *createIndexOp) invert(s Store) error { return s.DropIndex(o.coll, o.name) }

// dropIndexOp captures the definition it displaced (if any existed at the
// time it was logged) so invert can recreate it.
type dropIndexOp struct {
	coll         string
	name         string
	hadPrior     bool
	priorFields  []string
	priorUnique  bool
}

func (o *dropIndexOp) collection() string  { return o.coll }
func (o *dropIndexOp) apply(s Store) error { return s.DropIndex(o.coll, o.name) }
func (o *dropIndexOp) invert(s Store) error {
	if !o.hadPrior {
		return nil
	}
	return s.CreateIndex(o.coll, o.name, o.priorFields, o.priorUnique)
}
