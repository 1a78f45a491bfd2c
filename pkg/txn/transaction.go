package txn

import (
	"sync"
	"time"

	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// State is a Transaction's lifecycle position.
type State int

const (
	Active State = iota
	Committed
	RolledBack
	Failed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction buffers an ordered log of operations instead of applying
// them in place: reads merge the log over the store's current state by
// _id, and nothing touches the store until Commit replays the log.
type Transaction struct {
	mu sync.Mutex

	id       string
	store    Store
	deadline time.Time

	state   State
	log     []op
	applied int // prefix of log already replayed against store (commit progress)

	savepoints []int
}

func newTransaction(id string, store Store, timeout time.Duration) *Transaction {
	t := &Transaction{id: id, store: store, state: Active}
	if timeout > 0 {
		t.deadline = time.Now().Add(timeout)
	}
	return t
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Active && !t.deadline.IsZero() && now.After(t.deadline)
}

func (t *Transaction) requireActive(op string) error {
	if t.state != Active {
		return tinyerr.New(tinyerr.KindConflict, "txn.Transaction."+op,
			"transaction is "+t.state.String()+", not active")
	}
	return nil
}

// Insert logs a pending insert. It does not touch the store.
func (t *Transaction) Insert(collection string, doc *bson.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("Insert"); err != nil {
		return err
	}
	t.log = append(t.log, &insertOp{coll: collection, doc: doc.Clone()})
	return nil
}

// Update logs a pending update, capturing the document's current merged
// state (store plus this transaction's own prior writes) as the
// before-image for rollback.
func (t *Transaction) Update(collection string, doc *bson.Document) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("Update"); err != nil {
		return err
	}
	before, ok, err := t.findMergedLocked(collection, idOf(doc))
	if err != nil {
		return err
	}
	if !ok {
		return tinyerr.New(tinyerr.KindNotFound, "txn.Transaction.Update", "document not found")
	}
	t.log = append(t.log, &updateOp{coll: collection, before: before, after: doc.Clone()})
	return nil
}

// Delete logs a pending delete, capturing the before-image for rollback.
func (t *Transaction) Delete(collection string, id bson.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("Delete"); err != nil {
		return err
	}
	before, ok, err := t.findMergedLocked(collection, id)
	if err != nil {
		return err
	}
	if !ok {
		return tinyerr.New(tinyerr.KindNotFound, "txn.Transaction.Delete", "document not found")
	}
	t.log = append(t.log, &deleteOp{coll: collection, before: before})
	return nil
}

// CreateIndex logs a pending index creation. Rolling back the applied op
// drops the index by name; an index that already existed under that name is
// not captured, so it is dropped as well and not restored.
func (t *Transaction) CreateIndex(collection, name string, fields []string, unique bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("CreateIndex"); err != nil {
		return err
	}
	t.log = append(t.log, &createIndexOp{coll: collection, name: name, fields: fields, unique: unique})
	return nil
}

// DropIndex logs a pending index drop.
func (t *Transaction) DropIndex(collection, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("DropIndex"); err != nil {
		return err
	}
	fields, unique, ok := t.store.IndexShape(collection, name)
	t.log = append(t.log, &dropIndexOp{
		coll: collection, name: name,
		hadPrior: ok, priorFields: fields, priorUnique: unique,
	})
	return nil
}

// FindByID returns collection's document under id as this transaction
// currently sees it: the store's committed state with this transaction's
// own pending log entries applied on top.
func (t *Transaction) FindByID(collection string, id bson.Value) (*bson.Document, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.findMergedLocked(collection, id)
}

func (t *Transaction) findMergedLocked(collection string, id bson.Value) (*bson.Document, bool, error) {
	cur, ok, err := t.store.FindByID(collection, id)
	if err != nil {
		return nil, false, err
	}
	for _, o := range t.log {
		if o.collection() != collection {
			continue
		}
		switch e := o.(type) {
		case *insertOp:
			if bson.Equal(idOf(e.doc), id) {
				cur, ok = e.doc, true
			}
		case *updateOp:
			if bson.Equal(idOf(e.after), id) {
				cur, ok = e.after, true
			}
		case *deleteOp:
			if bson.Equal(idOf(e.before), id) {
				cur, ok = nil, false
			}
		}
	}
	if !ok {
		return nil, false, nil
	}
	return cur.Clone(), true, nil
}

// Savepoint returns a token identifying the log's current length, for a
// later RollbackTo.
func (t *Transaction) Savepoint() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	mark := len(t.log)
	t.savepoints = append(t.savepoints, mark)
	return mark
}

// RollbackTo discards every log entry recorded after savepoint and any
// savepoint token recorded after it. Since nothing in the log has touched
// the store yet, this is pure in-memory bookkeeping.
func (t *Transaction) RollbackTo(savepoint int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("RollbackTo"); err != nil {
		return err
	}
	if savepoint < 0 || savepoint > len(t.log) {
		return tinyerr.New(tinyerr.KindInvalidArgument, "txn.Transaction.RollbackTo", "unknown savepoint")
	}
	t.log = t.log[:savepoint]
	kept := t.savepoints[:0]
	for _, sp := range t.savepoints {
		if sp <= savepoint {
			kept = append(kept, sp)
		}
	}
	t.savepoints = kept
	return nil
}

// Commit validates that no two logged inserts collide on the same
// (collection, _id), then replays the log against the store in order. The
// first replay failure stops commit immediately, leaving the transaction
// Failed with whatever prefix of the log was already applied; the caller
// may then call Rollback to undo that prefix.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive("Commit"); err != nil {
		return err
	}

	var inserts []*insertOp
	for _, o := range t.log {
		if ins, ok := o.(*insertOp); ok {
			inserts = append(inserts, ins)
		}
	}
	for i := 0; i < len(inserts); i++ {
		for j := i + 1; j < len(inserts); j++ {
			if inserts[i].coll == inserts[j].coll && bson.Equal(idOf(inserts[i].doc), idOf(inserts[j].doc)) {
				t.state = Failed
				return tinyerr.New(tinyerr.KindDuplicateKey, "txn.Transaction.Commit",
					"transaction inserts the same document twice")
			}
		}
	}

	for i, o := range t.log {
		if err := o.apply(t.store); err != nil {
			t.applied = i
			t.state = Failed
			return err
		}
	}
	t.applied = len(t.log)
	t.state = Committed
	return nil
}

// Rollback undoes the prefix of the log that Commit managed to apply (zero
// entries for a transaction that never committed) by invoking each
// applied op's inverse in reverse order, then discards the log.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == RolledBack {
		return nil
	}
	for i := t.applied - 1; i >= 0; i-- {
		if err := t.log[i].invert(t.store); err != nil {
			return err
		}
	}
	t.applied = 0
	t.log = nil
	t.state = RolledBack
	return nil
}
