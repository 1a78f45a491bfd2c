package engine

import "github.com/tinydb-go/tinydb/pkg/bson"

// SchemaValidator is an external collaborator a caller can supply at Open
// to gate writes per collection (spec.md §1 names this as an in-scope
// collaborator interface). A nil validator, or SchemaValidationOff, means
// every write is accepted unchecked.
type SchemaValidator interface {
	Validate(collection string, doc *bson.Document) error
}
