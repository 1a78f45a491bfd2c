// Package tinyerr defines the error taxonomy shared by every TinyDb component.
package tinyerr

import (
	"errors"
	"fmt"
)

// Kind classifies a TinyDb error so callers can branch on cause rather than message text.
type Kind int

const (
	// KindIO covers failed file operations (read/write/fsync/seek).
	KindIO Kind = iota + 1
	// KindCorruption covers header/CRC/LSN mismatches and structurally invalid B+trees.
	KindCorruption
	// KindInvalidArgument covers bad option values, empty names, malformed requests.
	KindInvalidArgument
	// KindDuplicateKey covers unique-index violations and duplicate _id inserts in one transaction.
	KindDuplicateKey
	// KindNotFound covers drop/find of an absent collection, index or document.
	KindNotFound
	// KindTooLarge covers a record that does not fit in one page and a
	// Begin past the open-transaction limit.
	KindTooLarge
	// KindConflict covers transaction-state transitions that are not legal.
	KindConflict
	// KindDisposed covers operations attempted after Close.
	KindDisposed
	// KindTimeout covers transactions that aged out past their configured timeout.
	KindTimeout
	// KindAuth covers a failed password check.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindCorruption:
		return "Corruption"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindNotFound:
		return "NotFound"
	case KindTooLarge:
		return "TooLarge"
	case KindConflict:
		return "Conflict"
	case KindDisposed:
		return "Disposed"
	case KindTimeout:
		return "Timeout"
	case KindAuth:
		return "Auth"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every TinyDb operation that can fail.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "engine.Open", "btree.Insert"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tinydb: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("tinydb: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
