// Package wal implements the page-image write-ahead log every mutating page
// write goes through before it is considered durable (spec.md §2,
// component C5): each record carries the full after-image of one page,
// tagged with the LSN that produced it, so recovery is a pure "is this
// record newer than what's on the page" replay.
package wal

import "errors"

var (
	// ErrCorrupted indicates a CRC32 mismatch on a WAL record.
	ErrCorrupted = errors.New("wal: corrupted record")

	// ErrLogClosed indicates an operation on a closed WAL.
	ErrLogClosed = errors.New("wal: log closed")

	// ErrTruncated indicates a record whose payload runs past EOF.
	ErrTruncated = errors.New("wal: truncated record")
)
