package wal

import (
	"bufio"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// WAL is a single append-only log file. It grows until an explicit
// Checkpoint truncates it: truncation is tied to "every page image durably
// applied", not to a size threshold, so there is no segment rotation here.
type WAL struct {
	path string

	mu     sync.Mutex
	fd     *os.File
	bw     *bufio.Writer
	lsn    uint64
	closed bool
}

// Open opens or creates the WAL file at path and positions for appending.
// If the file already holds records, the in-memory LSN counter resumes
// from the highest LSN found by a full forward scan.
func Open(path string) (*WAL, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	w := &WAL{path: path, fd: fd}

	maxLSN, err := scanHighestLSN(fd)
	if err != nil {
		_ = fd.Close()
		return nil, err
	}
	atomic.StoreUint64(&w.lsn, maxLSN)

	if _, err := fd.Seek(0, io.SeekEnd); err != nil {
		_ = fd.Close()
		return nil, err
	}
	w.bw = bufio.NewWriter(fd)
	return w, nil
}

// NextLSN allocates and returns the next Log Sequence Number.
func (w *WAL) NextLSN() uint64 { return atomic.AddUint64(&w.lsn, 1) }

// Append buffers a record for writing. It does not guarantee durability;
// call Flush and/or Sync per the caller's write concern.
func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	_, err := w.bw.Write(r.Encode())
	return err
}

// Flush pushes buffered bytes to the OS (not necessarily to disk).
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	return w.bw.Flush()
}

// Sync flushes buffered bytes and fsyncs the file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.fd.Sync()
}

// Truncate discards every record in the log. Callers must have already
// ensured every record's page image is durable in the data file (i.e. this
// is only safe to call from Checkpoint).
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrLogClosed
	}
	if err := w.fd.Truncate(0); err != nil {
		return err
	}
	if _, err := w.fd.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.bw.Reset(w.fd)
	return nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		_ = w.fd.Close()
		w.closed = true
		return err
	}
	err := w.fd.Close()
	w.closed = true
	return err
}

// scanHighestLSN reads every well-formed record from the start of the file
// and returns the highest LSN seen, tolerating a malformed trailing record
// left by a crash mid-write (spec.md's replay tolerance requirement).
func scanHighestLSN(fd *os.File) (uint64, error) {
	if _, err := fd.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(fd)
	if err != nil {
		return 0, err
	}

	var maxLSN uint64
	pos := 0
	for pos < len(data) {
		rec, n, err := DecodeRecord(data[pos:])
		if err != nil {
			break // malformed trailing record: stop, don't error
		}
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		pos += n
	}
	return maxLSN, nil
}
