package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// DiskFile is the single-file backing store every page is read from and
// written to. It opens (or creates) the file with a directory fsync, but
// addresses pages by explicit ReadAt/WriteAt rather than mmap: the WAL and
// PageCache own freshness and durability, so there is no copy-on-write page
// table to maintain here.
type DiskFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates the file if absent and fsyncs its parent directory so the
// directory entry itself survives a crash immediately after creation.
func Open(path string) (*DiskFile, error) {
	const op = "page.Open"

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, tinyerr.Wrap(tinyerr.KindIO, op, err)
	}

	dirfd, err := syscall.Open(filepath.Dir(path), os.O_RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	syncErr := syscall.Fsync(dirfd)
	_ = syscall.Close(dirfd)
	if syncErr != nil {
		_ = f.Close()
		return nil, tinyerr.Wrap(tinyerr.KindIO, op, syncErr)
	}

	return &DiskFile{path: path, f: f}, nil
}

// PageCount reports how many whole pages the file currently holds.
func (df *DiskFile) PageCount() (uint32, error) {
	const op = "page.DiskFile.PageCount"
	df.mu.Lock()
	defer df.mu.Unlock()

	info, err := df.f.Stat()
	if err != nil {
		return 0, tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	return uint32(info.Size() / Size), nil
}

// ReadPage reads the full Size bytes of page id into a fresh buffer.
func (df *DiskFile) ReadPage(id uint32) ([]byte, error) {
	const op = "page.DiskFile.ReadPage"
	buf := New()

	df.mu.Lock()
	_, err := df.f.ReadAt(buf, int64(id)*Size)
	df.mu.Unlock()
	if err != nil {
		return nil, tinyerr.Wrap(tinyerr.KindIO, op, fmt.Errorf("page %d: %w", id, err))
	}
	return buf, nil
}

// WritePage writes exactly Size bytes of data to page id.
func (df *DiskFile) WritePage(id uint32, data []byte) error {
	const op = "page.DiskFile.WritePage"
	if len(data) != Size {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "page buffer must be page.Size bytes")
	}

	df.mu.Lock()
	_, err := df.f.WriteAt(data, int64(id)*Size)
	df.mu.Unlock()
	if err != nil {
		return tinyerr.Wrap(tinyerr.KindIO, op, fmt.Errorf("page %d: %w", id, err))
	}
	return nil
}

// Grow extends the file so it holds at least count pages, zero-filling the
// new tail. PageAllocator calls this when its free list is exhausted.
func (df *DiskFile) Grow(count uint32) error {
	const op = "page.DiskFile.Grow"
	df.mu.Lock()
	defer df.mu.Unlock()

	info, err := df.f.Stat()
	if err != nil {
		return tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	if info.Size() >= int64(count)*Size {
		return nil
	}
	if err := df.f.Truncate(int64(count) * Size); err != nil {
		return tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	return nil
}

// Sync flushes any buffered writes and the file's metadata to stable
// storage. FlushScheduler calls this at the WriteConcernSynced boundary.
func (df *DiskFile) Sync() error {
	const op = "page.DiskFile.Sync"
	df.mu.Lock()
	defer df.mu.Unlock()

	if err := df.f.Sync(); err != nil {
		return tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (df *DiskFile) Close() error {
	const op = "page.DiskFile.Close"
	df.mu.Lock()
	defer df.mu.Unlock()

	if err := df.f.Close(); err != nil {
		return tinyerr.Wrap(tinyerr.KindIO, op, err)
	}
	return nil
}

// Path returns the filesystem path this DiskFile was opened from.
func (df *DiskFile) Path() string { return df.path }
