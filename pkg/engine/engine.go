package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/tinydb-go/tinydb/internal/logger"
	"github.com/tinydb-go/tinydb/internal/metrics"
	"github.com/tinydb-go/tinydb/pkg/bson"
	"github.com/tinydb-go/tinydb/pkg/index"
	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/storage"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
	"github.com/tinydb-go/tinydb/pkg/txn"
	"github.com/tinydb-go/tinydb/pkg/wal"
)

// Engine is the single-file database handle spec.md §6 describes: Open it
// once, get back Collections to read and write, Checkpoint/Compact/Close it
// when done. It wires together every lower layer (page, pagecache, wal,
// storage, btree, index, txn) behind one handle.
type Engine struct {
	opts Options

	disk  *page.DiskFile
	cache *pagecache.Cache
	alloc *pagecache.Allocator
	pages *storage.DataPageAccess
	large *storage.LargeDocStore

	wal          *wal.WAL
	checkpointer *wal.Checkpointer
	flusher      *pagecache.FlushScheduler

	metaStore *storage.CollectionMetaStore

	mu          sync.RWMutex // guards every page mutation below the catalog
	colMu       sync.Mutex   // guards the collections map only
	collections map[string]*Collection

	txns *txn.Manager

	sb superblock

	flushFailureStreak int

	log *logger.Logger
	met *metrics.Metrics

	closed bool
}

// Open opens the database file at path, creating it if absent.
func Open(path string, opts Options) (*Engine, error) {
	const op = "engine.Open"
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	disk, err := page.Open(path)
	if err != nil {
		return nil, err
	}
	count, err := disk.PageCount()
	if err != nil {
		_ = disk.Close()
		return nil, err
	}

	cache := pagecache.New(disk, opts.CacheSize)

	var sb superblock
	if count == 0 {
		if err := disk.Grow(1); err != nil {
			_ = disk.Close()
			return nil, err
		}
		blob, err := newSecurityBlob(opts.Password)
		if err != nil {
			_ = disk.Close()
			return nil, err
		}
		now := time.Now().UnixNano()
		sb = superblock{
			schemaVersion: currentSchemaVersion,
			journaling:    opts.EnableJournaling,
			pageSize:      uint32(page.Size),
			totalPages:    1,
			usedPages:     1,
			createdTicks:  now,
			modifiedTicks: now,
			databaseName:  opts.DatabaseName,
			securityBlob:  blob,
		}
		if err := disk.WritePage(metaPageID, writeSuperblock(sb)); err != nil {
			_ = disk.Close()
			return nil, err
		}
	} else {
		buf, err := disk.ReadPage(metaPageID)
		if err != nil {
			_ = disk.Close()
			return nil, err
		}
		sb, err = readSuperblock(buf)
		if err != nil {
			_ = disk.Close()
			return nil, err
		}
		if err := checkPassword(sb.securityBlob, opts.Password); err != nil {
			_ = disk.Close()
			return nil, err
		}
	}

	alloc := pagecache.NewAllocator(disk, cache, sb.freeListHeadPage, sb.freeListHeadSeq, sb.freeListTailPage, sb.freeListTailSeq)
	pages := storage.NewDataPageAccess(cache, alloc)
	large := storage.NewLargeDocStore(cache, alloc)

	var w *wal.WAL
	if opts.EnableJournaling {
		walPath := strings.ReplaceAll(opts.WALFileNameFormat, "{db}", path)
		w, err = wal.Open(walPath)
		if err != nil {
			_ = disk.Close()
			return nil, tinyerr.Wrap(tinyerr.KindIO, op, err)
		}
		sink := &walPageSink{disk: disk, cache: cache}
		if _, err := wal.NewRecovery(sink).Recover(walPath); err != nil {
			_ = w.Close()
			_ = disk.Close()
			return nil, err
		}
	}

	metaStore, err := storage.OpenCollectionMetaStore(pages, sb.collectionCatalogPage)
	if err != nil {
		if w != nil {
			_ = w.Close()
		}
		_ = disk.Close()
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	e := &Engine{
		opts:        opts,
		disk:        disk,
		cache:       cache,
		alloc:       alloc,
		pages:       pages,
		large:       large,
		wal:         w,
		metaStore:   metaStore,
		collections: make(map[string]*Collection),
		sb:          sb,
		log:         log,
		met:         opts.Metrics,
	}
	e.txns = txn.NewManager(&storeAdapter{e: e}, opts.MaxTransactions, opts.TransactionTimeout)

	if w != nil {
		e.checkpointer = wal.NewCheckpointer(w, func() error {
			if err := e.cache.FlushAll(); err != nil {
				return err
			}
			return e.disk.Sync()
		})
		e.checkpointer.Start()
	}
	if opts.BackgroundFlushInterval > 0 {
		var durable pagecache.Durable
		if w != nil {
			durable = w
		}
		e.flusher = pagecache.NewFlushScheduler(cache, durable, opts.BackgroundFlushInterval)
		e.flusher.Start()
	}

	e.log.LogEngineOpen(path, sb.totalPages)
	return e, nil
}

// walPageSink adapts the page cache/disk pair to wal.PageSink for recovery,
// keeping the wal package free of any dependency on page or pagecache.
type walPageSink struct {
	disk  *page.DiskFile
	cache *pagecache.Cache
}

func (s *walPageSink) CurrentLSN(pageID uint32) (uint64, error) {
	count, err := s.disk.PageCount()
	if err != nil {
		return 0, err
	}
	if pageID >= count {
		return 0, nil
	}
	buf, err := s.disk.ReadPage(pageID)
	if err != nil {
		return 0, err
	}
	h, ok := page.Decode(buf)
	if !ok {
		return 0, nil
	}
	return h.LSN, nil
}

func (s *walPageSink) ApplyPageImage(pageID uint32, payload []byte) error {
	count, err := s.disk.PageCount()
	if err != nil {
		return err
	}
	if pageID >= count {
		if err := s.disk.Grow(pageID + 1); err != nil {
			return err
		}
	}
	if err := s.disk.WritePage(pageID, payload); err != nil {
		return err
	}
	s.cache.Invalidate(pageID)
	return nil
}

// journalDirtyPages stamps every currently-dirty page with a fresh LSN and
// appends its full image to the WAL before the next flush can make it
// visible in the data file, satisfying spec.md's write-ahead ordering
// requirement. Journaling happens per collection operation rather than per
// individual page write: the engine holds mu for the whole operation, so no
// other writer can observe the dirty set mid-way, making the two orderings
// equivalent for a single-writer embedded engine.
func (e *Engine) journalDirtyPages() error {
	if e.wal == nil {
		return nil
	}
	const op = "engine.journalDirtyPages"
	for _, id := range e.cache.DirtyPages() {
		buf, err := e.cache.Get(id)
		if err != nil {
			return err
		}
		h, ok := page.Decode(buf)
		if !ok {
			continue
		}
		lsn := e.wal.NextLSN()
		h.LSN = lsn
		h.Encode(buf)
		e.cache.Put(id, buf)
		start := time.Now()
		if err := e.wal.Append(&wal.Record{LSN: lsn, Op: wal.OpPageImage, PageID: id, Payload: append([]byte(nil), buf...)}); err != nil {
			return tinyerr.Wrap(tinyerr.KindIO, op, err)
		}
		if e.met != nil {
			e.met.RecordWalAppend(time.Since(start))
		}
	}
	return nil
}

// commitWrite persists c's catalog entry (its data-page bounds and index
// definitions may have just changed) and journals every page the operation
// touched, then honors the configured write concern.
func (e *Engine) commitWrite(c *Collection) error {
	start := time.Now()
	meta := c.state.Meta()
	meta.Indexes = toIndexMeta(c.indexes.Definitions())
	if err := e.metaStore.Put(meta); err != nil {
		return err
	}
	if err := e.journalDirtyPages(); err != nil {
		return err
	}

	var err error
	if e.flusher != nil {
		err = e.flusher.EnsureDurability(e.opts.WriteConcern)
	} else if e.opts.WriteConcern == pagecache.WriteConcernSynced {
		err = e.cache.FlushAll()
	}

	if e.met != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.met.RecordDbOperation("commit", status, time.Since(start))
	}
	return err
}

func toIndexMeta(defs []index.Definition) []storage.IndexMeta {
	out := make([]storage.IndexMeta, 0, len(defs))
	for _, d := range defs {
		out = append(out, storage.IndexMeta{Name: d.Name, Fields: d.Fields, Unique: d.Unique, RootPage: d.RootPage})
	}
	return out
}

// validate runs the configured schema validator against doc, honoring
// SchemaValidationMode.
func (e *Engine) validate(collection string, doc *bson.Document) error {
	if e.opts.SchemaValidationMode == SchemaValidationOff || e.opts.SchemaValidator == nil {
		return nil
	}
	err := e.opts.SchemaValidator.Validate(collection, doc)
	if err == nil || e.opts.SchemaValidationMode == SchemaValidationWarn {
		return nil
	}
	return err
}

// Collection returns the handle for name, creating it (and its catalog
// entry) on first use.
func (e *Engine) Collection(name string) (*Collection, error) {
	e.colMu.Lock()
	defer e.colMu.Unlock()

	if c, ok := e.collections[name]; ok {
		return c, nil
	}

	meta, found, err := e.metaStore.Get(name)
	if err != nil {
		return nil, err
	}
	if !found {
		meta = storage.CollectionMeta{Name: name, CreatedTicks: time.Now().UnixNano()}
		if err := e.metaStore.Put(meta); err != nil {
			return nil, err
		}
	}

	state := storage.NewCollectionState(name, meta, e.pages, e.large)
	idx := index.NewManager(e.cache, e.alloc)
	for _, im := range meta.Indexes {
		idx.Restore(index.Definition{Name: im.Name, Fields: im.Fields, Unique: im.Unique, RootPage: im.RootPage})
	}

	c := &Collection{name: name, engine: e, state: state, indexes: idx}
	e.collections[name] = c
	return c, nil
}

// Collections lists every known collection name.
func (e *Engine) Collections() []string {
	return e.metaStore.List()
}

// BeginTransaction starts a new deferred-apply transaction against this
// engine.
func (e *Engine) BeginTransaction() (*txn.Transaction, error) {
	return e.txns.Begin()
}

// ReapExpiredTransactions marks timed-out transactions Failed and discards
// them (an expired transaction has applied none of its log, since nothing
// is applied before Commit, so Forget alone is always safe here).
func (e *Engine) ReapExpiredTransactions() []string {
	ids := e.txns.ReapExpired()
	for _, id := range ids {
		e.txns.Forget(id)
	}
	return ids
}

// Flush forces every dirty page out to the data file without touching the
// WAL, the synchronous counterpart to the background flusher's periodic
// tick. Unlike Checkpoint it does not truncate the WAL, so it is cheaper to
// call from a hot path that just wants its writes visible on disk.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cache.FlushAll(); err != nil {
		return err
	}
	return e.disk.Sync()
}

// Checkpoint flushes every dirty page, records a WAL checkpoint marker and
// truncates the log. With journaling disabled it only writes back the dirty
// pages.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var err error
	if e.checkpointer == nil {
		err = e.cache.FlushAll()
	} else {
		err = e.checkpointer.Checkpoint()
	}

	var lastLSN uint64
	if e.wal != nil {
		lastLSN = e.wal.NextLSN()
	}
	e.log.LogCheckpoint(time.Since(start), lastLSN, err)
	if e.met != nil {
		e.met.RecordWalCheckpoint(time.Since(start))
	}
	return err
}

// Close flushes outstanding writes, stops background loops and releases
// the underlying file handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.flusher != nil {
		e.flusher.Stop()
	}
	if e.checkpointer != nil {
		e.checkpointer.Stop()
		_ = e.checkpointer.Checkpoint()
	} else {
		_ = e.cache.FlushAll()
	}

	e.sb.totalPages, _ = e.disk.PageCount()
	e.sb.freeListHeadPage, e.sb.freeListHeadSeq, e.sb.freeListTailPage, e.sb.freeListTailSeq = e.alloc.State()
	e.sb.collectionCatalogPage = e.metaStore.RootPageID()
	e.sb.modifiedTicks = time.Now().UnixNano()
	if err := e.disk.WritePage(metaPageID, writeSuperblock(e.sb)); err != nil {
		return err
	}
	if err := e.disk.Sync(); err != nil {
		return err
	}

	var walErr error
	if e.wal != nil {
		walErr = e.wal.Close()
	}
	if err := e.disk.Close(); err != nil {
		return err
	}
	e.log.LogEngineClose(e.disk.Path())
	return walErr
}
