// Package engine assembles the paged storage, WAL, B+tree index and
// transaction layers into the external surface spec.md §6 describes:
// Open/Close/Checkpoint/Compact/Statistics on a database, and
// insert/findById/update/delete/scan/ensureIndex on a Collection. It is the
// top-level handle that wires pkg/storage, pkg/wal and pkg/btree together
// behind one API.
package engine

import (
	"time"

	"github.com/tinydb-go/tinydb/internal/logger"
	"github.com/tinydb-go/tinydb/internal/metrics"
	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/pagecache"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// SchemaValidationMode controls whether Collection writes are checked
// against the configured SchemaValidator.
type SchemaValidationMode int

const (
	// SchemaValidationOff never calls the validator.
	SchemaValidationOff SchemaValidationMode = iota
	// SchemaValidationWarn calls the validator but accepts the write whatever
	// it returns; a failure is not logged.
	SchemaValidationWarn
	// SchemaValidationStrict rejects a write the validator fails.
	SchemaValidationStrict
)

// Options configures Open, mirroring spec.md §6's configuration table.
type Options struct {
	PageSize                int           // must be a power of two in [512, 65536]; default 4096
	CacheSize               int           // pages held by the page cache; default 1024
	EnableJournaling        bool          // zero value false runs without a WAL
	WALFileNameFormat       string        // template with a {db} placeholder; default "{db}.wal"
	WriteConcern            pagecache.WriteConcern
	BackgroundFlushInterval time.Duration // 0 selects the 5s default; only a negative value disables the periodic flush loop
	MaxTransactions         int           // 0 means unbounded
	TransactionTimeout      time.Duration // 0 means transactions never age out
	DatabaseName            string
	Password                string // non-empty enables the security blob / Auth check
	SchemaValidationMode    SchemaValidationMode
	SchemaValidator         SchemaValidator

	// Logger and Metrics are optional collaborators. Nil is valid: the
	// engine falls back to the package-global logger and skips metrics
	// recording entirely rather than forcing every caller (tests included)
	// to wire a Prometheus registry just to open a database.
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = 4096
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1024
	}
	if o.WALFileNameFormat == "" {
		o.WALFileNameFormat = "{db}.wal"
	}
	if o.BackgroundFlushInterval == 0 {
		o.BackgroundFlushInterval = 5 * time.Second
	}
	return o
}

func (o Options) validate() error {
	const op = "engine.Options.validate"
	if o.PageSize < 512 || o.PageSize > 65536 || o.PageSize&(o.PageSize-1) != 0 {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "pageSize must be a power of two in [512, 65536]")
	}
	// pkg/page fixes its on-disk layout at page.Size; a configured size that
	// disagrees with it can only ever be a reopen-time mismatch, not a
	// supported "format the file at this size" request.
	if o.PageSize != page.Size {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "this build only supports the compiled-in page size")
	}
	if o.CacheSize < 0 {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "cacheSize must not be negative")
	}
	if o.MaxTransactions < 0 {
		return tinyerr.New(tinyerr.KindInvalidArgument, op, "maxTransactions must not be negative")
	}
	return nil
}
