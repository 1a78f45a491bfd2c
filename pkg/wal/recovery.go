package wal

// PageSink is how Recovery applies a replayed page image without the wal
// package depending on pagecache or page directly.
type PageSink interface {
	// CurrentLSN returns the LSN stamped in pageID's on-disk header, or 0 if
	// the page does not exist yet.
	CurrentLSN(pageID uint32) (uint64, error)
	// ApplyPageImage overwrites pageID with payload.
	ApplyPageImage(pageID uint32, payload []byte) error
}

// Stats summarizes one recovery pass; Engine.Open discards it.
type Stats struct {
	RecordsRead    int
	PagesApplied   int
	PagesSkipped   int // already-durable page, record was a no-op replay
	Checkpoints    int
	LastLSN        uint64
}

// Recovery replays a WAL file against a PageSink.
type Recovery struct {
	sink PageSink
}

func NewRecovery(sink PageSink) *Recovery { return &Recovery{sink: sink} }

// Recover reads every well-formed record from path in order and applies
// each page image whose LSN is newer than what's already on the
// corresponding page, making replay idempotent: re-running recovery twice
// over the same log, or over a log whose tail duplicates already-applied
// records, produces the same end state (spec.md's idempotent-replay
// invariant).
func (rc *Recovery) Recover(path string) (Stats, error) {
	var stats Stats

	r, err := OpenReader(path)
	if err != nil {
		return stats, err
	}

	for {
		rec, err := r.Next()
		if err != nil {
			return stats, err
		}
		if rec == nil {
			break
		}
		stats.RecordsRead++
		if rec.LSN > stats.LastLSN {
			stats.LastLSN = rec.LSN
		}

		switch rec.Op {
		case OpPageImage:
			current, err := rc.sink.CurrentLSN(rec.PageID)
			if err != nil {
				return stats, err
			}
			if rec.LSN <= current {
				stats.PagesSkipped++
				continue
			}
			if err := rc.sink.ApplyPageImage(rec.PageID, rec.Payload); err != nil {
				return stats, err
			}
			stats.PagesApplied++
		case OpCheckpoint:
			stats.Checkpoints++
		case OpTxnCommit:
			// no page state to apply; commit markers exist for diagnostics
			// and for a future audit-log reader, not for replay itself.
		}
	}
	return stats, nil
}
