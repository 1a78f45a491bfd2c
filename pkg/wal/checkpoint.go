package wal

import (
	"time"
)

const (
	// DefaultCheckpointInterval is how often the periodic checkpointer runs
	// when the engine does not override it via Options.
	DefaultCheckpointInterval = 1 * time.Minute
)

// Checkpointer runs periodic checkpoints: a ticker goroutine with a stop
// channel. Each checkpoint flushes every dirty page to the data file, writes
// an OpCheckpoint marker, and truncates the WAL, since durability already
// lives on the data file's pages once that flush completes.
type Checkpointer struct {
	wal      *WAL
	interval time.Duration
	flushFn  func() error // flush the page cache to the data file
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCheckpointer builds a checkpointer over wal, calling flushFn to push
// every dirty page to disk before the log is truncated.
func NewCheckpointer(w *WAL, flushFn func() error) *Checkpointer {
	return &Checkpointer{
		wal:      w,
		interval: DefaultCheckpointInterval,
		flushFn:  flushFn,
	}
}

// SetInterval overrides the periodic checkpoint interval.
func (c *Checkpointer) SetInterval(interval time.Duration) { c.interval = interval }

// Start launches the periodic checkpoint loop.
func (c *Checkpointer) Start() {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run()
}

// Stop halts the periodic loop and waits for it to exit.
func (c *Checkpointer) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checkpointer) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Checkpoint()
		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint flushes every dirty page, records an OpCheckpoint marker, and
// truncates the WAL. It is the only path allowed to call WAL.Truncate:
// truncating before every page image is durable would lose data a crash
// could otherwise have recovered.
func (c *Checkpointer) Checkpoint() error {
	if err := c.flushFn(); err != nil {
		return err
	}

	rec := &Record{LSN: c.wal.NextLSN(), Op: OpCheckpoint}
	if err := c.wal.Append(rec); err != nil {
		return err
	}
	if err := c.wal.Sync(); err != nil {
		return err
	}
	return c.wal.Truncate()
}
