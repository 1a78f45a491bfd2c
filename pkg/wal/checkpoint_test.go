package wal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpointTruncatesAfterFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(&Record{LSN: w.NextLSN(), Op: OpPageImage, PageID: 1, Payload: []byte("x")}))
	require.NoError(t, w.Sync())

	flushed := false
	cp := NewCheckpointer(w, func() error { flushed = true; return nil })
	require.NoError(t, cp.Checkpoint())
	require.True(t, flushed)

	r, err := OpenReader(path)
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestCheckpointerStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	cp := NewCheckpointer(w, func() error { return nil })
	cp.SetInterval(10 * time.Millisecond)
	cp.Start()
	time.Sleep(35 * time.Millisecond)
	cp.Stop()
}
