package pagecache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinydb-go/tinydb/pkg/page"
)

func openDisk(t *testing.T) *page.DiskFile {
	t.Helper()
	df, err := page.Open(filepath.Join(t.TempDir(), "cache.tinydb"))
	require.NoError(t, err)
	require.NoError(t, df.Grow(16))
	t.Cleanup(func() { _ = df.Close() })
	return df
}

func TestCacheGetPutHitRatio(t *testing.T) {
	disk := openDisk(t)
	cache := New(disk, 4)

	buf := page.New()
	h := page.Header{Type: page.TypeData, PageID: 1}
	h.Encode(buf)
	require.NoError(t, disk.WritePage(1, buf))

	_, err := cache.Get(1) // miss, reads through
	require.NoError(t, err)
	_, err = cache.Get(1) // hit
	require.NoError(t, err)

	stats := cache.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRatio, 0.001)
}

func TestCacheEvictsCleanNotDirty(t *testing.T) {
	disk := openDisk(t)
	cache := New(disk, 2)

	for i := uint32(0); i < 3; i++ {
		buf := page.New()
		h := page.Header{Type: page.TypeData, PageID: i}
		h.Encode(buf)
		cache.Put(i, buf)
	}

	require.NoError(t, cache.FlushAll())

	_, err := cache.Get(0)
	require.NoError(t, err)

	dirtyBuf := page.New()
	h := page.Header{Type: page.TypeData, PageID: 9}
	h.Encode(dirtyBuf)
	cache.Put(9, dirtyBuf)
	cache.Put(10, dirtyBuf)
	cache.Put(11, dirtyBuf)

	stats := cache.Stats()
	require.GreaterOrEqual(t, stats.CachedLen, 3)
}

func TestAllocatorReusesFreedPages(t *testing.T) {
	disk := openDisk(t)
	cache := New(disk, 8)
	alloc := NewAllocator(disk, cache, 0, 0, 0, 0)

	a, err := alloc.NewPage()
	require.NoError(t, err)
	b, err := alloc.NewPage()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	require.NoError(t, alloc.FreePage(a))
	require.Equal(t, uint64(1), alloc.Pending())

	reused, err := alloc.NewPage()
	require.NoError(t, err)
	require.Equal(t, a, reused)
	require.Equal(t, uint64(0), alloc.Pending())
}

type fakeWAL struct{ flushed, synced bool }

func (f *fakeWAL) Flush() error { f.flushed = true; return nil }
func (f *fakeWAL) Sync() error  { f.synced = true; return nil }

func TestEnsureDurabilityLevels(t *testing.T) {
	disk := openDisk(t)
	cache := New(disk, 8)
	wal := &fakeWAL{}
	sched := NewFlushScheduler(cache, wal, time.Hour)

	require.NoError(t, sched.EnsureDurability(WriteConcernNone))
	require.False(t, wal.flushed)

	require.NoError(t, sched.EnsureDurability(WriteConcernJournaled))
	require.True(t, wal.flushed)
	require.False(t, wal.synced)

	require.NoError(t, sched.EnsureDurability(WriteConcernSynced))
	require.True(t, wal.synced)
}
