package page

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := New()
	h := Header{
		Type:          TypeData,
		PageID:        7,
		PrevPageID:    3,
		NextPageID:    9,
		FreeBytes:     1024,
		ItemCount:     5,
		Version:       2,
		CreatedTicks:  1000,
		ModifiedTicks: 2000,
		LSN:           42,
	}
	copy(Body(buf), []byte("payload bytes"))
	h.Encode(buf)

	got, ok := Decode(buf)
	require.True(t, ok)
	require.Equal(t, h.Type, got.Type)
	require.Equal(t, h.PageID, got.PageID)
	require.Equal(t, h.PrevPageID, got.PrevPageID)
	require.Equal(t, h.NextPageID, got.NextPageID)
	require.Equal(t, h.FreeBytes, got.FreeBytes)
	require.Equal(t, h.ItemCount, got.ItemCount)
	require.Equal(t, h.Version, got.Version)
	require.Equal(t, h.LSN, got.LSN)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	buf := New()
	h := Header{Type: TypeBTreeLeaf, PageID: 1}
	h.Encode(buf)

	buf[HeaderSize+2] ^= 0xFF // corrupt a body byte after the header

	_, ok := Decode(buf)
	require.False(t, ok)
}

func TestDiskFileReadWritePage(t *testing.T) {
	dir := t.TempDir()
	df, err := Open(filepath.Join(dir, "test.tinydb"))
	require.NoError(t, err)
	defer df.Close()

	require.NoError(t, df.Grow(4))

	count, err := df.PageCount()
	require.NoError(t, err)
	require.Equal(t, uint32(4), count)

	buf := New()
	h := Header{Type: TypeData, PageID: 2}
	copy(Body(buf), []byte("hello tinydb"))
	h.Encode(buf)

	require.NoError(t, df.WritePage(2, buf))
	require.NoError(t, df.Sync())

	readBack, err := df.ReadPage(2)
	require.NoError(t, err)
	got, ok := Decode(readBack)
	require.True(t, ok)
	require.Equal(t, TypeData, got.Type)
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "fresh.tinydb")

	_, err := os.Stat(p)
	require.True(t, os.IsNotExist(err))

	df, err := Open(p)
	require.NoError(t, err)
	defer df.Close()

	_, err = os.Stat(p)
	require.NoError(t, err)
}
