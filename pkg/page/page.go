// Package page implements the fixed-size paged disk file underlying every
// other storage component (spec.md §2/§6, components C1/C4): a page header
// codec and a DiskFile that reads and writes whole pages by page id.
package page

import (
	"encoding/binary"
	"hash/crc32"
)

// Size is the fixed page size for every page in a TinyDb file. Choosing one
// size for every page type (meta, catalog, data, overflow, btree) keeps
// DiskFile's addressing a single multiplication.
const Size = 4096

// Type identifies what a page holds.
type Type byte

const (
	TypeMeta Type = iota + 1
	TypeCatalog
	TypeData
	TypeOverflow
	TypeBTreeLeaf
	TypeBTreeInternal
	TypeFreeList
)

func (t Type) String() string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeCatalog:
		return "catalog"
	case TypeData:
		return "data"
	case TypeOverflow:
		return "overflow"
	case TypeBTreeLeaf:
		return "btree-leaf"
	case TypeBTreeInternal:
		return "btree-internal"
	case TypeFreeList:
		return "freelist"
	default:
		return "unknown"
	}
}

// HeaderSize is the byte length of the fixed page header every page carries
// at offset 0, regardless of Type.
const HeaderSize = 1 + 4 + 4 + 4 + 2 + 2 + 4 + 8 + 8 + 8 + 4 // type,id,prev,next,free,items,version,created,modified,lsn,crc32

// Header is the fixed preamble of every page: identity, sibling links for
// slotted/overflow chains, free-space bookkeeping, a modification version
// that in-place slot overwrites and deletes increment, the LSN of
// the WAL record that last modified the page (for idempotent replay), and a
// trailing CRC32 over the rest of the page guarding against torn writes.
type Header struct {
	Type          Type
	PageID        uint32
	PrevPageID    uint32 // 0 if none
	NextPageID    uint32 // 0 if none
	FreeBytes     uint16
	ItemCount     uint16
	Version       uint32
	CreatedTicks  int64
	ModifiedTicks int64
	LSN           uint64
	CRC32         uint32
}

// Encode writes the header into the first HeaderSize bytes of page.
func (h *Header) Encode(page []byte) {
	page[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(page[1:5], h.PageID)
	binary.LittleEndian.PutUint32(page[5:9], h.PrevPageID)
	binary.LittleEndian.PutUint32(page[9:13], h.NextPageID)
	binary.LittleEndian.PutUint16(page[13:15], h.FreeBytes)
	binary.LittleEndian.PutUint16(page[15:17], h.ItemCount)
	binary.LittleEndian.PutUint32(page[17:21], h.Version)
	binary.LittleEndian.PutUint64(page[21:29], uint64(h.CreatedTicks))
	binary.LittleEndian.PutUint64(page[29:37], uint64(h.ModifiedTicks))
	binary.LittleEndian.PutUint64(page[37:45], h.LSN)
	// CRC32 covers everything but its own trailing field.
	sum := crc32.ChecksumIEEE(page[:HeaderSize-4])
	sum = crc32.Update(sum, crc32.IEEETable, page[HeaderSize:])
	binary.LittleEndian.PutUint32(page[HeaderSize-4:HeaderSize], sum)
	h.CRC32 = sum
}

// Decode reads the header out of page and verifies its CRC32 against the
// full page body. Returns ok=false if the page is corrupt.
func Decode(page []byte) (Header, bool) {
	var h Header
	if len(page) < HeaderSize {
		return h, false
	}
	h.Type = Type(page[0])
	h.PageID = binary.LittleEndian.Uint32(page[1:5])
	h.PrevPageID = binary.LittleEndian.Uint32(page[5:9])
	h.NextPageID = binary.LittleEndian.Uint32(page[9:13])
	h.FreeBytes = binary.LittleEndian.Uint16(page[13:15])
	h.ItemCount = binary.LittleEndian.Uint16(page[15:17])
	h.Version = binary.LittleEndian.Uint32(page[17:21])
	h.CreatedTicks = int64(binary.LittleEndian.Uint64(page[21:29]))
	h.ModifiedTicks = int64(binary.LittleEndian.Uint64(page[29:37]))
	h.LSN = binary.LittleEndian.Uint64(page[37:45])
	h.CRC32 = binary.LittleEndian.Uint32(page[HeaderSize-4 : HeaderSize])

	want := crc32.ChecksumIEEE(page[:HeaderSize-4])
	want = crc32.Update(want, crc32.IEEETable, page[HeaderSize:])
	return h, want == h.CRC32
}

// Body returns the mutable slice of page bytes following the header, where
// a slotted page's items or an overflow page's payload chunk live.
func Body(page []byte) []byte { return page[HeaderSize:] }

// New allocates a zeroed page buffer of the fixed Size.
func New() []byte { return make([]byte, Size) }
