package engine

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// metaPageID is the fixed location of the database header: always the
// first page of the file. spec.md describes the header as living at "page
// 1" in a 1-indexed numbering; this engine's pages are addressed from 0,
// so page id 0 is the equivalent first page (documented simplification,
// see DESIGN.md).
const metaPageID = 0

// superblockHead covers every fixed-width field up to and including
// userData; securityBlob is the only variable-length tail. Eight 4-byte
// fields (schemaVersion, flags, pageSize, totalPages, usedPages,
// freeListHeadPage, freeListTailPage, collectionCatalogPage) plus four
// 8-byte fields (freeListHeadSeq, freeListTailSeq, createdTicks,
// modifiedTicks) plus the name and userData blocks.
const (
	nameFieldSize  = 64
	userDataSize   = 64
	superblockHead = 8*4 + 4*8 + nameFieldSize + userDataSize
)

const flagJournaling = 1 << 0

// superblock is the decoded form of the database header payload spec.md
// §4 lays out: schemaVersion | flags | pageSize | totalPages | usedPages |
// firstFreePage | collectionCatalogPage | createdTicks | modifiedTicks |
// databaseName | userData | securityBlob. freeListHeadSeq/TailPage/TailSeq
// extend the header beyond spec's literal byte layout to carry the
// allocator's full unrolled free-list state (headPage alone, as spec's
// firstFreePage, is not enough to resume popping/pushing mid-list).
type superblock struct {
	schemaVersion uint32
	journaling    bool
	pageSize      uint32
	totalPages    uint32
	usedPages     uint32

	freeListHeadPage uint32
	freeListHeadSeq  uint64
	freeListTailPage uint32
	freeListTailSeq  uint64

	collectionCatalogPage uint32

	createdTicks  int64
	modifiedTicks int64

	databaseName string
	securityBlob []byte
}

const currentSchemaVersion = 1

func (s superblock) encode() []byte {
	buf := make([]byte, superblockHead+len(s.securityBlob))
	var flags uint32
	if s.journaling {
		flags |= flagJournaling
	}
	binary.LittleEndian.PutUint32(buf[0:4], s.schemaVersion)
	binary.LittleEndian.PutUint32(buf[4:8], flags)
	binary.LittleEndian.PutUint32(buf[8:12], s.pageSize)
	binary.LittleEndian.PutUint32(buf[12:16], s.totalPages)
	binary.LittleEndian.PutUint32(buf[16:20], s.usedPages)
	binary.LittleEndian.PutUint32(buf[20:24], s.freeListHeadPage)
	binary.LittleEndian.PutUint32(buf[24:28], s.freeListTailPage)
	binary.LittleEndian.PutUint32(buf[28:32], s.collectionCatalogPage)
	binary.LittleEndian.PutUint64(buf[32:40], s.freeListHeadSeq)
	binary.LittleEndian.PutUint64(buf[40:48], s.freeListTailSeq)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(s.createdTicks))
	off := 56
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(s.modifiedTicks))
	off += 8
	name := []byte(s.databaseName)
	if len(name) > nameFieldSize {
		name = name[:nameFieldSize]
	}
	copy(buf[off:off+nameFieldSize], name)
	off += nameFieldSize + userDataSize
	copy(buf[off:], s.securityBlob)
	return buf
}

func decodeSuperblock(buf []byte) (superblock, error) {
	const op = "engine.decodeSuperblock"
	if len(buf) < superblockHead {
		return superblock{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated database header")
	}
	flags := binary.LittleEndian.Uint32(buf[4:8])
	s := superblock{
		schemaVersion:         binary.LittleEndian.Uint32(buf[0:4]),
		journaling:            flags&flagJournaling != 0,
		pageSize:              binary.LittleEndian.Uint32(buf[8:12]),
		totalPages:            binary.LittleEndian.Uint32(buf[12:16]),
		usedPages:             binary.LittleEndian.Uint32(buf[16:20]),
		freeListHeadPage:      binary.LittleEndian.Uint32(buf[20:24]),
		freeListTailPage:      binary.LittleEndian.Uint32(buf[24:28]),
		collectionCatalogPage: binary.LittleEndian.Uint32(buf[28:32]),
		freeListHeadSeq:       binary.LittleEndian.Uint64(buf[32:40]),
		freeListTailSeq:       binary.LittleEndian.Uint64(buf[40:48]),
		createdTicks:          int64(binary.LittleEndian.Uint64(buf[48:56])),
	}
	off := 56
	s.modifiedTicks = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	off += 8
	nameBytes := buf[off : off+nameFieldSize]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	s.databaseName = string(nameBytes[:end])
	off += nameFieldSize + userDataSize
	if off < len(buf) {
		s.securityBlob = append([]byte(nil), buf[off:]...)
	}
	return s, nil
}

func readSuperblock(buf []byte) (superblock, error) {
	h, ok := page.Decode(buf)
	if !ok || h.Type != page.TypeMeta {
		return superblock{}, tinyerr.New(tinyerr.KindCorruption, "engine.readSuperblock", "page 0 is not a valid database header")
	}
	return decodeSuperblock(page.Body(buf))
}

func writeSuperblock(s superblock) []byte {
	buf := page.New()
	h := page.Header{Type: page.TypeMeta, PageID: metaPageID}
	h.Encode(buf)
	copy(page.Body(buf), s.encode())
	return buf
}
