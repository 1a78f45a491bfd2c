package storage

import (
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/page"
	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// IndexMeta is one secondary index's durable shape, stored inline with its
// owning collection's catalog entry rather than in a catalog of its own:
// TinyDb expects at most a handful of indexes per collection, so a small
// serialized list costs less than a second page chain and locations map.
type IndexMeta struct {
	Name     string
	Fields   []string
	Unique   bool
	RootPage uint32
}

// CollectionMeta is the catalog entry for one collection: just enough to
// reopen its CollectionState (and every secondary index it owns) after a
// restart without a full file scan.
type CollectionMeta struct {
	Name               string
	FirstDataPageID    uint32
	LastDataPageID     uint32
	PrimaryIndexRootID uint32
	CreatedTicks       int64
	Indexes            []IndexMeta
}

func (m CollectionMeta) encode() []byte {
	nameBytes := []byte(m.Name)
	head := make([]byte, 2+len(nameBytes)+4+4+4+8)
	binary.LittleEndian.PutUint16(head[0:2], uint16(len(nameBytes)))
	copy(head[2:2+len(nameBytes)], nameBytes)
	pos := 2 + len(nameBytes)
	binary.LittleEndian.PutUint32(head[pos:pos+4], m.FirstDataPageID)
	binary.LittleEndian.PutUint32(head[pos+4:pos+8], m.LastDataPageID)
	binary.LittleEndian.PutUint32(head[pos+8:pos+12], m.PrimaryIndexRootID)
	binary.LittleEndian.PutUint64(head[pos+12:pos+20], uint64(m.CreatedTicks))

	idxBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(idxBuf[0:2], uint16(len(m.Indexes)))
	for _, ix := range m.Indexes {
		nb := []byte(ix.Name)
		entry := make([]byte, 2+len(nb)+2)
		binary.LittleEndian.PutUint16(entry[0:2], uint16(len(nb)))
		copy(entry[2:2+len(nb)], nb)
		binary.LittleEndian.PutUint16(entry[2+len(nb):4+len(nb)], uint16(len(ix.Fields)))
		idxBuf = append(idxBuf, entry...)
		for _, f := range ix.Fields {
			fb := []byte(f)
			flen := make([]byte, 2)
			binary.LittleEndian.PutUint16(flen, uint16(len(fb)))
			idxBuf = append(idxBuf, flen...)
			idxBuf = append(idxBuf, fb...)
		}
		var uniqueByte byte
		if ix.Unique {
			uniqueByte = 1
		}
		tail := make([]byte, 1+4)
		tail[0] = uniqueByte
		binary.LittleEndian.PutUint32(tail[1:5], ix.RootPage)
		idxBuf = append(idxBuf, tail...)
	}

	return append(head, idxBuf...)
}

func decodeCollectionMeta(data []byte) (CollectionMeta, error) {
	const op = "storage.decodeCollectionMeta"
	if len(data) < 2 {
		return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated")
	}
	nameLen := int(binary.LittleEndian.Uint16(data[0:2]))
	pos := 2 + nameLen
	if len(data) < pos+20 {
		return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated")
	}
	m := CollectionMeta{
		Name:               string(data[2:pos]),
		FirstDataPageID:    binary.LittleEndian.Uint32(data[pos : pos+4]),
		LastDataPageID:     binary.LittleEndian.Uint32(data[pos+4 : pos+8]),
		PrimaryIndexRootID: binary.LittleEndian.Uint32(data[pos+8 : pos+12]),
		CreatedTicks:       int64(binary.LittleEndian.Uint64(data[pos+12 : pos+20])),
	}
	pos += 20
	if len(data) < pos+2 {
		return m, nil // pre-index-catalog record, tolerated for forward compatibility
	}
	count := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	for i := 0; i < count; i++ {
		if len(data) < pos+4 {
			return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated index entry")
		}
		nameLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if len(data) < pos+nameLen+2 {
			return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated index name")
		}
		ix := IndexMeta{Name: string(data[pos : pos+nameLen])}
		pos += nameLen
		fieldCount := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		for f := 0; f < fieldCount; f++ {
			if len(data) < pos+2 {
				return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated field")
			}
			flen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			pos += 2
			if len(data) < pos+flen {
				return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated field name")
			}
			ix.Fields = append(ix.Fields, string(data[pos:pos+flen]))
			pos += flen
		}
		if len(data) < pos+5 {
			return CollectionMeta{}, tinyerr.New(tinyerr.KindCorruption, op, "truncated index tail")
		}
		ix.Unique = data[pos] == 1
		pos++
		ix.RootPage = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		m.Indexes = append(m.Indexes, ix)
	}
	return m, nil
}

// CollectionMetaStore is the database-wide catalog: one chain of Catalog
// pages holding a CollectionMeta record per collection. Put rewrites an
// entry in place when the new record fits its slot and otherwise tombstones
// it and re-appends; Drop tombstones. This is the same pattern
// CollectionState uses for documents.
type CollectionMetaStore struct {
	pages     *DataPageAccess
	rootPage  uint32
	lastPage  uint32
	locations map[string]struct {
		pageID uint32
		slot   uint16
	}
}

// OpenCollectionMetaStore loads (or, if rootPage is 0, lazily creates on
// first write) the catalog chain starting at rootPage.
func OpenCollectionMetaStore(pages *DataPageAccess, rootPage uint32) (*CollectionMetaStore, error) {
	s := &CollectionMetaStore{
		pages:    pages,
		rootPage: rootPage,
		locations: make(map[string]struct {
			pageID uint32
			slot   uint16
		}),
	}
	if rootPage == 0 {
		return s, nil
	}

	pageID := rootPage
	last := rootPage
	for pageID != 0 {
		records, err := pages.ScanPage(pageID)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			m, err := decodeCollectionMeta(rec.Raw)
			if err != nil {
				return nil, err
			}
			s.locations[m.Name] = struct {
				pageID uint32
				slot   uint16
			}{pageID, rec.Slot}
		}
		h, err := pages.Header(pageID)
		if err != nil {
			return nil, err
		}
		last = pageID
		pageID = h.NextPageID
	}
	s.lastPage = last
	return s, nil
}

// RootPageID returns the first catalog page id, to be persisted in the meta
// page so the next Open can find the catalog again.
func (s *CollectionMetaStore) RootPageID() uint32 { return s.rootPage }

// Get returns the catalog entry for name, if present.
func (s *CollectionMetaStore) Get(name string) (CollectionMeta, bool, error) {
	loc, ok := s.locations[name]
	if !ok {
		return CollectionMeta{}, false, nil
	}
	raw, tombstoned, err := s.pages.ReadSlot(loc.pageID, loc.slot)
	if err != nil {
		return CollectionMeta{}, false, err
	}
	if tombstoned {
		return CollectionMeta{}, false, nil
	}
	m, err := decodeCollectionMeta(raw)
	return m, true, err
}

// List returns every known collection name.
func (s *CollectionMetaStore) List() []string {
	names := make([]string, 0, len(s.locations))
	for name := range s.locations {
		names = append(names, name)
	}
	return names
}

// Put creates or replaces the catalog entry for meta.Name.
func (s *CollectionMetaStore) Put(meta CollectionMeta) error {
	const op = "storage.CollectionMetaStore.Put"
	raw := meta.encode()

	if loc, exists := s.locations[meta.Name]; exists {
		if ok, err := s.pages.OverwriteSlot(loc.pageID, loc.slot, raw); err != nil {
			return err
		} else if ok {
			return nil
		}
		if err := s.pages.DeleteSlot(loc.pageID, loc.slot); err != nil {
			return err
		}
	}

	if s.rootPage == 0 {
		id, err := s.pages.NewPage(page.TypeCatalog, 0)
		if err != nil {
			return err
		}
		s.rootPage = id
		s.lastPage = id
	}

	slot, ok, err := s.pages.AppendSlot(s.lastPage, raw)
	if err != nil {
		return err
	}
	if !ok {
		newPage, err := s.pages.NewPage(page.TypeCatalog, s.lastPage)
		if err != nil {
			return err
		}
		s.lastPage = newPage
		slot, ok, err = s.pages.AppendSlot(newPage, raw)
		if err != nil {
			return err
		}
		if !ok {
			return tinyerr.New(tinyerr.KindTooLarge, op, "collection metadata record exceeds one page")
		}
	}

	s.locations[meta.Name] = struct {
		pageID uint32
		slot   uint16
	}{s.lastPage, slot}
	return nil
}

// Drop removes name from the catalog.
func (s *CollectionMetaStore) Drop(name string) error {
	loc, ok := s.locations[name]
	if !ok {
		return nil
	}
	if err := s.pages.DeleteSlot(loc.pageID, loc.slot); err != nil {
		return err
	}
	delete(s.locations, name)
	return nil
}
