// Package btree implements the on-disk B+tree used for every secondary
// index (spec.md §2, components C11/C12): an in-place
// mutating node layout with split/merge/borrow rebalancing, addressed by
// IndexKey, an order-preserving byte encoding of one or more BSON field
// values composed into a sortable byte string spanning the full BSON total
// order (pkg/bson.Compare).
package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/tinydb-go/tinydb/pkg/bson"
)

// RecordID locates the document an index entry points at.
type RecordID struct {
	PageID uint32
	Slot   uint16
}

func (r RecordID) encode() []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint32(buf[0:4], r.PageID)
	binary.BigEndian.PutUint16(buf[4:6], r.Slot)
	return buf
}

func decodeRecordID(b []byte) RecordID {
	return RecordID{PageID: binary.BigEndian.Uint32(b[0:4]), Slot: binary.BigEndian.Uint16(b[4:6])}
}

// EncodeIndexKey builds the order-preserving byte string for a composite
// key made of fields, in field order. Each field is tagged by its BSON rank
// so cross-type comparisons fall out of a plain byte comparison the same
// way pkg/bson.Compare ranks types before comparing values; within a rank,
// the payload is encoded so lexicographic byte order matches value order.
func EncodeIndexKey(fields []bson.Value) []byte {
	out := make([]byte, 0, 16*len(fields))
	for _, v := range fields {
		out = appendSortable(out, v)
	}
	return out
}

func appendSortable(buf []byte, v bson.Value) []byte {
	rank := sortRank(v.Type)
	buf = append(buf, rank)

	switch sortRankType(rank) {
	case rankNumeric:
		return append(buf, bson.EncodeSortableNumeric(v)...)
	case rankString:
		return appendEscapedString(buf, v.Str)
	case rankObjectID:
		return append(buf, v.OID[:]...)
	case rankDateTime:
		var b [8]byte
		u := uint64(v.Time.UnixNano()) + (1 << 63)
		binary.BigEndian.PutUint64(b[:], u)
		return append(buf, b[:]...)
	case rankBoolean:
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case rankBinary:
		buf = append(buf, v.BinSub)
		return appendEscapedString(buf, string(v.Bin))
	default:
		// Arrays, documents, regex and the other structural/rare types are
		// ordered only by rank plus their serialized bytes: correct for
		// equality lookups, an approximation for cross-document ordering
		// within the rank (a deliberate simplification).
		return append(buf, bson.Marshal(wrapValue(v))...)
	}
}

func wrapValue(v bson.Value) *bson.Document {
	return bson.NewDocument().Set("v", v)
}

// appendEscapedString null-terminates s after escaping embedded 0x00/0xFF
// bytes, so a field's byte length never changes the ordering of unrelated
// shorter/longer values.
func appendEscapedString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch b {
		case 0x00:
			buf = append(buf, 0xFE, 0x00)
		case 0xFF:
			buf = append(buf, 0xFE, 0xFF)
		default:
			buf = append(buf, b)
		}
	}
	return append(buf, 0x00)
}

type sortRankType byte

const (
	rankMinKey sortRankType = iota
	rankNull
	rankNumeric
	rankString
	rankObjectID
	rankDateTime
	rankBoolean
	rankBinary
	rankOther // arrays, documents, regex, js, timestamp, symbol, undefined, maxkey
)

func sortRank(t bson.Type) byte {
	switch t {
	case bson.TypeMinKey:
		return byte(rankMinKey)
	case bson.TypeNull:
		return byte(rankNull)
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble, bson.TypeDecimal128:
		return byte(rankNumeric)
	case bson.TypeString:
		return byte(rankString)
	case bson.TypeObjectID:
		return byte(rankObjectID)
	case bson.TypeDateTime:
		return byte(rankDateTime)
	case bson.TypeBoolean:
		return byte(rankBoolean)
	case bson.TypeBinary:
		return byte(rankBinary)
	default:
		return byte(rankOther)
	}
}

// CompareIndexKeys orders two already-encoded composite keys by plain byte
// comparison. For MinKey, Null, numeric, string, ObjectID, DateTime, Boolean
// and Binary fields this matches bson.Compare (numerics as float64); the
// remaining types share one rank and are ordered by their serialized bytes,
// which is exact for equality but not bson.Compare's order.
func CompareIndexKeys(a, b []byte) int { return bytes.Compare(a, b) }
