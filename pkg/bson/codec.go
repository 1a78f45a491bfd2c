package bson

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// wireType maps a Type to its on-the-wire tag. 0x00 is reserved as the
// document terminator (spec.md §3/§6: "0x00 terminator already in BSON
// trailing byte"), so every Type tag is shifted up by one.
func wireType(t Type) byte { return byte(t) + 1 }

func unwireType(b byte) (Type, error) {
	if b == 0 {
		return 0, fmt.Errorf("unexpected document terminator")
	}
	return Type(b - 1), nil
}

// Marshal serializes a Document to a self-delimited byte sequence whose
// first four bytes are its total length (spec.md §3 DOCUMENT, §6 "BSON
// document on page").
func Marshal(doc *Document) []byte {
	body := make([]byte, 0, 128)
	for _, e := range doc.elements {
		body = appendElement(body, e.Key, e.Value)
	}
	body = append(body, 0x00) // terminator

	total := 4 + len(body)
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	out = append(out, body...)
	return out
}

func appendElement(buf []byte, key string, v Value) []byte {
	buf = append(buf, wireType(v.Type))
	kb := []byte(key)
	var klen [2]byte
	binary.LittleEndian.PutUint16(klen[:], uint16(len(kb)))
	buf = append(buf, klen[:]...)
	buf = append(buf, kb...)
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Type {
	case TypeMinKey, TypeNull, TypeUndefined, TypeMaxKey:
		return buf
	case TypeInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.Int32))
		return append(buf, b[:]...)
	case TypeInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int64))
		return append(buf, b[:]...)
	case TypeDouble:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.Double))
		return append(buf, b[:]...)
	case TypeDecimal128:
		return append(buf, v.Dec128[:]...)
	case TypeString, TypeSymbol, TypeJavaScript:
		s := v.Str
		if v.Type == TypeSymbol {
			s = v.Sym
		}
		if v.Type == TypeJavaScript {
			s = v.JS.Code
		}
		return appendString(buf, s)
	case TypeJavaScriptWithScope:
		buf = appendString(buf, v.JS.Code)
		scope := v.JS.Scope
		if scope == nil {
			scope = NewDocument()
		}
		return append(buf, Marshal(scope)...)
	case TypeObjectID:
		return append(buf, v.OID[:]...)
	case TypeDateTime:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Time.UnixNano()))
		return append(buf, b[:]...)
	case TypeBoolean:
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case TypeBinary:
		buf = append(buf, v.BinSub)
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(v.Bin)))
		buf = append(buf, l[:]...)
		return append(buf, v.Bin...)
	case TypeArray:
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(v.Arr)))
		buf = append(buf, n[:]...)
		for _, e := range v.Arr {
			buf = append(buf, wireType(e.Type))
			buf = appendValue(buf, e)
		}
		return buf
	case TypeDocument:
		doc := v.Doc
		if doc == nil {
			doc = NewDocument()
		}
		return append(buf, Marshal(doc)...)
	case TypeRegex:
		buf = appendString(buf, v.Rgx.Pattern)
		return appendString(buf, v.Rgx.Options)
	case TypeTimestamp:
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], v.TS.Seconds)
		binary.LittleEndian.PutUint32(b[4:8], v.TS.Ordinal)
		return append(buf, b[:]...)
	default:
		panic(fmt.Sprintf("bson: unknown type %d", v.Type))
	}
}

func appendString(buf []byte, s string) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...)
}

// Unmarshal parses a self-delimited document produced by Marshal. It
// returns the document and the number of bytes consumed, so callers reading
// a slotted page can locate the next record without a separate length scan.
func Unmarshal(data []byte) (*Document, int, error) {
	if len(data) < 4 {
		return nil, 0, tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "truncated length prefix")
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total < 5 || total > len(data) {
		return nil, 0, tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "invalid document length")
	}

	doc := NewDocument()
	pos := 4
	end := total - 1 // position of the terminator byte
	for pos < end {
		tag := data[pos]
		if tag == 0 {
			break
		}
		pos++
		t, err := unwireType(tag)
		if err != nil {
			return nil, 0, tinyerr.Wrap(tinyerr.KindCorruption, "bson.Unmarshal", err)
		}
		if pos+2 > len(data) {
			return nil, 0, tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "truncated key length")
		}
		klen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+klen > len(data) {
			return nil, 0, tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "truncated key")
		}
		key := string(data[pos : pos+klen])
		pos += klen

		v, n, err := readValue(t, data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		doc.Set(key, v)
	}
	if data[end] != 0x00 {
		return nil, 0, tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "missing terminator")
	}
	return doc, total, nil
}

func readValue(t Type, data []byte) (Value, int, error) {
	switch t {
	case TypeMinKey:
		return MinKey(), 0, nil
	case TypeNull:
		return Null(), 0, nil
	case TypeUndefined:
		return Undefined(), 0, nil
	case TypeMaxKey:
		return MaxKey(), 0, nil
	case TypeInt32:
		if len(data) < 4 {
			return Value{}, 0, shortRead("int32")
		}
		return Int32V(int32(binary.LittleEndian.Uint32(data[:4]))), 4, nil
	case TypeInt64:
		if len(data) < 8 {
			return Value{}, 0, shortRead("int64")
		}
		return Int64V(int64(binary.LittleEndian.Uint64(data[:8]))), 8, nil
	case TypeDouble:
		if len(data) < 8 {
			return Value{}, 0, shortRead("double")
		}
		return DoubleV(math.Float64frombits(binary.LittleEndian.Uint64(data[:8]))), 8, nil
	case TypeDecimal128:
		if len(data) < 16 {
			return Value{}, 0, shortRead("decimal128")
		}
		var d Decimal128
		copy(d[:], data[:16])
		return Value{Type: TypeDecimal128, Dec128: d}, 16, nil
	case TypeString:
		s, n, err := readString(data)
		if err != nil {
			return Value{}, 0, err
		}
		return StringV(s), n, nil
	case TypeSymbol:
		s, n, err := readString(data)
		if err != nil {
			return Value{}, 0, err
		}
		return SymbolV(s), n, nil
	case TypeJavaScript:
		s, n, err := readString(data)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: TypeJavaScript, JS: JSCode{Code: s}}, n, nil
	case TypeJavaScriptWithScope:
		s, n, err := readString(data)
		if err != nil {
			return Value{}, 0, err
		}
		scope, m, err := Unmarshal(data[n:])
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: TypeJavaScriptWithScope, JS: JSCode{Code: s, Scope: scope}}, n + m, nil
	case TypeObjectID:
		if len(data) < 12 {
			return Value{}, 0, shortRead("objectid")
		}
		var id ObjectID
		copy(id[:], data[:12])
		return ObjectIDV(id), 12, nil
	case TypeDateTime:
		if len(data) < 8 {
			return Value{}, 0, shortRead("datetime")
		}
		ns := int64(binary.LittleEndian.Uint64(data[:8]))
		return DateTimeV(time.Unix(0, ns).UTC()), 8, nil
	case TypeBoolean:
		if len(data) < 1 {
			return Value{}, 0, shortRead("bool")
		}
		return BoolV(data[0] != 0), 1, nil
	case TypeBinary:
		if len(data) < 5 {
			return Value{}, 0, shortRead("binary")
		}
		sub := data[0]
		l := int(binary.LittleEndian.Uint32(data[1:5]))
		if len(data) < 5+l {
			return Value{}, 0, shortRead("binary payload")
		}
		b := make([]byte, l)
		copy(b, data[5:5+l])
		return BinaryV(sub, b), 5 + l, nil
	case TypeArray:
		if len(data) < 4 {
			return Value{}, 0, shortRead("array count")
		}
		count := int(binary.LittleEndian.Uint32(data[:4]))
		pos := 4
		elems := make([]Value, 0, count)
		for i := 0; i < count; i++ {
			if pos >= len(data) {
				return Value{}, 0, shortRead("array element tag")
			}
			et, err := unwireType(data[pos])
			if err != nil {
				return Value{}, 0, err
			}
			pos++
			v, n, err := readValue(et, data[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			pos += n
			elems = append(elems, v)
		}
		return ArrayV(elems), pos, nil
	case TypeDocument:
		doc, n, err := Unmarshal(data)
		if err != nil {
			return Value{}, 0, err
		}
		return DocumentV(doc), n, nil
	case TypeRegex:
		pattern, n1, err := readString(data)
		if err != nil {
			return Value{}, 0, err
		}
		options, n2, err := readString(data[n1:])
		if err != nil {
			return Value{}, 0, err
		}
		return RegexV(pattern, options), n1 + n2, nil
	case TypeTimestamp:
		if len(data) < 8 {
			return Value{}, 0, shortRead("timestamp")
		}
		sec := binary.LittleEndian.Uint32(data[0:4])
		ord := binary.LittleEndian.Uint32(data[4:8])
		return TimestampV(sec, ord), 8, nil
	default:
		return Value{}, 0, fmt.Errorf("bson: unknown wire type %d", t)
	}
}

func readString(data []byte) (string, int, error) {
	if len(data) < 4 {
		return "", 0, shortRead("string length")
	}
	l := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) < 4+l {
		return "", 0, shortRead("string payload")
	}
	return string(data[4 : 4+l]), 4 + l, nil
}

func shortRead(what string) error {
	return tinyerr.New(tinyerr.KindCorruption, "bson.Unmarshal", "short read: "+what)
}

// PeekLength reads only the 4-byte length prefix of a would-be document
// without parsing it, used by the slotted page scanner.
func PeekLength(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, tinyerr.New(tinyerr.KindCorruption, "bson.PeekLength", "truncated length prefix")
	}
	return int(binary.LittleEndian.Uint32(data[0:4])), nil
}
