package httpapi

import (
	"github.com/tinydb-go/tinydb/pkg/bson"
)

// toJSON converts a document to the plain map/slice shape encoding/json
// already knows how to marshal. It is a lossy, presentation-layer mapping
// (ObjectIDs become hex strings, dates become RFC3339 strings, binary
// becomes a byte slice) rather than a roundtrip-exact BSON codec: that
// codec already exists in pkg/bson for the on-disk format, this one only
// has to satisfy the admin API's JSON clients.
func toJSON(doc *bson.Document) map[string]interface{} {
	out := make(map[string]interface{}, doc.Len())
	for _, k := range doc.Keys() {
		v, _ := doc.Get(k)
		out[k] = valueToJSON(v)
	}
	return out
}

func valueToJSON(v bson.Value) interface{} {
	switch v.Type {
	case bson.TypeNull, bson.TypeUndefined:
		return nil
	case bson.TypeInt32:
		return v.Int32
	case bson.TypeInt64:
		return v.Int64
	case bson.TypeDouble:
		return v.Double
	case bson.TypeString, bson.TypeSymbol:
		return v.Str
	case bson.TypeObjectID:
		return v.OID.Hex()
	case bson.TypeDateTime:
		return v.Time
	case bson.TypeBoolean:
		return v.Bool
	case bson.TypeBinary:
		return v.Bin
	case bson.TypeArray:
		arr := make([]interface{}, len(v.Arr))
		for i, e := range v.Arr {
			arr[i] = valueToJSON(e)
		}
		return arr
	case bson.TypeDocument:
		return toJSON(v.Doc)
	default:
		return nil
	}
}

// fromJSON builds a document from a decoded JSON object, the inverse of
// toJSON for the request-body shapes the admin API accepts. Numbers decode
// as float64 per encoding/json's default behavior; a whole-valued float64
// is stored as Int64 so round-tripped integers compare correctly against
// index keys built from Int64V, matching how a JSON client sending plain
// integers would expect equality lookups to behave.
func fromJSON(m map[string]interface{}) *bson.Document {
	doc := bson.NewDocument()
	for k, v := range m {
		doc.Set(k, jsonToValue(v))
	}
	return doc
}

func jsonToValue(v interface{}) bson.Value {
	switch t := v.(type) {
	case nil:
		return bson.Null()
	case bool:
		return bson.BoolV(t)
	case string:
		return bson.StringV(t)
	case float64:
		if t == float64(int64(t)) {
			return bson.Int64V(int64(t))
		}
		return bson.DoubleV(t)
	case []interface{}:
		arr := make([]bson.Value, len(t))
		for i, e := range t {
			arr[i] = jsonToValue(e)
		}
		return bson.ArrayV(arr)
	case map[string]interface{}:
		return bson.DocumentV(fromJSON(t))
	default:
		return bson.Null()
	}
}

// idFromJSON decodes the loosely-typed filter/id value a URL path segment
// or query-string lookup key arrives as.
func idFromJSON(raw string) bson.Value {
	if oid, err := bson.ObjectIDFromHex(raw); err == nil {
		return bson.ObjectIDV(oid)
	}
	return bson.StringV(raw)
}

