package bson

import (
	"encoding/binary"
	"math"
)

// SortableFloat64Bits maps f to a uint64 whose big-endian byte order matches
// f's numeric order, the same sign-bit-flip trick the storage layer's
// order-preserving composite-key encoder uses for signed integers. Used by
// pkg/btree to build IndexKey byte strings that sort the way Compare does.
func SortableFloat64Bits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&signBit != 0 {
		// negative: flip every bit so more-negative sorts lower
		return ^bits
	}
	// positive: flip only the sign bit so positives sort above negatives
	return bits | signBit
}

const signBit = uint64(1) << 63

// EncodeSortableNumeric returns the order-preserving byte encoding for any
// numeric Value (spec.md's numeric rank band treats Int32/Int64/Double/
// Decimal128 as one comparison domain).
func EncodeSortableNumeric(v Value) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], SortableFloat64Bits(numeric(v)))
	return buf[:]
}
