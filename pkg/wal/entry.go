package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// OpType tags what a Record represents.
type OpType byte

const (
	// OpPageImage carries the full after-image of one page.
	OpPageImage OpType = 1
	// OpTxnCommit marks the LSN at which a transaction's page images became
	// visible as a unit. Recovery accepts it but applies nothing for it, and
	// no component in this module appends one.
	OpTxnCommit OpType = 2
	// OpCheckpoint marks a point before which every page image is known to
	// have been applied to the data file, letting recovery skip ahead.
	OpCheckpoint OpType = 3
)

// recordMagic guards against reading a record out of alignment after a
// torn write corrupts the length field into something that looks plausible.
const recordMagic = 0x54574C31 // "TWL1"

// RecordHeaderSize is the fixed-size prefix before the variable payload.
// Layout: magic(4) + lsn(8) + op(1) + pageID(4) + txnID(8) + length(4).
const RecordHeaderSize = 4 + 8 + 1 + 4 + 8 + 4

// Record is one WAL entry: a page's full after-image plus the LSN that
// produced it, or a zero-payload transaction/checkpoint marker.
type Record struct {
	LSN     uint64
	Op      OpType
	PageID  uint32 // unused for OpTxnCommit/OpCheckpoint
	TxnID   uint64
	Payload []byte // page.Size bytes for OpPageImage, else empty
}

// Encode serializes the record as [header][payload][crc32].
func (r *Record) Encode() []byte {
	total := RecordHeaderSize + len(r.Payload) + 4
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], recordMagic)
	binary.LittleEndian.PutUint64(buf[4:12], r.LSN)
	buf[12] = byte(r.Op)
	binary.LittleEndian.PutUint32(buf[13:17], r.PageID)
	binary.LittleEndian.PutUint64(buf[17:25], r.TxnID)
	binary.LittleEndian.PutUint32(buf[25:29], uint32(len(r.Payload)))
	copy(buf[RecordHeaderSize:], r.Payload)

	crc := crc32.ChecksumIEEE(buf[:RecordHeaderSize+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[total-4:total], crc)
	return buf
}

// DecodeRecord parses a record out of data, which must contain at least one
// full record (header + payload + crc32); trailing bytes are ignored.
func DecodeRecord(data []byte) (*Record, int, error) {
	if len(data) < RecordHeaderSize+4 {
		return nil, 0, ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[0:4]) != recordMagic {
		return nil, 0, ErrCorrupted
	}
	length := int(binary.LittleEndian.Uint32(data[25:29]))
	total := RecordHeaderSize + length + 4
	if len(data) < total {
		return nil, 0, ErrTruncated
	}

	crcWant := binary.LittleEndian.Uint32(data[total-4 : total])
	crcGot := crc32.ChecksumIEEE(data[:total-4])
	if crcWant != crcGot {
		return nil, 0, ErrCorrupted
	}

	r := &Record{
		LSN:    binary.LittleEndian.Uint64(data[4:12]),
		Op:     OpType(data[12]),
		PageID: binary.LittleEndian.Uint32(data[13:17]),
		TxnID:  binary.LittleEndian.Uint64(data[17:25]),
	}
	if length > 0 {
		r.Payload = make([]byte, length)
		copy(r.Payload, data[RecordHeaderSize:RecordHeaderSize+length])
	}
	return r, total, nil
}

// Size returns the encoded length of the record.
func (r *Record) Size() int { return RecordHeaderSize + len(r.Payload) + 4 }
