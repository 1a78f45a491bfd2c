package bson

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"
)

// ObjectID is the 12-byte time-ordered identifier spec.md §3 assigns to any
// document whose _id is absent on insert: a 4-byte timestamp, a 5-byte
// random machine/process identifier and a 3-byte counter.
type ObjectID [12]byte

var (
	processUnique = randomProcessUnique()
	counter       = randomUint32()
)

func randomProcessUnique() [5]byte {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return b
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// NewObjectID generates a fresh time-ordered ObjectID.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])
	c := atomic.AddUint32(&counter, 1) & 0x00FFFFFF
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Hex returns the lowercase hex encoding of the ObjectID.
func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return id.Hex() }

// IsZero reports whether the ObjectID is all-zero (i.e. never assigned).
func (id ObjectID) IsZero() bool { return id == ObjectID{} }

// ObjectIDFromHex parses the lowercase hex encoding Hex produces, the
// inverse conversion a text-facing caller (the admin HTTP API, a CLI flag)
// needs to turn a path segment back into an ObjectID.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return ObjectID{}, errInvalidHex
	}
	copy(id[:], b)
	return id, nil
}

var errInvalidHex = errors.New("bson: invalid ObjectID hex string")
