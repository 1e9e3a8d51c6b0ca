// Package plumbing contains the base building blocks of the storage engine:
// object ids, the encoded object contract, references and the stable error
// kinds shared by every backend.
package plumbing

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/go-vcs/gitstore/plumbing/hash"
)

// ObjectID is the content-addressed identifier of an object: the hash of its
// framed serialization, 20 raw bytes, rendered as 40 lowercase hex digits.
type ObjectID [hash.Size]byte

// ZeroID is the empty, all-zeros ObjectID.
var ZeroID ObjectID

// NewObjectID returns an ObjectID from a 40-character hexadecimal
// representation. Malformed input yields ZeroID.
func NewObjectID(s string) ObjectID {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != hash.Size {
		return ZeroID
	}

	var id ObjectID
	copy(id[:], b)

	return id
}

// NewObjectIDFromBytes returns an ObjectID from its 20 raw bytes.
func NewObjectIDFromBytes(b []byte) ObjectID {
	var id ObjectID
	copy(id[:], b)
	return id
}

// IsZero returns true if the id is the zero value.
func (id ObjectID) IsZero() bool {
	var empty ObjectID
	return id == empty
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20 bytes of the id.
func (id ObjectID) Bytes() []byte {
	return id[:]
}

// Compare compares id and other lexically, returning an integer with the
// same contract as bytes.Compare.
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

// IsValidObjectID reports whether s is a well formed 40-hex object id.
func IsValidObjectID(s string) bool {
	if len(s) != hash.HexSize {
		return false
	}

	_, err := hex.DecodeString(s)
	return err == nil
}

// ObjectIDSlice attaches sort.Interface to []ObjectID, sorting in increasing
// order.
type ObjectIDSlice []ObjectID

func (p ObjectIDSlice) Len() int           { return len(p) }
func (p ObjectIDSlice) Less(i, j int) bool { return p[i].Compare(p[j]) < 0 }
func (p ObjectIDSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// SortObjectIDs sorts a slice of ids in increasing order.
func SortObjectIDs(a []ObjectID) {
	sort.Sort(ObjectIDSlice(a))
}
