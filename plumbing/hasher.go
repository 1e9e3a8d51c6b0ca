package plumbing

import (
	"crypto"
	"fmt"
	"io"
	"strconv"

	"github.com/go-vcs/gitstore/plumbing/hash"
)

// Hasher computes object ids from framed content. It is the only place in
// the module where ids are derived: every store routes id computation
// through it.
//
// The frame is `<type> SP <size> NUL` followed by the body bytes; the id is
// the hash of the whole frame.
type Hasher struct {
	hash.Hash
}

// NewHasher returns a Hasher with the frame header for an object of type t
// and size already written.
func NewHasher(t ObjectType, size int64) Hasher {
	h := Hasher{hash.New(crypto.SHA1)}
	h.Reset(t, size)
	return h
}

// Reset resets the underlying hash and writes the frame header for an object
// of type t and size.
func (h Hasher) Reset(t ObjectType, size int64) {
	h.Hash.Reset()
	h.Write(t.Bytes())
	h.Write([]byte(" "))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
}

// Sum returns the id for the written content.
func (h Hasher) Sum() (id ObjectID) {
	copy(id[:], h.Hash.Sum(nil))
	return
}

// ComputeHash computes the id for an object of type t with content.
func ComputeHash(t ObjectType, content []byte) ObjectID {
	h := NewHasher(t, int64(len(content)))
	h.Write(content)
	return h.Sum()
}

// HashesSort sorts a slice of ids in increasing order.
func HashesSort(a []ObjectID) {
	SortObjectIDs(a)
}

// WriteAndComputeHash writes the frame header and content of an object to w
// while computing its id.
func WriteAndComputeHash(w io.Writer, t ObjectType, size int64, r io.Reader) (ObjectID, error) {
	h := NewHasher(t, size)
	mw := io.MultiWriter(w, h)

	n, err := io.Copy(mw, r)
	if err != nil {
		return ZeroID, err
	}

	if n != size {
		return ZeroID, fmt.Errorf("%w: declared size %d, written %d",
			ErrCorruptObject, size, n)
	}

	return h.Sum(), nil
}
