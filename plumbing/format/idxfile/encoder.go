package idxfile

import (
	"crypto"
	"io"
	"math"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/utils/binary"
)

// Encoder writes MemoryIndex structs to an output stream.
type Encoder struct {
	io.Writer
	hash hash.Hash
}

// NewEncoder returns a new stream encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	h := hash.New(crypto.SHA1)
	mw := io.MultiWriter(w, h)
	return &Encoder{mw, h}
}

// Encode encodes a MemoryIndex to the encoder writer, returning the number
// of bytes written. The idx checksum of the written stream is stored back
// into idx.IdxChecksum.
func (e *Encoder) Encode(idx *MemoryIndex) (int, error) {
	flow := []func(*MemoryIndex) (int, error){
		e.encodeHeader,
		e.encodeFanout,
		e.encodeHashes,
		e.encodeCRC32,
		e.encodeOffsets,
		e.encodeChecksums,
	}

	sz := 0
	for _, f := range flow {
		i, err := f(idx)
		sz += i

		if err != nil {
			return sz, err
		}
	}

	return sz, nil
}

func (e *Encoder) encodeHeader(idx *MemoryIndex) (int, error) {
	c, err := e.Write(idxHeader)
	if err != nil {
		return c, err
	}

	return c + 4, binary.WriteUint32(e, idx.Version)
}

func (e *Encoder) encodeFanout(idx *MemoryIndex) (int, error) {
	for _, c := range idx.Fanout {
		if err := binary.WriteUint32(e, c); err != nil {
			return 0, err
		}
	}

	return fanout * 4, nil
}

func (e *Encoder) encodeHashes(idx *MemoryIndex) (int, error) {
	var size int
	for i := range idx.Entries {
		n, err := e.Write(idx.Entries[i].Hash[:])
		if err != nil {
			return size, err
		}
		size += n
	}

	return size, nil
}

func (e *Encoder) encodeCRC32(idx *MemoryIndex) (int, error) {
	var size int
	for i := range idx.Entries {
		if err := binary.WriteUint32(e, idx.Entries[i].CRC32); err != nil {
			return size, err
		}
		size += 4
	}

	return size, nil
}

func (e *Encoder) encodeOffsets(idx *MemoryIndex) (int, error) {
	var size int
	var large []uint64
	for i := range idx.Entries {
		o := idx.Entries[i].Offset
		if o > math.MaxInt32 {
			if err := binary.WriteUint32(e, isO64Mask|uint32(len(large))); err != nil {
				return size, err
			}

			large = append(large, o)
			size += 4
			continue
		}

		if err := binary.WriteUint32(e, uint32(o)); err != nil {
			return size, err
		}
		size += 4
	}

	for _, o := range large {
		if err := binary.WriteUint64(e, o); err != nil {
			return size, err
		}
		size += 8
	}

	return size, nil
}

func (e *Encoder) encodeChecksums(idx *MemoryIndex) (int, error) {
	if _, err := e.Write(idx.PackfileChecksum[:]); err != nil {
		return 0, err
	}

	idx.IdxChecksum = plumbing.NewObjectIDFromBytes(e.hash.Sum(nil))
	if _, err := e.Write(idx.IdxChecksum[:]); err != nil {
		return 0, err
	}

	return hash.Size * 2, nil
}
