// Package idxfile implements the pack index v2 format: fanout table, sorted
// id table, CRC32 table, 32/64-bit offsets and the two trailing checksums.
package idxfile

import (
	"bytes"
	"errors"
	"sort"

	"github.com/go-vcs/gitstore/plumbing"
)

var (
	idxHeader = []byte{255, 't', 'O', 'c'}

	// ErrUnsupportedVersion is returned by Decode when the idx file version
	// is not supported.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrMalformedIdxFile is returned by Decode when the idx file is
	// corrupted.
	ErrMalformedIdxFile = errors.New("malformed idx file")
)

const (
	fanout = 256
	// isO64Mask flags a 32-bit offset slot that points into the large
	// offset table.
	isO64Mask = uint32(1) << 31
)

// Entry is the in-memory representation of an object entry in the idx file:
// the object id, the CRC32 of its on-disk pack record, and its byte offset
// within the pack.
type Entry struct {
	Hash   plumbing.ObjectID
	CRC32  uint32
	Offset uint64
}

// MemoryIndex is the in-memory representation of an idx file. Entries are
// kept sorted by id and the fanout table is memoized for O(log n) lookup.
type MemoryIndex struct {
	Version uint32
	Fanout  [fanout]uint32
	Entries []Entry

	PackfileChecksum plumbing.ObjectID
	IdxChecksum      plumbing.ObjectID

	offsetHash map[uint64]plumbing.ObjectID
}

// NewMemoryIndex builds a MemoryIndex from an unsorted entry list and the
// pack checksum, sorting entries and deriving the fanout table.
func NewMemoryIndex(entries []Entry, packChecksum plumbing.ObjectID) *MemoryIndex {
	idx := &MemoryIndex{
		Version:          VersionSupported,
		Entries:          append([]Entry(nil), entries...),
		PackfileChecksum: packChecksum,
	}

	sort.Slice(idx.Entries, func(i, j int) bool {
		return bytes.Compare(idx.Entries[i].Hash[:], idx.Entries[j].Hash[:]) < 0
	})

	idx.buildFanout()
	return idx
}

// VersionSupported is the only idx version supported.
const VersionSupported uint32 = 2

func (idx *MemoryIndex) buildFanout() {
	var cursor int
	for b := 0; b < fanout; b++ {
		for cursor < len(idx.Entries) && int(idx.Entries[cursor].Hash[0]) <= b {
			cursor++
		}

		idx.Fanout[b] = uint32(cursor)
	}
}

// Count returns the number of objects described by the index.
func (idx *MemoryIndex) Count() int {
	return len(idx.Entries)
}

// bucket returns the half-open entry range covering ids whose first byte is
// b.
func (idx *MemoryIndex) bucket(b byte) (lo, hi int) {
	if b > 0 {
		lo = int(idx.Fanout[b-1])
	}

	return lo, int(idx.Fanout[b])
}

// FindEntry returns the entry for the given id, if present.
func (idx *MemoryIndex) FindEntry(h plumbing.ObjectID) (*Entry, bool) {
	lo, hi := idx.bucket(h[0])
	bucket := idx.Entries[lo:hi]

	i := sort.Search(len(bucket), func(i int) bool {
		return bytes.Compare(bucket[i].Hash[:], h[:]) >= 0
	})

	if i == len(bucket) || bucket[i].Hash != h {
		return nil, false
	}

	return &bucket[i], true
}

// FindOffset returns the pack offset of the given id, if present.
func (idx *MemoryIndex) FindOffset(h plumbing.ObjectID) (int64, bool) {
	e, ok := idx.FindEntry(h)
	if !ok {
		return 0, false
	}

	return int64(e.Offset), true
}

// FindHash returns the id stored at the given pack offset, if any. The
// reverse map is built on first use.
func (idx *MemoryIndex) FindHash(offset uint64) (plumbing.ObjectID, bool) {
	if idx.offsetHash == nil {
		idx.offsetHash = make(map[uint64]plumbing.ObjectID, len(idx.Entries))
		for _, e := range idx.Entries {
			idx.offsetHash[e.Offset] = e.Hash
		}
	}

	h, ok := idx.offsetHash[offset]
	return h, ok
}

// Has reports whether the index describes the given id.
func (idx *MemoryIndex) Has(h plumbing.ObjectID) bool {
	_, ok := idx.FindEntry(h)
	return ok
}

// Hashes returns the ids described by the index, in id order.
func (idx *MemoryIndex) Hashes() []plumbing.ObjectID {
	out := make([]plumbing.ObjectID, len(idx.Entries))
	for i, e := range idx.Entries {
		out[i] = e.Hash
	}

	return out
}
