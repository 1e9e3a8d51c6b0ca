package idxfile

import (
	"bytes"
	"crypto"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/utils/binary"
)

// Decoder reads and decodes idx files from an input stream.
type Decoder struct {
	r    io.Reader
	hash hash.Hash
}

// NewDecoder builds a new idx stream decoder. The idx checksum trailer is
// verified against the read bytes.
func NewDecoder(r io.Reader) *Decoder {
	h := hash.New(crypto.SHA1)
	return &Decoder{
		r:    io.TeeReader(r, h),
		hash: h,
	}
}

// Decode reads from the stream and decodes the content into a MemoryIndex.
func (d *Decoder) Decode(idx *MemoryIndex) error {
	if err := d.validateHeader(); err != nil {
		return err
	}

	flow := []func(*MemoryIndex) error{
		d.readVersion,
		d.readFanout,
		d.readObjectNames,
		d.readCRC32,
		d.readOffsets,
		d.readChecksums,
	}

	for _, f := range flow {
		if err := f(idx); err != nil {
			return err
		}
	}

	return nil
}

func (d *Decoder) validateHeader() error {
	var h = make([]byte, 4)
	if _, err := io.ReadFull(d.r, h); err != nil {
		return err
	}

	if !bytes.Equal(h, idxHeader) {
		return ErrMalformedIdxFile
	}

	return nil
}

func (d *Decoder) readVersion(idx *MemoryIndex) error {
	v, err := binary.ReadUint32(d.r)
	if err != nil {
		return err
	}

	if v > VersionSupported {
		return ErrUnsupportedVersion
	}

	idx.Version = v
	return nil
}

func (d *Decoder) readFanout(idx *MemoryIndex) error {
	for i := 0; i < fanout; i++ {
		n, err := binary.ReadUint32(d.r)
		if err != nil {
			return err
		}

		if i > 0 && n < idx.Fanout[i-1] {
			return ErrMalformedIdxFile
		}

		idx.Fanout[i] = n
	}

	return nil
}

func (d *Decoder) readObjectNames(idx *MemoryIndex) error {
	count := int(idx.Fanout[fanout-1])
	idx.Entries = make([]Entry, count)

	for i := 0; i < count; i++ {
		if err := binary.ReadHash(d.r, &idx.Entries[i].Hash); err != nil {
			return err
		}
	}

	for i := 1; i < count; i++ {
		if bytes.Compare(idx.Entries[i-1].Hash[:], idx.Entries[i].Hash[:]) >= 0 {
			return ErrMalformedIdxFile
		}
	}

	return nil
}

func (d *Decoder) readCRC32(idx *MemoryIndex) error {
	for i := range idx.Entries {
		c, err := binary.ReadUint32(d.r)
		if err != nil {
			return err
		}

		idx.Entries[i].CRC32 = c
	}

	return nil
}

func (d *Decoder) readOffsets(idx *MemoryIndex) error {
	var large []int
	for i := range idx.Entries {
		o, err := binary.ReadUint32(d.r)
		if err != nil {
			return err
		}

		if o&isO64Mask != 0 {
			large = append(large, i)
			idx.Entries[i].Offset = uint64(o &^ isO64Mask)
			continue
		}

		idx.Entries[i].Offset = uint64(o)
	}

	// the large offset table has one 8-byte slot per flagged entry, in
	// entry order
	slots := make([]uint64, len(large))
	for i := range slots {
		o, err := binary.ReadUint64(d.r)
		if err != nil {
			return err
		}

		slots[i] = o
	}

	for _, i := range large {
		slot := idx.Entries[i].Offset
		if slot >= uint64(len(slots)) {
			return ErrMalformedIdxFile
		}

		idx.Entries[i].Offset = slots[slot]
	}

	return nil
}

func (d *Decoder) readChecksums(idx *MemoryIndex) error {
	if err := binary.ReadHash(d.r, &idx.PackfileChecksum); err != nil {
		return err
	}

	expected := plumbing.NewObjectIDFromBytes(d.hash.Sum(nil))

	if err := binary.ReadHash(d.r, &idx.IdxChecksum); err != nil {
		return err
	}

	if idx.IdxChecksum != expected {
		return ErrMalformedIdxFile
	}

	return nil
}
