package packfile

import (
	"bytes"
	"crypto"
	"fmt"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	gohash "github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/utils/binary"
	"github.com/go-vcs/gitstore/utils/sync"
)

var signature = []byte{'P', 'A', 'C', 'K'}

// ObjectHeader contains the information related to the object, this
// information is collected from the previous bytes to the content of the
// object.
type ObjectHeader struct {
	Type   plumbing.ObjectType
	Offset int64
	// Length is the inflated size of the object content, or of the delta
	// payload for delta records.
	Length int64
	// Reference is the base object id of a REF_DELTA record.
	Reference plumbing.ObjectID
	// OffsetReference is the absolute pack offset of the base object of an
	// OFS_DELTA record.
	OffsetReference int64
}

// Scanner reads a pack stream sequentially: header, then one object record
// at a time, then the trailer checksum. The per-record CRC32 covers the
// record bytes as stored, from the size-encoding byte through the end of
// the compressed payload.
type Scanner struct {
	rd *scannerReader

	version uint32
	objects uint32
	pending bool // an object header was read but its payload was not
}

// NewScanner returns a new Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		rd: newScannerReader(r, gohash.New(crypto.SHA1)),
	}
}

// Header reads the pack header: magic, version and object count.
func (s *Scanner) Header() (version, objects uint32, err error) {
	if s.version != 0 {
		return s.version, s.objects, nil
	}

	sig := make([]byte, 4)
	if _, err := io.ReadFull(s.rd, sig); err != nil {
		return 0, 0, err
	}

	if !bytes.Equal(sig, signature) {
		return 0, 0, fmt.Errorf("%w: bad signature", ErrMalformedPackfile)
	}

	version, err = binary.ReadUint32(s.rd)
	if err != nil {
		return 0, 0, err
	}

	if version != VersionSupported {
		return 0, 0, fmt.Errorf("%w: unsupported version %d", ErrMalformedPackfile, version)
	}

	objects, err = binary.ReadUint32(s.rd)
	if err != nil {
		return 0, 0, err
	}

	s.version = version
	s.objects = objects
	return
}

// NextObjectHeader reads the header of the next object record: its type,
// inflated length, pack offset and delta base, when any.
func (s *Scanner) NextObjectHeader() (*ObjectHeader, error) {
	if s.pending {
		return nil, fmt.Errorf("%w: pending object payload not read", ErrMalformedPackfile)
	}

	s.rd.resetCRC()

	h := &ObjectHeader{Offset: s.rd.offset}

	b, err := s.rd.ReadByte()
	if err != nil {
		return nil, err
	}

	h.Type = plumbing.ObjectType((b & maskType) >> firstLengthBits)
	h.Length = int64(b & maskFirstLength)

	shift := firstLengthBits
	for b&maskContinue != 0 {
		b, err = s.rd.ReadByte()
		if err != nil {
			return nil, err
		}

		h.Length += int64(b&maskLength) << shift
		shift += lengthBits
	}

	switch h.Type {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
	case plumbing.OFSDeltaObject:
		rel, err := binary.ReadVariableWidthInt(s.rd)
		if err != nil {
			return nil, err
		}

		h.OffsetReference = h.Offset - rel
		if h.OffsetReference < 0 || h.OffsetReference >= h.Offset {
			return nil, fmt.Errorf("%w: bad delta base offset", ErrMalformedPackfile)
		}
	case plumbing.REFDeltaObject:
		if err := binary.ReadHash(s.rd, &h.Reference); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: invalid object type %d", ErrMalformedPackfile, h.Type)
	}

	s.pending = true
	return h, nil
}

// NextObject inflates the payload of the last header into w, returning the
// inflated byte count and the CRC32 of the record as stored.
func (s *Scanner) NextObject(w io.Writer) (written int64, crc uint32, err error) {
	if !s.pending {
		return 0, 0, fmt.Errorf("%w: no pending object", ErrMalformedPackfile)
	}
	s.pending = false

	zr, err := sync.GetZlibReader(s.rd)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrZLib, err)
	}
	defer sync.PutZlibReader(zr)

	buf := sync.GetByteSlice()
	defer sync.PutByteSlice(buf)

	written, err = io.CopyBuffer(w, zr.Reader, *buf)
	if err != nil {
		return written, 0, fmt.Errorf("%w: %v", ErrZLib, err)
	}

	return written, s.rd.crcSum(), nil
}

// Checksum reads the pack trailer and verifies it against the hash of the
// preceding bytes.
func (s *Scanner) Checksum() (plumbing.ObjectID, error) {
	expected := plumbing.NewObjectIDFromBytes(s.rd.sum.Sum(nil))

	var stored plumbing.ObjectID
	if err := binary.ReadHash(s.rd, &stored); err != nil {
		return plumbing.ZeroID, err
	}

	if stored != expected {
		return plumbing.ZeroID, ErrBadChecksum
	}

	return stored, nil
}
