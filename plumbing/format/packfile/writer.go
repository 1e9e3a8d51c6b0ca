package packfile

import (
	"crypto"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	gohash "github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
	"github.com/go-vcs/gitstore/utils/binary"
	"github.com/go-vcs/gitstore/utils/sync"
)

// Writer produces a pack v2 stream. Objects and deltas are appended one at
// a time; Finalize writes the trailer and returns the entries needed to
// build the idx. The object count is part of the pack header, so it must
// be known up front.
type Writer struct {
	w       *offsetWriter
	sum     gohash.Hash
	count   uint32
	written uint32
	offsets map[plumbing.ObjectID]int64
	entries []idxfile.Entry
	done    bool
}

// NewWriter returns a Writer emitting a pack with count objects to w.
func NewWriter(w io.Writer, count uint32) (*Writer, error) {
	sum := gohash.New(crypto.SHA1)
	ow := newOffsetWriter(io.MultiWriter(w, sum))

	pw := &Writer{
		w:       ow,
		sum:     sum,
		count:   count,
		offsets: make(map[plumbing.ObjectID]int64, count),
	}

	if err := binary.Write(ow, signature, VersionSupported, count); err != nil {
		return nil, err
	}

	return pw, nil
}

// AddObject appends an undeltified object record.
func (pw *Writer) AddObject(h plumbing.ObjectID, t plumbing.ObjectType, content []byte) error {
	switch t {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
	default:
		return fmt.Errorf("%w: cannot add %s record", ErrMalformedPackfile, t)
	}

	return pw.entry(h, t, content, func(int64) error { return nil })
}

// AddRefDelta appends a REF_DELTA record against base, which may live
// outside this pack.
func (pw *Writer) AddRefDelta(h, base plumbing.ObjectID, delta []byte) error {
	return pw.entry(h, plumbing.REFDeltaObject, delta, func(int64) error {
		return binary.Write(pw.w, base)
	})
}

// AddOfsDelta appends an OFS_DELTA record against base, which must have
// been added to this pack already.
func (pw *Writer) AddOfsDelta(h, base plumbing.ObjectID, delta []byte) error {
	baseOffset, ok := pw.offsets[base]
	if !ok {
		return fmt.Errorf("%w: delta base %s not in pack", ErrMalformedPackfile, base)
	}

	// the negative offset is relative to the record start, not the
	// position after the size encoding
	return pw.entry(h, plumbing.OFSDeltaObject, delta, func(recordOffset int64) error {
		return binary.WriteVariableWidthInt(pw.w, recordOffset-baseOffset)
	})
}

// entry writes one record: size-encoding header, the delta base reference
// when any, then the zlib-compressed payload. The CRC32 covers the record
// bytes as stored.
func (pw *Writer) entry(h plumbing.ObjectID, t plumbing.ObjectType, payload []byte, baseHeader func(recordOffset int64) error) error {
	if pw.done {
		return fmt.Errorf("%w: writer already finalized", ErrMalformedPackfile)
	}

	if pw.written == pw.count {
		return fmt.Errorf("%w: more objects than declared", ErrMalformedPackfile)
	}

	offset := pw.w.Offset()
	crc := crc32.NewIEEE()
	pw.w.tee = crc

	defer func() { pw.w.tee = nil }()

	if err := pw.entryHead(t, int64(len(payload))); err != nil {
		return err
	}

	pw.offsets[h] = offset

	if err := baseHeader(offset); err != nil {
		return err
	}

	zw := sync.GetZlibWriter(pw.w)
	defer sync.PutZlibWriter(zw)

	if _, err := zw.Write(payload); err != nil {
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}

	pw.entries = append(pw.entries, idxfile.Entry{
		Hash:   h,
		CRC32:  crc.Sum32(),
		Offset: uint64(offset),
	})
	pw.written++

	return nil
}

func (pw *Writer) entryHead(typeNum plumbing.ObjectType, size int64) error {
	t := int64(typeNum)
	header := []byte{}
	c := (t << firstLengthBits) | (size & maskFirstLength)
	size >>= firstLengthBits
	for {
		if size == 0 {
			break
		}
		header = append(header, byte(c|maskContinue))
		c = size & int64(maskLength)
		size >>= lengthBits
	}

	header = append(header, byte(c))
	_, err := pw.w.Write(header)

	return err
}

// Finalize writes the trailer checksum and returns it along with the index
// entries for the written objects.
func (pw *Writer) Finalize() (plumbing.ObjectID, []idxfile.Entry, error) {
	if pw.done {
		return plumbing.ZeroID, nil, fmt.Errorf("%w: writer already finalized", ErrMalformedPackfile)
	}

	if pw.written != pw.count {
		return plumbing.ZeroID, nil, fmt.Errorf("%w: wrote %d of %d declared objects",
			ErrMalformedPackfile, pw.written, pw.count)
	}

	pw.done = true

	checksum := plumbing.NewObjectIDFromBytes(pw.sum.Sum(nil))
	if err := binary.Write(pw.w, checksum); err != nil {
		return plumbing.ZeroID, nil, err
	}

	return checksum, pw.entries, nil
}

// Offsets returns the pack offset of every object written so far.
func (pw *Writer) Offsets() map[plumbing.ObjectID]int64 {
	return pw.offsets
}

type offsetWriter struct {
	w      io.Writer
	tee    io.Writer
	offset int64
}

func newOffsetWriter(w io.Writer) *offsetWriter {
	return &offsetWriter{w: w}
}

func (ow *offsetWriter) Write(p []byte) (n int, err error) {
	n, err = ow.w.Write(p)
	if ow.tee != nil && n > 0 {
		ow.tee.Write(p[:n])
	}
	ow.offset += int64(n)
	return n, err
}

func (ow *offsetWriter) Offset() int64 {
	return ow.offset
}
