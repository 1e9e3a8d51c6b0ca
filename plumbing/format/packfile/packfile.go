package packfile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/cache"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/binary"
	"github.com/go-vcs/gitstore/utils/sync"
)

// Packfile provides random access to the objects of an on-disk pack through
// its index: direct lookup by id, full delta resolution, and partial reads
// from delta chains without materializing the leaf.
type Packfile struct {
	idx   *idxfile.MemoryIndex
	file  io.ReaderAt
	cache cache.Object
}

// Open returns a Packfile over the given index and pack bytes. A nil cache
// gets the default LRU.
func Open(idx *idxfile.MemoryIndex, file io.ReaderAt, objectCache cache.Object) *Packfile {
	if objectCache == nil {
		objectCache = cache.NewObjectLRUDefault()
	}

	return &Packfile{
		idx:   idx,
		file:  file,
		cache: objectCache,
	}
}

// Index returns the pack's index.
func (p *Packfile) Index() *idxfile.MemoryIndex {
	return p.idx
}

// Has reports whether the pack contains the given id.
func (p *Packfile) Has(h plumbing.ObjectID) bool {
	return p.idx.Has(h)
}

// Hashes returns the ids contained in the pack, in id order.
func (p *Packfile) Hashes() []plumbing.ObjectID {
	return p.idx.Hashes()
}

// Get returns the object with the given id, resolving delta chains to
// materialized content. Unknown ids return plumbing.ErrObjectNotFound.
func (p *Packfile) Get(h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	if obj, ok := p.cache.Get(h); ok {
		return obj, nil
	}

	offset, ok := p.idx.FindOffset(h)
	if !ok {
		return nil, plumbing.ErrObjectNotFound
	}

	return p.objectAtOffset(offset)
}

// GetByOffset returns the object stored at the given pack offset.
func (p *Packfile) GetByOffset(offset int64) (plumbing.EncodedObject, error) {
	if h, ok := p.idx.FindHash(uint64(offset)); ok {
		if obj, ok := p.cache.Get(h); ok {
			return obj, nil
		}
	}

	return p.objectAtOffset(offset)
}

func (p *Packfile) objectAtOffset(offset int64) (plumbing.EncodedObject, error) {
	typ, content, err := p.contentAt(offset, 0, map[int64]bool{})
	if err != nil {
		return nil, err
	}

	obj := &plumbing.MemoryObject{}
	obj.SetType(typ)
	if _, err := obj.Write(content); err != nil {
		return nil, err
	}

	p.cache.Put(obj)
	return obj, nil
}

// contentAt materializes the object at offset, following delta bases.
// visiting carries the offsets on the current resolution path so circular
// deltas are refused rather than recursed into.
func (p *Packfile) contentAt(offset int64, depth int, visiting map[int64]bool) (plumbing.ObjectType, []byte, error) {
	if depth > maxDeltaChainDepth {
		return plumbing.InvalidObject, nil, ErrMaxDepthExceeded
	}

	if visiting[offset] {
		return plumbing.InvalidObject, nil, ErrCircularDelta
	}
	visiting[offset] = true
	defer delete(visiting, offset)

	h, dataOffset, err := p.headerAt(offset)
	if err != nil {
		return plumbing.InvalidObject, nil, err
	}

	payload, err := p.inflateAt(dataOffset, h.Length)
	if err != nil {
		return plumbing.InvalidObject, nil, err
	}

	switch h.Type {
	case plumbing.CommitObject, plumbing.TreeObject, plumbing.BlobObject, plumbing.TagObject:
		return h.Type, payload, nil

	case plumbing.OFSDeltaObject:
		baseType, base, err := p.contentAt(h.OffsetReference, depth+1, visiting)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}

		content, err := PatchDelta(base, payload)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}

		return baseType, content, nil

	case plumbing.REFDeltaObject:
		baseOffset, ok := p.idx.FindOffset(h.Reference)
		if !ok {
			return plumbing.InvalidObject, nil, plumbing.ErrObjectNotFound
		}

		baseType, base, err := p.contentAt(baseOffset, depth+1, visiting)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}

		content, err := PatchDelta(base, payload)
		if err != nil {
			return plumbing.InvalidObject, nil, err
		}

		return baseType, content, nil

	default:
		return plumbing.InvalidObject, nil, fmt.Errorf("%w: invalid object type %d",
			ErrMalformedPackfile, h.Type)
	}
}

// headerAt parses the record header at offset, returning it along with the
// offset where the compressed payload starts.
func (p *Packfile) headerAt(offset int64) (*ObjectHeader, int64, error) {
	sr := io.NewSectionReader(p.file, offset, 1<<24)
	r := bufio.NewReader(sr)

	h := &ObjectHeader{Offset: offset}
	consumed := int64(0)

	b, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: truncated record", ErrMalformedPackfile)
	}
	consumed++

	h.Type = plumbing.ObjectType((b & maskType) >> firstLengthBits)
	h.Length = int64(b & maskFirstLength)

	shift := firstLengthBits
	for b&maskContinue != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: truncated record", ErrMalformedPackfile)
		}
		consumed++

		h.Length += int64(b&maskLength) << shift
		shift += lengthBits
	}

	switch h.Type {
	case plumbing.OFSDeltaObject:
		rel, err := binary.ReadVariableWidthInt(&countingByteReader{r, &consumed})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: truncated delta base", ErrMalformedPackfile)
		}

		h.OffsetReference = offset - rel
		if h.OffsetReference < 0 || h.OffsetReference >= offset {
			return nil, 0, fmt.Errorf("%w: bad delta base offset", ErrMalformedPackfile)
		}
	case plumbing.REFDeltaObject:
		if err := binary.ReadHash(&countingByteReader{r, &consumed}, &h.Reference); err != nil {
			return nil, 0, fmt.Errorf("%w: truncated delta base", ErrMalformedPackfile)
		}
	}

	return h, offset + consumed, nil
}

// countingByteReader tracks how many bytes were consumed from the wrapped
// bufio reader.
type countingByteReader struct {
	r *bufio.Reader
	n *int64
}

func (c *countingByteReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func (c *countingByteReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		*c.n++
	}
	return b, err
}

// inflateAt inflates the zlib stream starting at dataOffset, verifying the
// inflated size against the record header.
func (p *Packfile) inflateAt(dataOffset, expected int64) ([]byte, error) {
	sr := io.NewSectionReader(p.file, dataOffset, 1<<62-dataOffset)
	zr, err := sync.GetZlibReader(bufio.NewReader(sr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrZLib, err)
	}
	defer sync.PutZlibReader(zr)

	buf := sync.GetBytesBuffer()
	defer sync.PutBytesBuffer(buf)

	n, err := buf.ReadFrom(zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrZLib, err)
	}

	if n != expected {
		return nil, fmt.Errorf("%w: inflated %d bytes, header declares %d",
			ErrMalformedPackfile, n, expected)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// RandomAccess returns a handle over the object with the given id that
// serves Size, ReadAt and Stream without materializing the object: delta
// chains are resolved instruction-by-instruction for just the requested
// ranges.
func (p *Packfile) RandomAccess(h plumbing.ObjectID) (*ObjectHandle, error) {
	offset, ok := p.idx.FindOffset(h)
	if !ok {
		return nil, plumbing.ErrObjectNotFound
	}

	// walk the chain leaf to root, collecting delta payloads
	var deltas [][]byte
	visiting := map[int64]bool{}

	for {
		if len(deltas) > maxDeltaChainDepth {
			return nil, ErrMaxDepthExceeded
		}

		if visiting[offset] {
			return nil, ErrCircularDelta
		}
		visiting[offset] = true

		hdr, dataOffset, err := p.headerAt(offset)
		if err != nil {
			return nil, err
		}

		switch hdr.Type {
		case plumbing.OFSDeltaObject, plumbing.REFDeltaObject:
			payload, err := p.inflateAt(dataOffset, hdr.Length)
			if err != nil {
				return nil, err
			}

			deltas = append([][]byte{payload}, deltas...)

			if hdr.Type == plumbing.OFSDeltaObject {
				offset = hdr.OffsetReference
				continue
			}

			baseOffset, ok := p.idx.FindOffset(hdr.Reference)
			if !ok {
				return nil, plumbing.ErrObjectNotFound
			}
			offset = baseOffset

		default:
			base := &zlibReaderAt{file: p.file, dataOffset: dataOffset, size: hdr.Length}
			chain, err := NewDeltaChainReader(base, hdr.Length, deltas)
			if err != nil {
				return nil, err
			}

			return &ObjectHandle{typ: hdr.Type, chain: chain}, nil
		}
	}
}

// ObjectHandle is a random-access view of a pack object.
type ObjectHandle struct {
	typ   plumbing.ObjectType
	chain *DeltaChainReader
}

// Type returns the object type.
func (h *ObjectHandle) Type() plumbing.ObjectType { return h.typ }

// Size returns the materialized size of the object.
func (h *ObjectHandle) Size() int64 { return h.chain.Size() }

// ReadAt reads bytes of the object at the given offset. Reads past the end
// return fewer bytes with io.EOF; zero-length reads return empty.
func (h *ObjectHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.chain.ReadAt(p, off)
}

// Stream returns a reader over the object bytes [off, off+length).
func (h *ObjectHandle) Stream(off, length int64) io.Reader {
	return h.chain.Stream(off, length)
}

// zlibReaderAt serves ReadAt over a zlib-compressed pack payload by
// re-inflating from the start of the stream and discarding the prefix. It
// never keeps the full object in memory.
type zlibReaderAt struct {
	file       io.ReaderAt
	dataOffset int64
	size       int64
}

func (z *zlibReaderAt) Size() int64 { return z.size }

func (z *zlibReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if off >= z.size {
		return 0, io.EOF
	}

	sr := io.NewSectionReader(z.file, z.dataOffset, 1<<62-z.dataOffset)
	zr, err := sync.GetZlibReader(bufio.NewReader(sr))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrZLib, err)
	}
	defer sync.PutZlibReader(zr)

	if off > 0 {
		if _, err := io.CopyN(io.Discard, zr.Reader, off); err != nil {
			return 0, err
		}
	}

	n, err := io.ReadFull(zr.Reader, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}

	return n, err
}

// GetAll returns an iterator over every object in the pack, in index order.
func (p *Packfile) GetAll() (storer.EncodedObjectIter, error) {
	hashes := p.Hashes()
	objs := make([]plumbing.EncodedObject, 0, len(hashes))
	for _, h := range hashes {
		obj, err := p.Get(h)
		if err != nil {
			return nil, err
		}

		objs = append(objs, obj)
	}

	return storer.NewEncodedObjectSliceIter(objs), nil
}
