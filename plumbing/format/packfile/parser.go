package packfile

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// Parser decodes a whole pack stream, resolving every delta, and hands the
// materialized objects to a storer. It also collects the entries needed to
// write the pack's idx.
type Parser struct {
	scanner *Scanner
	storage storer.EncodedObjectStorer

	byOffset map[int64]plumbing.ObjectID
	byHash   map[plumbing.ObjectID][]byte
	types    map[plumbing.ObjectID]plumbing.ObjectType
	entries  []idxfile.Entry
	checksum plumbing.ObjectID
}

// NewParser returns a Parser reading from scanner and storing into storage.
func NewParser(scanner *Scanner, storage storer.EncodedObjectStorer) *Parser {
	return &Parser{
		scanner:  scanner,
		storage:  storage,
		byOffset: make(map[int64]plumbing.ObjectID),
		byHash:   make(map[plumbing.ObjectID][]byte),
		types:    make(map[plumbing.ObjectID]plumbing.ObjectType),
	}
}

// Parse reads the whole pack, storing every object, and returns the pack
// checksum.
func (p *Parser) Parse() (plumbing.ObjectID, error) {
	_, count, err := p.scanner.Header()
	if err != nil {
		return plumbing.ZeroID, err
	}

	// deltas whose base has not been seen yet (REF_DELTA against an object
	// later in the pack or outside it) are retried once all records are
	// read
	type pendingDelta struct {
		header  *ObjectHeader
		payload []byte
		crc     uint32
	}
	var pending []pendingDelta

	buf := bytes.NewBuffer(nil)
	for i := uint32(0); i < count; i++ {
		header, err := p.scanner.NextObjectHeader()
		if err != nil {
			return plumbing.ZeroID, err
		}

		buf.Reset()
		n, crc, err := p.scanner.NextObject(buf)
		if err != nil {
			return plumbing.ZeroID, err
		}

		if n != header.Length {
			return plumbing.ZeroID, fmt.Errorf("%w: inflated %d bytes, header declares %d",
				ErrMalformedPackfile, n, header.Length)
		}

		payload := append([]byte(nil), buf.Bytes()...)

		if !header.Type.IsDelta() {
			h, err := p.store(header.Type, payload)
			if err != nil {
				return plumbing.ZeroID, err
			}

			p.record(h, header.Offset, crc)
			continue
		}

		h, err := p.resolveDelta(header, payload, 0)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			pending = append(pending, pendingDelta{header, payload, crc})
			continue
		}
		if err != nil {
			return plumbing.ZeroID, err
		}

		p.record(h, header.Offset, crc)
	}

	for _, d := range pending {
		h, err := p.resolveDelta(d.header, d.payload, 0)
		if err != nil {
			return plumbing.ZeroID, err
		}

		p.record(h, d.header.Offset, d.crc)
	}

	p.checksum, err = p.scanner.Checksum()
	if err != nil {
		return plumbing.ZeroID, err
	}

	return p.checksum, nil
}

// Index returns the idx entries collected by Parse.
func (p *Parser) Index() *idxfile.MemoryIndex {
	return idxfile.NewMemoryIndex(p.entries, p.checksum)
}

func (p *Parser) record(h plumbing.ObjectID, offset int64, crc uint32) {
	p.byOffset[offset] = h
	p.entries = append(p.entries, idxfile.Entry{
		Hash:   h,
		CRC32:  crc,
		Offset: uint64(offset),
	})
}

func (p *Parser) store(t plumbing.ObjectType, content []byte) (plumbing.ObjectID, error) {
	obj := p.storage.NewEncodedObject()
	obj.SetType(t)
	obj.SetSize(int64(len(content)))

	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroID, err
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroID, err
	}

	if err := w.Close(); err != nil {
		return plumbing.ZeroID, err
	}

	h, err := p.storage.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroID, err
	}

	p.byHash[h] = content
	p.types[h] = t
	return h, nil
}

func (p *Parser) resolveDelta(header *ObjectHeader, payload []byte, depth int) (plumbing.ObjectID, error) {
	if depth > maxDeltaChainDepth {
		return plumbing.ZeroID, ErrMaxDepthExceeded
	}

	var baseHash plumbing.ObjectID
	switch header.Type {
	case plumbing.OFSDeltaObject:
		h, ok := p.byOffset[header.OffsetReference]
		if !ok {
			return plumbing.ZeroID, fmt.Errorf("%w: no object at base offset %d",
				ErrMalformedPackfile, header.OffsetReference)
		}
		baseHash = h
	case plumbing.REFDeltaObject:
		baseHash = header.Reference
	}

	base, typ, err := p.baseContent(baseHash)
	if err != nil {
		return plumbing.ZeroID, err
	}

	content, err := PatchDelta(base, payload)
	if err != nil {
		return plumbing.ZeroID, err
	}

	return p.store(typ, content)
}

func (p *Parser) baseContent(h plumbing.ObjectID) ([]byte, plumbing.ObjectType, error) {
	if content, ok := p.byHash[h]; ok {
		return content, p.types[h], nil
	}

	obj, err := p.storage.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return nil, plumbing.InvalidObject, err
	}

	r, err := obj.Reader()
	if err != nil {
		return nil, plumbing.InvalidObject, err
	}
	defer r.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, plumbing.InvalidObject, err
	}

	return buf.Bytes(), obj.Type(), nil
}
