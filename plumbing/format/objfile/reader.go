// Package objfile implements the loose object on-disk codec: the framed
// `<type> SP <size> NUL <body>` byte stream, zlib-compressed at rest.
package objfile

import (
	"errors"
	"io"
	"strconv"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/utils/sync"
)

var (
	// ErrClosed is returned when the objfile Reader or Writer is already
	// closed.
	ErrClosed = errors.New("objfile: already closed")
	// ErrHeader is returned when the objfile has a malformed header.
	ErrHeader = errors.New("objfile: invalid header")
	// ErrNegativeSize is returned when a header declares a negative size.
	ErrNegativeSize = errors.New("objfile: negative size")
)

// Reader reads and decompresses an object file.
type Reader struct {
	multi  io.Reader
	zlib   io.Reader
	zlibrc sync.ZLibReader
}

// NewReader returns a new Reader reading from r.
func NewReader(r io.Reader) (*Reader, error) {
	zlib, err := sync.GetZlibReader(r)
	if err != nil {
		return nil, plumbing.ErrCorruptObject
	}

	return &Reader{
		zlib:   zlib.Reader,
		zlibrc: zlib,
	}, nil
}

// Header reads the object header, returning the object type and size. Must
// be called before Read.
func (r *Reader) Header() (t plumbing.ObjectType, size int64, err error) {
	var raw []byte
	raw, err = r.readUntil(' ')
	if err != nil {
		return
	}

	t, err = plumbing.ParseObjectType(string(raw))
	if err != nil {
		err = ErrHeader
		return
	}

	raw, err = r.readUntil(0)
	if err != nil {
		return
	}

	size, err = strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		err = ErrHeader
		return
	}

	if size < 0 {
		err = ErrNegativeSize
		return
	}

	r.multi = io.LimitReader(r.zlib, size)
	return
}

// readUntil reads from zlib byte by byte until delimiter, returning the read
// bytes without it. An unexpected EOF or an unreasonably long header is
// reported as ErrHeader.
func (r *Reader) readUntil(delim byte) ([]byte, error) {
	var buf [1]byte
	value := make([]byte, 0, 16)
	for {
		if len(value) >= 64 {
			return nil, ErrHeader
		}

		if _, err := io.ReadFull(r.zlib, buf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, ErrHeader
			}
			return nil, err
		}

		if buf[0] == delim {
			return value, nil
		}

		value = append(value, buf[0])
	}
}

// Read reads the object body, at most the declared size. Header must have
// been called first.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.multi == nil {
		return 0, ErrHeader
	}

	return r.multi.Read(p)
}

// Close releases any resources consumed by the Reader.
//
// Calling Close does not close the wrapped io.Reader originally passed to
// NewReader.
func (r *Reader) Close() error {
	sync.PutZlibReader(r.zlibrc)
	return nil
}
