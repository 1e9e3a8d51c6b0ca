package objfile

import (
	"compress/zlib"
	"errors"
	"io"
	"strconv"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/utils/sync"
)

// ErrOverflow is returned when an attempt is made to write more data than
// the declared size.
var ErrOverflow = errors.New("objfile: declared data length exceeded")

// Writer writes and compresses an object file. The writer tracks the
// declared size and refuses writes beyond it.
type Writer struct {
	raw    io.Writer
	zlib   *zlib.Writer
	size   int64
	n      int64
	closed bool
	hdr    bool
}

// NewWriter returns a new Writer writing to w.
//
// The returned Writer must have WriteHeader called before writing a body,
// and Close called when done to flush the compressed stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		raw:  w,
		zlib: sync.GetZlibWriter(w),
	}
}

// WriteHeader writes the object header for an object of type t and size.
func (w *Writer) WriteHeader(t plumbing.ObjectType, size int64) error {
	if !t.Valid() {
		return plumbing.ErrInvalidType
	}
	if size < 0 {
		return ErrNegativeSize
	}

	b := t.Bytes()
	b = append(b, ' ')
	b = append(b, []byte(strconv.FormatInt(size, 10))...)
	b = append(b, 0)

	defer func() {
		w.size = size
		w.n = 0
		w.hdr = true
	}()

	_, err := w.zlib.Write(b)
	return err
}

// Write writes the object body. WriteHeader must have been called first.
func (w *Writer) Write(p []byte) (n int, err error) {
	if w.closed {
		return 0, ErrClosed
	}
	if !w.hdr {
		return 0, ErrHeader
	}

	overwrite := false
	if int64(len(p)) > w.size-w.n {
		p = p[0 : w.size-w.n]
		overwrite = true
	}

	n, err = w.zlib.Write(p)
	w.n += int64(n)
	if err == nil && overwrite {
		err = ErrOverflow
	}

	return
}

// Close releases any resources consumed by the Writer. It fails if the body
// written is shorter than declared.
//
// Calling Close does not close the wrapped io.Writer originally passed to
// NewWriter.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}

	err := w.zlib.Close()
	sync.PutZlibWriter(w.zlib)
	w.closed = true

	if err == nil && w.n < w.size {
		err = plumbing.ErrCorruptObject
	}

	return err
}
