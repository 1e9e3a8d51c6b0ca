package sync

import (
	"bytes"
	"compress/zlib"
	"io"
	"sync"
)

var (
	zlibInitBytes = []byte{0x78, 0x9c, 0x01, 0x00, 0x00, 0xff, 0xff, 0x00, 0x00, 0x00, 0x01}
	zlibReader    = sync.Pool{
		New: func() interface{} {
			r, _ := zlib.NewReader(bytes.NewReader(zlibInitBytes))
			return ZLibReader{
				Reader: r.(zlibReadCloser),
			}
		},
	}
	zlibWriter = sync.Pool{
		New: func() interface{} {
			return zlib.NewWriter(nil)
		},
	}
)

type zlibReadCloser interface {
	io.ReadCloser
	zlib.Resetter
}

// ZLibReader is a pooled zlib reader along with the dictionary it was last
// reset with.
type ZLibReader struct {
	dict   *[]byte
	Reader zlibReadCloser
}

// GetZlibReader returns a ZLibReader that is managed by a sync.Pool, reset to
// read from r.
//
// After use, the ZLibReader should be put back into the sync.Pool by calling
// PutZlibReader.
func GetZlibReader(r io.Reader) (ZLibReader, error) {
	z := zlibReader.Get().(ZLibReader)
	z.dict = GetByteSlice()
	err := z.Reader.Reset(r, nil)
	return z, err
}

// PutZlibReader puts z back into its sync.Pool, first closing the reader.
func PutZlibReader(z ZLibReader) {
	_ = z.Reader.Close()
	PutByteSlice(z.dict)
	zlibReader.Put(z)
}

// GetZlibWriter returns a *zlib.Writer that is managed by a sync.Pool, reset
// to write to w.
//
// After use, the *zlib.Writer should be put back into the sync.Pool by
// calling PutZlibWriter.
func GetZlibWriter(w io.Writer) *zlib.Writer {
	z := zlibWriter.Get().(*zlib.Writer)
	z.Reset(w)
	return z
}

// PutZlibWriter puts z back into its sync.Pool.
func PutZlibWriter(z *zlib.Writer) {
	zlibWriter.Put(z)
}
