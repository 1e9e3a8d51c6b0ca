package plumbing

import (
	"bytes"
	"io"
)

// MemoryObject on memory Object implementation.
type MemoryObject struct {
	t    ObjectType
	h    ObjectID
	cont []byte
	sz   int64
}

// Hash returns the object id of the object. The id is only computed once, on
// the first call after the last write; the object must not be written to
// afterwards.
func (o *MemoryObject) Hash() ObjectID {
	if o.h == ZeroID && int64(len(o.cont)) == o.sz {
		o.h = ComputeHash(o.t, o.cont)
	}

	return o.h
}

// Type returns the ObjectType.
func (o *MemoryObject) Type() ObjectType { return o.t }

// SetType sets the ObjectType.
func (o *MemoryObject) SetType(t ObjectType) { o.t = t }

// Size returns the size of the object.
func (o *MemoryObject) Size() int64 { return o.sz }

// SetSize sets the object size.
func (o *MemoryObject) SetSize(s int64) { o.sz = s }

// Reader returns an io.ReadCloser used to read the object's content.
func (o *MemoryObject) Reader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewBuffer(o.cont)), nil
}

// Writer returns an io.WriteCloser used to write the object's content.
func (o *MemoryObject) Writer() (io.WriteCloser, error) {
	return o, nil
}

func (o *MemoryObject) Write(p []byte) (n int, err error) {
	o.cont = append(o.cont, p...)
	o.sz = int64(len(o.cont))
	o.h = ZeroID

	return len(p), nil
}

// Close releases any resources consumed by the object.
func (o *MemoryObject) Close() error { return nil }
