package object

import (
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

// Blob is used to store arbitrary data - it is generally considered the raw
// content of a file.
type Blob struct {
	// Hash of the blob.
	Hash plumbing.ObjectID
	// Size of the (uncompressed) blob.
	Size int64

	obj plumbing.EncodedObject
}

// GetBlob gets a blob from an object storer and decodes it.
func GetBlob(s storer.EncodedObjectStorer, h plumbing.ObjectID) (*Blob, error) {
	o, err := s.EncodedObject(plumbing.BlobObject, h)
	if err != nil {
		return nil, err
	}

	return DecodeBlob(o)
}

// DecodeBlob decodes an encoded object into a *Blob.
func DecodeBlob(o plumbing.EncodedObject) (*Blob, error) {
	b := &Blob{}
	if err := b.Decode(o); err != nil {
		return nil, err
	}

	return b, nil
}

// ID returns the object ID of the blob. The returned value will always match
// the current value of Blob.Hash.
func (b *Blob) ID() plumbing.ObjectID {
	return b.Hash
}

// Type returns the type of object. It always returns plumbing.BlobObject.
func (b *Blob) Type() plumbing.ObjectType {
	return plumbing.BlobObject
}

// Decode transforms a plumbing.EncodedObject into a Blob struct.
func (b *Blob) Decode(o plumbing.EncodedObject) error {
	if o.Type() != plumbing.BlobObject {
		return ErrUnsupportedObject
	}

	b.Hash = o.Hash()
	b.Size = o.Size()
	b.obj = o

	return nil
}

// Encode transforms a Blob into a plumbing.EncodedObject.
func (b *Blob) Encode(o plumbing.EncodedObject) (err error) {
	o.SetType(plumbing.BlobObject)

	w, err := o.Writer()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(w, &err)

	r, err := b.Reader()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(r, &err)

	_, err = io.Copy(w, r)
	return err
}

// Reader returns a reader allow the access to the content of the blob.
func (b *Blob) Reader() (io.ReadCloser, error) {
	return b.obj.Reader()
}

// StoreBlobContent stores content as a blob, streaming it through the
// storer, and returns its id. Storing the same content twice is idempotent.
func StoreBlobContent(s storer.EncodedObjectStorer, r io.Reader) (plumbing.ObjectID, error) {
	o := s.NewEncodedObject()
	o.SetType(plumbing.BlobObject)

	w, err := o.Writer()
	if err != nil {
		return plumbing.ZeroID, err
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return plumbing.ZeroID, err
	}

	if err := w.Close(); err != nil {
		return plumbing.ZeroID, err
	}

	return s.SetEncodedObject(o)
}
