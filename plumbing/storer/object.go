// Package storer defines the interfaces implemented by every storage
// backend, plus the generic iterators shared between them.
package storer

import (
	"errors"

	"github.com/go-vcs/gitstore/plumbing"
)

var (
	// ErrStop is used to stop an iteration from a callback without it being
	// an actual error.
	ErrStop = errors.New("stop iter")
)

// EncodedObjectStorer is a generic storer for encoded objects: the raw,
// framed form every typed store parses from and serializes to.
type EncodedObjectStorer interface {
	// NewEncodedObject returns a new plumbing.EncodedObject, the real type
	// of the object can be a custom implementation or the default,
	// plumbing.MemoryObject.
	NewEncodedObject() plumbing.EncodedObject
	// SetEncodedObject saves an object into the storage, the object should
	// be create with the NewEncodedObject, method, and file if the type is
	// not supported. Storing the same content twice is idempotent and
	// returns the same id.
	SetEncodedObject(plumbing.EncodedObject) (plumbing.ObjectID, error)
	// EncodedObject gets an object by id for the given plumbing.ObjectType.
	// Implementors should return (nil, plumbing.ErrObjectNotFound) if an
	// object doesn't exist with both the given id and type.
	EncodedObject(plumbing.ObjectType, plumbing.ObjectID) (plumbing.EncodedObject, error)
	// HasEncodedObject returns nil if the object exists, without actually
	// reading the object data from storage.
	HasEncodedObject(plumbing.ObjectID) error
	// EncodedObjectSize returns the plaintext size of the encoded object.
	EncodedObjectSize(plumbing.ObjectID) (int64, error)
	// IterEncodedObjects returns a custom EncodedObjectIter over all the
	// objects in the storage with the given type.
	IterEncodedObjects(plumbing.ObjectType) (EncodedObjectIter, error)
	// DeleteEncodedObject removes the object with the given id, reporting
	// whether it was present.
	DeleteEncodedObject(plumbing.ObjectID) (bool, error)
}

// DeltaObjectStorer is an EncodedObjectStorer that can return delta objects
// without resolving them, for repack pipelines.
type DeltaObjectStorer interface {
	// DeltaObject is the same as EncodedObject but without resolving deltas;
	// deltas are returned as plumbing.DeltaObject instances.
	DeltaObject(plumbing.ObjectType, plumbing.ObjectID) (plumbing.EncodedObject, error)
}

// LooseObjectStorer is implemented by backends that distinguish loose
// objects from packed ones.
type LooseObjectStorer interface {
	// ForEachObjectHash iterates over all the (loose) object hashes in the
	// repository without necessarily having to read those objects. Objects
	// only inside pack files may be omitted. If ErrStop is sent the
	// iteration is stopped but no error is returned.
	ForEachObjectHash(func(plumbing.ObjectID) error) error
	// HasLooseObject returns true if the given object is a loose object.
	HasLooseObject(plumbing.ObjectID) bool
	// DeleteLooseObject deletes the given loose object.
	DeleteLooseObject(plumbing.ObjectID) error
	// CountLooseObjects returns the number of loose objects.
	CountLooseObjects() (int, error)
}

// PackedObjectStorer is implemented by backends that keep pack files.
type PackedObjectStorer interface {
	// ObjectPacks returns the checksums of the packs in the storage.
	ObjectPacks() ([]plumbing.ObjectID, error)
	// DeleteOldObjectPackAndIndex deletes an object pack and its index.
	DeleteOldObjectPackAndIndex(plumbing.ObjectID) error
}

// EncodedObjectIter is a generic closable interface for iterating over
// encoded objects.
type EncodedObjectIter interface {
	Next() (plumbing.EncodedObject, error)
	ForEach(func(plumbing.EncodedObject) error) error
	Close()
}
