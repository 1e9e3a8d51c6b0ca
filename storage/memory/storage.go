// Package memory is a storage backend based on memory, being ephemeral.
// The use of this storage should be done in controlled environments, since
// the representation in memory of some repository can fill the machine
// memory; on the other hand this storage has the best performance.
package memory

import (
	"sync"
	"time"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// Storage is an in-memory implementation of storage.Storer.
type Storage struct {
	ConfigStorage
	ObjectStorage
	IndexStorage
	ReferenceStorage
}

// NewStorage returns a new in memory Storage.
func NewStorage() *Storage {
	return &Storage{
		ObjectStorage: ObjectStorage{
			Objects: make(map[plumbing.ObjectID]plumbing.EncodedObject),
			Commits: make(map[plumbing.ObjectID]plumbing.EncodedObject),
			Trees:   make(map[plumbing.ObjectID]plumbing.EncodedObject),
			Blobs:   make(map[plumbing.ObjectID]plumbing.EncodedObject),
			Tags:    make(map[plumbing.ObjectID]plumbing.EncodedObject),
		},
		ReferenceStorage: ReferenceStorage{
			refs: make(map[plumbing.ReferenceName]*plumbing.Reference),
		},
	}
}

// ConfigStorage implements storage.ConfigStorer in memory.
type ConfigStorage struct {
	config *config.Config
}

// SetConfig stores the given config.
func (c *ConfigStorage) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.config = cfg
	return nil
}

// Config returns the stored config.
func (c *ConfigStorage) Config() (*config.Config, error) {
	if c.config == nil {
		c.config = config.NewConfig()
	}

	return c.config, nil
}

// IndexStorage implements storer.IndexStorer in memory.
type IndexStorage struct {
	index *index.Index
}

// SetIndex stores the given index. ModTime is stamped so staleness checks
// behave like the file-backed storage.
func (c *IndexStorage) SetIndex(idx *index.Index) error {
	idx.ModTime = time.Now()
	c.index = idx
	return nil
}

// Index returns the stored index.
func (c *IndexStorage) Index() (*index.Index, error) {
	if c.index == nil {
		c.index = &index.Index{Version: 2}
	}

	return c.index, nil
}

// ObjectStorage implements storer.EncodedObjectStorer in memory.
type ObjectStorage struct {
	Objects map[plumbing.ObjectID]plumbing.EncodedObject
	Commits map[plumbing.ObjectID]plumbing.EncodedObject
	Trees   map[plumbing.ObjectID]plumbing.EncodedObject
	Blobs   map[plumbing.ObjectID]plumbing.EncodedObject
	Tags    map[plumbing.ObjectID]plumbing.EncodedObject
}

// NewEncodedObject returns a new in-memory EncodedObject.
func (o *ObjectStorage) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject stores the given object. Re-storing the same content is
// idempotent and returns the existing id.
func (o *ObjectStorage) SetEncodedObject(obj plumbing.EncodedObject) (plumbing.ObjectID, error) {
	h := obj.Hash()
	o.Objects[h] = obj

	switch obj.Type() {
	case plumbing.CommitObject:
		o.Commits[h] = o.Objects[h]
	case plumbing.TreeObject:
		o.Trees[h] = o.Objects[h]
	case plumbing.BlobObject:
		o.Blobs[h] = o.Objects[h]
	case plumbing.TagObject:
		o.Tags[h] = o.Objects[h]
	default:
		return h, plumbing.ErrInvalidType
	}

	return h, nil
}

// HasEncodedObject returns nil if the object exists.
func (o *ObjectStorage) HasEncodedObject(h plumbing.ObjectID) error {
	if _, ok := o.Objects[h]; !ok {
		return plumbing.ErrObjectNotFound
	}
	return nil
}

// EncodedObjectSize returns the plaintext size of the object.
func (o *ObjectStorage) EncodedObjectSize(h plumbing.ObjectID) (int64, error) {
	obj, ok := o.Objects[h]
	if !ok {
		return 0, plumbing.ErrObjectNotFound
	}

	return obj.Size(), nil
}

// EncodedObject returns the object with the given type and hash.
func (o *ObjectStorage) EncodedObject(t plumbing.ObjectType, h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	obj, ok := o.Objects[h]
	if !ok || (plumbing.AnyObject != t && obj.Type() != t) {
		return nil, plumbing.ErrObjectNotFound
	}

	return obj, nil
}

// IterEncodedObjects returns an iterator for all the objects of the given
// type.
func (o *ObjectStorage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	var series []plumbing.EncodedObject
	switch t {
	case plumbing.AnyObject:
		series = flattenObjectMap(o.Objects)
	case plumbing.CommitObject:
		series = flattenObjectMap(o.Commits)
	case plumbing.TreeObject:
		series = flattenObjectMap(o.Trees)
	case plumbing.BlobObject:
		series = flattenObjectMap(o.Blobs)
	case plumbing.TagObject:
		series = flattenObjectMap(o.Tags)
	}

	return storer.NewEncodedObjectSliceIter(series), nil
}

// DeleteEncodedObject removes the object with the given hash.
func (o *ObjectStorage) DeleteEncodedObject(h plumbing.ObjectID) (bool, error) {
	obj, ok := o.Objects[h]
	if !ok {
		return false, nil
	}

	delete(o.Objects, h)
	switch obj.Type() {
	case plumbing.CommitObject:
		delete(o.Commits, h)
	case plumbing.TreeObject:
		delete(o.Trees, h)
	case plumbing.BlobObject:
		delete(o.Blobs, h)
	case plumbing.TagObject:
		delete(o.Tags, h)
	}

	return true, nil
}

// ForEachObjectHash calls the given function for each stored object hash.
func (o *ObjectStorage) ForEachObjectHash(fun func(plumbing.ObjectID) error) error {
	for h := range o.Objects {
		err := fun(h)
		if err != nil {
			if err == storer.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func flattenObjectMap(m map[plumbing.ObjectID]plumbing.EncodedObject) []plumbing.EncodedObject {
	objects := make([]plumbing.EncodedObject, 0, len(m))
	for _, obj := range m {
		objects = append(objects, obj)
	}
	return objects
}

// ReferenceStorage implements storer.ReferenceStorer in memory. The mutex
// makes CheckAndSetReference linearizable per storage.
type ReferenceStorage struct {
	mut  sync.Mutex
	refs map[plumbing.ReferenceName]*plumbing.Reference
}

// SetReference stores the given reference.
func (r *ReferenceStorage) SetReference(ref *plumbing.Reference) error {
	if ref == nil {
		return nil
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	r.refs[ref.Name()] = ref
	return nil
}

// CheckAndSetReference atomically sets the reference if the current value
// matches old.
func (r *ReferenceStorage) CheckAndSetReference(new, old *plumbing.Reference) (storer.CASResult, error) {
	if new == nil {
		return storer.CASResult{}, nil
	}

	r.mut.Lock()
	defer r.mut.Unlock()

	cur := r.refs[new.Name()]

	switch {
	case old == nil && cur != nil:
		return storer.CASResult{OK: false, Current: cur}, nil
	case old != nil && cur == nil:
		return storer.CASResult{OK: false}, nil
	case old != nil && cur.Hash() != old.Hash():
		return storer.CASResult{OK: false, Current: cur}, nil
	}

	r.refs[new.Name()] = new
	return storer.CASResult{OK: true, Current: new}, nil
}

// Reference returns the reference with the given name.
func (r *ReferenceStorage) Reference(n plumbing.ReferenceName) (*plumbing.Reference, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	ref, ok := r.refs[n]
	if !ok {
		return nil, plumbing.ErrReferenceNotFound
	}

	return ref, nil
}

// IterReferences returns an iterator over all references.
func (r *ReferenceStorage) IterReferences() (storer.ReferenceIter, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	refs := make([]*plumbing.Reference, 0, len(r.refs))
	for _, ref := range r.refs {
		refs = append(refs, ref)
	}

	return storer.NewReferenceSliceIter(refs), nil
}

// CountLooseRefs returns the number of references.
func (r *ReferenceStorage) CountLooseRefs() (int, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	return len(r.refs), nil
}

// PackRefs is a no-op for the in-memory storage: there is a single tier.
func (r *ReferenceStorage) PackRefs() error {
	return nil
}

// RemoveReference removes the reference with the given name.
func (r *ReferenceStorage) RemoveReference(n plumbing.ReferenceName) error {
	r.mut.Lock()
	defer r.mut.Unlock()

	delete(r.refs, n)
	return nil
}
