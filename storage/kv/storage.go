package kv

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/format/objfile"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

const (
	indexKey  = "index"
	configKey = "config"
)

// Storage implements the full storage contract over a raw byte Store.
// Objects are stored in their loose on-disk framing, so a kv-backed object
// database round-trips bit-identical content with the filesystem backend.
type Storage struct {
	store Store

	// refMut serializes reference check-and-set operations; object writes
	// are idempotent and need no coordination.
	refMut sync.Mutex
}

// NewStorage returns a Storage over the given raw byte store.
func NewStorage(store Store) *Storage {
	return &Storage{store: store}
}

// --- objects -------------------------------------------------------------

// NewEncodedObject returns a new in-memory object to be filled and stored.
func (s *Storage) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject stores the object under its id, framed and compressed
// exactly like a loose object file.
func (s *Storage) SetEncodedObject(o plumbing.EncodedObject) (h plumbing.ObjectID, err error) {
	h = o.Hash()

	if ok, err := s.store.Has(NSObjects, h.String()); err != nil {
		return plumbing.ZeroID, err
	} else if ok {
		return h, nil
	}

	buf := bytes.NewBuffer(nil)
	ow := objfile.NewWriter(buf)

	if err = ow.WriteHeader(o.Type(), o.Size()); err != nil {
		_ = ow.Close()
		return plumbing.ZeroID, err
	}

	r, err := o.Reader()
	if err != nil {
		_ = ow.Close()
		return plumbing.ZeroID, err
	}

	_, err = io.Copy(ow, r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if cerr := ow.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return plumbing.ZeroID, err
	}

	return h, s.store.Put(NSObjects, h.String(), buf.Bytes())
}

// EncodedObject returns the object with the given type and hash.
func (s *Storage) EncodedObject(t plumbing.ObjectType, h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	data, err := s.store.Get(NSObjects, h.String())
	if errors.Is(err, ErrKeyNotFound) {
		return nil, plumbing.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}

	obj, err := decodeLooseObject(data)
	if err != nil {
		return nil, err
	}

	if t != plumbing.AnyObject && obj.Type() != t {
		return nil, plumbing.ErrObjectNotFound
	}

	return obj, nil
}

func decodeLooseObject(data []byte) (obj plumbing.EncodedObject, err error) {
	or, err := objfile.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	defer ioutil.CheckClose(or, &err)

	t, size, err := or.Header()
	if err != nil {
		return nil, err
	}

	mo := &plumbing.MemoryObject{}
	mo.SetType(t)

	w, err := mo.Writer()
	if err != nil {
		return nil, err
	}

	n, err := io.Copy(w, or)
	if err != nil {
		return nil, err
	}

	if n != size {
		return nil, plumbing.ErrCorruptObject
	}

	return mo, nil
}

// HasEncodedObject returns nil if the object exists.
func (s *Storage) HasEncodedObject(h plumbing.ObjectID) error {
	ok, err := s.store.Has(NSObjects, h.String())
	if err != nil {
		return err
	}
	if !ok {
		return plumbing.ErrObjectNotFound
	}

	return nil
}

// EncodedObjectSize returns the plaintext size of the object.
func (s *Storage) EncodedObjectSize(h plumbing.ObjectID) (int64, error) {
	obj, err := s.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return 0, err
	}

	return obj.Size(), nil
}

// IterEncodedObjects returns an iterator over every object of the given
// type.
func (s *Storage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	keys, err := s.store.Keys(NSObjects)
	if err != nil {
		return nil, err
	}

	var objs []plumbing.EncodedObject
	for _, k := range keys {
		obj, err := s.EncodedObject(plumbing.AnyObject, plumbing.NewObjectID(k))
		if err != nil {
			return nil, err
		}

		if t == plumbing.AnyObject || obj.Type() == t {
			objs = append(objs, obj)
		}
	}

	return storer.NewEncodedObjectSliceIter(objs), nil
}

// DeleteEncodedObject removes the object with the given id.
func (s *Storage) DeleteEncodedObject(h plumbing.ObjectID) (bool, error) {
	return s.store.Delete(NSObjects, h.String())
}

// --- references ----------------------------------------------------------

// SetReference writes or overwrites a reference.
func (s *Storage) SetReference(ref *plumbing.Reference) error {
	if ref == nil {
		return nil
	}

	return s.store.Put(NSRefs, ref.Name().String(), []byte(ref.Strings()[1]))
}

// CheckAndSetReference atomically sets the reference if the current value
// matches old.
func (s *Storage) CheckAndSetReference(new, old *plumbing.Reference) (storer.CASResult, error) {
	if new == nil {
		return storer.CASResult{}, nil
	}

	s.refMut.Lock()
	defer s.refMut.Unlock()

	cur, err := s.Reference(new.Name())
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return storer.CASResult{}, err
	}

	switch {
	case old == nil && cur != nil:
		return storer.CASResult{OK: false, Current: cur}, nil
	case old != nil && cur == nil:
		return storer.CASResult{OK: false}, nil
	case old != nil && cur.Hash() != old.Hash():
		return storer.CASResult{OK: false, Current: cur}, nil
	}

	if err := s.SetReference(new); err != nil {
		return storer.CASResult{}, err
	}

	return storer.CASResult{OK: true, Current: new}, nil
}

// Reference returns the reference with the given name.
func (s *Storage) Reference(n plumbing.ReferenceName) (*plumbing.Reference, error) {
	data, err := s.store.Get(NSRefs, n.String())
	if errors.Is(err, ErrKeyNotFound) {
		return nil, plumbing.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}

	return plumbing.NewReferenceFromStrings(n.String(), string(data)), nil
}

// IterReferences returns an iterator over every reference.
func (s *Storage) IterReferences() (storer.ReferenceIter, error) {
	keys, err := s.store.Keys(NSRefs)
	if err != nil {
		return nil, err
	}

	refs := make([]*plumbing.Reference, 0, len(keys))
	for _, k := range keys {
		ref, err := s.Reference(plumbing.ReferenceName(k))
		if err != nil {
			return nil, err
		}

		refs = append(refs, ref)
	}

	return storer.NewReferenceSliceIter(refs), nil
}

// RemoveReference removes the reference with the given name.
func (s *Storage) RemoveReference(n plumbing.ReferenceName) error {
	_, err := s.store.Delete(NSRefs, n.String())
	return err
}

// CountLooseRefs returns the number of references: the kv backend has a
// single tier.
func (s *Storage) CountLooseRefs() (int, error) {
	keys, err := s.store.Keys(NSRefs)
	return len(keys), err
}

// PackRefs is a no-op: the kv backend has a single tier.
func (s *Storage) PackRefs() error {
	return nil
}

// --- index and config ----------------------------------------------------

// SetIndex serializes and stores the index.
func (s *Storage) SetIndex(idx *index.Index) error {
	buf := bytes.NewBuffer(nil)
	if err := index.NewEncoder(buf).Encode(idx); err != nil {
		return err
	}

	return s.store.Put(NSMeta, indexKey, buf.Bytes())
}

// Index reads and decodes the stored index. Absence yields an empty
// version 2 index.
func (s *Storage) Index() (*index.Index, error) {
	idx := &index.Index{Version: 2}

	data, err := s.store.Get(NSMeta, indexKey)
	if errors.Is(err, ErrKeyNotFound) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}

	if err := index.NewDecoder(bytes.NewReader(data)).Decode(idx); err != nil {
		return nil, err
	}

	return idx, nil
}

// Config reads and decodes the stored config. Absence yields defaults.
func (s *Storage) Config() (*config.Config, error) {
	cfg := config.NewConfig()

	data, err := s.store.Get(NSMeta, configKey)
	if errors.Is(err, ErrKeyNotFound) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetConfig validates, serializes and stores the config.
func (s *Storage) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	buf := bytes.NewBuffer(nil)
	if err := cfg.Encode(buf); err != nil {
		return err
	}

	return s.store.Put(NSMeta, configKey, buf.Bytes())
}
