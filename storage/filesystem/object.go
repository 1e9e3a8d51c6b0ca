package filesystem

import (
	"errors"
	"io"
	"sync"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/cache"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
	"github.com/go-vcs/gitstore/plumbing/format/objfile"
	"github.com/go-vcs/gitstore/plumbing/format/packfile"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

// ObjectStorage implements storer.EncodedObjectStorer over a .git
// directory: loose objects first, then every pack through its idx.
type ObjectStorage struct {
	dir   *dotgit.DotGit
	cache cache.Object

	mu    sync.Mutex
	packs map[plumbing.ObjectID]*openPack
}

type openPack struct {
	pack *packfile.Packfile
	data *packData
}

// NewEncodedObject returns a new in-memory object, to be filled and stored.
func (s *ObjectStorage) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject writes the object as a loose object. Storing content
// already present is idempotent.
func (s *ObjectStorage) SetEncodedObject(o plumbing.EncodedObject) (h plumbing.ObjectID, err error) {
	h = o.Hash()

	err = s.dir.NewObject(h, func(w io.Writer) (err error) {
		ow := objfile.NewWriter(w)
		defer ioutil.CheckClose(ow, &err)

		if err = ow.WriteHeader(o.Type(), o.Size()); err != nil {
			return err
		}

		r, err := o.Reader()
		if err != nil {
			return err
		}

		defer ioutil.CheckClose(r, &err)

		_, err = io.Copy(ow, r)
		return err
	})

	return h, err
}

// EncodedObject returns the object with the given type and hash, looking
// at loose objects first and packs after.
func (s *ObjectStorage) EncodedObject(t plumbing.ObjectType, h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	if obj, ok := s.cache.Get(h); ok {
		return checkType(obj, t)
	}

	obj, err := s.looseObject(h)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		obj, err = s.packedObject(h)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Put(obj)
	return checkType(obj, t)
}

func checkType(obj plumbing.EncodedObject, t plumbing.ObjectType) (plumbing.EncodedObject, error) {
	if t != plumbing.AnyObject && obj.Type() != t {
		return nil, plumbing.ErrObjectNotFound
	}

	return obj, nil
}

func (s *ObjectStorage) looseObject(h plumbing.ObjectID) (obj plumbing.EncodedObject, err error) {
	f, err := s.dir.Object(h)
	if err != nil {
		return nil, err
	}

	defer ioutil.CheckClose(f, &err)

	or, err := objfile.NewReader(f)
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

func (s *ObjectStorage) packedObject(h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	p, err := s.packContaining(h)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, plumbing.ErrObjectNotFound
	}

	return p.Get(h)
}

// packContaining returns the open pack that has the given id, opening
// packs lazily.
func (s *ObjectStorage) packContaining(h plumbing.ObjectID) (*packfile.Packfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range s.packs {
		if op.pack.Has(h) {
			return op.pack, nil
		}
	}

	checksums, err := s.dir.ObjectPacks()
	if err != nil {
		return nil, err
	}

	for _, checksum := range checksums {
		if s.packs != nil {
			if _, open := s.packs[checksum]; open {
				continue
			}
		}

		op, err := s.openPackLocked(checksum)
		if err != nil {
			return nil, err
		}

		if op.pack.Has(h) {
			return op.pack, nil
		}
	}

	return nil, nil
}

func (s *ObjectStorage) openPackLocked(checksum plumbing.ObjectID) (*openPack, error) {
	idxFile, err := s.dir.ObjectPackIdx(checksum)
	if err != nil {
		return nil, err
	}

	idx := new(idxfile.MemoryIndex)
	derr := idxfile.NewDecoder(idxFile).Decode(idx)
	_ = idxFile.Close()
	if derr != nil {
		return nil, derr
	}

	data, err := openPackData(s.dir.Fs(), s.dir.ObjectPackPath(checksum, "pack"))
	if err != nil {
		return nil, err
	}

	op := &openPack{
		pack: packfile.Open(idx, data.ReaderAt(), s.cache),
		data: data,
	}

	if s.packs == nil {
		s.packs = make(map[plumbing.ObjectID]*openPack)
	}
	s.packs[checksum] = op

	return op, nil
}

// PackedHandle returns a random-access handle over a packed object,
// serving partial reads without materializing it.
func (s *ObjectStorage) PackedHandle(h plumbing.ObjectID) (*packfile.ObjectHandle, error) {
	p, err := s.packContaining(h)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, plumbing.ErrObjectNotFound
	}

	return p.RandomAccess(h)
}

// HasEncodedObject returns nil if the object exists.
func (s *ObjectStorage) HasEncodedObject(h plumbing.ObjectID) error {
	if s.dir.HasObject(h) {
		return nil
	}

	p, err := s.packContaining(h)
	if err != nil {
		return err
	}
	if p == nil {
		return plumbing.ErrObjectNotFound
	}

	return nil
}

// EncodedObjectSize returns the plaintext size of the object.
func (s *ObjectStorage) EncodedObjectSize(h plumbing.ObjectID) (int64, error) {
	obj, err := s.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return 0, err
	}

	return obj.Size(), nil
}

// IterEncodedObjects returns an iterator over every object of the given
// type, loose and packed, each id visited once.
func (s *ObjectStorage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	seen := make(map[plumbing.ObjectID]bool)
	var objs []plumbing.EncodedObject

	if err := s.dir.ForEachObjectHash(func(h plumbing.ObjectID) error {
		obj, err := s.looseObject(h)
		if err != nil {
			return err
		}

		if t == plumbing.AnyObject || obj.Type() == t {
			seen[h] = true
			objs = append(objs, obj)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	checksums, err := s.dir.ObjectPacks()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	for _, checksum := range checksums {
		if _, open := s.packs[checksum]; !open {
			if _, err := s.openPackLocked(checksum); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	}

	var packs []*packfile.Packfile
	for _, op := range s.packs {
		packs = append(packs, op.pack)
	}
	s.mu.Unlock()

	for _, p := range packs {
		for _, h := range p.Hashes() {
			if seen[h] {
				continue
			}

			obj, err := p.Get(h)
			if err != nil {
				return nil, err
			}

			if t == plumbing.AnyObject || obj.Type() == t {
				seen[h] = true
				objs = append(objs, obj)
			}
		}
	}

	return storer.NewEncodedObjectSliceIter(objs), nil
}

// DeleteEncodedObject removes the loose copy of the object; packed copies
// are immutable until their pack is deleted.
func (s *ObjectStorage) DeleteEncodedObject(h plumbing.ObjectID) (bool, error) {
	if !s.dir.HasObject(h) {
		return false, nil
	}

	if err := s.dir.DeleteLooseObject(h); err != nil {
		return false, err
	}

	return true, nil
}

// ForEachObjectHash iterates the loose object ids.
func (s *ObjectStorage) ForEachObjectHash(fun func(plumbing.ObjectID) error) error {
	err := s.dir.ForEachObjectHash(fun)
	if err == storer.ErrStop {
		return nil
	}

	return err
}

// HasLooseObject reports whether the object has a loose copy.
func (s *ObjectStorage) HasLooseObject(h plumbing.ObjectID) bool {
	return s.dir.HasObject(h)
}

// DeleteLooseObject removes the loose copy of an object.
func (s *ObjectStorage) DeleteLooseObject(h plumbing.ObjectID) error {
	return s.dir.DeleteLooseObject(h)
}

// CountLooseObjects returns the number of loose objects.
func (s *ObjectStorage) CountLooseObjects() (int, error) {
	var count int
	err := s.dir.ForEachObjectHash(func(plumbing.ObjectID) error {
		count++
		return nil
	})

	return count, err
}

// ObjectPacks lists the pack checksums.
func (s *ObjectStorage) ObjectPacks() ([]plumbing.ObjectID, error) {
	return s.dir.ObjectPacks()
}

// DeleteOldObjectPackAndIndex removes a pack and its idx, closing it first
// if open.
func (s *ObjectStorage) DeleteOldObjectPackAndIndex(checksum plumbing.ObjectID) error {
	s.mu.Lock()
	if op, ok := s.packs[checksum]; ok {
		_ = op.data.Close()
		delete(s.packs, checksum)
	}
	s.mu.Unlock()

	return s.dir.DeleteOldObjectPackAndIndex(checksum)
}

// WritePack streams a pack and its idx into the objects/pack directory,
// atomically: nothing is advertised until both files are in place.
func (s *ObjectStorage) WritePack(write func(pack io.Writer) (plumbing.ObjectID, error), writeIdx func(idx io.Writer) error) (plumbing.ObjectID, error) {
	return s.dir.WritePack(write, writeIdx)
}
