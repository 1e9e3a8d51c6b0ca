package filesystem

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

func newIndexEntry(name string, h plumbing.ObjectID) *index.Entry {
	return &index.Entry{Name: name, Hash: h, Mode: filemode.Regular}
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s := NewStorage(memfs.New(), nil)
	require.NoError(t, s.Init())
	return s
}

func storeBlob(t *testing.T, s *Storage, content string) plumbing.ObjectID {
	t.Helper()

	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h, err := s.SetEncodedObject(obj)
	require.NoError(t, err)
	return h
}

func TestLooseObjectRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	h := storeBlob(t, s, "file content\n")
	assert.True(t, s.HasLooseObject(h))

	obj, err := s.EncodedObject(plumbing.BlobObject, h)
	require.NoError(t, err)

	r, err := obj.Reader()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "file content\n", string(got))

	count, err := s.CountLooseObjects()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLooseRefShadowsPacked(t *testing.T) {
	s := newTestStorage(t)

	name := plumbing.NewBranchReferenceName("main")
	packedID := plumbing.NewObjectID("1111111111111111111111111111111111111111")
	looseID := plumbing.NewObjectID("2222222222222222222222222222222222222222")

	// seed a loose ref and pack it
	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, packedID)))
	require.NoError(t, s.PackRefs())

	ref, err := s.Reference(name)
	require.NoError(t, err)
	assert.Equal(t, plumbing.PackedStorage, ref.Storage())
	assert.Equal(t, packedID, ref.Hash())

	// a loose write shadows the packed record
	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, looseID)))

	ref, err = s.Reference(name)
	require.NoError(t, err)
	assert.Equal(t, plumbing.LooseStorage, ref.Storage())
	assert.Equal(t, looseID, ref.Hash())

	// listing deduplicates, loose wins
	iter, err := s.IterReferences()
	require.NoError(t, err)

	seen := map[plumbing.ReferenceName]plumbing.ObjectID{}
	require.NoError(t, iter.ForEach(func(r *plumbing.Reference) error {
		if r.Name() == name {
			_, dup := seen[r.Name()]
			assert.False(t, dup, "duplicate listing for %s", r.Name())
			seen[r.Name()] = r.Hash()
		}
		return nil
	}))

	assert.Equal(t, looseID, seen[name])
}

func TestRemoveReferenceClearsBothTiers(t *testing.T) {
	s := newTestStorage(t)

	name := plumbing.ReferenceName("refs/heads/feature/deep/branch")
	id := plumbing.NewObjectID("3333333333333333333333333333333333333333")

	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, id)))
	require.NoError(t, s.PackRefs())
	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, id)))

	require.NoError(t, s.RemoveReference(name))

	_, err := s.Reference(name)
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)

	// empty parents pruned, refs/ itself kept
	fs := s.Filesystem()
	_, err = fs.Stat("refs/heads/feature")
	assert.Error(t, err)
	_, err = fs.Stat("refs")
	assert.NoError(t, err)
}

func TestCheckAndSetReference(t *testing.T) {
	s := newTestStorage(t)

	name := plumbing.NewBranchReferenceName("main")
	x := plumbing.NewObjectID("1111111111111111111111111111111111111111")
	y := plumbing.NewObjectID("2222222222222222222222222222222222222222")

	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, x)))

	res, err := s.CheckAndSetReference(
		plumbing.NewHashReference(name, y),
		plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.True(t, res.OK)

	// the stale expectation loses and reports the current value
	res, err = s.CheckAndSetReference(
		plumbing.NewHashReference(name, x),
		plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.NotNil(t, res.Current)
	assert.Equal(t, y, res.Current.Hash())
}

func TestHeadDefaultsToMain(t *testing.T) {
	s := newTestStorage(t)

	ref, err := s.Reference(plumbing.HEAD)
	require.NoError(t, err)
	assert.Equal(t, plumbing.SymbolicReference, ref.Type())
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), ref.Target())

	_, err = storer.ResolveReference(s, plumbing.HEAD)
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
}

func TestIndexPersistence(t *testing.T) {
	s := newTestStorage(t)

	idx, err := s.Index()
	require.NoError(t, err)
	assert.Zero(t, idx.Count())

	h := storeBlob(t, s, "staged")
	require.NoError(t, idx.SetEntry(newIndexEntry("a.txt", h)))
	require.NoError(t, s.SetIndex(idx))

	reread, err := s.Index()
	require.NoError(t, err)
	require.Equal(t, 1, reread.Count())
	assert.Equal(t, "a.txt", reread.Entries[0].Name)
	assert.Equal(t, h, reread.Entries[0].Hash)

	assert.False(t, s.IsIndexOutdated(reread))
}
