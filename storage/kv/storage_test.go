package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/index"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := OpenBolt(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewStorage(store)
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

func TestObjectRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	h := storeBlob(t, s, "kv content\n")
	assert.Equal(t, plumbing.ComputeHash(plumbing.BlobObject, []byte("kv content\n")), h)

	require.NoError(t, s.HasEncodedObject(h))

	obj, err := s.EncodedObject(plumbing.BlobObject, h)
	require.NoError(t, err)
	assert.Equal(t, int64(11), obj.Size())

	size, err := s.EncodedObjectSize(h)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	ok, err := s.DeleteEncodedObject(h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, s.HasEncodedObject(h), plumbing.ErrObjectNotFound)
}

func TestStoreIsIdempotent(t *testing.T) {
	s := newTestStorage(t)

	h1 := storeBlob(t, s, "same")
	h2 := storeBlob(t, s, "same")
	assert.Equal(t, h1, h2)

	keys, err := s.store.Keys(NSObjects)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestReferenceCAS(t *testing.T) {
	s := newTestStorage(t)

	name := plumbing.NewBranchReferenceName("main")
	x := plumbing.NewObjectID("1111111111111111111111111111111111111111")
	y := plumbing.NewObjectID("2222222222222222222222222222222222222222")

	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, x)))

	res, err := s.CheckAndSetReference(
		plumbing.NewHashReference(name, y), plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = s.CheckAndSetReference(
		plumbing.NewHashReference(name, x), plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.NotNil(t, res.Current)
	assert.Equal(t, y, res.Current.Hash())
}

func TestIndexPersistence(t *testing.T) {
	s := newTestStorage(t)

	h := storeBlob(t, s, "staged")

	idx, err := s.Index()
	require.NoError(t, err)
	require.NoError(t, idx.SetEntry(&index.Entry{Name: "a.txt", Hash: h, Mode: filemode.Regular}))
	require.NoError(t, s.SetIndex(idx))

	reread, err := s.Index()
	require.NoError(t, err)
	require.Equal(t, 1, reread.Count())
	assert.Equal(t, h, reread.Entries[0].Hash)
}
