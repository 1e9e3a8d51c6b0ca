package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

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

func TestObjectRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	h := storeBlob(t, s, "sql content\n")

	require.NoError(t, s.HasEncodedObject(h))

	obj, err := s.EncodedObject(plumbing.BlobObject, h)
	require.NoError(t, err)
	assert.Equal(t, int64(12), obj.Size())
	assert.Equal(t, h, obj.Hash())

	// re-storing the same content is idempotent
	again := storeBlob(t, s, "sql content\n")
	assert.Equal(t, h, again)

	_, err = s.EncodedObject(plumbing.CommitObject, h)
	assert.ErrorIs(t, err, plumbing.ErrObjectNotFound)
}

func TestIterByType(t *testing.T) {
	s := newTestStorage(t)

	storeBlob(t, s, "one")
	storeBlob(t, s, "two")

	iter, err := s.IterEncodedObjects(plumbing.BlobObject)
	require.NoError(t, err)

	var count int
	require.NoError(t, iter.ForEach(func(plumbing.EncodedObject) error {
		count++
		return nil
	}))
	assert.Equal(t, 2, count)

	iter, err = s.IterEncodedObjects(plumbing.CommitObject)
	require.NoError(t, err)
	count = 0
	require.NoError(t, iter.ForEach(func(plumbing.EncodedObject) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestReferenceCASInTransaction(t *testing.T) {
	s := newTestStorage(t)

	name := plumbing.NewBranchReferenceName("main")
	x := plumbing.NewObjectID("1111111111111111111111111111111111111111")
	y := plumbing.NewObjectID("2222222222222222222222222222222222222222")

	// create-if-absent
	res, err := s.CheckAndSetReference(plumbing.NewHashReference(name, x), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = s.CheckAndSetReference(
		plumbing.NewHashReference(name, y), plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.True(t, res.OK)

	// the stale swap loses and carries the current value
	res, err = s.CheckAndSetReference(
		plumbing.NewHashReference(name, x), plumbing.NewHashReference(name, x))
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.NotNil(t, res.Current)
	assert.Equal(t, y, res.Current.Hash())

	n, err := s.CountLooseRefs()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSymbolicReferences(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))

	ref, err := s.Reference(plumbing.HEAD)
	require.NoError(t, err)
	assert.Equal(t, plumbing.SymbolicReference, ref.Type())
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), ref.Target())
}
