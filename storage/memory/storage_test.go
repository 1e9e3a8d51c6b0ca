package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

const (
	hashX = "1111111111111111111111111111111111111111"
	hashY = "2222222222222222222222222222222222222222"
)

func TestObjectStorageRoundTrip(t *testing.T) {
	s := NewStorage()

	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h, err := s.SetEncodedObject(obj)
	require.NoError(t, err)

	require.NoError(t, s.HasEncodedObject(h))

	got, err := s.EncodedObject(plumbing.BlobObject, h)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Size())

	// wrong type yields not-found
	_, err = s.EncodedObject(plumbing.CommitObject, h)
	assert.ErrorIs(t, err, plumbing.ErrObjectNotFound)

	ok, err := s.DeleteEncodedObject(h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, s.HasEncodedObject(h), plumbing.ErrObjectNotFound)
}

func TestReferenceCASExactlyOneWinner(t *testing.T) {
	s := NewStorage()

	name := plumbing.NewBranchReferenceName("main")
	x := plumbing.NewObjectID(hashX)
	y := plumbing.NewObjectID(hashY)

	require.NoError(t, s.SetReference(plumbing.NewHashReference(name, x)))

	old := plumbing.NewHashReference(name, x)
	newRef := plumbing.NewHashReference(name, y)

	var wg sync.WaitGroup
	results := make([]storer.CASResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.CheckAndSetReference(newRef, old)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	wins := 0
	for _, res := range results {
		if res.OK {
			wins++
		} else {
			require.NotNil(t, res.Current)
			assert.Equal(t, y, res.Current.Hash())
		}
	}

	assert.Equal(t, 1, wins)

	cur, err := s.Reference(name)
	require.NoError(t, err)
	assert.Equal(t, y, cur.Hash())
}

func TestCASExpectsAbsence(t *testing.T) {
	s := NewStorage()
	name := plumbing.NewBranchReferenceName("new")

	res, err := s.CheckAndSetReference(plumbing.NewHashReference(name, plumbing.NewObjectID(hashX)), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)

	// a second create-if-absent loses
	res, err = s.CheckAndSetReference(plumbing.NewHashReference(name, plumbing.NewObjectID(hashY)), nil)
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.NotNil(t, res.Current)
	assert.Equal(t, plumbing.NewObjectID(hashX), res.Current.Hash())
}

func TestResolveSymbolicChains(t *testing.T) {
	s := NewStorage()

	target := plumbing.NewHashReference("refs/heads/main", plumbing.NewObjectID(hashX))
	require.NoError(t, s.SetReference(target))

	// a chain of exactly five symbolic hops resolves
	prev := plumbing.ReferenceName("refs/heads/main")
	for i := 0; i < 5; i++ {
		name := plumbing.ReferenceName("refs/sym/" + string(rune('a'+i)))
		require.NoError(t, s.SetReference(plumbing.NewSymbolicReference(name, prev)))
		prev = name
	}

	ref, err := storer.ResolveReference(s, prev)
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewObjectID(hashX), ref.Hash())

	// one more hop exceeds the ceiling
	require.NoError(t, s.SetReference(plumbing.NewSymbolicReference("refs/sym/f", prev)))
	_, err = storer.ResolveReference(s, "refs/sym/f")
	assert.ErrorIs(t, err, plumbing.ErrRefChainDepth)
}
