package revlist

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/storage/memory"
)

func commitWithFile(t *testing.T, s *memory.Storage, name, content string, when int64, parents ...plumbing.ObjectID) (commit, tree, blob plumbing.ObjectID) {
	t.Helper()

	blob, err := object.StoreBlobContent(s, bytes.NewReader([]byte(content)))
	require.NoError(t, err)

	tree, err = object.StoreTree(s, []object.TreeEntry{
		{Name: name, Mode: filemode.Regular, Hash: blob},
	})
	require.NoError(t, err)

	sig := object.Signature{Name: "A", Email: "a@x", When: time.Unix(when, 0).UTC()}
	commit, err = object.StoreCommit(s, &object.Commit{
		Author: sig, Committer: sig, Message: "c\n",
		TreeHash: tree, ParentHashes: parents,
	})
	require.NoError(t, err)

	return commit, tree, blob
}

func TestObjectsFromScratch(t *testing.T) {
	s := memory.NewStorage()

	c1, t1, b1 := commitWithFile(t, s, "f", "one\n", 100)
	c2, t2, b2 := commitWithFile(t, s, "f", "two\n", 200, c1)

	got, err := Objects(context.Background(), s, []plumbing.ObjectID{c2}, nil)
	require.NoError(t, err)

	want := map[plumbing.ObjectID]bool{
		c1: true, t1: true, b1: true,
		c2: true, t2: true, b2: true,
	}

	assert.Len(t, got, len(want))
	for _, h := range got {
		assert.True(t, want[h], h.String())
	}
}

func TestObjectsExcludesHaves(t *testing.T) {
	s := memory.NewStorage()

	c1, _, _ := commitWithFile(t, s, "f", "one\n", 100)
	c2, t2, b2 := commitWithFile(t, s, "f", "two\n", 200, c1)

	got, err := Objects(context.Background(), s, []plumbing.ObjectID{c2}, []plumbing.ObjectID{c1})
	require.NoError(t, err)

	want := map[plumbing.ObjectID]bool{c2: true, t2: true, b2: true}
	assert.Len(t, got, len(want))
	for _, h := range got {
		assert.True(t, want[h], h.String())
	}
}

func TestObjectsVisitsEachOnce(t *testing.T) {
	s := memory.NewStorage()

	// two commits sharing the same tree and blob
	c1, _, _ := commitWithFile(t, s, "f", "same\n", 100)
	c2, _, _ := commitWithFile(t, s, "f", "same\n", 200, c1)

	got, err := Objects(context.Background(), s, []plumbing.ObjectID{c2}, nil)
	require.NoError(t, err)

	seen := map[plumbing.ObjectID]int{}
	for _, h := range got {
		seen[h]++
	}

	for h, n := range seen {
		assert.Equal(t, 1, n, h.String())
	}

	// c1, c2, one shared tree, one shared blob
	assert.Len(t, got, 4)
}

func TestObjectsStableOrder(t *testing.T) {
	s := memory.NewStorage()

	c1, _, _ := commitWithFile(t, s, "f", "one\n", 100)
	c2, _, _ := commitWithFile(t, s, "f", "two\n", 200, c1)

	a, err := Objects(context.Background(), s, []plumbing.ObjectID{c2}, nil)
	require.NoError(t, err)

	b, err := Objects(context.Background(), s, []plumbing.ObjectID{c2}, nil)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestObjectsCancellation(t *testing.T) {
	s := memory.NewStorage()
	c1, _, _ := commitWithFile(t, s, "f", "one\n", 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Objects(ctx, s, []plumbing.ObjectID{c1}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
