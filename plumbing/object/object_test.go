package object

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/storage/memory"
)

func storeBlob(t *testing.T, s *memory.Storage, content string) plumbing.ObjectID {
	t.Helper()

	h, err := StoreBlobContent(s, bytes.NewReader([]byte(content)))
	require.NoError(t, err)
	return h
}

func sig(when int64) Signature {
	return Signature{
		Name:  "A",
		Email: "a@x",
		When:  time.Unix(when, 0).In(time.UTC),
	}
}

func storeCommit(t *testing.T, s *memory.Storage, tree plumbing.ObjectID, parents []plumbing.ObjectID, when int64, msg string) plumbing.ObjectID {
	t.Helper()

	h, err := StoreCommit(s, &Commit{
		Author:       sig(when),
		Committer:    sig(when),
		Message:      msg,
		TreeHash:     tree,
		ParentHashes: parents,
	})
	require.NoError(t, err)
	return h
}

func TestBlobRoundTrip(t *testing.T) {
	s := memory.NewStorage()

	h := storeBlob(t, s, "# R\n")

	// storing the same content again yields the same id
	again := storeBlob(t, s, "# R\n")
	assert.Equal(t, h, again)

	blob, err := GetBlob(s, h)
	require.NoError(t, err)
	assert.Equal(t, int64(4), blob.Size)

	r, err := blob.Reader()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("# R\n"), got)
}

func TestEmptyBlobAndTreeIDs(t *testing.T) {
	s := memory.NewStorage()

	blob := storeBlob(t, s, "")
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", blob.String())

	tree, err := StoreTree(s, nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyTreeID, tree)
	assert.NoError(t, s.HasEncodedObject(tree))
}

func TestTreeCanonicalSort(t *testing.T) {
	s := memory.NewStorage()

	blob := storeBlob(t, s, "x")
	sub, err := StoreTree(s, []TreeEntry{{Name: "inner", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)

	// `foo` as a subtree sorts after `foo.txt`: subtrees compare as if
	// their name ended in a slash
	id, err := StoreTree(s, []TreeEntry{
		{Name: "foo.txt", Mode: filemode.Regular, Hash: blob},
		{Name: "foo", Mode: filemode.Dir, Hash: sub},
		{Name: "bar", Mode: filemode.Regular, Hash: blob},
	})
	require.NoError(t, err)

	tree, err := GetTree(s, id)
	require.NoError(t, err)

	names := []string{}
	for _, e := range tree.Entries {
		names = append(names, e.Name)
	}

	assert.Equal(t, []string{"bar", "foo.txt", "foo"}, names)
}

func TestTreeDuplicateNamesFatal(t *testing.T) {
	s := memory.NewStorage()
	blobA := storeBlob(t, s, "a")
	blobB := storeBlob(t, s, "b")

	_, err := StoreTree(s, []TreeEntry{
		{Name: "same", Mode: filemode.Regular, Hash: blobA},
		{Name: "same", Mode: filemode.Regular, Hash: blobB},
	})
	assert.ErrorIs(t, err, ErrDuplicateEntryName)

	// an exact duplicate entry is deduplicated instead
	id, err := StoreTree(s, []TreeEntry{
		{Name: "same", Mode: filemode.Regular, Hash: blobA},
		{Name: "same", Mode: filemode.Regular, Hash: blobA},
	})
	require.NoError(t, err)

	tree, err := GetTree(s, id)
	require.NoError(t, err)
	assert.Len(t, tree.Entries, 1)
}

func TestCommitRoundTrip(t *testing.T) {
	s := memory.NewStorage()

	blob := storeBlob(t, s, "# R\n")
	tree, err := StoreTree(s, []TreeEntry{{Name: "README.md", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)

	c1 := storeCommit(t, s, tree, nil, 1700000000, "init")

	// re-storing yields the same id
	again := storeCommit(t, s, tree, nil, 1700000000, "init")
	assert.Equal(t, c1, again)

	commit, err := GetCommit(s, c1)
	require.NoError(t, err)
	assert.Equal(t, tree, commit.TreeHash)
	assert.Empty(t, commit.ParentHashes)
	assert.Equal(t, "init", commit.Message)
	assert.Equal(t, "A", commit.Author.Name)
	assert.Equal(t, int64(1700000000), commit.Author.When.Unix())
}

func TestCommitHeaderOnlyReads(t *testing.T) {
	s := memory.NewStorage()

	blob := storeBlob(t, s, "content\n")
	tree, err := StoreTree(s, []TreeEntry{{Name: "f", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)

	c1 := storeCommit(t, s, tree, nil, 1, "one")
	c2 := storeCommit(t, s, tree, []plumbing.ObjectID{c1}, 2, "two")

	gotTree, err := GetCommitTree(s, c2)
	require.NoError(t, err)
	assert.Equal(t, tree, gotTree)

	parents, err := GetCommitParents(s, c2)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ObjectID{c1}, parents)
}

func TestWalkAncestryLinearChain(t *testing.T) {
	s := memory.NewStorage()
	ctx := context.Background()

	b1 := storeBlob(t, s, "# R\n")
	t1, err := StoreTree(s, []TreeEntry{{Name: "README.md", Mode: filemode.Regular, Hash: b1}})
	require.NoError(t, err)
	c1 := storeCommit(t, s, t1, nil, 1700000000, "init")

	b2 := storeBlob(t, s, "# R\nmore\n")
	t2, err := StoreTree(s, []TreeEntry{{Name: "README.md", Mode: filemode.Regular, Hash: b2}})
	require.NoError(t, err)
	c2 := storeCommit(t, s, t2, []plumbing.ObjectID{c1}, 1700000100, "add")

	var order []plumbing.ObjectID
	require.NoError(t, WalkAncestry(ctx, s, []plumbing.ObjectID{c2}, WalkOptions{}, func(h plumbing.ObjectID) error {
		order = append(order, h)
		return nil
	}))

	assert.Equal(t, []plumbing.ObjectID{c2, c1}, order)

	ok, err := IsAncestor(ctx, s, c1, c2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsAncestor(ctx, s, c2, c1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWalkAncestryLimit(t *testing.T) {
	s := memory.NewStorage()
	ctx := context.Background()

	blob := storeBlob(t, s, "x")
	tree, err := StoreTree(s, []TreeEntry{{Name: "f", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)

	var prev []plumbing.ObjectID
	var tip plumbing.ObjectID
	for i := 0; i < 5; i++ {
		tip = storeCommit(t, s, tree, prev, int64(1000+i), "c")
		prev = []plumbing.ObjectID{tip}
	}

	var count int
	require.NoError(t, WalkAncestry(ctx, s, []plumbing.ObjectID{tip}, WalkOptions{Limit: 3}, func(plumbing.ObjectID) error {
		count++
		return nil
	}))

	assert.Equal(t, 3, count)
}

func TestMergeBase(t *testing.T) {
	s := memory.NewStorage()
	ctx := context.Background()

	blob := storeBlob(t, s, "x")
	tree, err := StoreTree(s, []TreeEntry{{Name: "f", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)

	root := storeCommit(t, s, tree, nil, 100, "root")
	left := storeCommit(t, s, tree, []plumbing.ObjectID{root}, 200, "left")
	right := storeCommit(t, s, tree, []plumbing.ObjectID{root}, 300, "right")

	bases, err := MergeBase(ctx, s, left, right)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ObjectID{root}, bases)

	// an ancestor of the other side is itself the base
	bases, err = MergeBase(ctx, s, root, left)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ObjectID{root}, bases)
}

func TestTagTargetPeeling(t *testing.T) {
	s := memory.NewStorage()

	blob := storeBlob(t, s, "x")
	tree, err := StoreTree(s, []TreeEntry{{Name: "f", Mode: filemode.Regular, Hash: blob}})
	require.NoError(t, err)
	commit := storeCommit(t, s, tree, nil, 100, "c")

	inner, err := StoreTag(s, &Tag{
		Name:       "v1.0.0",
		Tagger:     sig(100),
		Message:    "release\n",
		TargetType: plumbing.CommitObject,
		Target:     commit,
	})
	require.NoError(t, err)

	outer, err := StoreTag(s, &Tag{
		Name:       "wrapped",
		Tagger:     sig(101),
		Message:    "tag of tag\n",
		TargetType: plumbing.TagObject,
		Target:     inner,
	})
	require.NoError(t, err)

	target, typ, err := TagTarget(s, outer, false)
	require.NoError(t, err)
	assert.Equal(t, inner, target)
	assert.Equal(t, plumbing.TagObject, typ)

	target, typ, err = TagTarget(s, outer, true)
	require.NoError(t, err)
	assert.Equal(t, commit, target)
	assert.Equal(t, plumbing.CommitObject, typ)
}

func TestIndexWriteReadTree(t *testing.T) {
	s := memory.NewStorage()
	trees := IndexTrees{Storer: s}

	ba := storeBlob(t, s, "content a")
	bb := storeBlob(t, s, "content b")

	idx := &index.Index{Version: 2}
	b := idx.NewBuilder()
	b.Add(&index.Entry{Name: "a.txt", Mode: filemode.Regular, Hash: ba})
	b.Add(&index.Entry{Name: "dir/b.txt", Mode: filemode.Regular, Hash: bb})
	require.NoError(t, b.Finish())

	treeID, err := idx.WriteTree(trees)
	require.NoError(t, err)

	tree, err := GetTree(s, treeID)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 2)
	assert.Equal(t, "a.txt", tree.Entries[0].Name)
	assert.Equal(t, "dir", tree.Entries[1].Name)
	assert.Equal(t, filemode.Dir, tree.Entries[1].Mode)

	sub, err := GetTree(s, tree.Entries[1].Hash)
	require.NoError(t, err)
	require.Len(t, sub.Entries, 1)
	assert.Equal(t, "b.txt", sub.Entries[0].Name)

	fresh := &index.Index{Version: 2}
	require.NoError(t, fresh.ReadTree(trees, treeID, index.ReadTreeOptions{}))

	require.Equal(t, 2, fresh.Count())
	assert.Equal(t, "a.txt", fresh.Entries[0].Name)
	assert.Equal(t, ba, fresh.Entries[0].Hash)
	assert.Equal(t, "dir/b.txt", fresh.Entries[1].Name)
	assert.Equal(t, bb, fresh.Entries[1].Hash)
}

func TestWriteTreeRefusesConflicts(t *testing.T) {
	s := memory.NewStorage()

	idx := &index.Index{Version: 2}
	require.NoError(t, idx.SetEntry(&index.Entry{
		Name:  "f.txt",
		Stage: index.OurMode,
		Mode:  filemode.Regular,
	}))

	_, err := idx.WriteTree(IndexTrees{Storer: s})
	assert.ErrorIs(t, err, index.ErrUnresolvedConflicts)
}

func TestSimilarityIndex(t *testing.T) {
	a := []byte("line one\nline two\nline three\nline four\n")
	b := []byte("line one\nline 2!\nline three\nline four\n")

	ia := NewSimilarityIndex(a)
	ib := NewSimilarityIndex(b)

	assert.Equal(t, 100, ia.Score(ia))
	score := ia.Score(ib)
	assert.Greater(t, score, DefaultRenameScore)
	assert.Less(t, score, 100)

	// binary content is excluded
	assert.Nil(t, NewSimilarityIndex([]byte{0x00, 0x01, 0x02}))
	assert.Zero(t, ia.Score(nil))
}
