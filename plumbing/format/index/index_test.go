package index

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
)

func entry(name string, stage Stage, hash string) *Entry {
	return &Entry{
		Name:  name,
		Stage: stage,
		Mode:  filemode.Regular,
		Hash:  plumbing.NewObjectID(hash),
	}
}

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "cccccccccccccccccccccccccccccccccccccccc"
)

func TestSetEntryKeepsOrder(t *testing.T) {
	idx := &Index{Version: 2}

	require.NoError(t, idx.SetEntry(entry("b.txt", Merged, hashB)))
	require.NoError(t, idx.SetEntry(entry("a.txt", Merged, hashA)))
	require.NoError(t, idx.SetEntry(entry("dir/c.txt", Merged, hashC)))

	require.Equal(t, 3, idx.Count())
	assert.Equal(t, "a.txt", idx.Entries[0].Name)
	assert.Equal(t, "b.txt", idx.Entries[1].Name)
	assert.Equal(t, "dir/c.txt", idx.Entries[2].Name)

	e, err := idx.Entry("b.txt", Merged)
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewObjectID(hashB), e.Hash)

	_, err = idx.Entry("missing", Merged)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSetEntryStageInvariant(t *testing.T) {
	idx := &Index{Version: 2}

	require.NoError(t, idx.SetEntry(entry("f.txt", AncestorMode, hashA)))
	require.NoError(t, idx.SetEntry(entry("f.txt", OurMode, hashB)))
	require.NoError(t, idx.SetEntry(entry("f.txt", TheirMode, hashC)))

	assert.True(t, idx.HasConflicts())
	assert.Equal(t, []string{"f.txt"}, idx.ConflictedPaths())

	// a merged entry displaces every conflict stage
	require.NoError(t, idx.SetEntry(entry("f.txt", Merged, hashA)))
	assert.False(t, idx.HasConflicts())
	assert.Equal(t, 1, idx.Count())

	// and a conflict stage displaces the merged entry
	require.NoError(t, idx.SetEntry(entry("f.txt", OurMode, hashB)))
	assert.True(t, idx.HasConflicts())
	_, err := idx.Entry("f.txt", Merged)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestResolveConflict(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("f.txt", AncestorMode, hashA)))
	require.NoError(t, idx.SetEntry(entry("f.txt", OurMode, hashB)))
	require.NoError(t, idx.SetEntry(entry("f.txt", TheirMode, hashC)))

	require.NoError(t, idx.ResolveConflict("f.txt", ResolveTheirs, nil))

	require.Equal(t, 1, idx.Count())
	e, err := idx.Entry("f.txt", Merged)
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewObjectID(hashC), e.Hash)
	assert.False(t, idx.HasConflicts())
}

func TestFilter(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("a.txt", Merged, hashA)))
	require.NoError(t, idx.SetEntry(entry("dir/b.txt", Merged, hashB)))
	require.NoError(t, idx.SetEntry(entry("dir/sub/c.txt", Merged, hashC)))
	require.NoError(t, idx.SetEntry(entry("dirty.txt", Merged, hashA)))

	under := idx.Filter("dir", nil)
	require.Len(t, under, 2)
	assert.Equal(t, "dir/b.txt", under[0].Name)
	assert.Equal(t, "dir/sub/c.txt", under[1].Name)
}

func TestBuilderFinish(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("keep.txt", Merged, hashA)))

	b := idx.NewBuilder()
	b.Keep(0, 1)
	b.Add(entry("z.txt", Merged, hashC))
	b.Add(entry("a.txt", Merged, hashB))
	require.NoError(t, b.Finish())

	require.Equal(t, 3, idx.Count())
	assert.Equal(t, "a.txt", idx.Entries[0].Name)
	assert.Equal(t, "keep.txt", idx.Entries[1].Name)
	assert.Equal(t, "z.txt", idx.Entries[2].Name)
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	idx := &Index{Version: 2}

	b := idx.NewBuilder()
	b.Add(entry("same.txt", Merged, hashA))
	b.Add(entry("same.txt", Merged, hashB))

	assert.ErrorIs(t, b.Finish(), ErrDuplicateEntry)
	assert.Zero(t, idx.Count(), "failed finish must leave the index untouched")
}

func TestBuilderRejectsConflictingStages(t *testing.T) {
	idx := &Index{Version: 2}

	b := idx.NewBuilder()
	b.Add(entry("f.txt", Merged, hashA))
	b.Add(entry("f.txt", OurMode, hashB))

	assert.ErrorIs(t, b.Finish(), ErrConflictingStages)
}

func TestEditorFinish(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("a.txt", Merged, hashA)))
	require.NoError(t, idx.SetEntry(entry("b.txt", Merged, hashB)))
	require.NoError(t, idx.SetEntry(entry("dir/one.txt", Merged, hashA)))
	require.NoError(t, idx.SetEntry(entry("dir/two.txt", Merged, hashB)))

	ed := idx.NewEditor()
	ed.Remove("b.txt", Merged)
	ed.RemoveTree("dir")
	ed.Upsert(entry("new.txt", Merged, hashC))
	ed.Add("a.txt", Merged, func(existing *Entry) *Entry {
		require.NotNil(t, existing)
		next := *existing
		next.Hash = plumbing.NewObjectID(hashC)
		return &next
	})

	require.NoError(t, ed.Finish())

	require.Equal(t, 2, idx.Count())
	assert.Equal(t, "a.txt", idx.Entries[0].Name)
	assert.Equal(t, plumbing.NewObjectID(hashC), idx.Entries[0].Hash)
	assert.Equal(t, "new.txt", idx.Entries[1].Name)
}

func TestEditorApplyDeletes(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("gone.txt", Merged, hashA)))

	ed := idx.NewEditor()
	ed.Add("gone.txt", Merged, func(existing *Entry) *Entry { return nil })
	require.NoError(t, ed.Finish())

	assert.Zero(t, idx.Count())
}

func TestEncodeDecodeRoundTripV2(t *testing.T) {
	idx := &Index{Version: 2}
	now := time.Unix(1700000000, 0)

	a := entry("a.txt", Merged, hashA)
	a.CreatedAt, a.ModifiedAt = now, now
	a.Size = 42
	require.NoError(t, idx.SetEntry(a))

	b := entry("dir/b.txt", Merged, hashB)
	require.NoError(t, idx.SetEntry(b))

	conflict := entry("c.txt", OurMode, hashC)
	require.NoError(t, idx.SetEntry(conflict))

	buf := bytes.NewBuffer(nil)
	require.NoError(t, NewEncoder(buf).Encode(idx))

	out := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes())).Decode(out))

	assert.Equal(t, uint32(2), out.Version)
	require.Equal(t, idx.Count(), out.Count())
	for i := range idx.Entries {
		assert.Equal(t, idx.Entries[i].Name, out.Entries[i].Name)
		assert.Equal(t, idx.Entries[i].Hash, out.Entries[i].Hash)
		assert.Equal(t, idx.Entries[i].Stage, out.Entries[i].Stage)
		assert.Equal(t, idx.Entries[i].Size, out.Entries[i].Size)
	}
}

func TestEncodeDecodeRoundTripV3(t *testing.T) {
	idx := &Index{Version: 2}

	e := entry("sparse.txt", Merged, hashA)
	e.SkipWorktree = true
	require.NoError(t, idx.SetEntry(e))

	i := entry("intent.txt", Merged, hashB)
	i.IntentToAdd = true
	require.NoError(t, idx.SetEntry(i))

	buf := bytes.NewBuffer(nil)
	require.NoError(t, NewEncoder(buf).Encode(idx))

	out := &Index{}
	require.NoError(t, NewDecoder(bytes.NewReader(buf.Bytes())).Decode(out))

	// extended flags force version 3
	assert.Equal(t, uint32(3), out.Version)

	se, err := out.Entry("sparse.txt", Merged)
	require.NoError(t, err)
	assert.True(t, se.SkipWorktree)

	ie, err := out.Entry("intent.txt", Merged)
	require.NoError(t, err)
	assert.True(t, ie.IntentToAdd)
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	idx := &Index{Version: 2}
	require.NoError(t, idx.SetEntry(entry("a.txt", Merged, hashA)))

	buf := bytes.NewBuffer(nil)
	require.NoError(t, NewEncoder(buf).Encode(idx))

	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF

	err := NewDecoder(bytes.NewReader(data)).Decode(&Index{})
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}
