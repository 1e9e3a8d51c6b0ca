package blame

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

type repo struct {
	t *testing.T
	s *memory.Storage
	n int64
}

func newRepo(t *testing.T) *repo {
	return &repo{t: t, s: memory.NewStorage(), n: 1700000000}
}

func (r *repo) commit(files map[string]string, parents ...plumbing.ObjectID) plumbing.ObjectID {
	r.t.Helper()
	r.n += 100

	var entries []object.TreeEntry
	for name, content := range files {
		blob, err := object.StoreBlobContent(r.s, bytes.NewReader([]byte(content)))
		require.NoError(r.t, err)

		entries = append(entries, object.TreeEntry{
			Name: name, Mode: filemode.Regular, Hash: blob,
		})
	}

	tree, err := object.StoreTree(r.s, entries)
	require.NoError(r.t, err)

	sig := object.Signature{Name: "A", Email: "a@x", When: time.Unix(r.n, 0).UTC()}
	commit, err := object.StoreCommit(r.s, &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      "c\n",
		TreeHash:     tree,
		ParentHashes: parents,
	})
	require.NoError(r.t, err)

	return commit
}

func lineCommit(t *testing.T, res *Result, n int) plumbing.ObjectID {
	t.Helper()

	e, err := res.Line(n)
	require.NoError(t, err)
	return e.Commit
}

func TestBlameSingleCommit(t *testing.T) {
	r := newRepo(t)
	c1 := r.commit(map[string]string{"f.txt": "a\nb\nc\n"})

	res, err := Blame(context.Background(), r.s, c1, "f.txt", Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Lines)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, c1, res.Entries[0].Commit)
	assert.Equal(t, 1, res.Entries[0].ResultStart)
	assert.Equal(t, 3, res.Entries[0].Length)
	assert.Equal(t, "A", res.Entries[0].Author.Name)
}

func TestBlameLinearHistory(t *testing.T) {
	r := newRepo(t)

	c1 := r.commit(map[string]string{"f.txt": "a\nb\nc\n"})
	c2 := r.commit(map[string]string{"f.txt": "a\nB\nc\n"}, c1)

	res, err := Blame(context.Background(), r.s, c2, "f.txt", Options{})
	require.NoError(t, err)

	assert.Equal(t, c1, lineCommit(t, res, 1))
	assert.Equal(t, c2, lineCommit(t, res, 2))
	assert.Equal(t, c1, lineCommit(t, res, 3))
}

func TestBlameMerge(t *testing.T) {
	r := newRepo(t)

	// main: [a b c], feature changes line 2, main changes line 3, merge
	// combines both
	m1 := r.commit(map[string]string{"f.txt": "a\nb\nc\n"})
	f1 := r.commit(map[string]string{"f.txt": "a\nB\nc\n"}, m1)
	m2 := r.commit(map[string]string{"f.txt": "a\nb\nC\n"}, m1)
	mg := r.commit(map[string]string{"f.txt": "a\nB\nC\n"}, m2, f1)

	res, err := Blame(context.Background(), r.s, mg, "f.txt", Options{})
	require.NoError(t, err)

	assert.Equal(t, m1, lineCommit(t, res, 1))
	assert.Equal(t, f1, lineCommit(t, res, 2))
	assert.Equal(t, m2, lineCommit(t, res, 3))
}

func TestBlameMergeConflictResolution(t *testing.T) {
	r := newRepo(t)

	// both sides touch line 2 differently; the merge resolves to a third
	// value that neither parent carries
	m1 := r.commit(map[string]string{"f.txt": "a\nb\nc\n"})
	f1 := r.commit(map[string]string{"f.txt": "a\nX\nc\n"}, m1)
	m2 := r.commit(map[string]string{"f.txt": "a\nY\nc\n"}, m1)
	mg := r.commit(map[string]string{"f.txt": "a\nZ\nc\n"}, m2, f1)

	res, err := Blame(context.Background(), r.s, mg, "f.txt", Options{})
	require.NoError(t, err)

	assert.Equal(t, m1, lineCommit(t, res, 1))
	assert.Equal(t, mg, lineCommit(t, res, 2), "conflict resolution lines belong to the merge")
	assert.Equal(t, m1, lineCommit(t, res, 3))
}

func TestBlameFollowsRenames(t *testing.T) {
	r := newRepo(t)

	content := "one\ntwo\nthree\nfour\nfive\n"
	c1 := r.commit(map[string]string{"old.txt": content})
	c2 := r.commit(map[string]string{"new.txt": content}, c1)

	res, err := Blame(context.Background(), r.s, c2, "new.txt", Options{FollowRenames: true})
	require.NoError(t, err)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, c1, res.Entries[0].Commit)
	assert.Equal(t, "old.txt", res.Entries[0].SourcePath)
}

func TestBlameWithoutRenameFollowing(t *testing.T) {
	r := newRepo(t)

	content := "one\ntwo\nthree\nfour\nfive\n"
	c1 := r.commit(map[string]string{"old.txt": content})
	c2 := r.commit(map[string]string{"new.txt": content}, c1)

	res, err := Blame(context.Background(), r.s, c2, "new.txt", Options{})
	require.NoError(t, err)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, c2, res.Entries[0].Commit, "without rename detection the file was created here")
}

func TestBlameTilesEveryLine(t *testing.T) {
	r := newRepo(t)

	c1 := r.commit(map[string]string{"f.txt": "1\n2\n3\n4\n"})
	c2 := r.commit(map[string]string{"f.txt": "1\nx\n3\ny\n5\n"}, c1)
	c3 := r.commit(map[string]string{"f.txt": "0\n1\nx\n3\ny\n5\n"}, c2)

	res, err := Blame(context.Background(), r.s, c3, "f.txt", Options{})
	require.NoError(t, err)

	covered := 0
	next := 1
	for _, e := range res.Entries {
		assert.Equal(t, next, e.ResultStart, "entries must tile without gaps")
		covered += e.Length
		next = e.ResultStart + e.Length
	}

	assert.Equal(t, res.Lines, covered)

	// spot checks
	assert.Equal(t, c3, lineCommit(t, res, 1))
	assert.Equal(t, c1, lineCommit(t, res, 2))
	assert.Equal(t, c2, lineCommit(t, res, 3))
}

func TestBlameMissingFile(t *testing.T) {
	r := newRepo(t)
	c1 := r.commit(map[string]string{"f.txt": "a\n"})

	_, err := Blame(context.Background(), r.s, c1, "missing.txt", Options{})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
		{"a\r\nb\r\n", 2},
		{"a\rb\r", 2},
		{"a\r\nb", 2},
		{"\n", 1},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, countLines([]byte(tc.in)), "%q", tc.in)
	}
}

func TestSourceLineArithmetic(t *testing.T) {
	r := newRepo(t)

	c1 := r.commit(map[string]string{"f.txt": "a\nb\nc\nd\n"})
	c2 := r.commit(map[string]string{"f.txt": "new\na\nb\nc\nd\n"}, c1)

	res, err := Blame(context.Background(), r.s, c2, "f.txt", Options{})
	require.NoError(t, err)

	// line 3 of the result is line 2 of the original file
	src, err := res.SourceLine(3)
	require.NoError(t, err)
	assert.Equal(t, 2, src)
}
