package gitstore

import (
	"io"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
)

func writeFile(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()

	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func testWorktree(t *testing.T) (*Repository, *Worktree) {
	t.Helper()

	r := testRepo(t)
	wt := r.Worktree(memfs.New())
	return r, wt
}

func TestWorktreeAddAndStatus(t *testing.T) {
	_, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "hello\n")

	status, err := wt.Status()
	require.NoError(t, err)
	assert.Equal(t, Untracked, status.File("a.txt").Worktree)

	_, err = wt.Add("a.txt")
	require.NoError(t, err)

	status, err = wt.Status()
	require.NoError(t, err)
	assert.Equal(t, Added, status.File("a.txt").Staging)
	assert.Equal(t, Unmodified, status.File("a.txt").Worktree)
}

func TestWorktreeStatusAfterCommit(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "hello\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	_, err = r.Commit("one", nil)
	require.NoError(t, err)

	status, err := wt.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean())

	// modify without staging: worktree column reports it
	writeFile(t, wt.Filesystem(), "a.txt", "hello again\n")

	status, err = wt.Status()
	require.NoError(t, err)
	assert.Equal(t, Modified, status.File("a.txt").Worktree)
	assert.Equal(t, Unmodified, status.File("a.txt").Staging)

	// deleting the file shows in the worktree column
	require.NoError(t, wt.Filesystem().Remove("a.txt"))
	status, err = wt.Status()
	require.NoError(t, err)
	assert.Equal(t, Deleted, status.File("a.txt").Worktree)
}

func TestWorktreeSameContentSameSizeDetected(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "aaaa\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	_, err = r.Commit("one", nil)
	require.NoError(t, err)

	// same size, different content: the content hash catches it
	writeFile(t, wt.Filesystem(), "a.txt", "bbbb\n")

	status, err := wt.Status()
	require.NoError(t, err)
	assert.Equal(t, Modified, status.File("a.txt").Worktree)
}

func TestCheckoutConflictDirtyWorktree(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "v1\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	c1, err := r.Commit("one", nil)
	require.NoError(t, err)

	writeFile(t, wt.Filesystem(), "a.txt", "v2\n")
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	_, err = r.Commit("two", nil)
	require.NoError(t, err)

	// local modification not staged anywhere
	writeFile(t, wt.Filesystem(), "a.txt", "local edit\n")

	c1Tree, err := object.GetCommitTree(r.Storer, c1)
	require.NoError(t, err)

	conflicts, err := wt.CheckoutConflicts(c1Tree, CheckoutConflictOptions{})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "a.txt", conflicts[0].Path)
	assert.Equal(t, ConflictDirtyWorktree, conflicts[0].Kind)
}

func TestCheckoutConflictUntracked(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "v1\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	_, err = r.Commit("one", nil)
	require.NoError(t, err)

	// build a second commit introducing b.txt, then rewind
	writeFile(t, wt.Filesystem(), "b.txt", "from branch\n")
	_, err = wt.Add("b.txt")
	require.NoError(t, err)
	c2, err := r.Commit("two", nil)
	require.NoError(t, err)

	// rewind the branch and the index to the first commit
	require.NoError(t, wt.Filesystem().Remove("b.txt"))

	c2Commit, err := r.CommitObject(c2)
	require.NoError(t, err)
	c1 := c2Commit.ParentHashes[0]
	require.NoError(t, r.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), c1)))

	c1Tree, err := object.GetCommitTree(r.Storer, c1)
	require.NoError(t, err)

	idx, err := r.Storer.Index()
	require.NoError(t, err)
	require.NoError(t, idx.ReadTree(object.IndexTrees{Storer: r.Storer}, c1Tree, index.ReadTreeOptions{}))
	require.NoError(t, r.Storer.SetIndex(idx))

	// the worktree a.txt still has c2 content; rewrite it to match c1 so
	// only the untracked file conflicts
	writeFile(t, wt.Filesystem(), "a.txt", "v1\n")

	// an untracked b.txt with different content blocks the checkout
	writeFile(t, wt.Filesystem(), "b.txt", "my own notes\n")

	c2Tree, err := object.GetCommitTree(r.Storer, c2)
	require.NoError(t, err)

	conflicts, err := wt.CheckoutConflicts(c2Tree, CheckoutConflictOptions{})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "b.txt", conflicts[0].Path)
	assert.Equal(t, ConflictUntrackedFile, conflicts[0].Kind)

	// the check can be skipped on request
	conflicts, err = wt.CheckoutConflicts(c2Tree, CheckoutConflictOptions{SkipUntracked: true})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheckoutSwitchesContent(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "v1\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	c1, err := r.Commit("one", nil)
	require.NoError(t, err)

	writeFile(t, wt.Filesystem(), "a.txt", "v2\n")
	writeFile(t, wt.Filesystem(), "b.txt", "new\n")
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	_, err = wt.Add("b.txt")
	require.NoError(t, err)
	_, err = r.Commit("two", nil)
	require.NoError(t, err)

	// detached checkout back to the first commit
	require.NoError(t, wt.Checkout(c1, ""))

	f, err := wt.Filesystem().Open("a.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "v1\n", string(content))

	// b.txt does not exist at c1
	_, err = wt.Filesystem().Stat("b.txt")
	assert.Error(t, err)

	detached, err := r.IsDetached()
	require.NoError(t, err)
	assert.True(t, detached)

	status, err := wt.Status()
	require.NoError(t, err)
	assert.True(t, status.IsClean(), status.String())
}

func TestStashShape(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "committed\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	head, err := r.Commit("subject line\nbody\n", nil)
	require.NoError(t, err)

	// a staged change and an untracked file
	writeFile(t, wt.Filesystem(), "a.txt", "work in progress\n")
	_, err = wt.Add("a.txt")
	require.NoError(t, err)
	writeFile(t, wt.Filesystem(), "notes.txt", "untracked\n")

	stash, err := wt.Stash(StashOptions{IncludeUntracked: true})
	require.NoError(t, err)

	commit, err := r.LatestStash()
	require.NoError(t, err)
	assert.Equal(t, stash, commit.Hash)

	// [head, index, untracked]
	require.Len(t, commit.ParentHashes, 3)
	assert.Equal(t, head, commit.ParentHashes[0])

	assert.Contains(t, commit.Message, "WIP on main:")
	assert.Contains(t, commit.Message, "subject line")

	indexCommit, err := r.CommitObject(commit.ParentHashes[1])
	require.NoError(t, err)
	assert.Contains(t, indexCommit.Message, "index on main:")
	assert.Equal(t, []plumbing.ObjectID{head}, indexCommit.ParentHashes)

	// the untracked parent holds notes.txt
	untrackedCommit, err := r.CommitObject(commit.ParentHashes[2])
	require.NoError(t, err)
	files, err := object.FlattenTree(r.Storer, untrackedCommit.TreeHash)
	require.NoError(t, err)
	assert.Contains(t, files, "notes.txt")

	require.NoError(t, r.DropStash())
	_, err = r.LatestStash()
	assert.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
}

func TestStashRequiresChanges(t *testing.T) {
	r, wt := testWorktree(t)

	writeFile(t, wt.Filesystem(), "a.txt", "x\n")
	_, err := wt.Add("a.txt")
	require.NoError(t, err)
	_, err = r.Commit("one", nil)
	require.NoError(t, err)

	_, err = wt.Stash(StashOptions{})
	assert.ErrorIs(t, err, ErrNothingToStash)
}
