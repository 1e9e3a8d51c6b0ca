package gitstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/storage/memory"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()

	s := memory.NewStorage()
	cfg := config.NewConfig()
	cfg.User.Name = "A"
	cfg.User.Email = "a@x"
	require.NoError(t, s.SetConfig(cfg))

	r, err := Init(s)
	require.NoError(t, err)
	return r
}

func stageFile(t *testing.T, r *Repository, name, content string) plumbing.ObjectID {
	t.Helper()

	h, err := object.StoreBlobContent(r.Storer, bytes.NewReader([]byte(content)))
	require.NoError(t, err)

	idx, err := r.Storer.Index()
	require.NoError(t, err)
	require.NoError(t, idx.SetEntry(&index.Entry{
		Name: name, Hash: h, Mode: filemode.Regular,
	}))
	require.NoError(t, r.Storer.SetIndex(idx))

	return h
}

func init() {
	// deterministic commit timestamps
	base := time.Unix(1700000000, 0).UTC()
	now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
}

func TestCommitLinearChain(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	stageFile(t, r, "README.md", "# R\n")
	c1, err := r.Commit("init", nil)
	require.NoError(t, err)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, c1, head.Hash())

	branch, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, plumbing.NewBranchReferenceName("main"), branch)

	stageFile(t, r, "README.md", "# R\nmore\n")
	c2, err := r.Commit("add", nil)
	require.NoError(t, err)

	var order []plumbing.ObjectID
	require.NoError(t, r.WalkAncestry(ctx, []plumbing.ObjectID{c2}, object.WalkOptions{}, func(h plumbing.ObjectID) error {
		order = append(order, h)
		return nil
	}))
	assert.Equal(t, []plumbing.ObjectID{c2, c1}, order)

	ok, err := r.IsAncestor(ctx, c1, c2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestor(ctx, c2, c1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitRefusesEmpty(t *testing.T) {
	r := testRepo(t)

	stageFile(t, r, "a.txt", "content")
	_, err := r.Commit("first", nil)
	require.NoError(t, err)

	// nothing staged since
	_, err = r.Commit("empty", nil)
	assert.ErrorIs(t, err, ErrEmptyCommit)

	_, err = r.Commit("forced empty", &CommitOptions{AllowEmpty: true})
	assert.NoError(t, err)
}

func TestDetachedHead(t *testing.T) {
	r := testRepo(t)

	stageFile(t, r, "a.txt", "x")
	c1, err := r.Commit("one", nil)
	require.NoError(t, err)

	detached, err := r.IsDetached()
	require.NoError(t, err)
	assert.False(t, detached)

	require.NoError(t, r.SetHead(c1.String()))

	detached, err = r.IsDetached()
	require.NoError(t, err)
	assert.True(t, detached)

	_, err = r.CurrentBranch()
	assert.ErrorIs(t, err, ErrDetachedHead)

	// a branch name re-attaches
	require.NoError(t, r.SetHead("main"))
	detached, err = r.IsDetached()
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestCommitDuringMergeRecordsBothParents(t *testing.T) {
	r := testRepo(t)

	stageFile(t, r, "a.txt", "base")
	base, err := r.Commit("base", nil)
	require.NoError(t, err)

	stageFile(t, r, "a.txt", "other side")
	other, err := r.Commit("other", nil)
	require.NoError(t, err)

	// rewind the branch and build the merging side
	require.NoError(t, r.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), base)))

	require.NoError(t, r.StartMerge(other, "merge other"))

	state, err := r.State()
	require.NoError(t, err)
	assert.Equal(t, StateMergingResolved, state)

	stageFile(t, r, "a.txt", "merged content")
	mg, err := r.Commit("merge", nil)
	require.NoError(t, err)

	commit, err := r.CommitObject(mg)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ObjectID{base, other}, commit.ParentHashes)

	// markers cleared, back to safe
	state, err = r.State()
	require.NoError(t, err)
	assert.Equal(t, StateSafe, state)
}

func TestIllegalStateOperations(t *testing.T) {
	r := testRepo(t)

	stageFile(t, r, "a.txt", "one")
	_, err := r.Commit("one", nil)
	require.NoError(t, err)

	other := plumbing.NewObjectID("1234567890123456789012345678901234567890")
	require.NoError(t, r.StartMerge(other, "m"))

	// stage a conflict so the merge is unresolved
	idx, err := r.Storer.Index()
	require.NoError(t, err)
	require.NoError(t, idx.SetEntry(&index.Entry{
		Name: "a.txt", Stage: index.OurMode, Mode: filemode.Regular,
	}))
	require.NoError(t, r.Storer.SetIndex(idx))

	state, err := r.State()
	require.NoError(t, err)
	assert.Equal(t, StateMerging, state)

	_, err = r.Commit("nope", nil)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestMergeBasePassthrough(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	stageFile(t, r, "a.txt", "root")
	root, err := r.Commit("root", nil)
	require.NoError(t, err)

	stageFile(t, r, "a.txt", "left")
	left, err := r.Commit("left", nil)
	require.NoError(t, err)

	// second branch from root
	require.NoError(t, r.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), root)))
	stageFile(t, r, "a.txt", "right")
	right, err := r.Commit("right", nil)
	require.NoError(t, err)

	bases, err := r.MergeBase(ctx, left, right)
	require.NoError(t, err)
	assert.Equal(t, []plumbing.ObjectID{root}, bases)
}

func TestStateCapabilityMatrix(t *testing.T) {
	cases := []struct {
		state RepositoryState
		caps  Capabilities
	}{
		{StateBare, Capabilities{}},
		{StateSafe, Capabilities{CanCheckout: true, CanCommit: true, CanResetHead: true, CanAmend: true}},
		{StateMerging, Capabilities{CanResetHead: true}},
		{StateMergingResolved, Capabilities{CanCommit: true, CanResetHead: true}},
		{StateCherryPicking, Capabilities{CanResetHead: true}},
		{StateCherryPickingResolved, Capabilities{CanCommit: true, CanResetHead: true}},
		{StateReverting, Capabilities{CanResetHead: true}},
		{StateRevertingResolved, Capabilities{CanCommit: true, CanResetHead: true}},
		{StateRebasing, Capabilities{CanAmend: true, IsRebasing: true}},
		{StateRebasingMerge, Capabilities{CanAmend: true, IsRebasing: true}},
		{StateRebasingInteractive, Capabilities{CanAmend: true, IsRebasing: true}},
		{StateApply, Capabilities{CanAmend: true}},
		{StateBisecting, Capabilities{CanCheckout: true}},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.caps, tc.state.Capabilities(), tc.state.String())
	}
}

func TestStateDetectionFromMarkers(t *testing.T) {
	r := testRepo(t)

	ms := r.Markers()

	require.NoError(t, ms.WriteMarker(markerRebaseMergeHead, []byte("refs/heads/topic\n")))
	state, err := r.State()
	require.NoError(t, err)
	assert.Equal(t, StateRebasingMerge, state)

	require.NoError(t, ms.WriteMarker(markerRebaseInteractive, nil))
	state, err = r.State()
	require.NoError(t, err)
	assert.Equal(t, StateRebasingInteractive, state)

	rebase, ok := r.RebaseState()
	require.True(t, ok)
	assert.Equal(t, RebaseInteractive, rebase.Phase)
	assert.Equal(t, "refs/heads/topic", rebase.Head)

	require.NoError(t, ms.RemoveMarker(markerRebaseInteractive))
	require.NoError(t, ms.RemoveMarker(markerRebaseMergeHead))

	require.NoError(t, ms.WriteMarker(markerBisectLog, []byte("git bisect start\n")))
	state, err = r.State()
	require.NoError(t, err)
	assert.Equal(t, StateBisecting, state)

	bisect, ok := r.BisectState()
	require.True(t, ok)
	assert.Contains(t, bisect.Log, "bisect start")
}
