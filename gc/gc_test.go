package gc

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/storage/filesystem"
)

func buildHistory(t *testing.T, s *filesystem.Storage) (tip plumbing.ObjectID, all int) {
	t.Helper()

	sig := object.Signature{Name: "A", Email: "a@x", When: time.Unix(1700000000, 0).UTC()}

	var parents []plumbing.ObjectID
	content := "# title\n"
	for i := 0; i < 4; i++ {
		content += strings.Repeat("a shared paragraph of content\n", 10)

		blob, err := object.StoreBlobContent(s, bytes.NewReader([]byte(content)))
		require.NoError(t, err)

		tree, err := object.StoreTree(s, []object.TreeEntry{
			{Name: "README.md", Mode: filemode.Regular, Hash: blob},
		})
		require.NoError(t, err)

		commit, err := object.StoreCommit(s, &object.Commit{
			Author:       sig,
			Committer:    sig,
			Message:      "step\n",
			TreeHash:     tree,
			ParentHashes: parents,
		})
		require.NoError(t, err)

		parents = []plumbing.ObjectID{commit}
		tip = commit
		all += 3 // blob + tree + commit, all distinct each round
	}

	require.NoError(t, s.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), tip)))

	return tip, all
}

func TestRepackWithPrune(t *testing.T) {
	s := filesystem.NewStorage(memfs.New(), nil)
	require.NoError(t, s.Init())

	tip, all := buildHistory(t, s)

	loose, err := s.CountLooseObjects()
	require.NoError(t, err)
	require.Equal(t, all, loose)

	ctl, err := NewController(s, Options{Prune: true})
	require.NoError(t, err)

	stats, err := ctl.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, stats.Skipped)
	assert.Equal(t, all, stats.Objects)
	assert.Greater(t, stats.Deltas, 0, "similar blobs should delta against each other")
	assert.Greater(t, stats.BytesSaved, int64(0))
	assert.Equal(t, all, stats.Pruned)

	// one pack holds everything
	packs, err := s.ObjectPacks()
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, stats.PackChecksum, packs[0])

	loose, err = s.CountLooseObjects()
	require.NoError(t, err)
	assert.Zero(t, loose)

	// every object reads back from the pack, deltas resolved
	commit, err := object.GetCommit(s, tip)
	require.NoError(t, err)

	file, err := commit.File("README.md")
	require.NoError(t, err)

	r, err := file.Reader()
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "# title\n"))
	assert.Equal(t, int64(len(content)), file.Size)
}

func TestRepackWithoutPruneKeepsLoose(t *testing.T) {
	s := filesystem.NewStorage(memfs.New(), nil)
	require.NoError(t, s.Init())

	_, all := buildHistory(t, s)

	ctl, err := NewController(s, Options{})
	require.NoError(t, err)

	stats, err := ctl.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pruned)

	loose, err := s.CountLooseObjects()
	require.NoError(t, err)
	assert.Equal(t, all, loose)
}

func TestThresholdSkips(t *testing.T) {
	s := filesystem.NewStorage(memfs.New(), nil)
	require.NoError(t, s.Init())

	buildHistory(t, s)

	ctl, err := NewController(s, Options{Threshold: 1000})
	require.NoError(t, err)

	stats, err := ctl.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
}
