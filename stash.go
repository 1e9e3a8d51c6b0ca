package gitstore

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
)

// ErrNothingToStash is returned when the working copy has no changes worth
// stashing.
var ErrNothingToStash = errors.New("no local changes to stash")

// StashOptions tune a stash save.
type StashOptions struct {
	// Message overrides the subject part of the stash message.
	Message string
	// IncludeUntracked captures untracked files into a third parent.
	IncludeUntracked bool
}

// Stash captures the index and the tracked worktree state into a stash
// commit with two parents — HEAD and an index snapshot — plus an optional
// third parent holding untracked files, and points refs/stash at it.
func (w *Worktree) Stash(opts StashOptions) (plumbing.ObjectID, error) {
	head, err := w.r.Head()
	if err != nil {
		return plumbing.ZeroID, err
	}

	headCommit, err := object.GetCommit(w.r.Storer, head.Hash())
	if err != nil {
		return plumbing.ZeroID, err
	}

	branch := "(no branch)"
	if name, err := w.r.CurrentBranch(); err == nil {
		branch = name.Short()
	}

	subject := opts.Message
	if subject == "" {
		subject = firstLine(headCommit.Message)
	}

	short := head.Hash().String()[:7]

	sig, err := w.r.signature(nil)
	if err != nil {
		return plumbing.ZeroID, err
	}

	status, err := w.Status()
	if err != nil {
		return plumbing.ZeroID, err
	}

	if status.IsClean() {
		return plumbing.ZeroID, ErrNothingToStash
	}

	// parent 1: the index snapshot
	idx, err := w.r.Storer.Index()
	if err != nil {
		return plumbing.ZeroID, err
	}

	indexTree, err := idx.WriteTree(object.IndexTrees{Storer: w.r.Storer})
	if err != nil {
		return plumbing.ZeroID, err
	}

	indexCommit, err := object.StoreCommit(w.r.Storer, &object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      fmt.Sprintf("index on %s: %s %s\n", branch, short, subject),
		TreeHash:     indexTree,
		ParentHashes: []plumbing.ObjectID{head.Hash()},
	})
	if err != nil {
		return plumbing.ZeroID, err
	}

	parents := []plumbing.ObjectID{head.Hash(), indexCommit}

	// optional parent 2: untracked files
	if opts.IncludeUntracked {
		untrackedTree, any, err := w.untrackedTree(status)
		if err != nil {
			return plumbing.ZeroID, err
		}

		if any {
			untrackedCommit, err := object.StoreCommit(w.r.Storer, &object.Commit{
				Author:       *sig,
				Committer:    *sig,
				Message:      fmt.Sprintf("untracked files on %s: %s %s\n", branch, short, subject),
				TreeHash:     untrackedTree,
				ParentHashes: nil,
			})
			if err != nil {
				return plumbing.ZeroID, err
			}

			parents = append(parents, untrackedCommit)
		}
	}

	// the stash commit tree snapshots the tracked worktree state
	workTree, err := w.trackedWorktreeTree(idx)
	if err != nil {
		return plumbing.ZeroID, err
	}

	stashCommit, err := object.StoreCommit(w.r.Storer, &object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      fmt.Sprintf("WIP on %s: %s %s\n", branch, short, subject),
		TreeHash:     workTree,
		ParentHashes: parents,
	})
	if err != nil {
		return plumbing.ZeroID, err
	}

	if err := w.r.Storer.SetReference(plumbing.NewHashReference(plumbing.Stash, stashCommit)); err != nil {
		return plumbing.ZeroID, err
	}

	return stashCommit, nil
}

// LatestStash returns the most recent stash commit.
func (r *Repository) LatestStash() (*object.Commit, error) {
	ref, err := r.Storer.Reference(plumbing.Stash)
	if err != nil {
		return nil, err
	}

	return object.GetCommit(r.Storer, ref.Hash())
}

// DropStash removes the stash reference.
func (r *Repository) DropStash() error {
	return r.Storer.RemoveReference(plumbing.Stash)
}

// trackedWorktreeTree builds a tree from the staged paths using the
// current worktree content of each.
func (w *Worktree) trackedWorktreeTree(idx *index.Index) (plumbing.ObjectID, error) {
	snapshot := &index.Index{Version: 2}

	for _, e := range idx.Entries {
		if e.Stage != index.Merged {
			continue
		}

		entry := *e

		f, err := w.fs.Open(e.Name)
		if err == nil {
			h, herr := object.StoreBlobContent(w.r.Storer, f)
			_ = f.Close()
			if herr != nil {
				return plumbing.ZeroID, herr
			}

			entry.Hash = h
		}

		if err := snapshot.SetEntry(&entry); err != nil {
			return plumbing.ZeroID, err
		}
	}

	return snapshot.WriteTree(object.IndexTrees{Storer: w.r.Storer})
}

// untrackedTree builds a tree from the untracked paths of the status.
func (w *Worktree) untrackedTree(status Status) (plumbing.ObjectID, bool, error) {
	snapshot := &index.Index{Version: 2}
	any := false

	for path, st := range status {
		if st.Staging != Untracked || st.Worktree != Untracked {
			continue
		}

		f, err := w.fs.Open(path)
		if err != nil {
			continue
		}

		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return plumbing.ZeroID, false, err
		}

		o := w.r.Storer.NewEncodedObject()
		o.SetType(plumbing.BlobObject)
		ow, err := o.Writer()
		if err != nil {
			return plumbing.ZeroID, false, err
		}

		if _, err := ow.Write(data); err != nil {
			_ = ow.Close()
			return plumbing.ZeroID, false, err
		}

		if err := ow.Close(); err != nil {
			return plumbing.ZeroID, false, err
		}

		h, err := w.r.Storer.SetEncodedObject(o)
		if err != nil {
			return plumbing.ZeroID, false, err
		}

		if err := snapshot.SetEntry(&index.Entry{
			Name: path,
			Hash: h,
			Mode: filemode.Regular,
		}); err != nil {
			return plumbing.ZeroID, false, err
		}

		any = true
	}

	if !any {
		return plumbing.ZeroID, false, nil
	}

	tree, err := snapshot.WriteTree(object.IndexTrees{Storer: w.r.Storer})
	return tree, true, err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}

	return s
}
