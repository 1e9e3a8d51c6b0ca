// Package gitstore ties the object database, reference store and staging
// area together into a working-copy façade: HEAD management, in-progress
// operation states, status and checkout conflict computation, stash and
// commit creation.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/storage"
	"github.com/go-vcs/gitstore/storage/filesystem"
)

var (
	// ErrNoHead is returned when HEAD does not exist or points nowhere.
	ErrNoHead = errors.New("reference not found: HEAD")
	// ErrDetachedHead is returned when an operation needs a branch but
	// HEAD points directly at a commit.
	ErrDetachedHead = errors.New("HEAD is detached")
)

// Repository is a working copy over a storage backend: a history (objects
// and references), a checkout (HEAD, staging, operation states) and
// optionally a worktree filesystem.
type Repository struct {
	Storer  storage.Storer
	markers MarkerStore
}

// Init initializes an empty repository over the given storage. File-backed
// storages get their directory skeleton created.
func Init(s storage.Storer) (*Repository, error) {
	r := NewRepository(s)

	if fss, ok := s.(*filesystem.Storage); ok {
		if err := fss.Init(); err != nil {
			return nil, err
		}

		return r, nil
	}

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := s.SetReference(head); err != nil {
		return nil, err
	}

	return r, nil
}

// NewRepository returns a Repository over an already initialized storage.
func NewRepository(s storage.Storer) *Repository {
	var markers MarkerStore
	if fss, ok := s.(*filesystem.Storage); ok {
		markers = NewDotGitMarkers(fss.DotGit())
	} else {
		markers = NewMemoryMarkers()
	}

	return &Repository{Storer: s, markers: markers}
}

// Markers exposes the operation marker store of this working copy.
func (r *Repository) Markers() MarkerStore {
	return r.markers
}

// Worktree returns the working tree view over the given filesystem.
func (r *Repository) Worktree(fs billy.Filesystem) *Worktree {
	return &Worktree{r: r, fs: fs}
}

// --- HEAD ----------------------------------------------------------------

// Head returns the resolved HEAD reference: the current commit with the
// branch it was reached through, or the direct commit when detached.
func (r *Repository) Head() (*plumbing.Reference, error) {
	ref, err := storer.ResolveReference(r.Storer, plumbing.HEAD)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, ErrNoHead
		}

		return nil, err
	}

	return ref, nil
}

// SetHead points HEAD at the given target: a 40-hex commit id detaches
// HEAD, a branch name keeps it symbolic.
func (r *Repository) SetHead(target string) error {
	if plumbing.IsValidObjectID(target) {
		return r.Storer.SetReference(
			plumbing.NewHashReference(plumbing.HEAD, plumbing.NewObjectID(target)))
	}

	name := plumbing.ReferenceName(target)
	if !strings.HasPrefix(target, "refs/") {
		name = plumbing.NewBranchReferenceName(target)
	}

	return r.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, name))
}

// CurrentBranch returns the branch HEAD points at, or ErrDetachedHead.
func (r *Repository) CurrentBranch() (plumbing.ReferenceName, error) {
	ref, err := r.Storer.Reference(plumbing.HEAD)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoHead
		}

		return "", err
	}

	if ref.Type() != plumbing.SymbolicReference {
		return "", ErrDetachedHead
	}

	return ref.Target(), nil
}

// IsDetached reports whether HEAD points directly at a commit.
func (r *Repository) IsDetached() (bool, error) {
	ref, err := r.Storer.Reference(plumbing.HEAD)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, ErrNoHead
		}

		return false, err
	}

	return ref.Type() == plumbing.HashReference, nil
}

// --- state ---------------------------------------------------------------

// State computes the repository state from the markers and the staging
// area.
func (r *Repository) State() (RepositoryState, error) {
	idx, err := r.Storer.Index()
	if err != nil {
		return StateSafe, err
	}

	conflicts := idx.HasConflicts()

	switch {
	case r.markers.HasMarker(markerRebaseInteractive):
		return StateRebasingInteractive, nil
	case r.markers.HasMarker(markerRebaseMergeHead):
		return StateRebasingMerge, nil
	case r.markers.HasMarker(markerRebaseApplyFile):
		return StateApply, nil
	case r.markers.HasMarker(markerRebaseApplyHead):
		return StateRebasing, nil
	case r.markers.HasMarker(markerMergeHead):
		if conflicts {
			return StateMerging, nil
		}
		return StateMergingResolved, nil
	case r.markers.HasMarker(markerCherryPickHead):
		if conflicts {
			return StateCherryPicking, nil
		}
		return StateCherryPickingResolved, nil
	case r.markers.HasMarker(markerRevertHead):
		if conflicts {
			return StateReverting, nil
		}
		return StateRevertingResolved, nil
	case r.markers.HasMarker(markerBisectLog):
		return StateBisecting, nil
	}

	return StateSafe, nil
}

// ValidateOperation returns ErrIllegalState when the operation is not
// allowed in the current repository state.
func (r *Repository) ValidateOperation(op Operation) error {
	state, err := r.State()
	if err != nil {
		return err
	}

	return op.Validate(state)
}

// MergeState returns the in-progress merge, if any.
func (r *Repository) MergeState() (*MergeState, bool) {
	head, ok := markerID(r.markers, markerMergeHead)
	if !ok {
		return nil, false
	}

	state := &MergeState{MergeHead: head}
	if orig, ok := markerID(r.markers, markerOrigHead); ok {
		state.OrigHead = orig
	}

	if msg, ok, _ := r.markers.ReadMarker(markerMergeMsg); ok {
		state.Message = string(msg)
	}

	return state, true
}

// RebaseState returns the in-progress rebase, if any.
func (r *Repository) RebaseState() (*RebaseState, bool) {
	switch {
	case r.markers.HasMarker(markerRebaseInteractive), r.markers.HasMarker(markerRebaseMergeHead):
		state := &RebaseState{Phase: RebaseMerge}
		if r.markers.HasMarker(markerRebaseInteractive) {
			state.Phase = RebaseInteractive
		}

		if onto, ok := markerID(r.markers, markerRebaseOnto); ok {
			state.Onto = onto
		}

		if head, ok, _ := r.markers.ReadMarker(markerRebaseMergeHead); ok {
			state.Head = strings.TrimSpace(string(head))
		}

		state.CurrentStep = markerInt(r.markers, markerRebaseMsgnum)
		state.TotalSteps = markerInt(r.markers, markerRebaseEnd)
		return state, true

	case r.markers.HasMarker(markerRebaseApplyHead):
		state := &RebaseState{Phase: RebaseClassic}
		if head, ok, _ := r.markers.ReadMarker(markerRebaseApplyHead); ok {
			state.Head = strings.TrimSpace(string(head))
		}

		return state, true
	}

	return nil, false
}

// CherryPickState returns the in-progress cherry-pick, if any.
func (r *Repository) CherryPickState() (*CherryPickState, bool) {
	head, ok := markerID(r.markers, markerCherryPickHead)
	if !ok {
		return nil, false
	}

	return &CherryPickState{Head: head}, true
}

// RevertState returns the in-progress revert, if any.
func (r *Repository) RevertState() (*RevertState, bool) {
	head, ok := markerID(r.markers, markerRevertHead)
	if !ok {
		return nil, false
	}

	return &RevertState{Head: head}, true
}

// BisectState returns the in-progress bisect, if any.
func (r *Repository) BisectState() (*BisectState, bool) {
	log, ok, _ := r.markers.ReadMarker(markerBisectLog)
	if !ok {
		return nil, false
	}

	return &BisectState{Log: string(log)}, true
}

// StartMerge records an in-progress merge of the given commit.
func (r *Repository) StartMerge(mergeHead plumbing.ObjectID, message string) error {
	head, err := r.Head()
	if err != nil {
		return err
	}

	if err := r.markers.WriteMarker(markerOrigHead, []byte(head.Hash().String()+"\n")); err != nil {
		return err
	}

	if err := r.markers.WriteMarker(markerMergeHead, []byte(mergeHead.String()+"\n")); err != nil {
		return err
	}

	return r.markers.WriteMarker(markerMergeMsg, []byte(message))
}

// ClearMerge removes the merge markers.
func (r *Repository) ClearMerge() error {
	for _, m := range []string{markerMergeHead, markerMergeMsg} {
		if err := r.markers.RemoveMarker(m); err != nil {
			return err
		}
	}

	return nil
}

// --- objects and history -------------------------------------------------

// CommitObject returns the commit with the given id.
func (r *Repository) CommitObject(h plumbing.ObjectID) (*object.Commit, error) {
	return object.GetCommit(r.Storer, h)
}

// TreeObject returns the tree with the given id.
func (r *Repository) TreeObject(h plumbing.ObjectID) (*object.Tree, error) {
	return object.GetTree(r.Storer, h)
}

// BlobObject returns the blob with the given id.
func (r *Repository) BlobObject(h plumbing.ObjectID) (*object.Blob, error) {
	return object.GetBlob(r.Storer, h)
}

// TagObject returns the tag with the given id.
func (r *Repository) TagObject(h plumbing.ObjectID) (*object.Tag, error) {
	return object.GetTag(r.Storer, h)
}

// WalkAncestry yields the ancestry of the given commits in topological
// order.
func (r *Repository) WalkAncestry(ctx context.Context, starts []plumbing.ObjectID, opts object.WalkOptions, cb func(plumbing.ObjectID) error) error {
	return object.WalkAncestry(ctx, r.Storer, starts, opts, cb)
}

// IsAncestor reports whether a is an ancestor of b.
func (r *Repository) IsAncestor(ctx context.Context, a, b plumbing.ObjectID) (bool, error) {
	return object.IsAncestor(ctx, r.Storer, a, b)
}

// MergeBase returns the best common ancestor(s) of a and b.
func (r *Repository) MergeBase(ctx context.Context, a, b plumbing.ObjectID) ([]plumbing.ObjectID, error) {
	return object.MergeBase(ctx, r.Storer, a, b)
}

// --- commit creation -----------------------------------------------------

// CommitOptions parameterize Commit.
type CommitOptions struct {
	// Author of the commit; when empty, the configured user is used.
	Author *object.Signature
	// Committer of the commit; when nil, the author is used.
	Committer *object.Signature
	// Parents override the default single parent (current HEAD).
	Parents []plumbing.ObjectID
	// AllowEmpty permits a commit whose tree equals its first parent's.
	AllowEmpty bool
}

// ErrEmptyCommit is returned when a commit would not change the tree and
// AllowEmpty is unset.
var ErrEmptyCommit = errors.New("commit would be empty")

// Commit writes the staging area as a tree, creates a commit over it and
// advances the current branch with a compare-and-swap on the previous
// HEAD. The commit is validated against the state capability matrix.
func (r *Repository) Commit(message string, opts *CommitOptions) (plumbing.ObjectID, error) {
	if opts == nil {
		opts = &CommitOptions{}
	}

	if err := r.ValidateOperation(OpCommit); err != nil {
		return plumbing.ZeroID, err
	}

	idx, err := r.Storer.Index()
	if err != nil {
		return plumbing.ZeroID, err
	}

	treeHash, err := idx.WriteTree(object.IndexTrees{Storer: r.Storer})
	if err != nil {
		return plumbing.ZeroID, err
	}

	author, err := r.signature(opts.Author)
	if err != nil {
		return plumbing.ZeroID, err
	}

	committer := opts.Committer
	if committer == nil {
		committer = author
	}

	parents := opts.Parents
	var prev *plumbing.Reference
	if parents == nil {
		head, err := r.Head()
		switch {
		case err == nil:
			parents = []plumbing.ObjectID{head.Hash()}
			prev = head
		case errors.Is(err, ErrNoHead):
			// unborn branch, root commit
		default:
			return plumbing.ZeroID, err
		}
	}

	if !opts.AllowEmpty && len(parents) > 0 {
		parentTree, err := object.GetCommitTree(r.Storer, parents[0])
		if err != nil {
			return plumbing.ZeroID, err
		}

		if parentTree == treeHash {
			return plumbing.ZeroID, ErrEmptyCommit
		}
	}

	// a merge is concluded by the commit that records both parents
	if ms, ok := r.MergeState(); ok {
		parents = append(parents, ms.MergeHead)
	}

	commit := &object.Commit{
		Author:       *author,
		Committer:    *committer,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}

	h, err := object.StoreCommit(r.Storer, commit)
	if err != nil {
		return plumbing.ZeroID, err
	}

	if err := r.advanceHead(h, prev); err != nil {
		return plumbing.ZeroID, err
	}

	if _, ok := r.MergeState(); ok {
		if err := r.ClearMerge(); err != nil {
			return plumbing.ZeroID, err
		}
	}

	return h, nil
}

func (r *Repository) advanceHead(h plumbing.ObjectID, prev *plumbing.Reference) error {
	headRef, err := r.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return err
	}

	if headRef.Type() == plumbing.HashReference {
		return r.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, h))
	}

	name := headRef.Target()
	newRef := plumbing.NewHashReference(name, h)

	var old *plumbing.Reference
	if prev != nil && !prev.Hash().IsZero() {
		old = plumbing.NewHashReference(name, prev.Hash())
	}

	res, err := r.Storer.CheckAndSetReference(newRef, old)
	if err != nil {
		return err
	}

	if !res.OK {
		return storage.ErrReferenceHasChanged
	}

	return nil
}

func (r *Repository) signature(explicit *object.Signature) (*object.Signature, error) {
	if explicit != nil {
		return explicit, nil
	}

	cfg, err := r.Storer.Config()
	if err != nil {
		return nil, err
	}

	if cfg.User.Name == "" {
		return nil, fmt.Errorf("no author provided and user.name not configured")
	}

	return &object.Signature{Name: cfg.User.Name, Email: cfg.User.Email, When: now()}, nil
}

// CreateBranch points a new branch at the given commit.
func (r *Repository) CreateBranch(name string, h plumbing.ObjectID) error {
	return r.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h))
}

// CreateTag points a lightweight tag at the given commit.
func (r *Repository) CreateTag(name string, h plumbing.ObjectID) error {
	return r.Storer.SetReference(plumbing.NewHashReference(plumbing.NewTagReferenceName(name), h))
}

// References iterates every reference, optionally restricted to a prefix.
func (r *Repository) References(prefix string) (storer.ReferenceIter, error) {
	iter, err := r.Storer.IterReferences()
	if err != nil {
		return nil, err
	}

	if prefix == "" {
		return iter, nil
	}

	return storer.NewReferencePrefixIter(plumbing.ReferenceName(prefix), iter), nil
}

// ReadIndex returns the staging area of the working copy.
func (r *Repository) ReadIndex() (*index.Index, error) {
	return r.Storer.Index()
}

// WriteIndex persists the staging area.
func (r *Repository) WriteIndex(idx *index.Index) error {
	return r.Storer.SetIndex(idx)
}
