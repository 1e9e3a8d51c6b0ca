package gitstore

import (
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
)

// CheckoutConflictKind classifies why a checkout would lose data.
type CheckoutConflictKind int

const (
	// ConflictDirtyIndex: the path is staged with content differing from
	// HEAD.
	ConflictDirtyIndex CheckoutConflictKind = iota
	// ConflictDirtyWorktree: the worktree file differs from HEAD and the
	// target would overwrite or delete it.
	ConflictDirtyWorktree
	// ConflictUntrackedFile: the target would create a file where an
	// untracked, non-ignored file exists.
	ConflictUntrackedFile
)

func (k CheckoutConflictKind) String() string {
	switch k {
	case ConflictDirtyIndex:
		return "DIRTY_INDEX"
	case ConflictDirtyWorktree:
		return "DIRTY_WORKTREE"
	case ConflictUntrackedFile:
		return "UNTRACKED_FILE"
	}

	return "UNKNOWN"
}

// CheckoutConflict is one path a checkout would clobber.
type CheckoutConflict struct {
	Path string
	Kind CheckoutConflictKind
}

// CheckoutConflictOptions restrict the conflict check.
type CheckoutConflictOptions struct {
	// Paths, when non-empty, restricts the check to these paths and the
	// trees below them.
	Paths []string
	// SkipUntracked disables the untracked-file check.
	SkipUntracked bool
}

// CheckoutConflicts reports the paths where checking out the target tree
// would lose index or worktree state.
func (w *Worktree) CheckoutConflicts(target plumbing.ObjectID, opts CheckoutConflictOptions) ([]CheckoutConflict, error) {
	headFiles, err := w.headFiles()
	if err != nil {
		return nil, err
	}

	targetFiles, err := object.FlattenTree(w.r.Storer, target)
	if err != nil {
		return nil, err
	}

	idx, err := w.r.Storer.Index()
	if err != nil {
		return nil, err
	}

	staged := map[string]*index.Entry{}
	for _, e := range idx.Entries {
		if e.Stage == index.Merged {
			staged[e.Name] = e
		}
	}

	inScope := func(path string) bool {
		if len(opts.Paths) == 0 {
			return true
		}

		for _, p := range opts.Paths {
			if path == p || strings.HasPrefix(path, p+"/") {
				return true
			}
		}

		return false
	}

	var conflicts []CheckoutConflict
	add := func(path string, kind CheckoutConflictKind) {
		conflicts = append(conflicts, CheckoutConflict{Path: path, Kind: kind})
	}

	paths := map[string]bool{}
	for p := range headFiles {
		paths[p] = true
	}
	for p := range targetFiles {
		paths[p] = true
	}

	matcher, err := w.ignoreMatcher()
	if err != nil {
		return nil, err
	}

	for path := range paths {
		if !inScope(path) {
			continue
		}

		head, inHead := headFiles[path]
		tgt, inTarget := targetFiles[path]

		targetDiffers := inHead != inTarget || (inHead && head.Hash != tgt.Hash)
		if !targetDiffers {
			continue
		}

		// staged content differing from HEAD would be discarded
		if entry, ok := staged[path]; ok {
			if !inHead || entry.Hash != head.Hash {
				add(path, ConflictDirtyIndex)
				continue
			}
		}

		fi, statErr := w.fs.Stat(path)
		exists := statErr == nil

		if inHead {
			if exists {
				same, err := w.worktreeSameAsHash(path, fi, head.Hash)
				if err != nil {
					return nil, err
				}

				// a modified worktree copy would be overwritten, or
				// deleted when the target drops the path
				if !same {
					add(path, ConflictDirtyWorktree)
				}
			}

			continue
		}

		// target creates the path; an untracked file there would be
		// overwritten
		if exists && !opts.SkipUntracked {
			if _, tracked := staged[path]; !tracked {
				if !matcher.Match(strings.Split(path, "/"), false) {
					add(path, ConflictUntrackedFile)
				}
			}
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Path < conflicts[j].Path
	})

	return conflicts, nil
}

// worktreeSameAsHash compares a worktree file against a blob id, size fast
// path first.
func (w *Worktree) worktreeSameAsHash(path string, fi os.FileInfo, h plumbing.ObjectID) (bool, error) {
	size, err := w.r.Storer.EncodedObjectSize(h)
	if err == nil && fi.Size() != size {
		return false, nil
	}

	cur, err := w.hashFile(path)
	if err != nil {
		return false, err
	}

	return cur == h, nil
}

// ErrCheckoutConflicts is returned by Checkout when conflicts exist.
var ErrCheckoutConflicts = errors.New("checkout would overwrite local changes")

// Checkout materializes the tree of the given commit into the worktree,
// rebuilds the staging area from it and moves HEAD. The operation is
// validated against the state capability matrix and refused when it would
// lose local state.
func (w *Worktree) Checkout(commit plumbing.ObjectID, branch plumbing.ReferenceName) error {
	if err := w.r.ValidateOperation(OpCheckout); err != nil {
		return err
	}

	treeHash, err := object.GetCommitTree(w.r.Storer, commit)
	if err != nil {
		return err
	}

	conflicts, err := w.CheckoutConflicts(treeHash, CheckoutConflictOptions{})
	if err != nil {
		return err
	}

	if len(conflicts) > 0 {
		return ErrCheckoutConflicts
	}

	headFiles, err := w.headFiles()
	if err != nil {
		return err
	}

	targetFiles, err := object.FlattenTree(w.r.Storer, treeHash)
	if err != nil {
		return err
	}

	// delete what the target no longer has
	for path := range headFiles {
		if _, ok := targetFiles[path]; ok {
			continue
		}

		if err := w.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	// write the target content
	for path, entry := range targetFiles {
		if err := w.writeBlobTo(path, entry); err != nil {
			return err
		}
	}

	// rebuild the index from the target tree
	idx, err := w.r.Storer.Index()
	if err != nil {
		return err
	}

	b := idx.NewBuilder()
	b.AddTree(object.IndexTrees{Storer: w.r.Storer}, treeHash, "", index.Merged)
	if err := b.Finish(); err != nil {
		return err
	}

	if err := w.r.Storer.SetIndex(idx); err != nil {
		return err
	}

	if branch != "" {
		return w.r.SetHead(branch.String())
	}

	return w.r.SetHead(commit.String())
}

func (w *Worktree) writeBlobTo(path string, entry object.TreeEntry) error {
	blob, err := object.GetBlob(w.r.Storer, entry.Hash)
	if err != nil {
		return err
	}

	r, err := blob.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	if dir := dirOf(path); dir != "" {
		if err := w.fs.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return err
		}
	}

	mode, err := entry.Mode.ToOSFileMode()
	if err != nil {
		mode = 0o644
	}

	f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func dirOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}

	return ""
}
