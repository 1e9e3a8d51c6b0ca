package filesystem

import (
	"errors"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
)

// ReferenceStorage implements storer.ReferenceStorer over a .git
// directory: loose files under refs/ shadowing the packed-refs table.
type ReferenceStorage struct {
	dir *dotgit.DotGit
}

// SetReference writes or overwrites a loose reference.
func (r ReferenceStorage) SetReference(ref *plumbing.Reference) error {
	return r.dir.SetRef(ref, nil)
}

// CheckAndSetReference atomically sets the reference if the current value
// matches old; the outcome is reported in the CASResult.
func (r ReferenceStorage) CheckAndSetReference(new, old *plumbing.Reference) (storer.CASResult, error) {
	err := r.dir.SetRef(new, old)
	if errors.Is(err, dotgit.ErrRefHasChanged) {
		cur, rerr := r.dir.Ref(new.Name())
		if rerr != nil && !errors.Is(rerr, plumbing.ErrReferenceNotFound) {
			return storer.CASResult{}, rerr
		}

		return storer.CASResult{OK: false, Current: cur}, nil
	}
	if err != nil {
		return storer.CASResult{}, err
	}

	return storer.CASResult{OK: true, Current: new}, nil
}

// Reference returns the reference with the given name, loose before
// packed. HEAD resolves like any other name.
func (r ReferenceStorage) Reference(n plumbing.ReferenceName) (*plumbing.Reference, error) {
	return r.dir.Ref(n)
}

// IterReferences iterates every reference under refs/, loose shadowing
// packed.
func (r ReferenceStorage) IterReferences() (storer.ReferenceIter, error) {
	refs, err := r.dir.Refs()
	if err != nil {
		return nil, err
	}

	return storer.NewReferenceSliceIter(refs), nil
}

// RemoveReference removes the loose and packed records of the name.
func (r ReferenceStorage) RemoveReference(n plumbing.ReferenceName) error {
	return r.dir.RemoveRef(n)
}

// CountLooseRefs returns the number of loose references.
func (r ReferenceStorage) CountLooseRefs() (int, error) {
	return r.dir.CountLooseRefs()
}

// PackRefs migrates loose references into the packed table.
func (r ReferenceStorage) PackRefs() error {
	return r.dir.PackRefs()
}
