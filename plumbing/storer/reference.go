package storer

import (
	"errors"
	"io"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
)

// ErrMaxResolveRecursion is kept as an alias of the plumbing error for
// callers that test against the storer package.
var ErrMaxResolveRecursion = plumbing.ErrRefChainDepth

// CASResult is the outcome of a compare-and-swap over a reference. A failed
// swap is not an error: OK is false and Current carries the value observed
// at swap time (nil when the reference did not exist).
type CASResult struct {
	OK      bool
	Current *plumbing.Reference
}

// ReferenceStorer is a generic storage of references.
type ReferenceStorer interface {
	// SetReference writes or overwrites the given reference.
	SetReference(*plumbing.Reference) error
	// CheckAndSetReference atomically sets the reference if the current
	// value matches old. A nil old expects the reference to not exist.
	// The swap outcome is reported through the CASResult, never as an
	// error.
	CheckAndSetReference(new, old *plumbing.Reference) (CASResult, error)
	// Reference returns the reference record for a name, favoring loose
	// storage over packed.
	Reference(plumbing.ReferenceName) (*plumbing.Reference, error)
	// IterReferences iterates all references, loose shadowing packed.
	IterReferences() (ReferenceIter, error)
	// RemoveReference removes both the loose and packed records of a name.
	RemoveReference(plumbing.ReferenceName) error
	// CountLooseRefs returns the number of loose references.
	CountLooseRefs() (int, error)
	// PackRefs migrates loose references into the packed table.
	PackRefs() error
}

// ResolveReference follows symbolic references until a direct reference is
// found. Broken chains return plumbing.ErrReferenceNotFound; chains deeper
// than the ceiling return plumbing.ErrRefChainDepth.
func ResolveReference(s ReferenceStorer, n plumbing.ReferenceName) (*plumbing.Reference, error) {
	r, err := s.Reference(n)
	if err != nil || r == nil {
		return r, err
	}
	return resolveReference(s, r, 0)
}

func resolveReference(s ReferenceStorer, r *plumbing.Reference, recursion int) (*plumbing.Reference, error) {
	if r.Type() != plumbing.SymbolicReference {
		return r, nil
	}

	if recursion >= plumbing.MaxResolveDepth() {
		return nil, plumbing.ErrRefChainDepth
	}

	t, err := s.Reference(r.Target())
	if err != nil || t == nil {
		return t, err
	}

	return resolveReference(s, t, recursion+1)
}

// ReferenceIter is a generic closable interface for iterating over
// references.
type ReferenceIter interface {
	Next() (*plumbing.Reference, error)
	ForEach(func(*plumbing.Reference) error) error
	Close()
}

// ReferenceSliceIter implements ReferenceIter over a slice.
type ReferenceSliceIter struct {
	series []*plumbing.Reference
	pos    int
}

// NewReferenceSliceIter returns a ReferenceIter for the given slice.
func NewReferenceSliceIter(series []*plumbing.Reference) ReferenceIter {
	return &ReferenceSliceIter{series: series}
}

// Next returns the next reference from the iterator, or io.EOF at the end.
func (iter *ReferenceSliceIter) Next() (*plumbing.Reference, error) {
	if iter.pos >= len(iter.series) {
		return nil, io.EOF
	}

	obj := iter.series[iter.pos]
	iter.pos++

	return obj, nil
}

// ForEach call the cb function for each reference contained on this iter
// until an error happens or the end of the iter is reached. If ErrStop is
// sent the iteration is stopped but no error is returned.
func (iter *ReferenceSliceIter) ForEach(cb func(*plumbing.Reference) error) error {
	defer iter.Close()
	for _, r := range iter.series[iter.pos:] {
		if err := cb(r); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}

			return err
		}
	}

	return nil
}

// Close releases any resources used by the iterator.
func (iter *ReferenceSliceIter) Close() {
	iter.pos = len(iter.series)
}

// ReferenceFilteredIter is a ReferenceIter that applies a predicate.
type ReferenceFilteredIter struct {
	ff   func(r *plumbing.Reference) bool
	iter ReferenceIter
}

// NewReferenceFilteredIter returns a ReferenceIter yielding only the
// references for which ff returns true.
func NewReferenceFilteredIter(ff func(r *plumbing.Reference) bool, iter ReferenceIter) ReferenceIter {
	return &ReferenceFilteredIter{ff, iter}
}

// Next returns the next matching reference, or io.EOF at the end.
func (iter *ReferenceFilteredIter) Next() (*plumbing.Reference, error) {
	for {
		r, err := iter.iter.Next()
		if err != nil {
			return nil, err
		}

		if iter.ff(r) {
			return r, nil
		}
	}
}

// ForEach call the cb function for each matching reference.
func (iter *ReferenceFilteredIter) ForEach(cb func(*plumbing.Reference) error) error {
	defer iter.Close()
	for {
		r, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if err := cb(r); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}

			return err
		}
	}

	return nil
}

// Close releases any resources used by the iterator.
func (iter *ReferenceFilteredIter) Close() {
	iter.iter.Close()
}

// NewReferencePrefixIter returns a ReferenceIter yielding only references
// whose name starts with prefix.
func NewReferencePrefixIter(prefix plumbing.ReferenceName, iter ReferenceIter) ReferenceIter {
	return NewReferenceFilteredIter(func(r *plumbing.Reference) bool {
		return strings.HasPrefix(r.Name().String(), prefix.String())
	}, iter)
}
