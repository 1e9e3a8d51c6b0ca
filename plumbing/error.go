package plumbing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrObjectNotFound is returned when an object id is unknown to the store
	// it was queried in. It is an expected outcome of lookups and should be
	// tested with errors.Is.
	ErrObjectNotFound = errors.New("object not found")
	// ErrReferenceNotFound is returned when a reference name is unknown.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrCorruptObject is returned when an object's framing header is
	// malformed, its declared size disagrees with the body, or a typed body
	// fails to parse.
	ErrCorruptObject = errors.New("corrupt object")
	// ErrInvalidPath is returned when a tree entry or index path is not a
	// legal slash-separated path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrRefChainDepth is returned when a symbolic reference chain exceeds
	// the depth ceiling.
	ErrRefChainDepth = errors.New("symbolic reference chain too deep")
)

// maxResolveDepth is the ceiling on symbolic reference chains: a chain of
// exactly this length resolves, one more fails with ErrRefChainDepth.
const maxResolveDepth = 5

// MaxResolveDepth exposes the symbolic chain ceiling to ref stores.
func MaxResolveDepth() int { return maxResolveDepth }

// CheckPath validates a slash-separated path for use in trees and the index:
// non-empty, no NUL bytes, no leading/trailing slash and no empty segments.
func CheckPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	case strings.ContainsRune(path, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidPath, path)
	case strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/"):
		return fmt.Errorf("%w: %q has leading or trailing slash", ErrInvalidPath, path)
	case strings.Contains(path, "//"):
		return fmt.Errorf("%w: %q contains empty segment", ErrInvalidPath, path)
	}

	return nil
}

// CheckEntryName validates a single tree entry name: a path segment without
// separators.
func CheckEntryName(name string) error {
	if err := CheckPath(name); err != nil {
		return err
	}

	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: entry name %q contains slash", ErrInvalidPath, name)
	}

	return nil
}
