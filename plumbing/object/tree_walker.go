package object

import (
	"io"
	"path"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// TreeWalker provides a means of walking through all of the entries in a
// Tree, depth-first, yielding the full slash-separated path of every entry.
type TreeWalker struct {
	stack     []*treeEntryIter
	base      string
	recursive bool
	seen      map[plumbing.ObjectID]bool

	s storer.EncodedObjectStorer
	t *Tree
}

// NewTreeWalker returns a new TreeWalker for the given tree.
//
// It is the caller's responsibility to call Close() when finished with the
// tree walker.
func NewTreeWalker(t *Tree, recursive bool, seen map[plumbing.ObjectID]bool) *TreeWalker {
	stack := make([]*treeEntryIter, 0, startingStackSize)
	stack = append(stack, &treeEntryIter{t, 0})

	return &TreeWalker{
		stack:     stack,
		recursive: recursive,
		seen:      seen,

		s: t.s,
		t: t,
	}
}

// Next returns the next object. If the current tree is exhausted it moves
// on to the next one. Objects are returned in depth-first order. After all
// objects have been returned, io.EOF is returned.
func (w *TreeWalker) Next() (name string, entry TreeEntry, err error) {
	var obj *Tree
	for {
		current := len(w.stack) - 1
		if current < 0 {
			// Nothing left on the stack so we're finished
			err = io.EOF
			return
		}

		if current > maxTreeDepth {
			// We're probably following bad data or some self-referencing tree
			err = ErrMaxTreeDepth
			return
		}

		entry, err = w.stack[current].Next()
		if err == io.EOF {
			// Finished with the current tree, move back up to the parent
			w.stack = w.stack[:current]
			w.base, _ = path.Split(w.base)
			w.base = path.Clean(w.base) // Remove trailing slash
			continue
		}

		if err != nil {
			return
		}

		if w.seen[entry.Hash] {
			continue
		}

		if entry.Mode == filemode.Dir {
			obj, err = GetTree(w.s, entry.Hash)
			if err != nil {
				return
			}
		}

		name = simpleJoin(w.base, entry.Name)

		if obj != nil {
			if w.recursive {
				w.stack = append(w.stack, &treeEntryIter{obj, 0})
				w.base = name
			}

			return
		}

		return
	}
}

// Tree returns the tree that the tree walker most recently operated on.
func (w *TreeWalker) Tree() *Tree {
	current := len(w.stack) - 1
	if w.stack[current].pos == 0 {
		current--
	}

	if current < 0 {
		return nil
	}

	return w.stack[current].t
}

// Close releases any resources used by the TreeWalker.
func (w *TreeWalker) Close() {
	w.stack = nil
}

type treeEntryIter struct {
	t   *Tree
	pos int
}

func (iter *treeEntryIter) Next() (TreeEntry, error) {
	if iter.pos >= len(iter.t.Entries) {
		return TreeEntry{}, io.EOF
	}

	iter.pos++
	return iter.t.Entries[iter.pos-1], nil
}

func simpleJoin(parent, child string) string {
	if len(parent) > 0 {
		return parent + "/" + child
	}

	return child
}

// FlattenTree returns every non-directory entry of the tree (blobs,
// symlinks and gitlinks), keyed by its full path.
func FlattenTree(s storer.EncodedObjectStorer, id plumbing.ObjectID) (map[string]TreeEntry, error) {
	t, err := GetTree(s, id)
	if err != nil {
		return nil, err
	}

	out := make(map[string]TreeEntry)
	w := NewTreeWalker(t, true, nil)
	defer w.Close()

	for {
		name, entry, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if entry.Mode != filemode.Dir {
			out[name] = entry
		}
	}

	return out, nil
}
