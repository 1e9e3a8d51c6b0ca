package object

import (
	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// IndexTrees adapts an object storer to the tree reader/writer contract the
// staging area uses to build and load trees.
type IndexTrees struct {
	Storer storer.EncodedObjectStorer
}

// TreeItems returns the immediate entries of the stored tree.
func (a IndexTrees) TreeItems(h plumbing.ObjectID) ([]index.TreeItem, error) {
	t, err := GetTree(a.Storer, h)
	if err != nil {
		return nil, err
	}

	items := make([]index.TreeItem, len(t.Entries))
	for i, e := range t.Entries {
		items[i] = index.TreeItem{Name: e.Name, Mode: e.Mode, Hash: e.Hash}
	}

	return items, nil
}

// WriteTreeItems stores a tree object built from the given entries.
func (a IndexTrees) WriteTreeItems(items []index.TreeItem) (plumbing.ObjectID, error) {
	entries := make([]TreeEntry, len(items))
	for i, item := range items {
		entries[i] = TreeEntry{Name: item.Name, Mode: item.Mode, Hash: item.Hash}
	}

	return StoreTree(a.Storer, entries)
}
