package index

import (
	"fmt"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
)

// Builder performs a bulk rewrite of an index: added entries and kept
// ranges of the current index are accumulated, then Finish sorts,
// validates and atomically replaces the entry collection. Until Finish
// succeeds the index is untouched.
type Builder struct {
	idx   *Index
	base  []*Entry
	added []*Entry
	err   error
}

// NewBuilder returns a Builder over the index. The current entries are
// snapshotted so Keep ranges are stable even while the builder is open.
func (i *Index) NewBuilder() *Builder {
	return &Builder{
		idx:  i,
		base: append([]*Entry(nil), i.Entries...),
	}
}

// Add schedules an entry for the rebuilt index.
func (b *Builder) Add(e *Entry) {
	if b.err != nil {
		return
	}

	if err := plumbing.CheckPath(e.Name); err != nil {
		b.err = err
		return
	}

	b.added = append(b.added, e)
}

// Keep preserves count entries of the snapshotted index starting at start.
func (b *Builder) Keep(start, count int) {
	if b.err != nil {
		return
	}

	if start < 0 || count < 0 || start+count > len(b.base) {
		b.err = fmt.Errorf("keep range [%d, %d) out of bounds", start, start+count)
		return
	}

	b.added = append(b.added, b.base[start:start+count]...)
}

// AddTree recursively pushes the entries of a stored tree, placed under
// prefix and tagged with the given stage.
func (b *Builder) AddTree(tr TreeReader, id plumbing.ObjectID, prefix string, stage Stage) {
	if b.err != nil {
		return
	}

	items, err := tr.TreeItems(id)
	if err != nil {
		b.err = err
		return
	}

	for _, item := range items {
		path := item.Name
		if prefix != "" {
			path = prefix + "/" + item.Name
		}

		if item.Mode == filemode.Dir {
			b.AddTree(tr, item.Hash, path, stage)
			continue
		}

		b.Add(&Entry{
			Name:  path,
			Mode:  item.Mode,
			Hash:  item.Hash,
			Stage: stage,
		})
	}
}

// Finish sorts the accumulated entries, validates the ordering, duplicate
// and stage invariants, and atomically swaps them into the index. On error
// the index keeps its previous state.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}

	out := append([]*Entry(nil), b.added...)
	sortEntries(out)

	if err := validate(out); err != nil {
		return err
	}

	b.idx.Entries = out
	return nil
}
