package index

import (
	"sort"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
)

// TreeItem is one immediate entry of a stored tree, as exchanged with the
// object layer.
type TreeItem struct {
	Name string
	Mode filemode.FileMode
	Hash plumbing.ObjectID
}

// TreeReader yields the immediate entries of a stored tree object.
type TreeReader interface {
	TreeItems(plumbing.ObjectID) ([]TreeItem, error)
}

// TreeWriter stores a tree object built from the given entries and returns
// its id. Implementations sort entries canonically and reject duplicate
// names.
type TreeWriter interface {
	WriteTreeItems([]TreeItem) (plumbing.ObjectID, error)
}

// WriteTree builds nested tree objects from the merged entries of the index
// and returns the root tree id. It is forbidden while conflict stages
// exist.
func (i *Index) WriteTree(tw TreeWriter) (plumbing.ObjectID, error) {
	if i.HasConflicts() {
		return plumbing.ZeroID, ErrUnresolvedConflicts
	}

	return writeTreeLevel(tw, i.Entries, "")
}

// writeTreeLevel writes the subtree covering the entries under prefix. The
// entries are already sorted by path, so each directory is a contiguous
// span.
func writeTreeLevel(tw TreeWriter, entries []*Entry, prefix string) (plumbing.ObjectID, error) {
	var items []TreeItem

	for n := 0; n < len(entries); {
		e := entries[n]
		name := e.Name[len(prefix):]

		slash := strings.Index(name, "/")
		if slash < 0 {
			items = append(items, TreeItem{
				Name: name,
				Mode: e.Mode,
				Hash: e.Hash,
			})
			n++
			continue
		}

		dir := name[:slash]
		subPrefix := prefix + dir + "/"

		end := n
		for end < len(entries) && strings.HasPrefix(entries[end].Name, subPrefix) {
			end++
		}

		id, err := writeTreeLevel(tw, entries[n:end], subPrefix)
		if err != nil {
			return plumbing.ZeroID, err
		}

		items = append(items, TreeItem{
			Name: dir,
			Mode: filemode.Dir,
			Hash: id,
		})
		n = end
	}

	return tw.WriteTreeItems(items)
}

// ReadTreeOptions controls how a tree is loaded into the index.
type ReadTreeOptions struct {
	// Prefix places the tree under the given directory instead of the
	// root.
	Prefix string
	// Stage assigns the given stage to every loaded entry.
	Stage Stage
	// KeepExisting merges the tree into the current entries instead of
	// replacing them: existing paths not named by the tree survive.
	KeepExisting bool
}

// ReadTree loads a stored tree into the index, descending subtrees. Without
// KeepExisting the current entries (under the prefix, when one is given)
// are replaced.
func (i *Index) ReadTree(tr TreeReader, id plumbing.ObjectID, opts ReadTreeOptions) error {
	var loaded []*Entry
	if err := readTreeLevel(tr, id, strings.TrimSuffix(opts.Prefix+"/", "/"), opts.Stage, &loaded); err != nil {
		return err
	}

	if !opts.KeepExisting {
		if opts.Prefix == "" {
			i.Entries = nil
		} else {
			var keep []*Entry
			for _, e := range i.Entries {
				if !hasPathPrefix(e.Name, opts.Prefix) {
					keep = append(keep, e)
				}
			}
			i.Entries = keep
		}
	}

	for _, e := range loaded {
		if err := i.SetEntry(e); err != nil {
			return err
		}
	}

	return nil
}

func readTreeLevel(tr TreeReader, id plumbing.ObjectID, prefix string, stage Stage, out *[]*Entry) error {
	items, err := tr.TreeItems(id)
	if err != nil {
		return err
	}

	for _, item := range items {
		path := item.Name
		if prefix != "" {
			path = prefix + "/" + item.Name
		}

		if item.Mode == filemode.Dir {
			if err := readTreeLevel(tr, item.Hash, path, stage, out); err != nil {
				return err
			}
			continue
		}

		*out = append(*out, &Entry{
			Name:  path,
			Mode:  item.Mode,
			Hash:  item.Hash,
			Stage: stage,
		})
	}

	return nil
}

// sortEntries sorts a slice by (path, stage).
func sortEntries(entries []*Entry) {
	sort.Sort(byNameAndStage(entries))
}
