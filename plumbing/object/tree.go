package object

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

const (
	maxTreeDepth      = 1024
	startingStackSize = 8
)

// EmptyTreeID is the well-known id of the tree with no entries.
var EmptyTreeID = plumbing.NewObjectID("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

var (
	// ErrMaxTreeDepth is returned when a tree walk descends deeper than
	// supported.
	ErrMaxTreeDepth = errors.New("maximum tree depth exceeded")
	// ErrFileNotFound is returned when a path is not present in a tree.
	ErrFileNotFound = errors.New("file not found")
	// ErrDirectoryNotFound is returned when a directory is not present in a
	// tree.
	ErrDirectoryNotFound = errors.New("directory not found")
	// ErrEntryNotFound is returned when an immediate entry is not present.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrDuplicateEntryName is returned when a tree is stored with two
	// entries sharing a name.
	ErrDuplicateEntryName = errors.New("duplicate entry name in tree")
)

// Tree is the representation of a directory: a sorted list of named,
// moded references to blobs, subtrees and gitlinks.
type Tree struct {
	Entries []TreeEntry
	Hash    plumbing.ObjectID

	s storer.EncodedObjectStorer
	m map[string]*TreeEntry
}

// TreeEntry represents a file entry in a tree.
type TreeEntry struct {
	Name string
	Mode filemode.FileMode
	Hash plumbing.ObjectID
}

// GetTree gets a tree from an object storer and decodes it.
func GetTree(s storer.EncodedObjectStorer, h plumbing.ObjectID) (*Tree, error) {
	o, err := s.EncodedObject(plumbing.TreeObject, h)
	if err != nil {
		return nil, err
	}

	return DecodeTree(s, o)
}

// DecodeTree decodes an encoded object into a *Tree.
func DecodeTree(s storer.EncodedObjectStorer, o plumbing.EncodedObject) (*Tree, error) {
	t := &Tree{s: s}
	if err := t.Decode(o); err != nil {
		return nil, err
	}

	return t, nil
}

// ID returns the object ID of the tree.
func (t *Tree) ID() plumbing.ObjectID {
	return t.Hash
}

// Type returns the type of object. It always returns plumbing.TreeObject.
func (t *Tree) Type() plumbing.ObjectType {
	return plumbing.TreeObject
}

// Decode transform a plumbing.EncodedObject into a Tree struct.
func (t *Tree) Decode(o plumbing.EncodedObject) (err error) {
	if o.Type() != plumbing.TreeObject {
		return ErrUnsupportedObject
	}

	t.Hash = o.Hash()
	if o.Size() == 0 {
		return nil
	}

	t.Entries = nil
	t.m = nil

	r, err := o.Reader()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(r, &err)

	br := bufio.NewReader(r)
	for {
		str, err := br.ReadString(' ')
		if err != nil {
			if err == io.EOF {
				break
			}

			return fmt.Errorf("%w: bad tree entry mode: %v", plumbing.ErrCorruptObject, err)
		}
		str = str[:len(str)-1] // strip last byte (' ')

		mode, err := filemode.New(str)
		if err != nil {
			return fmt.Errorf("%w: bad tree entry mode %q", plumbing.ErrCorruptObject, str)
		}

		name, err := br.ReadString(0)
		if err != nil && err != io.EOF {
			return fmt.Errorf("%w: bad tree entry name: %v", plumbing.ErrCorruptObject, err)
		}

		if len(name) == 0 || name[len(name)-1] != 0 {
			return fmt.Errorf("%w: unterminated tree entry name", plumbing.ErrCorruptObject)
		}

		var hash plumbing.ObjectID
		if _, err = io.ReadFull(br, hash[:]); err != nil {
			return fmt.Errorf("%w: truncated tree entry id: %v", plumbing.ErrCorruptObject, err)
		}

		baseName := name[:len(name)-1]
		t.Entries = append(t.Entries, TreeEntry{
			Hash: hash,
			Mode: mode,
			Name: baseName,
		})
	}

	return nil
}

// Encode transforms a Tree into a plumbing.EncodedObject. Entries are
// sorted canonically first; duplicate names are a fatal error.
func (t *Tree) Encode(o plumbing.EncodedObject) (err error) {
	o.SetType(plumbing.TreeObject)

	entries := append([]TreeEntry(nil), t.Entries...)
	SortTreeEntries(entries)

	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name == entries[i].Name {
			return fmt.Errorf("%w: %q", ErrDuplicateEntryName, entries[i].Name)
		}
	}

	w, err := o.Writer()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(w, &err)
	for _, entry := range entries {
		if err := plumbing.CheckEntryName(entry.Name); err != nil {
			return err
		}

		if strings.IndexByte(entry.Name, '/') != -1 {
			return plumbing.ErrInvalidPath
		}

		mode := strings.TrimPrefix(entry.Mode.String(), "0")
		if _, err = fmt.Fprintf(w, "%s %s", mode, entry.Name); err != nil {
			return err
		}

		if _, err = w.Write([]byte{0x00}); err != nil {
			return err
		}

		if _, err = w.Write(entry.Hash[:]); err != nil {
			return err
		}
	}

	return err
}

// sortName gives the canonical sort key of an entry: subtrees compare as if
// their name carried a trailing slash.
func sortName(te TreeEntry) string {
	if te.Mode == filemode.Dir {
		return te.Name + "/"
	}

	return te.Name
}

// SortTreeEntries sorts entries canonically.
func SortTreeEntries(entries []TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})
}

// StoreTree stores a tree built from the given entries, sorting them
// canonically and deduplicating exact duplicates; entries sharing a name
// with different content are a fatal error. Returns the tree id.
func StoreTree(s storer.EncodedObjectStorer, entries []TreeEntry) (plumbing.ObjectID, error) {
	dedup := make([]TreeEntry, 0, len(entries))
	seen := make(map[string]TreeEntry, len(entries))
	for _, e := range entries {
		if prev, ok := seen[e.Name]; ok {
			if prev == e {
				continue
			}

			return plumbing.ZeroID, fmt.Errorf("%w: %q", ErrDuplicateEntryName, e.Name)
		}

		seen[e.Name] = e
		dedup = append(dedup, e)
	}

	t := &Tree{Entries: dedup}
	o := s.NewEncodedObject()
	if err := t.Encode(o); err != nil {
		return plumbing.ZeroID, err
	}

	return s.SetEncodedObject(o)
}

// Entry returns the immediate entry with the given name.
func (t *Tree) Entry(name string) (*TreeEntry, error) {
	if t.m == nil {
		t.m = make(map[string]*TreeEntry, len(t.Entries))
		for i := range t.Entries {
			t.m[t.Entries[i].Name] = &t.Entries[i]
		}
	}

	entry, ok := t.m[name]
	if !ok {
		return nil, ErrEntryNotFound
	}

	return entry, nil
}

// FindEntry searches for an entry at the given slash-separated path,
// descending subtrees.
func (t *Tree) FindEntry(p string) (*TreeEntry, error) {
	if t.s == nil {
		return nil, ErrDirectoryNotFound
	}

	pathParts := strings.Split(path.Clean(p), "/")
	startingTree := t
	pathCurrent := ""

	// search for the longest path in the tree path cache
	for i := len(pathParts) - 1; i > 1; i-- {
		path := path.Join(pathParts[:i]...)

		tree, err := startingTree.dir(path)
		if err == nil {
			startingTree = tree
			pathParts = pathParts[i:]
			pathCurrent = path

			break
		}
	}

	var tree *Tree
	var err error
	for tree = startingTree; len(pathParts) > 1; pathParts = pathParts[1:] {
		if tree, err = tree.dir(path.Join(pathCurrent, pathParts[0])); err != nil {
			return nil, err
		}
	}

	return tree.Entry(pathParts[0])
}

func (t *Tree) dir(baseName string) (*Tree, error) {
	entry, err := t.FindEntry(baseName)
	if err != nil {
		return nil, ErrDirectoryNotFound
	}

	obj, err := t.s.EncodedObject(plumbing.TreeObject, entry.Hash)
	if err != nil {
		return nil, err
	}

	tree := &Tree{s: t.s}
	err = tree.Decode(obj)

	return tree, err
}

// File represents a blob reached from a tree by path.
type File struct {
	Name string
	Mode filemode.FileMode
	Blob
}

// File returns the file with the given path, descending subtrees.
func (t *Tree) File(p string) (*File, error) {
	e, err := t.FindEntry(p)
	if err != nil {
		return nil, ErrFileNotFound
	}

	blob, err := GetBlob(t.s, e.Hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, ErrFileNotFound
		}

		return nil, err
	}

	return &File{Name: p, Mode: e.Mode, Blob: *blob}, nil
}
