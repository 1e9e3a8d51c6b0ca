// Package index implements the staging area: a sorted, merge-stage-aware
// cache of file snapshots, its DIRC file codec, and the bulk Builder and
// targeted Editor used to mutate it atomically.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
)

var (
	// ErrUnsupportedVersion is returned by Decode when the index file
	// version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported version")
	// ErrEntryNotFound is returned by Index.Entry, if an entry is not found.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrDuplicateEntry is returned when a builder or editor produces two
	// entries with the same path and stage.
	ErrDuplicateEntry = errors.New("duplicate index entry")
	// ErrConflictingStages is returned when a path carries a merged entry
	// together with conflict stages.
	ErrConflictingStages = errors.New("conflicting stages for path")
	// ErrUnresolvedConflicts is returned when a tree is written from an
	// index that still has conflict stages.
	ErrUnresolvedConflicts = errors.New("unresolved conflicts in index")

	indexSignature          = []byte{'D', 'I', 'R', 'C'}
	treeExtSignature        = []byte{'T', 'R', 'E', 'E'}
	resolveUndoExtSignature = []byte{'R', 'E', 'U', 'C'}
	endOfIndexEntryExtSignature = []byte{'E', 'O', 'I', 'E'}
)

// Stage during merge.
type Stage int

const (
	// Merged is the default stage, fully merged.
	Merged Stage = 0
	// AncestorMode is the common ancestor (base) revision.
	AncestorMode Stage = 1
	// OurMode is the first tree revision, ours.
	OurMode Stage = 2
	// TheirMode is the second tree revision, theirs.
	TheirMode Stage = 3
)

// Entry represents a single stage of a file in the staging area. An
// unmerged path appears once per conflict stage.
type Entry struct {
	// Hash is the object id of the staged content.
	Hash plumbing.ObjectID
	// Name is the entry path, relative to the top level directory, using
	// `/` as separator.
	Name string
	// CreatedAt and ModifiedAt are the file metadata at stage time.
	CreatedAt  time.Time
	ModifiedAt time.Time
	// Dev and Inode of the staged path.
	Dev, Inode uint32
	// Mode of the path.
	Mode filemode.FileMode
	// UID and GID of the owner.
	UID, GID uint32
	// Size is the length in bytes for regular files.
	Size uint32
	// Stage of the entry during a merge.
	Stage Stage
	// SkipWorktree marks sparse-checkout entries.
	SkipWorktree bool
	// IntentToAdd records only the fact that the path will be added later.
	IntentToAdd bool
	// AssumeValid skips worktree comparison for this entry.
	AssumeValid bool
}

func (e Entry) String() string {
	return fmt.Sprintf("%06o %s %d\t%s", e.Mode, e.Hash, e.Stage, e.Name)
}

// entryLess orders entries by (path bytes, stage).
func entryLess(a, b *Entry) bool {
	if c := bytes.Compare([]byte(a.Name), []byte(b.Name)); c != 0 {
		return c < 0
	}

	return a.Stage < b.Stage
}

// Index is the staging area: entries sorted by (path, stage), mutated
// in place for targeted operations and atomically swapped by the Builder
// and Editor.
type Index struct {
	// Version is the on-disk format version the index was read from or
	// will be written as.
	Version uint32
	// Entries collection of entries represented by this Index, sorted by
	// (path, stage).
	Entries []*Entry
	// Cache represents the 'Cache Tree' extension, kept when read so it
	// can be inspected; it is not written back.
	Cache *Tree
	// ResolveUndo represents the 'Resolve Undo' extension.
	ResolveUndo *ResolveUndo
	// ModTime is the time the backing file was last known to change.
	ModTime time.Time
}

// search returns the position of the entry with the given name and stage,
// or the insertion position if absent.
func (i *Index) search(name string, stage Stage) (int, bool) {
	probe := &Entry{Name: name, Stage: stage}
	pos := sort.Search(len(i.Entries), func(n int) bool {
		return !entryLess(i.Entries[n], probe)
	})

	if pos < len(i.Entries) && i.Entries[pos].Name == name && i.Entries[pos].Stage == stage {
		return pos, true
	}

	return pos, false
}

// Entry returns the entry for the given path and stage, or ErrEntryNotFound.
func (i *Index) Entry(path string, stage Stage) (*Entry, error) {
	pos, ok := i.search(path, stage)
	if !ok {
		return nil, ErrEntryNotFound
	}

	return i.Entries[pos], nil
}

// EntriesByPath returns every stage of the given path, in stage order.
func (i *Index) EntriesByPath(path string) []*Entry {
	pos, _ := i.search(path, Merged)

	var out []*Entry
	for ; pos < len(i.Entries) && i.Entries[pos].Name == path; pos++ {
		out = append(out, i.Entries[pos])
	}

	return out
}

// Has reports whether any stage of the given path is present.
func (i *Index) Has(path string) bool {
	return len(i.EntriesByPath(path)) > 0
}

// Count returns the number of entries.
func (i *Index) Count() int {
	return len(i.Entries)
}

// Filter returns the entries matching the given path prefix and stage set.
// An empty prefix matches everything; a nil stage set matches all stages.
func (i *Index) Filter(prefix string, stages []Stage) []*Entry {
	var stageSet map[Stage]bool
	if stages != nil {
		stageSet = make(map[Stage]bool, len(stages))
		for _, s := range stages {
			stageSet[s] = true
		}
	}

	var out []*Entry
	for _, e := range i.Entries {
		if prefix != "" && !hasPathPrefix(e.Name, prefix) {
			continue
		}

		if stageSet != nil && !stageSet[e.Stage] {
			continue
		}

		out = append(out, e)
	}

	return out
}

// hasPathPrefix reports whether path is prefix itself or lives under the
// prefix directory.
func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}

	return len(path) > len(prefix) &&
		path[:len(prefix)] == prefix &&
		path[len(prefix)] == '/'
}

// SetEntry inserts or replaces the entry with e's path and stage, keeping
// the collection sorted. Adding a merged entry drops any conflict stages of
// the path, and adding a conflict stage drops the merged entry, so the
// stage invariant always holds.
func (i *Index) SetEntry(e *Entry) error {
	if err := plumbing.CheckPath(e.Name); err != nil {
		return err
	}

	if e.Stage == Merged {
		i.removeStages(e.Name, AncestorMode, TheirMode)
	} else {
		i.removeStages(e.Name, Merged, Merged)
	}

	pos, ok := i.search(e.Name, e.Stage)
	if ok {
		i.Entries[pos] = e
		return nil
	}

	i.Entries = append(i.Entries, nil)
	copy(i.Entries[pos+1:], i.Entries[pos:])
	i.Entries[pos] = e
	return nil
}

func (i *Index) removeStages(path string, from, to Stage) {
	lo, _ := i.search(path, from)
	hi := lo
	for hi < len(i.Entries) && i.Entries[hi].Name == path && i.Entries[hi].Stage <= to {
		hi++
	}

	if hi > lo {
		i.Entries = append(i.Entries[:lo], i.Entries[hi:]...)
	}
}

// RemoveEntry removes the entry with the given path and stage, reporting
// whether it was present.
func (i *Index) RemoveEntry(path string, stage Stage) bool {
	pos, ok := i.search(path, stage)
	if !ok {
		return false
	}

	i.Entries = append(i.Entries[:pos], i.Entries[pos+1:]...)
	return true
}

// RemoveEntryAll removes every stage of the given path, reporting whether
// any entry was present.
func (i *Index) RemoveEntryAll(path string) bool {
	lo, _ := i.search(path, Merged)
	hi := lo
	for hi < len(i.Entries) && i.Entries[hi].Name == path {
		hi++
	}

	if hi == lo {
		return false
	}

	i.Entries = append(i.Entries[:lo], i.Entries[hi:]...)
	return true
}

// HasConflicts reports whether any entry is in a conflict stage.
func (i *Index) HasConflicts() bool {
	for _, e := range i.Entries {
		if e.Stage != Merged {
			return true
		}
	}

	return false
}

// ConflictedPaths returns the distinct paths with conflict stages, in path
// order.
func (i *Index) ConflictedPaths() []string {
	var out []string
	for _, e := range i.Entries {
		if e.Stage == Merged {
			continue
		}

		if len(out) == 0 || out[len(out)-1] != e.Name {
			out = append(out, e.Name)
		}
	}

	return out
}

// ResolveChoice selects which side resolves a conflict.
type ResolveChoice int

const (
	ResolveBase ResolveChoice = iota + 1
	ResolveOurs
	ResolveTheirs
)

// ResolveConflict replaces all stages of path with a single merged entry:
// either a copy of the chosen stage, or the explicitly provided entry.
func (i *Index) ResolveConflict(path string, choice ResolveChoice, explicit *Entry) error {
	entries := i.EntriesByPath(path)
	if len(entries) == 0 {
		return ErrEntryNotFound
	}

	resolved := explicit
	if resolved == nil {
		var stage Stage
		switch choice {
		case ResolveBase:
			stage = AncestorMode
		case ResolveOurs:
			stage = OurMode
		case ResolveTheirs:
			stage = TheirMode
		default:
			return fmt.Errorf("invalid resolve choice %d", choice)
		}

		for _, e := range entries {
			if e.Stage == stage {
				c := *e
				resolved = &c
				break
			}
		}

		if resolved == nil {
			return fmt.Errorf("%w: path %q has no stage %d", ErrEntryNotFound, path, stage)
		}
	} else {
		c := *resolved
		resolved = &c
	}

	resolved.Name = path
	resolved.Stage = Merged

	i.RemoveEntryAll(path)
	return i.SetEntry(resolved)
}

// validate checks the builder/editor postconditions over a sorted entry
// list: strict (path, stage) order, and the merged/conflict exclusivity per
// path.
func validate(entries []*Entry) error {
	for n := 1; n < len(entries); n++ {
		prev, cur := entries[n-1], entries[n]

		if !entryLess(prev, cur) {
			if prev.Name == cur.Name && prev.Stage == cur.Stage {
				return fmt.Errorf("%w: %q stage %d", ErrDuplicateEntry, cur.Name, cur.Stage)
			}

			return fmt.Errorf("index entries out of order at %q", cur.Name)
		}

		if prev.Name == cur.Name && prev.Stage == Merged && cur.Stage != Merged {
			return fmt.Errorf("%w: %q", ErrConflictingStages, cur.Name)
		}
	}

	return nil
}

// Tree contains pre-computed hashes for trees that can be derived from the
// index, read from the cache tree extension.
type Tree struct {
	Entries []TreeEntry
}

// TreeEntry is an entry of the cached tree.
type TreeEntry struct {
	// Path component, relative to its parent directory.
	Path string
	// Entries is the number of index entries covered by this tree, or -1
	// when the cached hash is invalid.
	Entries int
	// Trees is the number of subtrees.
	Trees int
	// Hash of the tree object that would result from writing this span.
	Hash plumbing.ObjectID
}

// ResolveUndo records the conflict stages removed when a path was resolved.
type ResolveUndo struct {
	Entries []ResolveUndoEntry
}

// ResolveUndoEntry is the saved conflict information for one path.
type ResolveUndoEntry struct {
	Path   string
	Stages map[Stage]plumbing.ObjectID
}
