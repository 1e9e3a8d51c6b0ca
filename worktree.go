package gitstore

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/format/gitignore"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/object"
)

// Worktree is the filesystem view of a working copy.
type Worktree struct {
	r  *Repository
	fs billy.Filesystem

	// ExcludePatterns are matched below the repository ignore files, in
	// place of a user-level excludes file.
	ExcludePatterns []gitignore.Pattern
}

// Filesystem returns the working tree filesystem.
func (w *Worktree) Filesystem() billy.Filesystem {
	return w.fs
}

// Add hashes the file at path, stores it as a blob and stages it.
func (w *Worktree) Add(path string) (plumbing.ObjectID, error) {
	f, err := w.fs.Open(path)
	if err != nil {
		return plumbing.ZeroID, err
	}
	defer f.Close()

	h, err := object.StoreBlobContent(w.r.Storer, f)
	if err != nil {
		return plumbing.ZeroID, err
	}

	fi, err := w.fs.Stat(path)
	if err != nil {
		return plumbing.ZeroID, err
	}

	idx, err := w.r.Storer.Index()
	if err != nil {
		return plumbing.ZeroID, err
	}

	e := &index.Entry{
		Name:       toIndexPath(path),
		Hash:       h,
		Size:       uint32(fi.Size()),
		ModifiedAt: fi.ModTime(),
		Mode:       modeOf(fi),
	}

	if err := idx.SetEntry(e); err != nil {
		return plumbing.ZeroID, err
	}

	return h, w.r.Storer.SetIndex(idx)
}

// Remove unstages the path and deletes the worktree file.
func (w *Worktree) Remove(path string) error {
	idx, err := w.r.Storer.Index()
	if err != nil {
		return err
	}

	idx.RemoveEntryAll(toIndexPath(path))
	if err := w.r.Storer.SetIndex(idx); err != nil {
		return err
	}

	err = w.fs.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

// Status computes the two-column status of the working copy: staging vs
// HEAD and worktree vs staging. Worktree comparison takes the size fast
// path before hashing content.
func (w *Worktree) Status() (Status, error) {
	status := make(Status)

	headFiles, err := w.headFiles()
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

	// staging column
	for path, entry := range staged {
		headEntry, inHead := headFiles[path]
		switch {
		case !inHead:
			status.File(path).Staging = Added
		case headEntry.Hash != entry.Hash || headEntry.Mode != entry.Mode:
			status.File(path).Staging = Modified
		default:
			status.File(path).Staging = Unmodified
		}
	}

	for path := range headFiles {
		if _, ok := staged[path]; !ok {
			status.File(path).Staging = Deleted
			status.File(path).Worktree = Unmodified
		}
	}

	// worktree column
	matcher, err := w.ignoreMatcher()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	if err := w.walk("", func(path string, fi os.FileInfo) error {
		seen[path] = true

		entry, tracked := staged[path]
		if !tracked {
			if !matcher.Match(strings.Split(path, "/"), false) {
				status.File(path).Staging = Untracked
				status.File(path).Worktree = Untracked
			}

			return nil
		}

		same, err := w.worktreeMatchesEntry(path, fi, entry)
		if err != nil {
			return err
		}

		st := status.File(path)
		if !same {
			st.Worktree = Modified
		} else if st.Worktree != Deleted {
			st.Worktree = Unmodified
		}

		return nil
	}); err != nil {
		return nil, err
	}

	for path := range staged {
		if !seen[path] {
			status.File(path).Worktree = Deleted
		}
	}

	// drop fully unmodified rows
	for path, st := range status {
		if st.Staging == Unmodified && st.Worktree == Unmodified {
			delete(status, path)
		}
	}

	return status, nil
}

// worktreeMatchesEntry compares a worktree file against its staged entry,
// size first, content hash after.
func (w *Worktree) worktreeMatchesEntry(path string, fi os.FileInfo, entry *index.Entry) (bool, error) {
	if entry.AssumeValid {
		return true, nil
	}

	if fi.Size() != int64(entry.Size) {
		return false, nil
	}

	h, err := w.hashFile(path)
	if err != nil {
		return false, err
	}

	return h == entry.Hash, nil
}

func (w *Worktree) hashFile(path string) (plumbing.ObjectID, error) {
	f, err := w.fs.Open(path)
	if err != nil {
		return plumbing.ZeroID, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return plumbing.ZeroID, err
	}

	return plumbing.ComputeHash(plumbing.BlobObject, data), nil
}

func (w *Worktree) headFiles() (map[string]object.TreeEntry, error) {
	head, err := w.r.Head()
	if err != nil {
		if errors.Is(err, ErrNoHead) {
			return map[string]object.TreeEntry{}, nil
		}

		return nil, err
	}

	treeHash, err := object.GetCommitTree(w.r.Storer, head.Hash())
	if err != nil {
		return nil, err
	}

	return object.FlattenTree(w.r.Storer, treeHash)
}

// walk visits every regular file under dir, skipping the git directory.
func (w *Worktree) walk(dir string, fn func(path string, fi os.FileInfo) error) error {
	fis, err := w.fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, fi := range fis {
		path := fi.Name()
		if dir != "" {
			path = dir + "/" + fi.Name()
		}

		if fi.IsDir() {
			if fi.Name() == ".git" {
				continue
			}

			if err := w.walk(path, fn); err != nil {
				return err
			}
			continue
		}

		if err := fn(path, fi); err != nil {
			return err
		}
	}

	return nil
}

// ignoreMatcher combines the exclude tiers in ascending priority: the
// caller-provided globals, the repository info/exclude, then the nested
// .gitignore files.
func (w *Worktree) ignoreMatcher() (gitignore.Matcher, error) {
	var ps []gitignore.Pattern
	ps = append(ps, w.ExcludePatterns...)

	if data, ok, err := w.r.markers.ReadMarker("info/exclude"); err == nil && ok {
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.HasPrefix(line, "#") && len(strings.TrimSpace(line)) > 0 {
				ps = append(ps, gitignore.ParsePattern(line, nil))
			}
		}
	}

	nested, err := gitignore.ReadPatterns(w.fs, nil)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	ps = append(ps, nested...)
	return gitignore.NewMatcher(ps), nil
}

func toIndexPath(path string) string {
	return strings.TrimPrefix(strings.ReplaceAll(path, string(os.PathSeparator), "/"), "./")
}

func modeOf(fi os.FileInfo) filemode.FileMode {
	if fi.Mode()&0o100 != 0 {
		return filemode.Executable
	}

	return filemode.Regular
}
