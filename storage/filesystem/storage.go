// Package filesystem is a storage backend over a .git directory layout,
// using go-billy so repositories can live on the operating system
// filesystem or any of its in-memory implementations.
package filesystem

import (
	"github.com/go-git/go-billy/v5"

	"github.com/go-vcs/gitstore/plumbing/cache"
	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
)

// Storage is an implementation of storage.Storer that stores data on disk
// in the standard git format (this is, the .git directory).
type Storage struct {
	fs  billy.Filesystem
	dir *dotgit.DotGit

	ObjectStorage
	ReferenceStorage
	IndexStorage
	ConfigStorage
}

// NewStorage returns a new Storage backed by a given .git directory.
// A nil object cache gets the default LRU.
func NewStorage(fs billy.Filesystem, objectCache cache.Object) *Storage {
	if objectCache == nil {
		objectCache = cache.NewObjectLRUDefault()
	}

	dir := dotgit.New(fs)
	return &Storage{
		fs:  fs,
		dir: dir,

		ObjectStorage:    ObjectStorage{dir: dir, cache: objectCache},
		ReferenceStorage: ReferenceStorage{dir: dir},
		IndexStorage:     IndexStorage{dir: dir},
		ConfigStorage:    ConfigStorage{dir: dir},
	}
}

// Init creates the .git directory skeleton.
func (s *Storage) Init() error {
	return s.dir.Initialize()
}

// Filesystem returns the underlying filesystem.
func (s *Storage) Filesystem() billy.Filesystem {
	return s.fs
}

// DotGit returns the git directory manager, used by the working copy for
// HEAD and the operation state markers.
func (s *Storage) DotGit() *dotgit.DotGit {
	return s.dir
}
