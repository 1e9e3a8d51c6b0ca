package filesystem

import (
	"bytes"
	"os"

	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
)

// IndexStorage implements storer.IndexStorer over the .git index file.
type IndexStorage struct {
	dir *dotgit.DotGit
}

// SetIndex serializes the index into the index file, stamping its modify
// time back into the value so staleness checks work.
func (s IndexStorage) SetIndex(idx *index.Index) error {
	buf := bytes.NewBuffer(nil)
	if err := index.NewEncoder(buf).Encode(idx); err != nil {
		return err
	}

	if err := s.dir.WriteFile(s.dir.IndexPath(), buf.Bytes()); err != nil {
		return err
	}

	if fi, err := s.dir.Fs().Stat(s.dir.IndexPath()); err == nil {
		idx.ModTime = fi.ModTime()
	}

	return nil
}

// Index reads and decodes the index file. A missing file yields an empty
// version 2 index.
func (s IndexStorage) Index() (*index.Index, error) {
	idx := &index.Index{Version: 2}

	data, err := s.dir.ReadFile(s.dir.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}

		return nil, err
	}

	if err := index.NewDecoder(bytes.NewReader(data)).Decode(idx); err != nil {
		return nil, err
	}

	if fi, err := s.dir.Fs().Stat(s.dir.IndexPath()); err == nil {
		idx.ModTime = fi.ModTime()
	}

	return idx, nil
}

// IsIndexOutdated reports whether the index file changed since the given
// index value was read or written.
func (s IndexStorage) IsIndexOutdated(idx *index.Index) bool {
	fi, err := s.dir.Fs().Stat(s.dir.IndexPath())
	if err != nil {
		return !idx.ModTime.IsZero()
	}

	return !fi.ModTime().Equal(idx.ModTime)
}
