package storer

import "github.com/go-vcs/gitstore/plumbing/format/index"

// IndexStorer is a generic storage of index files.
type IndexStorer interface {
	SetIndex(*index.Index) error
	Index() (*index.Index, error)
}
