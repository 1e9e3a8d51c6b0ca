// Package storage defines the composite Storer contract every backend
// implements: encoded objects, references, the staging index, and the
// repository configuration.
package storage

import (
	"errors"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// ErrReferenceHasChanged is returned when a reference write loses a
// compare-and-swap race.
var ErrReferenceHasChanged = errors.New("reference has changed concurrently")

// Storer is a generic storage of objects, references, index and config.
// Backends are in-memory, filesystem (.git layout), SQL and key-value.
type Storer interface {
	storer.EncodedObjectStorer
	storer.ReferenceStorer
	storer.IndexStorer
	ConfigStorer
}

// ConfigStorer is a generic storage of repository configuration.
type ConfigStorer interface {
	Config() (*config.Config, error)
	SetConfig(*config.Config) error
}
