// Package hash provides the hash function used to derive object ids. The
// implementation is a collision-detecting SHA-1; the package seam exists so a
// second algorithm can be introduced without touching callers.
package hash

import (
	"crypto"
	"hash"

	"github.com/pjbgf/sha1cd"
)

// algos is the registry of supported object-id hash functions.
var algos = map[crypto.Hash]func() hash.Hash{
	crypto.SHA1: sha1cd.New,
}

// RegisterHash allows the hash function of a given crypto.Hash to be
// overridden, e.g. to plug a hardware implementation.
func RegisterHash(h crypto.Hash, f func() hash.Hash) error {
	if f == nil {
		return ErrUnsupportedHashFunction
	}

	switch h {
	case crypto.SHA1:
		algos[h] = f
	default:
		return ErrUnsupportedHashFunction
	}

	return nil
}

// Hash is the same as hash.Hash. This allows consumers to not having to
// import this package along with "hash".
type Hash interface {
	hash.Hash
}

// New returns a new Hash for the given crypto.Hash. It panics if the hash
// function is not registered.
func New(h crypto.Hash) Hash {
	f, ok := algos[h]
	if !ok {
		panic(ErrUnsupportedHashFunction.Error())
	}

	return f()
}
