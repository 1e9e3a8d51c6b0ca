package hash

import "errors"

// ErrUnsupportedHashFunction is returned when a hash function other than the
// registered ones is requested.
var ErrUnsupportedHashFunction = errors.New("unsupported hash function")

const (
	// Size is the size of an object id in bytes.
	Size = 20
	// HexSize is the size of an object id in hexadecimal characters.
	HexSize = 40
)
