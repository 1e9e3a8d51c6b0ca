// Package packfile implements the pack v2 on-disk format and the delta
// instruction engine: encoding and applying deltas, instruction-level
// analysis for random access, scanning and writing pack files.
package packfile

import (
	"errors"
	"io"
)

const (
	// VersionSupported is the packfile version supported by this package.
	VersionSupported uint32 = 2

	firstLengthBits = uint8(4)   // the first byte into object header has 4 bits to store the length
	lengthBits      = uint8(7)   // subsequent bytes has 7 bits to store the length
	maskFirstLength = 15         // 0000 1111
	maskContinue    = 0x80       // 1000 0000
	maskLength      = uint8(127) // 0111 1111
	maskType        = uint8(112) // 0111 0000

	// maxCopySize is the result of a copy instruction with a zero size: the
	// encoding cannot express 0x10000 directly, so zero means it.
	maxCopySize = 0x10000

	// maxCopyLen is the longest copy emitted by the delta encoder per
	// instruction.
	maxCopyLen = 0xffff

	// maxInsertLen is the longest literal run a single insert instruction
	// can carry.
	maxInsertLen = 127

	// maxDeltaChainDepth bounds delta chains: a chain of exactly this depth
	// resolves, one more is corrupt.
	maxDeltaChainDepth = 50
)

var (
	// ErrMalformedPackfile is returned when a pack file has a bad magic,
	// version or structure.
	ErrMalformedPackfile = errors.New("malformed pack file")
	// ErrBadChecksum is returned when the pack trailer does not match the
	// hash of the preceding bytes.
	ErrBadChecksum = errors.New("malformed pack file, does not match checksum")
	// ErrZLib is returned by when the packfile cannot be zlib inflated.
	ErrZLib = errors.New("zlib reading error")
	// ErrMaxDepthExceeded is returned when a delta chain is deeper than the
	// supported ceiling.
	ErrMaxDepthExceeded = errors.New("delta chain too deep")
	// ErrCircularDelta is returned when resolving a delta leads back to one
	// of its own descendants.
	ErrCircularDelta = errors.New("circular delta")
)

// decodeLEB128 decodes the little-endian base-128 varint that prefixes delta
// payloads, returning the value and the remaining bytes.
func decodeLEB128(input []byte) (uint, []byte) {
	var num, sz uint
	var b byte
	for {
		b = input[sz]
		num |= (uint(b) & payload) << (sz * 7) // concats 7 bits chunks
		sz++

		if uint(b)&continuation == 0 || sz == uint(len(input)) {
			break
		}
	}

	return num, input[sz:]
}

// decodeLEB128FromReader is decodeLEB128 over a byte stream.
func decodeLEB128FromReader(in io.ByteReader) (uint, error) {
	var num, sz uint
	for {
		b, err := in.ReadByte()
		if err != nil {
			return 0, err
		}

		num |= (uint(b) & payload) << (sz * 7)
		sz++

		if uint(b)&continuation == 0 {
			break
		}
	}

	return num, nil
}

const (
	continuation = 0x80 // 1000 0000
	payload      = 0x7f // 0111 1111
)
