// Package binary implements syntax-sugar functions on top of the standard
// library binary package, plus the variable-width integers used by the
// packfile format.
package binary

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
)

// Read reads structured binary data from r into data. Capable of reading
// plumbing.ObjectID values in addition to the fixed-size types understood by
// binary.Read.
func Read(r io.Reader, data ...interface{}) error {
	for _, v := range data {
		if v, ok := v.(*plumbing.ObjectID); ok {
			if err := ReadHash(r, v); err != nil {
				return err
			}

			continue
		}

		if err := binary.Read(r, binary.BigEndian, v); err != nil {
			return err
		}
	}

	return nil
}

// ReadUntil reads from r up to (and not including) the delimiter del.
func ReadUntil(r io.Reader, del byte) ([]byte, error) {
	if bufr, ok := r.(*bufio.Reader); ok {
		return ReadUntilFromBufioReader(bufr, del)
	}

	var buf [1]byte
	value := make([]byte, 0, 16)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}

		if buf[0] == del {
			return value, nil
		}

		value = append(value, buf[0])
	}
}

// ReadUntilFromBufioReader is like ReadUntil but reads from a bufio.Reader,
// avoiding the byte-at-a-time read path.
func ReadUntilFromBufioReader(r *bufio.Reader, del byte) ([]byte, error) {
	value, err := r.ReadBytes(del)
	if err != nil || len(value) == 0 {
		return nil, err
	}

	return value[:len(value)-1], nil
}

// ReadVariableWidthInt reads and returns an int in Git VLQ special format:
//
// Ordinary VLQ has some redundancies, example:  the number 358 can be
// encoded as the 2-octet VLQ 0x8166 or the 3-octet VLQ 0x808166 or the
// 4-octet VLQ 0x80808166 and so forth.
//
// To avoid these redundancies, the VLQ format used in Git removes this
// prepending redundancy and extends the representable range of shorter
// VLQs by adding an offset to VLQs of 2 or more octets in such a way
// that the lowest possible value for such an (N+1)-octet VLQ becomes
// exactly one more than the maximum possible value for an N-octet VLQ.
//
// This is the format used for the negative offset of OFS_DELTA entries.
func ReadVariableWidthInt(r io.Reader) (int64, error) {
	var c byte
	if err := Read(r, &c); err != nil {
		return 0, err
	}

	var v = int64(c & maskLength)
	for c&maskContinue > 0 {
		v++
		if err := Read(r, &c); err != nil {
			return 0, err
		}

		v = (v << lengthBits) + int64(c&maskLength)
	}

	return v, nil
}

const (
	maskContinue = uint8(128) // 1000 0000
	maskLength   = uint8(127) // 0111 1111
	lengthBits   = uint8(7)   // subsequent bytes has 7 bits to store the length
)

// ReadUint64 reads 8 bytes and returns them as a BigEndian uint64.
func ReadUint64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUint32 reads 4 bytes and returns them as a BigEndian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadUint16 reads 2 bytes and returns them as a BigEndian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}

	return v, nil
}

// ReadHash reads a plumbing.ObjectID from r.
func ReadHash(r io.Reader, h *plumbing.ObjectID) error {
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return err
	}

	return nil
}
