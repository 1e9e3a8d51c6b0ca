package index

import (
	"bytes"
	"crypto"
	"errors"
	"io"
	"sort"
	"time"

	"github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/utils/binary"
)

var (
	// EncodeVersionSupported is the maximum version the encoder emits.
	EncodeVersionSupported uint32 = 3

	// ErrInvalidTimestamp is returned by Encode if a timestamp lies before
	// the Unix epoch. Seconds beyond the 32-bit range are truncated, not
	// rejected.
	ErrInvalidTimestamp = errors.New("negative timestamp")
)

// Encoder writes an Index to an output stream. Version 2 is written by
// default; version 3 is used when any entry carries extended flags.
type Encoder struct {
	w   io.Writer
	sum hash.Hash
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	h := hash.New(crypto.SHA1)
	mw := io.MultiWriter(w, h)
	return &Encoder{w: mw, sum: h}
}

// Encode writes the index to the stream of the encoder.
func (e *Encoder) Encode(idx *Index) error {
	version := uint32(2)
	for _, entry := range idx.Entries {
		if entry.IntentToAdd || entry.SkipWorktree {
			version = EncodeVersionSupported
			break
		}
	}

	if err := e.header(version, len(idx.Entries)); err != nil {
		return err
	}

	entries := append([]*Entry(nil), idx.Entries...)
	sort.Sort(byNameAndStage(entries))

	for _, entry := range entries {
		if err := e.entry(version, entry); err != nil {
			return err
		}
	}

	return e.footer()
}

func (e *Encoder) header(version uint32, count int) error {
	if _, err := e.w.Write(indexSignature); err != nil {
		return err
	}

	return binary.Write(e.w, version, uint32(count))
}

func (e *Encoder) entry(version uint32, entry *Entry) error {
	sec, nsec, err := e.timeToUint32(entry.CreatedAt)
	if err != nil {
		return err
	}

	msec, mnsec, err := e.timeToUint32(entry.ModifiedAt)
	if err != nil {
		return err
	}

	flags := uint16(entry.Stage&0x3) << 12
	if l := len(entry.Name); l < nameMask {
		flags |= uint16(l)
	} else {
		flags |= nameMask
	}

	if entry.AssumeValid {
		flags |= entryValid
	}

	extended := entry.IntentToAdd || entry.SkipWorktree
	if extended {
		flags |= entryExtended
	}

	flow := []interface{}{
		sec, nsec,
		msec, mnsec,
		entry.Dev,
		entry.Inode,
		uint32(entry.Mode),
		entry.UID,
		entry.GID,
		entry.Size,
		entry.Hash[:],
		flags,
	}

	if err := binary.Write(e.w, flow...); err != nil {
		return err
	}

	read := entryHeaderLength
	if extended {
		var extFlags uint16
		if entry.IntentToAdd {
			extFlags |= intentToAddMask
		}
		if entry.SkipWorktree {
			extFlags |= skipWorkTreeMask
		}

		if err := binary.Write(e.w, extFlags); err != nil {
			return err
		}

		read += 2
	}

	if err := binary.Write(e.w, []byte(entry.Name)); err != nil {
		return err
	}

	return e.padEntry(read, entry)
}

func (e *Encoder) timeToUint32(t time.Time) (uint32, uint32, error) {
	if t.IsZero() {
		return 0, 0, nil
	}

	if t.Unix() < 0 || t.UnixNano() < 0 {
		return 0, 0, ErrInvalidTimestamp
	}

	return uint32(t.Unix()), uint32(t.Nanosecond()), nil
}

func (e *Encoder) padEntry(read int, entry *Entry) error {
	entrySize := read + len(entry.Name)
	padLen := 8 - entrySize%8

	_, err := e.w.Write(bytes.Repeat([]byte{'\x00'}, padLen))
	return err
}

func (e *Encoder) footer() error {
	_, err := e.w.Write(e.sum.Sum(nil))
	return err
}

type byNameAndStage []*Entry

func (l byNameAndStage) Len() int           { return len(l) }
func (l byNameAndStage) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
func (l byNameAndStage) Less(i, j int) bool { return entryLess(l[i], l[j]) }
