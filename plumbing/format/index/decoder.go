package index

import (
	"bufio"
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/hash"
	"github.com/go-vcs/gitstore/utils/binary"
)

var (
	// DecodeVersionSupported is the range of index versions the decoder
	// understands.
	DecodeVersionSupported = struct{ Min, Max uint32 }{Min: 2, Max: 4}

	// ErrMalformedSignature is returned by Decode when the index header
	// signature is wrong.
	ErrMalformedSignature = errors.New("malformed index signature file")
	// ErrInvalidChecksum is returned by Decode if the SHA1 hash mismatch
	// with the read content.
	ErrInvalidChecksum = errors.New("invalid checksum")
)

const (
	entryHeaderLength = 62
	entryExtended     = 0x4000
	entryValid        = 0x8000
	nameMask          = 0xfff
	intentToAddMask   = 1 << 13
	skipWorkTreeMask  = 1 << 14
)

// Decoder reads and decodes index files from an input stream. The whole
// stream is read up front so the trailing checksum can be verified before
// parsing.
type Decoder struct {
	input     io.Reader
	r         *bufio.Reader
	lastEntry *Entry
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{input: r}
}

// Decode reads the whole index object from its input and stores it in the
// value pointed to by idx.
func (d *Decoder) Decode(idx *Index) error {
	data, err := io.ReadAll(d.input)
	if err != nil {
		return err
	}

	if len(data) < hash.Size {
		return ErrMalformedSignature
	}

	body, stored := data[:len(data)-hash.Size], data[len(data)-hash.Size:]

	sum := hash.New(crypto.SHA1)
	sum.Write(body)
	if !bytes.Equal(sum.Sum(nil), stored) {
		return ErrInvalidChecksum
	}

	d.r = bufio.NewReader(bytes.NewReader(body))

	version, entryCount, err := d.readHeader()
	if err != nil {
		return err
	}

	idx.Version = version

	if err := d.readEntries(idx, int(entryCount)); err != nil {
		return err
	}

	return d.readExtensions(idx)
}

func (d *Decoder) readHeader() (version uint32, count uint32, err error) {
	var s = make([]byte, 4)
	if _, err := io.ReadFull(d.r, s); err != nil {
		return 0, 0, err
	}

	if !bytes.Equal(s, indexSignature) {
		return 0, 0, ErrMalformedSignature
	}

	version, err = binary.ReadUint32(d.r)
	if err != nil {
		return 0, 0, err
	}

	if version < DecodeVersionSupported.Min || version > DecodeVersionSupported.Max {
		return 0, 0, ErrUnsupportedVersion
	}

	count, err = binary.ReadUint32(d.r)
	return version, count, err
}

func (d *Decoder) readEntries(idx *Index, count int) error {
	for i := 0; i < count; i++ {
		e, err := d.readEntry(idx)
		if err != nil {
			return err
		}

		d.lastEntry = e
		idx.Entries = append(idx.Entries, e)
	}

	return nil
}

func (d *Decoder) readEntry(idx *Index) (*Entry, error) {
	e := &Entry{}

	var msec, mnsec, sec, nsec uint32
	var flags uint16
	var mode uint32

	flow := []interface{}{
		&sec, &nsec,
		&msec, &mnsec,
		&e.Dev,
		&e.Inode,
		&mode,
		&e.UID,
		&e.GID,
		&e.Size,
		&e.Hash,
		&flags,
	}

	if err := binary.Read(d.r, flow...); err != nil {
		return nil, err
	}

	read := entryHeaderLength

	e.CreatedAt = time.Unix(int64(sec), int64(nsec))
	e.ModifiedAt = time.Unix(int64(msec), int64(mnsec))
	e.Mode = filemode.FileMode(mode)
	e.Stage = Stage(flags>>12) & 0x3
	e.AssumeValid = flags&entryValid != 0

	if flags&entryExtended != 0 {
		extended, err := binary.ReadUint16(d.r)
		if err != nil {
			return nil, err
		}

		read += 2
		e.IntentToAdd = extended&intentToAddMask != 0
		e.SkipWorktree = extended&skipWorkTreeMask != 0
	}

	if err := d.readEntryName(idx, e, flags); err != nil {
		return nil, err
	}

	return e, d.padEntry(idx, e, read)
}

func (d *Decoder) readEntryName(idx *Index, e *Entry, flags uint16) error {
	var name string
	var err error

	switch idx.Version {
	case 2, 3:
		length := int(flags & nameMask)
		name, err = d.doReadEntryName(length)
	case 4:
		name, err = d.doReadEntryNameV4()
	default:
		return ErrUnsupportedVersion
	}

	if err != nil {
		return err
	}

	e.Name = name
	return nil
}

func (d *Decoder) doReadEntryNameV4() (string, error) {
	l, err := binary.ReadVariableWidthInt(d.r)
	if err != nil {
		return "", err
	}

	var base string
	if d.lastEntry != nil {
		base = d.lastEntry.Name[:len(d.lastEntry.Name)-int(l)]
	}

	name, err := binary.ReadUntilFromBufioReader(d.r, 0)
	if err != nil {
		return "", err
	}

	return base + string(name), nil
}

func (d *Decoder) doReadEntryName(length int) (string, error) {
	if length < nameMask {
		buf := make([]byte, length)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return "", err
		}

		// the NUL terminator is consumed by padEntry
		return string(buf), nil
	}

	name, err := binary.ReadUntilFromBufioReader(d.r, 0)
	if err != nil {
		return "", err
	}

	// put back one byte so padding accounting stays uniform
	return string(name), d.r.UnreadByte()
}

// padEntry skips the NUL terminator and the padding that aligns v2/v3
// entries to 8-byte boundaries. Version 4 entries are unpadded and their
// terminator was already consumed with the compressed name.
func (d *Decoder) padEntry(idx *Index, e *Entry, read int) error {
	if idx.Version == 4 {
		return nil
	}

	entrySize := read + len(e.Name)
	padLen := 8 - entrySize%8
	_, err := io.CopyN(io.Discard, d.r, int64(padLen))
	return err
}

func (d *Decoder) readExtensions(idx *Index) error {
	for {
		if _, err := d.r.Peek(1); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		var header [8]byte
		if _, err := io.ReadFull(d.r, header[:]); err != nil {
			return err
		}

		sig := header[:4]
		extLen := uint32(header[4])<<24 | uint32(header[5])<<16 |
			uint32(header[6])<<8 | uint32(header[7])

		payload := make([]byte, extLen)
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return err
		}

		switch {
		case bytes.Equal(sig, treeExtSignature):
			idx.Cache = &Tree{}
			if err := readTreeExtension(idx.Cache, payload); err != nil {
				return err
			}
		case bytes.Equal(sig, resolveUndoExtSignature):
			idx.ResolveUndo = &ResolveUndo{}
			if err := readResolveUndoExtension(idx.ResolveUndo, payload); err != nil {
				return err
			}
		case bytes.Equal(sig, endOfIndexEntryExtSignature):
			// positional hint only, nothing to retain
		default:
			// optional extensions (lowercase first byte) are skippable;
			// mandatory unknown extensions are an error
			if sig[0] < 'a' || sig[0] > 'z' {
				return fmt.Errorf("unknown mandatory index extension %q", sig)
			}
		}
	}
}

func readTreeExtension(t *Tree, payload []byte) error {
	buf := bytes.NewBuffer(payload)
	for buf.Len() > 0 {
		path, err := buf.ReadString(0)
		if err != nil {
			return err
		}
		path = path[:len(path)-1]

		count, err := buf.ReadString(' ')
		if err != nil {
			return err
		}

		entries, err := strconv.Atoi(count[:len(count)-1])
		if err != nil {
			return err
		}

		trees, err := buf.ReadString('\n')
		if err != nil {
			return err
		}

		subtrees, err := strconv.Atoi(trees[:len(trees)-1])
		if err != nil {
			return err
		}

		te := TreeEntry{Path: path, Entries: entries, Trees: subtrees}

		// an invalidated span has no hash
		if entries >= 0 {
			var h plumbing.ObjectID
			if _, err := io.ReadFull(buf, h[:]); err != nil {
				return err
			}

			te.Hash = h
		}

		t.Entries = append(t.Entries, te)
	}

	return nil
}

func readResolveUndoExtension(ru *ResolveUndo, payload []byte) error {
	buf := bytes.NewBuffer(payload)
	for buf.Len() > 0 {
		path, err := buf.ReadString(0)
		if err != nil {
			return err
		}

		e := ResolveUndoEntry{
			Path:   path[:len(path)-1],
			Stages: make(map[Stage]plumbing.ObjectID),
		}

		modes := make([]uint64, 3)
		for i := range modes {
			m, err := buf.ReadString(0)
			if err != nil {
				return err
			}

			modes[i], err = strconv.ParseUint(m[:len(m)-1], 8, 32)
			if err != nil {
				return err
			}
		}

		for i, m := range modes {
			if m == 0 {
				continue
			}

			var h plumbing.ObjectID
			if _, err := io.ReadFull(buf, h[:]); err != nil {
				return err
			}

			e.Stages[Stage(i+1)] = h
		}

		ru.Entries = append(ru.Entries, e)
	}

	return nil
}

