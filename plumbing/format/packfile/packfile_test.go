package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
)

type packedObject struct {
	typ     plumbing.ObjectType
	content []byte
}

// writeTestPack builds a pack with three blobs, the third stored as an
// OFS delta against the first, plus one commit-ish payload.
func writeTestPack(t *testing.T) ([]byte, *idxfile.MemoryIndex, map[plumbing.ObjectID]packedObject) {
	t.Helper()

	base := bytes.Repeat([]byte("block of shared content\n"), 40)
	derived := append(append([]byte("header\n"), base...), []byte("trailer\n")...)
	small := []byte("tiny blob")
	text := []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nmsg\n")

	objects := map[plumbing.ObjectID]packedObject{}

	baseID := plumbing.ComputeHash(plumbing.BlobObject, base)
	derivedID := plumbing.ComputeHash(plumbing.BlobObject, derived)
	smallID := plumbing.ComputeHash(plumbing.BlobObject, small)
	textID := plumbing.ComputeHash(plumbing.CommitObject, text)

	objects[baseID] = packedObject{plumbing.BlobObject, base}
	objects[derivedID] = packedObject{plumbing.BlobObject, derived}
	objects[smallID] = packedObject{plumbing.BlobObject, small}
	objects[textID] = packedObject{plumbing.CommitObject, text}

	buf := bytes.NewBuffer(nil)
	pw, err := NewWriter(buf, 4)
	require.NoError(t, err)

	require.NoError(t, pw.AddObject(baseID, plumbing.BlobObject, base))
	require.NoError(t, pw.AddObject(smallID, plumbing.BlobObject, small))
	require.NoError(t, pw.AddOfsDelta(derivedID, baseID, DiffDelta(base, derived)))
	require.NoError(t, pw.AddObject(textID, plumbing.CommitObject, text))

	checksum, entries, err := pw.Finalize()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	return buf.Bytes(), idxfile.NewMemoryIndex(entries, checksum), objects
}

func TestPackRoundTripThroughReader(t *testing.T) {
	pack, idx, objects := writeTestPack(t)

	p := Open(idx, bytes.NewReader(pack), nil)

	for id, want := range objects {
		obj, err := p.Get(id)
		require.NoError(t, err, id.String())

		assert.Equal(t, want.typ, obj.Type())

		r, err := obj.Reader()
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())

		assert.Equal(t, want.content, got)
		assert.Equal(t, id, obj.Hash())
	}

	_, err := p.Get(plumbing.NewObjectID("00000000000000000000000000000000000000aa"))
	assert.ErrorIs(t, err, plumbing.ErrObjectNotFound)
}

func TestPackTrailerMatchesContent(t *testing.T) {
	pack, idx, _ := writeTestPack(t)

	s := NewScanner(bytes.NewReader(pack))
	_, count, err := s.Header()
	require.NoError(t, err)
	require.Equal(t, uint32(4), count)

	for i := 0; i < int(count); i++ {
		_, err := s.NextObjectHeader()
		require.NoError(t, err)

		_, _, err = s.NextObject(io.Discard)
		require.NoError(t, err)
	}

	checksum, err := s.Checksum()
	require.NoError(t, err)
	assert.Equal(t, idx.PackfileChecksum, checksum)
}

func TestScannerRejectsCorruptTrailer(t *testing.T) {
	pack, _, _ := writeTestPack(t)
	pack = append([]byte(nil), pack...)
	pack[len(pack)-1] ^= 0xFF

	s := NewScanner(bytes.NewReader(pack))
	_, count, err := s.Header()
	require.NoError(t, err)

	for i := 0; i < int(count); i++ {
		_, err := s.NextObjectHeader()
		require.NoError(t, err)
		_, _, err = s.NextObject(io.Discard)
		require.NoError(t, err)
	}

	_, err = s.Checksum()
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestScannerRejectsBadMagic(t *testing.T) {
	s := NewScanner(bytes.NewReader([]byte("JUNKxxxxyyyy")))
	_, _, err := s.Header()
	assert.ErrorIs(t, err, ErrMalformedPackfile)
}

func TestPackRandomAccessHandle(t *testing.T) {
	pack, idx, objects := writeTestPack(t)
	p := Open(idx, bytes.NewReader(pack), nil)

	for id, want := range objects {
		h, err := p.RandomAccess(id)
		require.NoError(t, err, id.String())

		assert.Equal(t, want.typ, h.Type())
		require.Equal(t, int64(len(want.content)), h.Size())

		// partial read from the middle
		if len(want.content) > 16 {
			buf := make([]byte, 8)
			n, err := h.ReadAt(buf, 8)
			require.NoError(t, err)
			assert.Equal(t, want.content[8:16], buf[:n])
		}

		// full stream
		got, err := io.ReadAll(h.Stream(0, h.Size()))
		require.NoError(t, err)
		assert.Equal(t, want.content, got)

		// read past the end
		buf := make([]byte, 16)
		n, err := h.ReadAt(buf, h.Size()-4)
		assert.Equal(t, 4, n)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestWriterCountEnforced(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	pw, err := NewWriter(buf, 1)
	require.NoError(t, err)

	_, _, err = pw.Finalize()
	assert.ErrorIs(t, err, ErrMalformedPackfile)
}
