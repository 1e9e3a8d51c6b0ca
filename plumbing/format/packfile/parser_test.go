package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/storage/memory"
)

func TestParserStoresEveryObject(t *testing.T) {
	pack, idx, objects := writeTestPack(t)

	st := memory.NewStorage()
	parser := NewParser(NewScanner(bytes.NewReader(pack)), st)

	checksum, err := parser.Parse()
	require.NoError(t, err)
	assert.Equal(t, idx.PackfileChecksum, checksum)

	for id, want := range objects {
		obj, err := st.EncodedObject(plumbing.AnyObject, id)
		require.NoError(t, err, id.String())
		assert.Equal(t, want.typ, obj.Type())

		r, err := obj.Reader()
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, want.content, got)
	}

	// the parser-built index matches the writer's
	parsed := parser.Index()
	assert.Equal(t, idx.Entries, parsed.Entries)
}

func TestParserRefDelta(t *testing.T) {
	base := bytes.Repeat([]byte("payload line\n"), 30)
	derived := append([]byte("intro\n"), base...)

	baseID := plumbing.ComputeHash(plumbing.BlobObject, base)
	derivedID := plumbing.ComputeHash(plumbing.BlobObject, derived)

	buf := bytes.NewBuffer(nil)
	pw, err := NewWriter(buf, 2)
	require.NoError(t, err)
	require.NoError(t, pw.AddObject(baseID, plumbing.BlobObject, base))
	require.NoError(t, pw.AddRefDelta(derivedID, baseID, DiffDelta(base, derived)))
	_, _, err = pw.Finalize()
	require.NoError(t, err)

	st := memory.NewStorage()
	_, err = NewParser(NewScanner(bytes.NewReader(buf.Bytes())), st).Parse()
	require.NoError(t, err)

	obj, err := st.EncodedObject(plumbing.BlobObject, derivedID)
	require.NoError(t, err)

	r, err := obj.Reader()
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, derived, got)
}
