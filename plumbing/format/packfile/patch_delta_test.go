package packfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffDeltaRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		base []byte
		tgt  []byte
	}{
		{"identical", bytes.Repeat([]byte("same content "), 100), bytes.Repeat([]byte("same content "), 100)},
		{"append", []byte("hello world, this is the base content\n"), []byte("hello world, this is the base content\nplus a new line\n")},
		{"prepend", bytes.Repeat([]byte{0xF3}, 512), append([]byte{0x02}, bytes.Repeat([]byte{0xF3}, 511)...)},
		{"disjoint", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")},
		{"empty base", nil, []byte("something new entirely")},
		{"large literal", nil, bytes.Repeat([]byte{0xAB}, 1000)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			delta := DiffDelta(tc.base, tc.tgt)

			got, err := PatchDelta(tc.base, delta)
			require.NoError(t, err)
			assert.Equal(t, tc.tgt, got)
		})
	}
}

func TestPatchDeltaDeclaredSizes(t *testing.T) {
	base := []byte("some base content here")
	delta := DiffDelta(base, []byte("some other content here"))

	baseSz, resultSz, err := DeltaSizes(delta)
	require.NoError(t, err)
	assert.Equal(t, uint(len(base)), baseSz)
	assert.Equal(t, uint(len("some other content here")), resultSz)

	// a delta against the wrong base is rejected by the size header
	_, err = PatchDelta([]byte("wrong"), delta)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestPatchDeltaZeroOpcode(t *testing.T) {
	// header: base size 1, result size 1, then the reserved zero opcode
	delta := []byte{0x01, 0x01, 0x00, 0x00}

	_, err := PatchDelta([]byte("x"), delta)
	assert.ErrorIs(t, err, ErrDeltaCmd)
}

func TestPatchDeltaTruncated(t *testing.T) {
	_, err := PatchDelta([]byte("base"), []byte{0x04})
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestCopyZeroSizeMeans64K(t *testing.T) {
	base := bytes.Repeat([]byte{0x7A}, maxCopySize)

	// copy instruction selecting no size bytes: size = 0x10000
	delta := append(deltaEncodeSize(len(base)), deltaEncodeSize(maxCopySize)...)
	delta = append(delta, 0x80) // copy, offset 0, implicit size

	got, err := PatchDelta(base, delta)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}
