package packfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDelta assembles a delta from the header sizes and raw instruction
// bytes.
func buildDelta(baseSize, resultSize int, instructions ...[]byte) []byte {
	out := append(deltaEncodeSize(baseSize), deltaEncodeSize(resultSize)...)
	for _, ins := range instructions {
		out = append(out, ins...)
	}

	return out
}

func TestAnalyzeDelta(t *testing.T) {
	base := bytes.Repeat([]byte{0xF3}, 512)
	derived := append([]byte{0x02}, base[1:]...)

	// insert(0x02) then copy(offset=1, length=511)
	delta := buildDelta(512, 512,
		[]byte{0x01, 0x02},
		encodeCopyOperation(1, 511),
	)

	// the hand-built delta really produces the derived content
	got, err := PatchDelta(base, delta)
	require.NoError(t, err)
	require.Equal(t, derived, got)

	a, err := AnalyzeDelta(delta)
	require.NoError(t, err)

	assert.Equal(t, uint(512), a.BaseSize)
	assert.Equal(t, uint(512), a.ResultSize)
	require.Len(t, a.Instructions, 2)

	assert.False(t, a.Instructions[0].IsCopy)
	assert.Equal(t, []byte{0x02}, a.Instructions[0].Insert)
	assert.Equal(t, uint(0), a.Instructions[0].Start)

	assert.True(t, a.Instructions[1].IsCopy)
	assert.Equal(t, uint(1), a.Instructions[1].Offset)
	assert.Equal(t, uint(511), a.Instructions[1].Length)
}

func TestInstructionsForRange(t *testing.T) {
	delta := buildDelta(512, 512,
		[]byte{0x01, 0x02},
		encodeCopyOperation(1, 511),
	)

	a, err := AnalyzeDelta(delta)
	require.NoError(t, err)

	// only the insert overlaps the first byte
	ins := a.InstructionsForRange(0, 1)
	require.Len(t, ins, 1)
	assert.False(t, ins[0].IsCopy)

	// both instructions overlap the first ten bytes
	ins = a.InstructionsForRange(0, 10)
	assert.Len(t, ins, 2)

	// only the copy overlaps the middle
	ins = a.InstructionsForRange(100, 50)
	require.Len(t, ins, 1)
	assert.True(t, ins[0].IsCopy)

	assert.Nil(t, a.InstructionsForRange(0, 0))
	assert.Nil(t, a.InstructionsForRange(512, 10))
}

func TestDeltaChainRandomRead(t *testing.T) {
	base := bytes.Repeat([]byte{0xF3}, 512)
	delta := buildDelta(512, 512,
		[]byte{0x01, 0x02},
		encodeCopyOperation(1, 511),
	)

	chain, err := NewDeltaChainReader(bytes.NewReader(base), int64(len(base)), [][]byte{delta})
	require.NoError(t, err)

	assert.Equal(t, int64(512), chain.Size())

	buf := make([]byte, 10)
	n, err := chain.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, append([]byte{0x02}, bytes.Repeat([]byte{0xF3}, 9)...), buf)

	buf = make([]byte, 50)
	n, err = chain.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, bytes.Repeat([]byte{0xF3}, 50), buf)

	// read past the end returns the available bytes and io.EOF
	buf = make([]byte, 50)
	n, err = chain.ReadAt(buf, 500)
	assert.Equal(t, 12, n)
	assert.ErrorIs(t, err, io.EOF)

	// zero-length reads are empty
	n, err = chain.ReadAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeltaChainMatchesFullReconstruction(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog, repeatedly and often.")
	base := bytes.Repeat(content, 20)

	v2 := append(append([]byte("prefix-"), base...), []byte("-suffix")...)
	v3 := append(v2[:100:100], v2[200:]...)

	d1 := DiffDelta(base, v2)
	d2 := DiffDelta(v2, v3)

	chain, err := NewDeltaChainReader(bytes.NewReader(base), int64(len(base)), [][]byte{d1, d2})
	require.NoError(t, err)
	require.Equal(t, int64(len(v3)), chain.Size())

	for _, span := range [][2]int{{0, 10}, {50, 200}, {0, len(v3)}, {len(v3) - 5, 5}} {
		buf := make([]byte, span[1])
		n, err := chain.ReadAt(buf, int64(span[0]))
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}

		assert.Equal(t, v3[span[0]:span[0]+n], buf[:n])
	}
}

func TestDeltaChainDepthBounds(t *testing.T) {
	content := []byte("constant content that never changes between chain links....")

	identity := buildDelta(len(content), len(content), encodeCopyOperation(0, len(content)))

	// depth exactly 50 resolves
	deltas := make([][]byte, maxDeltaChainDepth)
	for i := range deltas {
		deltas[i] = identity
	}

	chain, err := NewDeltaChainReader(bytes.NewReader(content), int64(len(content)), deltas)
	require.NoError(t, err)

	buf := make([]byte, len(content))
	_, err = chain.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, content, buf)

	// depth 51 is corrupt
	deltas = append(deltas, identity)
	_, err = NewDeltaChainReader(bytes.NewReader(content), int64(len(content)), deltas)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}
