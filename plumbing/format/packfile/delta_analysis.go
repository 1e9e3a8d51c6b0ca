package packfile

import (
	"fmt"
	"io"
	"sort"
)

// DeltaInstruction is one decoded delta instruction projected onto result
// coordinates: it produces the result bytes [Start, Start+Length).
type DeltaInstruction struct {
	// Start is the offset of the produced bytes within the result.
	Start uint
	// Length is the number of result bytes the instruction produces.
	Length uint
	// IsCopy is true for copy instructions; Offset then points into the
	// base. Insert carries the literal bytes otherwise.
	IsCopy bool
	Offset uint
	Insert []byte
}

// End returns the exclusive end of the produced range.
func (i DeltaInstruction) End() uint { return i.Start + i.Length }

// DeltaAnalysis is an ordered instruction map over result offsets, built
// once so that arbitrary result ranges can be served without applying the
// whole delta.
type DeltaAnalysis struct {
	BaseSize     uint
	ResultSize   uint
	Instructions []DeltaInstruction
}

// AnalyzeDelta decodes every instruction of delta and projects it onto
// result offsets. The instruction list is ordered by Start and tiles
// [0, ResultSize) exactly; anything else is ErrInvalidDelta.
func AnalyzeDelta(delta []byte) (*DeltaAnalysis, error) {
	if len(delta) < minDeltaSize {
		return nil, ErrInvalidDelta
	}

	baseSz, delta := decodeLEB128(delta)
	resultSz, delta := decodeLEB128(delta)

	a := &DeltaAnalysis{BaseSize: baseSz, ResultSize: resultSz}

	var pos uint
	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		switch {
		case isCopyFromSrc(cmd):
			var off, sz uint
			var err error
			off, delta, err = decodeOffset(cmd, delta)
			if err != nil {
				return nil, err
			}

			sz, delta, err = decodeSize(cmd, delta)
			if err != nil {
				return nil, err
			}

			if invalidSize(sz, resultSz) || invalidOffsetSize(off, sz, baseSz) {
				return nil, ErrInvalidDelta
			}

			a.Instructions = append(a.Instructions, DeltaInstruction{
				Start:  pos,
				Length: sz,
				IsCopy: true,
				Offset: off,
			})
			pos += sz

		case isCopyFromDelta(cmd):
			sz := uint(cmd)
			if uint(len(delta)) < sz {
				return nil, ErrInvalidDelta
			}

			ins := make([]byte, sz)
			copy(ins, delta[:sz])
			delta = delta[sz:]

			a.Instructions = append(a.Instructions, DeltaInstruction{
				Start:  pos,
				Length: sz,
				Insert: ins,
			})
			pos += sz

		default:
			return nil, ErrDeltaCmd
		}
	}

	if pos != resultSz {
		return nil, fmt.Errorf("%w: instructions produce %d bytes, header declares %d",
			ErrInvalidDelta, pos, resultSz)
	}

	return a, nil
}

// InstructionsForRange returns the instructions overlapping the result range
// [offset, offset+length), in order. Ranges beyond the result are clipped;
// a zero length yields nil.
func (a *DeltaAnalysis) InstructionsForRange(offset, length uint) []DeltaInstruction {
	if length == 0 || offset >= a.ResultSize {
		return nil
	}

	end := offset + length
	if end > a.ResultSize {
		end = a.ResultSize
	}

	// first instruction whose End is past the requested start
	first := sort.Search(len(a.Instructions), func(i int) bool {
		return a.Instructions[i].End() > offset
	})

	var out []DeltaInstruction
	for i := first; i < len(a.Instructions) && a.Instructions[i].Start < end; i++ {
		out = append(out, a.Instructions[i])
	}

	return out
}

// DeltaChainReader serves random-access reads from the leaf of a delta
// chain without reconstructing any intermediate object. The chain is a base
// plus deltas[0..n), deltas[0] applying to the base and the last delta
// producing the leaf.
type DeltaChainReader struct {
	base     io.ReaderAt
	baseSize uint
	deltas   []*DeltaAnalysis
}

// NewDeltaChainReader analyzes every delta of the chain and validates it:
// depth at most 50, and each link's declared base size must equal the
// previous link's result size.
func NewDeltaChainReader(base io.ReaderAt, baseSize int64, deltas [][]byte) (*DeltaChainReader, error) {
	if len(deltas) > maxDeltaChainDepth {
		return nil, ErrMaxDepthExceeded
	}

	r := &DeltaChainReader{base: base, baseSize: uint(baseSize)}

	prev := uint(baseSize)
	for _, d := range deltas {
		a, err := AnalyzeDelta(d)
		if err != nil {
			return nil, err
		}

		if a.BaseSize != prev {
			return nil, ErrInvalidDelta
		}

		r.deltas = append(r.deltas, a)
		prev = a.ResultSize
	}

	return r, nil
}

// Size returns the size of the leaf object.
func (r *DeltaChainReader) Size() int64 {
	if len(r.deltas) == 0 {
		return int64(r.baseSize)
	}

	return int64(r.deltas[len(r.deltas)-1].ResultSize)
}

// ReadAt reads len(p) bytes of the leaf object starting at off. Reads past
// the end return the available bytes and io.EOF; zero-length reads return
// (0, nil).
func (r *DeltaChainReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	size := r.Size()
	if off >= size {
		return 0, io.EOF
	}

	length := int64(len(p))
	short := false
	if off+length > size {
		length = size - off
		short = true
	}

	n, err := r.readLevel(len(r.deltas), uint(off), uint(length), p[:length])
	if err != nil {
		return n, err
	}

	if short {
		return n, io.EOF
	}

	return n, nil
}

// readLevel fills dst with the bytes [off, off+length) of the object at the
// given chain level; level 0 is the base. Inserts are served directly,
// copies recurse into the level below.
func (r *DeltaChainReader) readLevel(level int, off, length uint, dst []byte) (int, error) {
	if level == 0 {
		return r.base.ReadAt(dst, int64(off))
	}

	a := r.deltas[level-1]
	end := off + length

	var written uint
	for _, ins := range a.InstructionsForRange(off, length) {
		// overlap of the instruction's produced range with the request
		lo := ins.Start
		if off > lo {
			lo = off
		}
		hi := ins.End()
		if end < hi {
			hi = end
		}

		span := dst[lo-off : hi-off]
		if ins.IsCopy {
			srcOff := ins.Offset + (lo - ins.Start)
			n, err := r.readLevel(level-1, srcOff, hi-lo, span)
			if err != nil {
				return int(written) + n, err
			}
		} else {
			copy(span, ins.Insert[lo-ins.Start:hi-ins.Start])
		}

		written += hi - lo
	}

	if written != length {
		return int(written), ErrInvalidDelta
	}

	return int(written), nil
}

// Stream returns a reader over the leaf bytes [off, off+length).
func (r *DeltaChainReader) Stream(off, length int64) io.Reader {
	return io.NewSectionReader(r, off, length)
}
