package packfile

import (
	"bytes"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/utils/ioutil"
	"github.com/go-vcs/gitstore/utils/sync"
)

// blockSize is the sampling granularity of the delta index. Matches drive
// copy instructions; anything in between becomes inserts.
const blockSize = 16

// GetDelta returns an EncodedObject of type OFSDeltaObject with the
// instructions to transform base into target.
func GetDelta(base, target plumbing.EncodedObject) (plumbing.EncodedObject, error) {
	br, err := base.Reader()
	if err != nil {
		return nil, err
	}

	defer ioutil.CheckClose(br, &err)

	tr, err := target.Reader()
	if err != nil {
		return nil, err
	}

	defer ioutil.CheckClose(tr, &err)

	bb := sync.GetBytesBuffer()
	defer sync.PutBytesBuffer(bb)

	_, err = bb.ReadFrom(br)
	if err != nil {
		return nil, err
	}

	tb := sync.GetBytesBuffer()
	defer sync.PutBytesBuffer(tb)

	_, err = tb.ReadFrom(tr)
	if err != nil {
		return nil, err
	}

	db := DiffDelta(bb.Bytes(), tb.Bytes())
	delta := &plumbing.MemoryObject{}
	delta.SetSize(int64(len(db)))
	delta.SetType(plumbing.OFSDeltaObject)

	_, err = delta.Write(db)
	if err != nil {
		return nil, err
	}

	return delta, nil
}

// DiffDelta returns the delta that transforms src into tgt.
func DiffDelta(src, tgt []byte) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(deltaEncodeSize(len(src)))
	buf.Write(deltaEncodeSize(len(tgt)))

	sindex := newDeltaIndex(src)

	ibuf := bytes.NewBuffer(nil)
	for i := 0; i < len(tgt); {
		offset, length := sindex.findMatch(tgt, i)

		if length < blockSize {
			ibuf.WriteByte(tgt[i])
			i++
			if ibuf.Len() == maxInsertLen {
				flushInserts(buf, ibuf)
			}
			continue
		}

		flushInserts(buf, ibuf)
		for length > 0 {
			toCopy := length
			if toCopy > maxCopyLen {
				toCopy = maxCopyLen
			}

			buf.Write(encodeCopyOperation(offset, toCopy))
			offset += toCopy
			i += toCopy
			length -= toCopy
		}
	}

	flushInserts(buf, ibuf)
	return buf.Bytes()
}

func flushInserts(buf, ibuf *bytes.Buffer) {
	for ibuf.Len() > 0 {
		n := ibuf.Len()
		if n > maxInsertLen {
			n = maxInsertLen
		}

		buf.WriteByte(byte(n))
		buf.Write(ibuf.Next(n))
	}
}

// deltaIndex is a block-sampled dictionary over the base buffer: every
// blockSize-aligned window is hashed, colliding windows chain.
type deltaIndex struct {
	src   []byte
	table map[uint32][]int
}

func newDeltaIndex(src []byte) *deltaIndex {
	idx := &deltaIndex{
		src:   src,
		table: make(map[uint32][]int, len(src)/blockSize+1),
	}

	for i := 0; i+blockSize <= len(src); i += blockSize {
		h := hashBlock(src[i : i+blockSize])
		idx.table[h] = append(idx.table[h], i)
	}

	return idx
}

// findMatch locates the longest match of tgt[i:] within src, extending
// block matches backwards is not needed since inserts already consumed the
// unmatched prefix. Returns the src offset and match length, zero length if
// no block-sized match exists.
func (idx *deltaIndex) findMatch(tgt []byte, i int) (offset, length int) {
	if i+blockSize > len(tgt) {
		return 0, 0
	}

	h := hashBlock(tgt[i : i+blockSize])
	for _, cand := range idx.table[h] {
		if !bytes.Equal(idx.src[cand:cand+blockSize], tgt[i:i+blockSize]) {
			continue
		}

		l := blockSize
		for cand+l < len(idx.src) && i+l < len(tgt) && idx.src[cand+l] == tgt[i+l] {
			l++
		}

		if l > length {
			offset, length = cand, l
		}
	}

	return offset, length
}

func hashBlock(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

func deltaEncodeSize(size int) []byte {
	var ret []byte
	c := size & 0x7f
	size >>= 7
	for {
		if size == 0 {
			break
		}

		ret = append(ret, byte(c|0x80))
		c = size & 0x7f
		size >>= 7
	}
	ret = append(ret, byte(c))

	return ret
}

func encodeCopyOperation(offset, length int) []byte {
	code := 0x80
	var opcodes []byte

	var i uint
	for i = 0; i < 4; i++ {
		f := 0xff << (i * 8)
		if offset&f != 0 {
			opcodes = append(opcodes, byte(offset&f>>(i*8)))
			code |= 0x01 << i
		}
	}

	for i = 0; i < 3; i++ {
		f := 0xff << (i * 8)
		if length&f != 0 {
			opcodes = append(opcodes, byte(length&f>>(i*8)))
			code |= 0x10 << i
		}
	}

	return append([]byte{byte(code)}, opcodes...)
}
