package packfile

import (
	"bufio"
	"hash"
	"hash/crc32"
	"io"
)

// scannerReader is the byte source of the Scanner. It delivers bytes one
// logical position at a time (it implements io.ByteReader so the inflater
// never over-reads), keeping a running pack hash and a per-record CRC32.
type scannerReader struct {
	r      *bufio.Reader
	sum    hash.Hash
	crc    hash.Hash32
	offset int64
}

func newScannerReader(r io.Reader, sum hash.Hash) *scannerReader {
	return &scannerReader{
		r:   bufio.NewReader(r),
		sum: sum,
		crc: crc32.NewIEEE(),
	}
}

func (r *scannerReader) Read(p []byte) (n int, err error) {
	n, err = r.r.Read(p)
	r.offset += int64(n)
	if n > 0 {
		r.sum.Write(p[:n])
		r.crc.Write(p[:n])
	}

	return
}

func (r *scannerReader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}

	r.offset++
	r.sum.Write([]byte{b})
	r.crc.Write([]byte{b})
	return b, nil
}

// resetCRC starts a new per-record CRC32 at the current position.
func (r *scannerReader) resetCRC() {
	r.crc = crc32.NewIEEE()
}

func (r *scannerReader) crcSum() uint32 {
	return r.crc.Sum32()
}
