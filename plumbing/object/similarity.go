package object

import "bytes"

const (
	// shingleLength is the sliding-window token size of the similarity
	// index.
	shingleLength = 4

	// binaryProbeLen is how many leading bytes are inspected for a NUL
	// byte before declaring content binary.
	binaryProbeLen = 8000

	// DefaultRenameScore is the minimum similarity score, out of 100, for
	// two blobs to be considered a rename of each other.
	DefaultRenameScore = 50
)

// SimilarityIndex is a multiset of short sliding-window hashes over a byte
// stream, used to score content similarity without aligning the inputs.
type SimilarityIndex struct {
	shingles map[uint32]int
	total    int
}

// NewSimilarityIndex builds the index for the given content. Binary
// content (a NUL within the leading probe window) yields a nil index.
func NewSimilarityIndex(content []byte) *SimilarityIndex {
	if IsBinary(content) {
		return nil
	}

	idx := &SimilarityIndex{shingles: map[uint32]int{}}

	if len(content) < shingleLength {
		if len(content) > 0 {
			idx.shingles[hashShingle(content)]++
			idx.total++
		}
		return idx
	}

	for i := 0; i+shingleLength <= len(content); i++ {
		idx.shingles[hashShingle(content[i:i+shingleLength])]++
		idx.total++
	}

	return idx
}

func hashShingle(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

// Score returns the similarity of the two indexed contents scaled to
// 0-100: twice the multiset intersection over the sum of sizes. A nil
// index (binary content) scores zero against anything.
func (idx *SimilarityIndex) Score(other *SimilarityIndex) int {
	if idx == nil || other == nil {
		return 0
	}

	if idx.total == 0 && other.total == 0 {
		return 100
	}

	var common int
	small, large := idx, other
	if len(large.shingles) < len(small.shingles) {
		small, large = large, small
	}

	for h, n := range small.shingles {
		if m, ok := large.shingles[h]; ok {
			if m < n {
				common += m
			} else {
				common += n
			}
		}
	}

	return 2 * common * 100 / (idx.total + other.total)
}

// IsBinary reports whether content looks binary: a NUL byte within the
// leading probe window.
func IsBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbeLen {
		probe = probe[:binaryProbeLen]
	}

	return bytes.IndexByte(probe, 0) != -1
}
