package blame

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// countLines counts lines recognizing LF, CRLF and lone CR terminators. A
// trailing terminator does not open an empty final line.
func countLines(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	count := 0
	i := 0
	for i < len(data) {
		switch data[i] {
		case '\n':
			count++
			i++
		case '\r':
			count++
			if i+1 < len(data) && data[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
		default:
			i++
		}
	}

	last := data[len(data)-1]
	if last != '\n' && last != '\r' {
		count++
	}

	return count
}

// splitLines splits content into lines, stripping terminators; LF, CRLF and
// lone CR all terminate a line.
func splitLines(data []byte) []string {
	var lines []string
	start := 0
	i := 0
	for i < len(data) {
		switch data[i] {
		case '\n':
			lines = append(lines, string(data[start:i]))
			i++
			start = i
		case '\r':
			lines = append(lines, string(data[start:i]))
			if i+1 < len(data) && data[i+1] == '\n' {
				i += 2
			} else {
				i++
			}
			start = i
		default:
			i++
		}
	}

	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}

	return lines
}

// parentLineMapping diffs two line lists and returns, for every child line
// (0-based), the 0-based parent line it maps to, or -1 when the line was
// added or modified by the child.
func parentLineMapping(parent, child []string) []int {
	mapping := make([]int, len(child))
	for i := range mapping {
		mapping[i] = -1
	}

	// encode each distinct line as one rune so the character-level diff
	// operates line by line
	codes := map[string]rune{}
	next := rune(1)
	encode := func(lines []string) string {
		rs := make([]rune, len(lines))
		for i, l := range lines {
			c, ok := codes[l]
			if !ok {
				c = next
				next++
				if next == 0xD800 {
					// skip the surrogate range, unrepresentable in strings
					next = 0xE000
				}
				codes[l] = c
			}
			rs[i] = c
		}
		return string(rs)
	}

	a, b := encode(parent), encode(child)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	aPos, bPos := 0, 0
	for _, d := range diffs {
		n := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for k := 0; k < n; k++ {
				mapping[bPos+k] = aPos + k
			}
			aPos += n
			bPos += n
		case diffmatchpatch.DiffDelete:
			aPos += n
		case diffmatchpatch.DiffInsert:
			bPos += n
		}
	}

	return mapping
}
