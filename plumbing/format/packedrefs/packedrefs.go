// Package packedrefs implements the packed-refs table codec: one line per
// reference, with peeled annotated-tag targets on `^` continuation lines.
package packedrefs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
)

// header is written at the top of every packed-refs file this package
// produces.
const header = "# pack-refs with: peeled fully-peeled sorted \n"

// ErrMalformed is returned when a packed-refs line cannot be parsed.
var ErrMalformed = errors.New("malformed packed-refs line")

// Decode parses a packed-refs stream into references. Peeled lines annotate
// the preceding reference.
func Decode(r io.Reader) ([]*plumbing.Reference, error) {
	var refs []*plumbing.Reference

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "^"):
			if len(refs) == 0 {
				return nil, fmt.Errorf("%w: dangling peeled line", ErrMalformed)
			}

			id := strings.TrimSpace(line[1:])
			if !plumbing.IsValidObjectID(id) {
				return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
			}

			last := refs[len(refs)-1]
			refs[len(refs)-1] = last.WithPeeled(plumbing.NewObjectID(id))
		default:
			id, name, ok := strings.Cut(line, " ")
			if !ok || !plumbing.IsValidObjectID(id) || name == "" {
				return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
			}

			ref := plumbing.NewHashReference(plumbing.ReferenceName(name), plumbing.NewObjectID(id))
			refs = append(refs, ref.WithStorage(plumbing.PackedStorage))
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	return refs, nil
}

// Encode writes the references as a packed-refs stream, including peeled
// lines where recorded. Only direct references can be packed.
func Encode(w io.Writer, refs []*plumbing.Reference) error {
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	for _, ref := range refs {
		if ref.Type() != plumbing.HashReference {
			return fmt.Errorf("%w: cannot pack symbolic reference %s", ErrMalformed, ref.Name())
		}

		if _, err := fmt.Fprintf(w, "%s %s\n", ref.Hash(), ref.Name()); err != nil {
			return err
		}

		if !ref.Peeled().IsZero() {
			if _, err := fmt.Fprintf(w, "^%s\n", ref.Peeled()); err != nil {
				return err
			}
		}
	}

	return nil
}
