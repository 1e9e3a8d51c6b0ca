package object

import (
	"context"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// mergeBaseFlags are the colors painted over commits during the frontier
// search.
const (
	flagOurs   = 1 << iota // reachable from a
	flagTheirs             // reachable from b
	flagStale              // an ancestor of another candidate
)

// MergeBase returns the best common ancestor(s) of a and b. More than one
// id is returned only when the bases are incomparable with each other
// (criss-cross histories).
func MergeBase(ctx context.Context, s storer.EncodedObjectStorer, a, b plumbing.ObjectID) ([]plumbing.ObjectID, error) {
	if a == b {
		return []plumbing.ObjectID{a}, nil
	}

	flags := map[plumbing.ObjectID]int{}

	// breadth-first colored frontier: expand both colors together; a
	// commit holding both colors is a candidate base and its ancestry is
	// marked stale so it cannot produce further candidates
	frontier := []plumbing.ObjectID{a, b}
	flags[a] |= flagOurs
	flags[b] |= flagTheirs

	var candidates []plumbing.ObjectID

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h := frontier[0]
		frontier = frontier[1:]

		f := flags[h]

		if f&flagOurs != 0 && f&flagTheirs != 0 && f&flagStale == 0 {
			candidates = append(candidates, h)
			f |= flagStale
			flags[h] = f
		}

		parents, err := GetCommitParents(s, h)
		if err != nil {
			return nil, err
		}

		for _, p := range parents {
			prev := flags[p]
			next := prev | (f & (flagOurs | flagTheirs | flagStale))
			if next == prev {
				continue
			}

			flags[p] = next
			frontier = append(frontier, p)
		}
	}

	// drop candidates that were reached as ancestors of other candidates
	var out []plumbing.ObjectID
	for i, c := range candidates {
		stale := false
		for j, other := range candidates {
			if i == j {
				continue
			}

			ok, err := IsAncestor(ctx, s, c, other)
			if err != nil {
				return nil, err
			}

			if ok {
				stale = true
				break
			}
		}

		if !stale {
			out = append(out, c)
		}
	}

	return out, nil
}
