package object

import (
	"context"
	"time"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// WalkOptions bound an ancestry walk.
type WalkOptions struct {
	// Limit caps the number of commits yielded; zero means unbounded.
	Limit int
	// Since drops commits committed strictly before the given time.
	Since *time.Time
	// Until drops commits committed strictly after the given time.
	Until *time.Time
}

// WalkAncestry yields the ids of the commits reachable from starts, in
// topological order: every commit before any of its parents. Ties are
// broken by committer time, newest first.
func WalkAncestry(ctx context.Context, s storer.EncodedObjectStorer, starts []plumbing.ObjectID, opts WalkOptions, cb func(plumbing.ObjectID) error) error {
	// first pass: collect the reachable subgraph and count children per
	// commit, so parents are only released once every child was yielded
	parents := make(map[plumbing.ObjectID][]plumbing.ObjectID)
	pending := make(map[plumbing.ObjectID]int)
	when := make(map[plumbing.ObjectID]time.Time)

	var frontier, roots []plumbing.ObjectID
	seen := make(map[plumbing.ObjectID]bool)
	for _, h := range starts {
		if !seen[h] {
			seen[h] = true
			frontier = append(frontier, h)
			roots = append(roots, h)
		}
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		h := frontier[0]
		frontier = frontier[1:]

		c, err := GetCommit(s, h)
		if err != nil {
			return err
		}

		parents[h] = c.ParentHashes
		when[h] = c.Committer.When

		for _, p := range c.ParentHashes {
			pending[p]++
			if !seen[p] {
				seen[p] = true
				frontier = append(frontier, p)
			}
		}
	}

	// second pass: emit roots of the child-count ordering, newest first
	heap := binaryheap.NewWith(func(a, b interface{}) int {
		ha, hb := a.(plumbing.ObjectID), b.(plumbing.ObjectID)
		wa, wb := when[ha], when[hb]
		switch {
		case wa.After(wb):
			return -1
		case wb.After(wa):
			return 1
		default:
			return ha.Compare(hb)
		}
	})

	for _, h := range roots {
		if pending[h] == 0 {
			heap.Push(h)
		}
	}

	emitted := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		v, ok := heap.Pop()
		if !ok {
			return nil
		}

		h := v.(plumbing.ObjectID)

		include := true
		if opts.Since != nil && when[h].Before(*opts.Since) {
			include = false
		}
		if opts.Until != nil && when[h].After(*opts.Until) {
			include = false
		}

		if include {
			if err := cb(h); err != nil {
				if err == storer.ErrStop {
					return nil
				}

				return err
			}

			emitted++
			if opts.Limit > 0 && emitted >= opts.Limit {
				return nil
			}
		}

		for _, p := range parents[h] {
			pending[p]--
			if pending[p] == 0 {
				heap.Push(p)
			}
		}
	}
}

// IsAncestor reports whether a is an ancestor of b (or equal to it),
// walking from b toward the roots with a visited set.
func IsAncestor(ctx context.Context, s storer.EncodedObjectStorer, a, b plumbing.ObjectID) (bool, error) {
	if a == b {
		return true, nil
	}

	seen := map[plumbing.ObjectID]bool{b: true}
	frontier := []plumbing.ObjectID{b}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		h := frontier[0]
		frontier = frontier[1:]

		parents, err := GetCommitParents(s, h)
		if err != nil {
			return false, err
		}

		for _, p := range parents {
			if p == a {
				return true, nil
			}

			if !seen[p] {
				seen[p] = true
				frontier = append(frontier, p)
			}
		}
	}

	return false, nil
}
