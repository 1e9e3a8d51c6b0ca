// Package revlist implements the reachability walk used to prepare packs
// and transports: every object reachable from a set of wants but not from a
// set of haves.
package revlist

import (
	"context"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/filemode"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// Objects returns every object reachable from wants but not reachable from
// haves: commits through their parents, each commit's tree with all
// sub-trees, and every blob therein. Each object is visited at most once;
// the order is stable for equal inputs.
func Objects(ctx context.Context, s storer.EncodedObjectStorer, wants, haves []plumbing.ObjectID) ([]plumbing.ObjectID, error) {
	seen, err := reachable(ctx, s, haves, map[plumbing.ObjectID]bool{})
	if err != nil {
		return nil, err
	}

	var result []plumbing.ObjectID
	visit := func(h plumbing.ObjectID) {
		if !seen[h] {
			seen[h] = true
			result = append(result, h)
		}
	}

	for _, want := range wants {
		if err := walkObject(ctx, s, want, seen, visit); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// reachable marks every object reachable from the given roots into acc.
func reachable(ctx context.Context, s storer.EncodedObjectStorer, roots []plumbing.ObjectID, acc map[plumbing.ObjectID]bool) (map[plumbing.ObjectID]bool, error) {
	for _, root := range roots {
		if err := walkObject(ctx, s, root, map[plumbing.ObjectID]bool{}, func(h plumbing.ObjectID) {
			acc[h] = true
		}); err != nil {
			return nil, err
		}
	}

	return acc, nil
}

// walkObject visits the object graph under h, skipping objects already in
// skip, calling visit for every newly reached object.
func walkObject(ctx context.Context, s storer.EncodedObjectStorer, h plumbing.ObjectID, skip map[plumbing.ObjectID]bool, visit func(plumbing.ObjectID)) error {
	frontier := []plumbing.ObjectID{h}
	local := map[plumbing.ObjectID]bool{}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur := frontier[0]
		frontier = frontier[1:]

		if skip[cur] || local[cur] {
			continue
		}
		local[cur] = true

		obj, err := s.EncodedObject(plumbing.AnyObject, cur)
		if err != nil {
			return err
		}

		visit(cur)

		switch obj.Type() {
		case plumbing.CommitObject:
			tree, err := object.GetCommitTree(s, cur)
			if err != nil {
				return err
			}

			parents, err := object.GetCommitParents(s, cur)
			if err != nil {
				return err
			}

			frontier = append(frontier, tree)
			frontier = append(frontier, parents...)

		case plumbing.TreeObject:
			tree, err := object.GetTree(s, cur)
			if err != nil {
				return err
			}

			if err := walkTree(ctx, s, tree, skip, local, visit); err != nil {
				return err
			}

		case plumbing.TagObject:
			tag, err := object.GetTag(s, cur)
			if err != nil {
				return err
			}

			frontier = append(frontier, tag.Target)
		}
	}

	return nil
}

// walkTree visits every entry under tree, recursively.
func walkTree(ctx context.Context, s storer.EncodedObjectStorer, tree *object.Tree, skip, local map[plumbing.ObjectID]bool, visit func(plumbing.ObjectID)) error {
	w := object.NewTreeWalker(tree, true, nil)
	defer w.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, entry, err := w.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		// gitlinks point outside this object database
		if entry.Mode == filemode.Submodule {
			continue
		}

		if skip[entry.Hash] || local[entry.Hash] {
			continue
		}
		local[entry.Hash] = true

		visit(entry.Hash)
	}
}
