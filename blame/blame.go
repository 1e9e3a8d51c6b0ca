// Package blame implements per-line authorship: a queue of candidates is
// walked from the starting commit toward the roots, splitting line regions
// at every diff until each line is attributed to the commit that last
// modified it.
package blame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/object"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// ErrFileNotFound is returned when the blamed path does not exist at the
// starting commit.
var ErrFileNotFound = errors.New("file not found at starting commit")

// Options tune a blame run.
type Options struct {
	// FollowRenames enables searching a parent for a similar blob when
	// the path is absent there.
	FollowRenames bool
	// RenameScore is the minimum similarity (0-100) for a rename match;
	// zero means the default.
	RenameScore int
}

// Entry attributes a contiguous run of result lines to a commit.
type Entry struct {
	// Commit that introduced or last modified the lines.
	Commit plumbing.ObjectID
	// Author of that commit.
	Author object.Signature
	// SourcePath is the path of the file at that commit (differs from the
	// blamed path across renames).
	SourcePath string
	// ResultStart is the first attributed line in the blamed file,
	// 1-based.
	ResultStart int
	// SourceStart is the matching first line in the source file, 1-based.
	SourceStart int
	// Length is the number of attributed lines.
	Length int
}

// Result is a complete blame of one file at one commit.
type Result struct {
	// Path is the blamed path.
	Path string
	// Lines is the number of lines of the blamed file.
	Lines int
	// Entries tile [1..Lines] exactly, sorted by ResultStart.
	Entries []Entry
}

// Line returns the entry covering the given 1-based line.
func (r *Result) Line(n int) (*Entry, error) {
	if n < 1 || n > r.Lines {
		return nil, fmt.Errorf("line %d out of range [1, %d]", n, r.Lines)
	}

	i := sort.Search(len(r.Entries), func(i int) bool {
		return r.Entries[i].ResultStart+r.Entries[i].Length > n
	})

	if i == len(r.Entries) || r.Entries[i].ResultStart > n {
		return nil, fmt.Errorf("line %d not attributed", n)
	}

	return &r.Entries[i], nil
}

// SourceLine returns the line number of the given result line in its
// source file.
func (r *Result) SourceLine(n int) (int, error) {
	e, err := r.Line(n)
	if err != nil {
		return 0, err
	}

	return e.SourceStart + (n - e.ResultStart), nil
}

// region is a contiguous run of result lines mapped onto source lines of
// one version of the file.
type region struct {
	resultStart int // 1-based line in the blamed file
	sourceStart int // 1-based line in the candidate's version
	length      int
}

// candidate pairs a commit and path with the regions still to attribute
// there.
type candidate struct {
	commit  *object.Commit
	path    string
	regions []region
}

// Blame computes per-line authorship for path at the given commit.
func Blame(ctx context.Context, s storer.EncodedObjectStorer, start plumbing.ObjectID, path string, opts Options) (*Result, error) {
	if opts.RenameScore == 0 {
		opts.RenameScore = object.DefaultRenameScore
	}

	b := &blamer{
		ctx:   ctx,
		s:     s,
		opts:  opts,
		blobs: map[plumbing.ObjectID][]byte{},
	}

	return b.run(start, path)
}

type blamer struct {
	ctx  context.Context
	s    storer.EncodedObjectStorer
	opts Options

	blobs   map[plumbing.ObjectID][]byte
	blamed  []Entry
	pending int
}

func (b *blamer) run(start plumbing.ObjectID, path string) (*Result, error) {
	commit, err := object.GetCommit(b.s, start)
	if err != nil {
		return nil, err
	}

	blobHash, ok, err := b.pathBlob(commit, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrFileNotFound
	}

	content, err := b.blobContent(blobHash)
	if err != nil {
		return nil, err
	}

	lines := countLines(content)
	result := &Result{Path: path, Lines: lines}
	if lines == 0 {
		return result, nil
	}

	b.pending = lines

	queue := binaryheap.NewWith(func(x, y interface{}) int {
		a, c := x.(*candidate), y.(*candidate)
		wa, wc := a.commit.Committer.When, c.commit.Committer.When
		switch {
		case wa.After(wc):
			return -1
		case wc.After(wa):
			return 1
		default:
			return a.commit.Hash.Compare(c.commit.Hash)
		}
	})

	// queued tracks candidates by (commit, path) so regions merge instead
	// of duplicating work
	queued := map[string]*candidate{}

	push := func(c *object.Commit, path string, regions []region) {
		if len(regions) == 0 {
			return
		}

		key := c.Hash.String() + ":" + path
		if existing, ok := queued[key]; ok {
			existing.regions = mergeRegions(existing.regions, regions)
			return
		}

		cand := &candidate{commit: c, path: path, regions: regions}
		queued[key] = cand
		queue.Push(cand)
	}

	push(commit, path, []region{{resultStart: 1, sourceStart: 1, length: lines}})

	for b.pending > 0 {
		if err := b.ctx.Err(); err != nil {
			return nil, err
		}

		v, ok := queue.Pop()
		if !ok {
			break
		}

		cand := v.(*candidate)
		delete(queued, cand.commit.Hash.String()+":"+cand.path)

		if err := b.process(cand, push); err != nil {
			return nil, err
		}
	}

	sort.Slice(b.blamed, func(i, j int) bool {
		return b.blamed[i].ResultStart < b.blamed[j].ResultStart
	})

	result.Entries = coalesceEntries(b.blamed)

	if err := b.fillAuthors(result.Entries); err != nil {
		return nil, err
	}

	return result, nil
}

// process attributes or forwards the regions of one candidate.
func (b *blamer) process(cand *candidate, push func(*object.Commit, string, []region)) error {
	parents, err := cand.commit.Parents()
	if err != nil {
		return err
	}

	if len(parents) == 0 {
		b.blameAll(cand)
		return nil
	}

	childBlob, ok, err := b.pathBlob(cand.commit, cand.path)
	if err != nil {
		return err
	}
	if !ok {
		// the path vanished under us; attribute what is left
		b.blameAll(cand)
		return nil
	}

	if len(parents) == 1 {
		return b.processSingleParent(cand, parents[0], childBlob, push)
	}

	return b.processMerge(cand, parents, childBlob, push)
}

func (b *blamer) processSingleParent(cand *candidate, parent *object.Commit, childBlob plumbing.ObjectID, push func(*object.Commit, string, []region)) error {
	parentPath := cand.path
	parentBlob, ok, err := b.pathBlob(parent, parentPath)
	if err != nil {
		return err
	}

	if !ok && b.opts.FollowRenames {
		renamed, rok, rerr := b.findRename(parent, cand.commit, cand.path, childBlob)
		if rerr != nil {
			return rerr
		}

		if rok {
			parentPath = renamed
			parentBlob, ok, err = b.pathBlob(parent, parentPath)
			if err != nil {
				return err
			}
		}
	}

	if !ok {
		// created in this commit
		b.blameAll(cand)
		return nil
	}

	if parentBlob == childBlob {
		push(parent, parentPath, cand.regions)
		return nil
	}

	parentRegions, changed, err := b.splitRegions(parentBlob, childBlob, cand.regions)
	if err != nil {
		return err
	}

	b.blameRegions(cand, changed)
	push(parent, parentPath, parentRegions)
	return nil
}

func (b *blamer) processMerge(cand *candidate, parents []*object.Commit, childBlob plumbing.ObjectID, push func(*object.Commit, string, []region)) error {
	// a parent carrying the identical blob takes the whole candidate
	for _, parent := range parents {
		parentBlob, ok, err := b.pathBlob(parent, cand.path)
		if err != nil {
			return err
		}

		if ok && parentBlob == childBlob {
			push(parent, cand.path, cand.regions)
			return nil
		}
	}

	unassigned := cand.regions
	for _, parent := range parents {
		if len(unassigned) == 0 {
			break
		}

		parentBlob, ok, err := b.pathBlob(parent, cand.path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		parentRegions, changed, err := b.splitRegions(parentBlob, childBlob, unassigned)
		if err != nil {
			return err
		}

		push(parent, cand.path, parentRegions)
		unassigned = changed
	}

	// whatever no parent accounts for is conflict resolution done in the
	// merge itself
	b.blameRegions(cand, unassigned)
	return nil
}

// splitRegions diffs the parent and child blobs and splits regions into
// the part that maps back to the parent and the part changed by the child.
func (b *blamer) splitRegions(parentBlob, childBlob plumbing.ObjectID, regions []region) (parentRegions, changed []region, err error) {
	parentContent, err := b.blobContent(parentBlob)
	if err != nil {
		return nil, nil, err
	}

	childContent, err := b.blobContent(childBlob)
	if err != nil {
		return nil, nil, err
	}

	mapping := parentLineMapping(splitLines(parentContent), splitLines(childContent))

	for _, reg := range regions {
		i := 0
		for i < reg.length {
			child := reg.sourceStart + i // 1-based child line

			if child > len(mapping) || mapping[child-1] < 0 {
				j := i
				for j < reg.length {
					c := reg.sourceStart + j
					if c <= len(mapping) && mapping[c-1] >= 0 {
						break
					}
					j++
				}

				changed = append(changed, region{
					resultStart: reg.resultStart + i,
					sourceStart: child,
					length:      j - i,
				})
				i = j
				continue
			}

			// extend a run of consecutively mapped lines
			j := i
			for j < reg.length {
				c := reg.sourceStart + j
				if c > len(mapping) || mapping[c-1] < 0 {
					break
				}
				if j > i && mapping[c-1] != mapping[c-2]+1 {
					break
				}
				j++
			}

			parentRegions = append(parentRegions, region{
				resultStart: reg.resultStart + i,
				sourceStart: mapping[child-1] + 1, // back to 1-based
				length:      j - i,
			})
			i = j
		}
	}

	return parentRegions, changed, nil
}

// findRename searches the parent tree for a blob similar to the child's,
// among paths that no longer exist in the child tree.
func (b *blamer) findRename(parent, child *object.Commit, childPath string, childBlob plumbing.ObjectID) (string, bool, error) {
	childContent, err := b.blobContent(childBlob)
	if err != nil {
		return "", false, err
	}

	childIdx := object.NewSimilarityIndex(childContent)
	if childIdx == nil {
		return "", false, nil // binary files are not rename candidates
	}

	parentFiles, err := object.FlattenTree(b.s, parent.TreeHash)
	if err != nil {
		return "", false, err
	}

	childFiles, err := object.FlattenTree(b.s, child.TreeHash)
	if err != nil {
		return "", false, err
	}

	bestScore := 0
	bestPath := ""
	for path, entry := range parentFiles {
		if _, stillThere := childFiles[path]; stillThere {
			continue
		}

		if entry.Hash == childBlob {
			return path, true, nil
		}

		content, err := b.blobContent(entry.Hash)
		if err != nil {
			return "", false, err
		}

		score := childIdx.Score(object.NewSimilarityIndex(content))
		if score > bestScore {
			bestScore = score
			bestPath = path
		}
	}

	if bestScore >= b.opts.RenameScore {
		return bestPath, true, nil
	}

	return "", false, nil
}

func (b *blamer) blameAll(cand *candidate) {
	b.blameRegions(cand, cand.regions)
}

func (b *blamer) blameRegions(cand *candidate, regions []region) {
	for _, reg := range regions {
		if reg.length == 0 {
			continue
		}

		b.blamed = append(b.blamed, Entry{
			Commit:      cand.commit.Hash,
			SourcePath:  cand.path,
			ResultStart: reg.resultStart,
			SourceStart: reg.sourceStart,
			Length:      reg.length,
		})

		b.pending -= reg.length
	}
}

func (b *blamer) fillAuthors(entries []Entry) error {
	authors := map[plumbing.ObjectID]object.Signature{}
	for i := range entries {
		author, ok := authors[entries[i].Commit]
		if !ok {
			c, err := object.GetCommit(b.s, entries[i].Commit)
			if err != nil {
				return err
			}

			author = c.Author
			authors[entries[i].Commit] = author
		}

		entries[i].Author = author
	}

	return nil
}

// pathBlob returns the blob id of path at the given commit.
func (b *blamer) pathBlob(c *object.Commit, path string) (plumbing.ObjectID, bool, error) {
	t, err := c.Tree()
	if err != nil {
		return plumbing.ZeroID, false, err
	}

	entry, err := t.FindEntry(path)
	if err != nil {
		return plumbing.ZeroID, false, nil
	}

	return entry.Hash, true, nil
}

func (b *blamer) blobContent(h plumbing.ObjectID) ([]byte, error) {
	if content, ok := b.blobs[h]; ok {
		return content, nil
	}

	blob, err := object.GetBlob(b.s, h)
	if err != nil {
		return nil, err
	}

	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	b.blobs[h] = buf
	return buf, nil
}

// mergeRegions merges two region lists, coalescing regions that are
// adjacent in both result and source coordinates.
func mergeRegions(a, b []region) []region {
	out := append(append([]region(nil), a...), b...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].resultStart < out[j].resultStart
	})

	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.resultStart+last.length == r.resultStart &&
				last.sourceStart+last.length == r.sourceStart {
				last.length += r.length
				continue
			}
		}

		merged = append(merged, r)
	}

	return merged
}

// coalesceEntries merges adjacent entries sharing commit and source path
// with contiguous line ranges.
func coalesceEntries(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Commit == e.Commit &&
				last.SourcePath == e.SourcePath &&
				last.ResultStart+last.Length == e.ResultStart &&
				last.SourceStart+last.Length == e.SourceStart {
				last.Length += e.Length
				continue
			}
		}

		out = append(out, e)
	}

	return out
}
