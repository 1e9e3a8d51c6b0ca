package index

import (
	"github.com/go-vcs/gitstore/plumbing"
)

// Editor performs targeted modifications of an index. Edits accumulate and
// are merged against the current entries in sorted order by Finish, which
// atomically replaces the collection.
type Editor struct {
	idx      *Index
	applies  []applyEdit
	upserts  []*Entry
	removals []removal
	trees    []string
	err      error
}

type applyEdit struct {
	path  string
	stage Stage
	// apply computes a replacement from the existing entry (nil when the
	// path is absent); returning nil deletes the entry.
	apply func(existing *Entry) *Entry
}

type removal struct {
	path string
	// stage is the stage to drop, or allStages.
	stage Stage
}

const allStages = Stage(-1)

// NewEditor returns an Editor over the index.
func (i *Index) NewEditor() *Editor {
	return &Editor{idx: i}
}

// Add schedules a computed edit: apply receives the current entry at
// (path, stage), or nil, and returns the replacement; nil removes.
func (e *Editor) Add(path string, stage Stage, apply func(existing *Entry) *Entry) {
	if e.err != nil {
		return
	}

	if err := plumbing.CheckPath(path); err != nil {
		e.err = err
		return
	}

	e.applies = append(e.applies, applyEdit{path: path, stage: stage, apply: apply})
}

// Upsert schedules an entry to be inserted, replacing any entry with the
// same path and stage.
func (e *Editor) Upsert(entry *Entry) {
	if e.err != nil {
		return
	}

	if err := plumbing.CheckPath(entry.Name); err != nil {
		e.err = err
		return
	}

	e.upserts = append(e.upserts, entry)
}

// Remove schedules the removal of one stage of a path.
func (e *Editor) Remove(path string, stage Stage) {
	e.removals = append(e.removals, removal{path: path, stage: stage})
}

// RemoveAll schedules the removal of every stage of a path.
func (e *Editor) RemoveAll(path string) {
	e.removals = append(e.removals, removal{path: path, stage: allStages})
}

// RemoveTree schedules the removal of every path under the given directory
// prefix.
func (e *Editor) RemoveTree(prefix string) {
	e.trees = append(e.trees, prefix)
}

// Finish merges the edits with the current entries in sorted order,
// validates the result and atomically swaps it into the index. On error the
// index keeps its previous state.
func (e *Editor) Finish() error {
	if e.err != nil {
		return e.err
	}

	type key struct {
		path  string
		stage Stage
	}

	removeStage := map[key]bool{}
	removeAll := map[string]bool{}
	for _, r := range e.removals {
		if r.stage == allStages {
			removeAll[r.path] = true
			continue
		}
		removeStage[key{r.path, r.stage}] = true
	}

	applies := map[key]applyEdit{}
	for _, a := range e.applies {
		applies[key{a.path, a.stage}] = a
	}

	upserts := map[key]*Entry{}
	for _, u := range e.upserts {
		upserts[key{u.Name, u.Stage}] = u
	}

	dropped := func(path string) bool {
		for _, prefix := range e.trees {
			if hasPathPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	var out []*Entry
	consumed := map[key]bool{}

	for _, cur := range e.idx.Entries {
		k := key{cur.Name, cur.Stage}

		switch {
		case dropped(cur.Name), removeAll[cur.Name], removeStage[k]:
			continue
		case upserts[k] != nil:
			continue // replaced below
		}

		if a, ok := applies[k]; ok {
			consumed[k] = true
			if next := a.apply(cur); next != nil {
				next.Name = a.path
				next.Stage = a.stage
				out = append(out, next)
			}
			continue
		}

		out = append(out, cur)
	}

	for _, a := range e.applies {
		k := key{a.path, a.stage}
		if consumed[k] {
			continue
		}

		if next := a.apply(nil); next != nil {
			next.Name = a.path
			next.Stage = a.stage
			out = append(out, next)
		}
	}

	for _, u := range e.upserts {
		out = append(out, u)
	}

	sortEntries(out)

	if err := validate(out); err != nil {
		return err
	}

	e.idx.Entries = out
	return nil
}
