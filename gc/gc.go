// Package gc implements the repack controller: it walks the objects
// reachable from every reference, delta-compresses what pays for itself
// within a sliding window, streams everything into a new pack, and
// optionally prunes the loose duplicates.
package gc

import (
	"context"
	"io"
	"sort"
	"time"

	"dario.cat/mergo"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/idxfile"
	"github.com/go-vcs/gitstore/plumbing/format/packfile"
	"github.com/go-vcs/gitstore/plumbing/revlist"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

// Storer is the storage surface the controller needs: object access, the
// reference list to root the walk, loose bookkeeping, and atomic pack
// writes.
type Storer interface {
	storer.EncodedObjectStorer
	storer.ReferenceStorer
	storer.LooseObjectStorer
	storer.PackedObjectStorer

	// WritePack writes a pack and its idx atomically: neither is visible
	// until both are complete.
	WritePack(write func(pack io.Writer) (plumbing.ObjectID, error), writeIdx func(idx io.Writer) error) (plumbing.ObjectID, error)
}

// Options tune a repack run. Zero values take the defaults.
type Options struct {
	// Threshold is the minimum loose object count for a run to proceed;
	// below it the run is skipped.
	Threshold int
	// MinInterval is the shortest time between two effective runs.
	MinInterval time.Duration
	// Window is how many prior similar objects are considered as delta
	// bases.
	Window int
	// Factor is the size ratio a delta must beat to be stored instead of
	// the full object.
	Factor float64
	// Prune removes the loose copy of every object stored in the new
	// pack. Pruning never happens unless requested.
	Prune bool
	// LockPath, when set, takes an exclusive file lock for the duration
	// of the run, serializing repacks across processes.
	LockPath string
	// Logger receives progress events; nil means silent.
	Logger *zap.Logger
}

var defaultOptions = Options{
	Threshold: 1,
	Window:    10,
	Factor:    0.5,
}

// Stats reports what a run did.
type Stats struct {
	// Skipped is true when the threshold or interval gate stopped the run.
	Skipped bool
	// Objects is the number of objects written into the pack.
	Objects int
	// Deltas is the number of objects stored as deltas.
	Deltas int
	// BytesSaved is the total size difference between full objects and
	// their stored deltas, best effort.
	BytesSaved int64
	// PackChecksum identifies the written pack.
	PackChecksum plumbing.ObjectID
	// Pruned is the number of loose objects removed.
	Pruned int
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Controller runs repacks with interval gating.
type Controller struct {
	s       Storer
	opts    Options
	log     *zap.Logger
	lastRun time.Time

	// pendingIdx carries the index between the pack and idx halves of an
	// atomic WritePack.
	pendingIdx *idxfile.MemoryIndex
}

// NewController returns a Controller over the given storage. Options are
// merged over the defaults.
func NewController(s Storer, opts Options) (*Controller, error) {
	if err := mergo.Merge(&opts, defaultOptions); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Controller{s: s, opts: opts, log: log}, nil
}

// Run executes one repack pass.
func (c *Controller) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	loose, err := c.s.CountLooseObjects()
	if err != nil {
		return nil, err
	}

	if loose < c.opts.Threshold {
		c.log.Debug("gc skipped", zap.Int("loose", loose), zap.Int("threshold", c.opts.Threshold))
		return &Stats{Skipped: true}, nil
	}

	if c.opts.MinInterval > 0 && !c.lastRun.IsZero() && time.Since(c.lastRun) < c.opts.MinInterval {
		return &Stats{Skipped: true}, nil
	}

	if c.opts.LockPath != "" {
		lock := flock.New(c.opts.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			c.log.Debug("gc skipped, lock held elsewhere", zap.String("lock", c.opts.LockPath))
			return &Stats{Skipped: true}, nil
		}
		defer lock.Unlock()
	}

	stats, err := c.repack(ctx)
	if err != nil {
		return nil, err
	}

	c.lastRun = time.Now()
	stats.Duration = time.Since(start)

	c.log.Info("gc done",
		zap.Int("objects", stats.Objects),
		zap.Int("deltas", stats.Deltas),
		zap.Int64("bytes_saved", stats.BytesSaved),
		zap.Int("pruned", stats.Pruned),
		zap.Duration("duration", stats.Duration),
	)

	return stats, nil
}

// packObject is one object scheduled for the pack, possibly as a delta.
type packObject struct {
	hash    plumbing.ObjectID
	typ     plumbing.ObjectType
	content []byte

	base  plumbing.ObjectID
	delta []byte
}

func (c *Controller) repack(ctx context.Context) (*Stats, error) {
	wants, err := c.refTips()
	if err != nil {
		return nil, err
	}

	if len(wants) == 0 {
		return &Stats{Skipped: true}, nil
	}

	hashes, err := revlist.Objects(ctx, c.s, wants, nil)
	if err != nil {
		return nil, err
	}

	objects := make([]*packObject, 0, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obj, err := c.s.EncodedObject(plumbing.AnyObject, h)
		if err != nil {
			return nil, err
		}

		content, err := readContent(obj)
		if err != nil {
			return nil, err
		}

		objects = append(objects, &packObject{hash: h, typ: obj.Type(), content: content})
	}

	stats := &Stats{Objects: len(objects)}
	c.selectDeltas(objects, stats)

	checksum, err := c.s.WritePack(
		func(w io.Writer) (plumbing.ObjectID, error) {
			pw, err := packfile.NewWriter(w, uint32(len(objects)))
			if err != nil {
				return plumbing.ZeroID, err
			}

			for _, o := range objects {
				if err := ctx.Err(); err != nil {
					return plumbing.ZeroID, err
				}

				if o.delta != nil {
					err = pw.AddOfsDelta(o.hash, o.base, o.delta)
				} else {
					err = pw.AddObject(o.hash, o.typ, o.content)
				}
				if err != nil {
					return plumbing.ZeroID, err
				}
			}

			sum, entries, err := pw.Finalize()
			if err != nil {
				return plumbing.ZeroID, err
			}

			c.pendingIdx = idxfile.NewMemoryIndex(entries, sum)
			return sum, nil
		},
		func(w io.Writer) error {
			_, err := idxfile.NewEncoder(w).Encode(c.pendingIdx)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	stats.PackChecksum = checksum

	if c.opts.Prune {
		for _, o := range objects {
			if c.s.HasLooseObject(o.hash) {
				if err := c.s.DeleteLooseObject(o.hash); err != nil {
					return nil, err
				}

				stats.Pruned++
			}
		}
	}

	return stats, nil
}

// selectDeltas walks the objects sorted by type and descending size,
// trying each of the previous objects in the window as a delta base. A
// delta is kept when it undercuts the full size by the configured factor.
// Bases always precede their deltas in the final pack order.
func (c *Controller) selectDeltas(objects []*packObject, stats *Stats) {
	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].typ != objects[j].typ {
			return objects[i].typ < objects[j].typ
		}

		return len(objects[i].content) > len(objects[j].content)
	})

	for i, o := range objects {
		if o.typ != plumbing.BlobObject && o.typ != plumbing.TreeObject {
			continue
		}

		lo := i - c.opts.Window
		if lo < 0 {
			lo = 0
		}

		limit := int(float64(len(o.content)) * c.opts.Factor)

		for j := i - 1; j >= lo; j-- {
			base := objects[j]
			if base.typ != o.typ || base.delta != nil {
				continue
			}

			delta := packfile.DiffDelta(base.content, o.content)
			if len(delta) < limit {
				o.base = base.hash
				o.delta = delta
				stats.Deltas++
				stats.BytesSaved += int64(len(o.content) - len(delta))
				break
			}
		}
	}
}

func (c *Controller) refTips() ([]plumbing.ObjectID, error) {
	iter, err := c.s.IterReferences()
	if err != nil {
		return nil, err
	}

	var tips []plumbing.ObjectID
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || ref.Hash().IsZero() {
			return nil
		}

		tips = append(tips, ref.Hash())
		return nil
	})

	return tips, err
}

func readContent(obj plumbing.EncodedObject) ([]byte, error) {
	r, err := obj.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
