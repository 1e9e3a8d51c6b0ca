package gitstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
)

// ErrIllegalState is returned when an operation is attempted in a
// repository state whose capabilities forbid it.
var ErrIllegalState = errors.New("operation not allowed in current repository state")

// RepositoryState describes the in-progress operation of a working copy,
// derived from which state markers exist.
type RepositoryState int

const (
	// StateBare is a repository without a working copy.
	StateBare RepositoryState = iota
	// StateSafe means no operation is in progress.
	StateSafe
	// StateMerging means a merge is in progress with unresolved conflicts.
	StateMerging
	// StateMergingResolved means a merge is in progress with every
	// conflict resolved.
	StateMergingResolved
	// StateCherryPicking means a cherry-pick is in progress with
	// unresolved conflicts.
	StateCherryPicking
	// StateCherryPickingResolved means a cherry-pick is in progress with
	// every conflict resolved.
	StateCherryPickingResolved
	// StateReverting means a revert is in progress with unresolved
	// conflicts.
	StateReverting
	// StateRevertingResolved means a revert is in progress with every
	// conflict resolved.
	StateRevertingResolved
	// StateRebasing means a classic rebase is in progress.
	StateRebasing
	// StateRebasingMerge means a merge-backend rebase is in progress.
	StateRebasingMerge
	// StateRebasingInteractive means an interactive rebase is in progress.
	StateRebasingInteractive
	// StateApply means a mailbox apply is in progress.
	StateApply
	// StateBisecting means a bisect is in progress.
	StateBisecting
)

func (s RepositoryState) String() string {
	switch s {
	case StateBare:
		return "BARE"
	case StateSafe:
		return "SAFE"
	case StateMerging:
		return "MERGING"
	case StateMergingResolved:
		return "MERGING_RESOLVED"
	case StateCherryPicking:
		return "CHERRY_PICKING"
	case StateCherryPickingResolved:
		return "CHERRY_PICKING_RESOLVED"
	case StateReverting:
		return "REVERTING"
	case StateRevertingResolved:
		return "REVERTING_RESOLVED"
	case StateRebasing:
		return "REBASING"
	case StateRebasingMerge:
		return "REBASING_MERGE"
	case StateRebasingInteractive:
		return "REBASING_INTERACTIVE"
	case StateApply:
		return "APPLY"
	case StateBisecting:
		return "BISECTING"
	}

	return "UNKNOWN"
}

// Capabilities lists what a repository state allows.
type Capabilities struct {
	CanCheckout  bool
	CanCommit    bool
	CanResetHead bool
	CanAmend     bool
	IsRebasing   bool
}

var stateCapabilities = map[RepositoryState]Capabilities{
	StateBare:                  {},
	StateSafe:                  {CanCheckout: true, CanCommit: true, CanResetHead: true, CanAmend: true},
	StateMerging:               {CanResetHead: true},
	StateMergingResolved:       {CanCommit: true, CanResetHead: true},
	StateCherryPicking:         {CanResetHead: true},
	StateCherryPickingResolved: {CanCommit: true, CanResetHead: true},
	StateReverting:             {CanResetHead: true},
	StateRevertingResolved:     {CanCommit: true, CanResetHead: true},
	StateRebasing:              {CanAmend: true, IsRebasing: true},
	StateRebasingMerge:         {CanAmend: true, IsRebasing: true},
	StateRebasingInteractive:   {CanAmend: true, IsRebasing: true},
	StateApply:                 {CanAmend: true},
	StateBisecting:             {CanCheckout: true},
}

// Capabilities returns the capability tuple of the state.
func (s RepositoryState) Capabilities() Capabilities {
	return stateCapabilities[s]
}

// Operation names an action gated by the state capability matrix.
type Operation int

const (
	OpCheckout Operation = iota
	OpCommit
	OpResetHead
	OpAmend
)

func (o Operation) String() string {
	switch o {
	case OpCheckout:
		return "checkout"
	case OpCommit:
		return "commit"
	case OpResetHead:
		return "reset-head"
	case OpAmend:
		return "amend"
	}

	return "unknown"
}

// Validate returns ErrIllegalState when the operation is forbidden in the
// given state.
func (o Operation) Validate(s RepositoryState) error {
	caps := s.Capabilities()

	allowed := false
	switch o {
	case OpCheckout:
		allowed = caps.CanCheckout
	case OpCommit:
		allowed = caps.CanCommit
	case OpResetHead:
		allowed = caps.CanResetHead
	case OpAmend:
		allowed = caps.CanAmend
	}

	if !allowed {
		return fmt.Errorf("%w: %s while %s", ErrIllegalState, o, s)
	}

	return nil
}

// Marker file names. They match the git layout so file-backed working
// copies interoperate with native tooling.
const (
	markerMergeHead      = "MERGE_HEAD"
	markerMergeMsg       = "MERGE_MSG"
	markerOrigHead       = "ORIG_HEAD"
	markerCherryPickHead = "CHERRY_PICK_HEAD"
	markerRevertHead     = "REVERT_HEAD"
	markerBisectLog      = "BISECT_LOG"

	markerRebaseApplyDir    = "rebase-apply"
	markerRebaseApplyFile   = "rebase-apply/applying"
	markerRebaseApplyHead   = "rebase-apply/head-name"
	markerRebaseMergeDir    = "rebase-merge"
	markerRebaseMergeHead   = "rebase-merge/head-name"
	markerRebaseInteractive = "rebase-merge/interactive"
	markerRebaseOnto        = "rebase-merge/onto"
	markerRebaseMsgnum      = "rebase-merge/msgnum"
	markerRebaseEnd         = "rebase-merge/end"
)

// MarkerStore gives access to the operation state markers of one working
// copy. The file backend maps markers to files in the git directory; other
// backends keep them in their own metadata tier.
type MarkerStore interface {
	// ReadMarker returns the marker content; ok is false when absent.
	ReadMarker(name string) (data []byte, ok bool, err error)
	// WriteMarker writes the marker.
	WriteMarker(name string, data []byte) error
	// RemoveMarker removes the marker; removing an absent marker is not
	// an error.
	RemoveMarker(name string) error
	// HasMarker reports whether the marker exists.
	HasMarker(name string) bool
}

// MergeState describes an in-progress merge.
type MergeState struct {
	MergeHead plumbing.ObjectID
	OrigHead  plumbing.ObjectID
	Message   string
}

// RebasePhase distinguishes the rebase flavors.
type RebasePhase int

const (
	RebaseClassic RebasePhase = iota
	RebaseMerge
	RebaseInteractive
)

// RebaseState describes an in-progress rebase.
type RebaseState struct {
	Phase       RebasePhase
	Onto        plumbing.ObjectID
	Head        string
	CurrentStep int
	TotalSteps  int
}

// CherryPickState describes an in-progress cherry-pick.
type CherryPickState struct {
	Head plumbing.ObjectID
}

// RevertState describes an in-progress revert.
type RevertState struct {
	Head plumbing.ObjectID
}

// BisectState describes an in-progress bisect.
type BisectState struct {
	Log string
}

func markerID(ms MarkerStore, name string) (plumbing.ObjectID, bool) {
	data, ok, err := ms.ReadMarker(name)
	if err != nil || !ok {
		return plumbing.ZeroID, false
	}

	id := strings.TrimSpace(string(data))
	if !plumbing.IsValidObjectID(id) {
		return plumbing.ZeroID, false
	}

	return plumbing.NewObjectID(id), true
}

func markerInt(ms MarkerStore, name string) int {
	data, ok, err := ms.ReadMarker(name)
	if err != nil || !ok {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return n
}
