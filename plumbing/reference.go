package plumbing

import (
	"fmt"
	"strings"
)

const (
	refPrefix       = "refs/"
	refHeadPrefix   = refPrefix + "heads/"
	refTagPrefix    = refPrefix + "tags/"
	refRemotePrefix = refPrefix + "remotes/"
	refNotePrefix   = refPrefix + "notes/"
	symrefPrefix    = "ref: "
)

// HEAD is the name of the HEAD reference.
const HEAD ReferenceName = "HEAD"

// Stash points at the most recent stash commit.
const Stash ReferenceName = "refs/stash"

// ReferenceType reference type's.
type ReferenceType int8

const (
	InvalidReference  ReferenceType = 0
	HashReference     ReferenceType = 1
	SymbolicReference ReferenceType = 2
)

func (r ReferenceType) String() string {
	switch r {
	case InvalidReference:
		return "invalid-reference"
	case HashReference:
		return "hash-reference"
	case SymbolicReference:
		return "symbolic-reference"
	}

	return ""
}

// ReferenceStorage tells where a reference record was read from.
type ReferenceStorage int8

const (
	// UnknownStorage is used for references built in memory.
	UnknownStorage ReferenceStorage = iota
	// LooseStorage means the reference has its own record.
	LooseStorage
	// PackedStorage means the reference comes from the packed table.
	PackedStorage
)

// ReferenceName reference name's.
type ReferenceName string

// NewBranchReferenceName returns a reference name for the given branch.
func NewBranchReferenceName(name string) ReferenceName {
	return ReferenceName(refHeadPrefix + name)
}

// NewTagReferenceName returns a reference name for the given tag.
func NewTagReferenceName(name string) ReferenceName {
	return ReferenceName(refTagPrefix + name)
}

// NewRemoteReferenceName returns a reference name for the given remote branch.
func NewRemoteReferenceName(remote, name string) ReferenceName {
	return ReferenceName(refRemotePrefix + remote + "/" + name)
}

func (r ReferenceName) String() string {
	return string(r)
}

// IsBranch check if a reference is a branch.
func (r ReferenceName) IsBranch() bool {
	return strings.HasPrefix(string(r), refHeadPrefix)
}

// IsTag check if a reference is a tag.
func (r ReferenceName) IsTag() bool {
	return strings.HasPrefix(string(r), refTagPrefix)
}

// IsRemote check if a reference is a remote.
func (r ReferenceName) IsRemote() bool {
	return strings.HasPrefix(string(r), refRemotePrefix)
}

// Short returns the short name of the reference: the name without the
// well-known prefix.
func (r ReferenceName) Short() string {
	s := string(r)
	for _, p := range []string{refHeadPrefix, refTagPrefix, refRemotePrefix, refNotePrefix} {
		if strings.HasPrefix(s, p) {
			return s[len(p):]
		}
	}
	return s
}

// Reference is a named pointer: either directly at an object id, or at
// another reference (symbolic).
type Reference struct {
	t       ReferenceType
	n       ReferenceName
	h       ObjectID
	target  ReferenceName
	storage ReferenceStorage
	// peeled carries the target commit of an annotated tag when the
	// reference was read from a packed table that recorded it.
	peeled ObjectID
}

// NewReferenceFromStrings creates a reference from name and target as
// strings, detecting the symbolic `ref: ` form.
func NewReferenceFromStrings(name, target string) *Reference {
	n := ReferenceName(name)

	if strings.HasPrefix(target, symrefPrefix) {
		target := ReferenceName(target[len(symrefPrefix):])
		return NewSymbolicReference(n, target)
	}

	return NewHashReference(n, NewObjectID(target))
}

// NewSymbolicReference creates a new symbolic reference.
func NewSymbolicReference(n, target ReferenceName) *Reference {
	return &Reference{
		t:      SymbolicReference,
		n:      n,
		target: target,
	}
}

// NewHashReference creates a new direct reference.
func NewHashReference(n ReferenceName, h ObjectID) *Reference {
	return &Reference{
		t: HashReference,
		n: n,
		h: h,
	}
}

// Type returns the type of a reference.
func (r *Reference) Type() ReferenceType {
	return r.t
}

// Name returns the name of a reference.
func (r *Reference) Name() ReferenceName {
	return r.n
}

// Hash returns the hash of a hash reference.
func (r *Reference) Hash() ObjectID {
	return r.h
}

// Target returns the target of a symbolic reference.
func (r *Reference) Target() ReferenceName {
	return r.target
}

// Storage returns where the reference record was read from.
func (r *Reference) Storage() ReferenceStorage {
	return r.storage
}

// WithStorage returns a copy annotated with the given storage tag.
func (r Reference) WithStorage(s ReferenceStorage) *Reference {
	r.storage = s
	return &r
}

// Peeled returns the recorded peeled target of an annotated tag, or ZeroID.
func (r *Reference) Peeled() ObjectID {
	return r.peeled
}

// WithPeeled returns a copy annotated with the peeled target id.
func (r Reference) WithPeeled(id ObjectID) *Reference {
	r.peeled = id
	return &r
}

// Strings dump a reference as a [2]string.
func (r *Reference) Strings() [2]string {
	var o [2]string
	o[0] = r.Name().String()

	switch r.Type() {
	case HashReference:
		o[1] = r.Hash().String()
	case SymbolicReference:
		o[1] = symrefPrefix + r.Target().String()
	}

	return o
}

func (r *Reference) String() string {
	s := r.Strings()
	return fmt.Sprintf("%s %s", s[1], s[0])
}
