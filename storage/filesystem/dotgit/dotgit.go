// Package dotgit manages the on-disk layout of a git directory: loose
// objects under objects/xx, packs under objects/pack, loose references,
// the packed-refs table, HEAD, the index file and the operation markers.
package dotgit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/packedrefs"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

const (
	suffixIdx  = ".idx"
	suffixPack = ".pack"
	prefixPack = "pack-"

	objectsPath = "objects"
	packPath    = "pack"
	refsPath    = "refs"

	packedRefsPath = "packed-refs"
	configPath     = "config"
	indexPath      = "index"

	tmpPackedRefsPrefix = "._packed-refs"
)

var (
	// ErrIdxNotFound is returned when a pack misses its idx sibling.
	ErrIdxNotFound = errors.New("idx file not found")
	// ErrPackfileNotFound is returned when a pack file is missing.
	ErrPackfileNotFound = errors.New("packfile not found")
	// ErrSymRefTargetNotFound is returned when a symbolic reference points
	// at a missing reference.
	ErrSymRefTargetNotFound = errors.New("symbolic reference target not found")
)

// DotGit represents a .git directory over a billy filesystem.
type DotGit struct {
	fs billy.Filesystem
}

// New returns a DotGit over the given filesystem, rooted at the git
// directory.
func New(fs billy.Filesystem) *DotGit {
	return &DotGit{fs: fs}
}

// Fs returns the underlying filesystem.
func (d *DotGit) Fs() billy.Filesystem {
	return d.fs
}

// Initialize creates the directory skeleton and an initial HEAD.
func (d *DotGit) Initialize() error {
	mustExists := []string{
		d.fs.Join(objectsPath, "info"),
		d.fs.Join(objectsPath, packPath),
		d.fs.Join(refsPath, "heads"),
		d.fs.Join(refsPath, "tags"),
		"info",
	}

	for _, path := range mustExists {
		if err := d.fs.MkdirAll(path, os.ModeDir|os.ModePerm); err != nil {
			return err
		}
	}

	if _, err := d.fs.Stat("HEAD"); os.IsNotExist(err) {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
		return d.SetRef(head, nil)
	}

	return nil
}

// --- loose objects -------------------------------------------------------

func (d *DotGit) objectPath(h plumbing.ObjectID) string {
	hex := h.String()
	return d.fs.Join(objectsPath, hex[0:2], hex[2:40])
}

// Object returns the loose object file for the given id.
func (d *DotGit) Object(h plumbing.ObjectID) (billy.File, error) {
	f, err := d.fs.Open(d.objectPath(h))
	if os.IsNotExist(err) {
		return nil, plumbing.ErrObjectNotFound
	}

	return f, err
}

// HasObject reports whether a loose object exists for the given id.
func (d *DotGit) HasObject(h plumbing.ObjectID) bool {
	_, err := d.fs.Stat(d.objectPath(h))
	return err == nil
}

// NewObject writes a loose object file: content is written to a temporary
// file and renamed into place once complete, so readers never observe a
// partial object.
func (d *DotGit) NewObject(h plumbing.ObjectID, write func(io.Writer) error) (err error) {
	path := d.objectPath(h)
	if _, serr := d.fs.Stat(path); serr == nil {
		return nil // loose objects are immutable, first write wins
	}

	tmp := d.fs.Join(objectsPath, fmt.Sprintf("tmp_obj_%s", uuid.NewString()))
	f, err := d.fs.Create(tmp)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = d.fs.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		_ = f.Close()
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	return d.fs.Rename(tmp, path)
}

// DeleteLooseObject removes the loose object file for the given id.
func (d *DotGit) DeleteLooseObject(h plumbing.ObjectID) error {
	err := d.fs.Remove(d.objectPath(h))
	if os.IsNotExist(err) {
		return plumbing.ErrObjectNotFound
	}

	return err
}

// ForEachObjectHash calls fun for every loose object in the database.
func (d *DotGit) ForEachObjectHash(fun func(plumbing.ObjectID) error) error {
	dirs, err := d.fs.ReadDir(objectsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, dir := range dirs {
		if !dir.IsDir() || len(dir.Name()) != 2 {
			continue
		}

		files, err := d.fs.ReadDir(d.fs.Join(objectsPath, dir.Name()))
		if err != nil {
			return err
		}

		for _, f := range files {
			if len(f.Name()) != 38 {
				continue
			}

			h := plumbing.NewObjectID(dir.Name() + f.Name())
			if h.IsZero() {
				continue
			}

			if err := fun(h); err != nil {
				return err
			}
		}
	}

	return nil
}

// --- packs ---------------------------------------------------------------

// ObjectPacks returns the checksums of the packs in the objects/pack
// directory.
func (d *DotGit) ObjectPacks() ([]plumbing.ObjectID, error) {
	files, err := d.fs.ReadDir(d.fs.Join(objectsPath, packPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var packs []plumbing.ObjectID
	for _, f := range files {
		n := f.Name()
		if !strings.HasPrefix(n, prefixPack) || !strings.HasSuffix(n, suffixPack) {
			continue
		}

		h := plumbing.NewObjectID(strings.TrimSuffix(strings.TrimPrefix(n, prefixPack), suffixPack))
		if h.IsZero() {
			continue
		}

		packs = append(packs, h)
	}

	return packs, nil
}

// ObjectPackPath returns the path of the pack or idx file with the given
// checksum.
func (d *DotGit) ObjectPackPath(hash plumbing.ObjectID, extension string) string {
	return d.fs.Join(objectsPath, packPath, fmt.Sprintf("%s%s.%s", prefixPack, hash.String(), extension))
}

// ObjectPack returns the pack file with the given checksum.
func (d *DotGit) ObjectPack(hash plumbing.ObjectID) (billy.File, error) {
	f, err := d.fs.Open(d.ObjectPackPath(hash, "pack"))
	if os.IsNotExist(err) {
		return nil, ErrPackfileNotFound
	}

	return f, err
}

// ObjectPackIdx returns the idx file of the pack with the given checksum.
func (d *DotGit) ObjectPackIdx(hash plumbing.ObjectID) (billy.File, error) {
	f, err := d.fs.Open(d.ObjectPackPath(hash, "idx"))
	if os.IsNotExist(err) {
		return nil, ErrIdxNotFound
	}

	return f, err
}

// DeleteOldObjectPackAndIndex removes a pack and its idx.
func (d *DotGit) DeleteOldObjectPackAndIndex(hash plumbing.ObjectID) error {
	if err := d.fs.Remove(d.ObjectPackPath(hash, "idx")); err != nil {
		return err
	}

	return d.fs.Remove(d.ObjectPackPath(hash, "pack"))
}

// WritePack streams a new pack through write, which returns the pack
// checksum, and its idx through writeIdx. The pack and its idx are
// written to temporary names and renamed once both are complete, so a
// partial pack is never advertised.
func (d *DotGit) WritePack(write func(pack io.Writer) (plumbing.ObjectID, error), writeIdx func(idx io.Writer) error) (checksum plumbing.ObjectID, err error) {
	dir := d.fs.Join(objectsPath, packPath)
	tmp := d.fs.Join(dir, fmt.Sprintf("tmp_pack_%s", uuid.NewString()))

	f, err := d.fs.Create(tmp)
	if err != nil {
		return plumbing.ZeroID, err
	}

	defer func() {
		if err != nil {
			_ = d.fs.Remove(tmp)
		}
	}()

	checksum, err = write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return plumbing.ZeroID, err
	}

	tmpIdx := d.fs.Join(dir, fmt.Sprintf("tmp_idx_%s", uuid.NewString()))
	fi, err := d.fs.Create(tmpIdx)
	if err != nil {
		return plumbing.ZeroID, err
	}

	defer func() {
		if err != nil {
			_ = d.fs.Remove(tmpIdx)
		}
	}()

	err = writeIdx(fi)
	if cerr := fi.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return plumbing.ZeroID, err
	}

	if err = d.fs.Rename(tmp, d.ObjectPackPath(checksum, "pack")); err != nil {
		return plumbing.ZeroID, err
	}

	if err = d.fs.Rename(tmpIdx, d.ObjectPackPath(checksum, "idx")); err != nil {
		return plumbing.ZeroID, err
	}

	return checksum, nil
}

// --- references ----------------------------------------------------------

// Ref reads a reference: loose first, then the packed table.
func (d *DotGit) Ref(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	ref, err := d.readLooseRef(name)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, err
	}

	return d.packedRef(name)
}

func (d *DotGit) readLooseRef(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	f, err := d.fs.Open(name.String())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.ErrReferenceNotFound
		}

		return nil, err
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	line := strings.TrimSpace(string(b))
	ref := plumbing.NewReferenceFromStrings(name.String(), line)

	if ref.Type() == plumbing.HashReference && !plumbing.IsValidObjectID(line) {
		return nil, fmt.Errorf("malformed loose reference %s", name)
	}

	return ref.WithStorage(plumbing.LooseStorage), nil
}

func (d *DotGit) packedRef(name plumbing.ReferenceName) (*plumbing.Reference, error) {
	refs, err := d.PackedRefs()
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		if ref.Name() == name {
			return ref, nil
		}
	}

	return nil, plumbing.ErrReferenceNotFound
}

// PackedRefs reads the packed table.
func (d *DotGit) PackedRefs() ([]*plumbing.Reference, error) {
	f, err := d.fs.Open(packedRefsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}
	defer f.Close()

	return packedrefs.Decode(f)
}

// SetRef writes a loose reference. With old set, the write is a
// compare-and-swap protected by the file lock: it fails with
// ErrRefHasChanged if the current value differs.
func (d *DotGit) SetRef(ref, old *plumbing.Reference) (err error) {
	var content string
	switch ref.Type() {
	case plumbing.SymbolicReference:
		content = fmt.Sprintf("ref: %s\n", ref.Target())
	case plumbing.HashReference:
		content = fmt.Sprintln(ref.Hash().String())
	}

	path := ref.Name().String()
	if dir := dirPart(path); dir != "" {
		if err := d.fs.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return err
		}
	}

	f, err := d.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(f, &err)

	// the per-name lock makes check-and-write atomic against concurrent
	// writers of the same reference
	if err = f.Lock(); err != nil {
		return err
	}

	defer func() {
		if uerr := f.Unlock(); err == nil {
			err = uerr
		}
	}()

	if old != nil {
		cur, cerr := d.Ref(ref.Name())
		if cerr != nil && !errors.Is(cerr, plumbing.ErrReferenceNotFound) {
			return cerr
		}

		if cur == nil || cur.Hash() != old.Hash() {
			return ErrRefHasChanged
		}
	}

	if err = f.Truncate(0); err != nil {
		return err
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, err = f.Write([]byte(content))
	return err
}

// ErrRefHasChanged is returned by SetRef when the compare-and-swap loses.
var ErrRefHasChanged = errors.New("reference has changed concurrently")

// RemoveRef removes a reference from both the loose tier and the packed
// table, pruning directories left empty, but never refs/ itself.
func (d *DotGit) RemoveRef(name plumbing.ReferenceName) error {
	path := name.String()

	looseErr := d.fs.Remove(path)
	if looseErr != nil && !os.IsNotExist(looseErr) {
		return looseErr
	}

	if err := d.pruneEmptyParents(path); err != nil {
		return err
	}

	return d.rewritePackedRefsWithout(name)
}

func dirPart(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func (d *DotGit) pruneEmptyParents(path string) error {
	for dir := dirPart(path); dir != "" && dir != refsPath; dir = dirPart(dir) {
		fis, err := d.fs.ReadDir(dir)
		if err != nil || len(fis) > 0 {
			return nil
		}

		if err := d.fs.Remove(dir); err != nil {
			return nil
		}
	}

	return nil
}

func (d *DotGit) rewritePackedRefsWithout(name plumbing.ReferenceName) (err error) {
	refs, err := d.PackedRefs()
	if err != nil || len(refs) == 0 {
		return err
	}

	kept := refs[:0]
	removed := false
	for _, ref := range refs {
		if ref.Name() == name {
			removed = true
			continue
		}

		kept = append(kept, ref)
	}

	if !removed {
		return nil
	}

	return d.writePackedRefs(kept)
}

// writePackedRefs rewrites the packed table through a temporary file.
func (d *DotGit) writePackedRefs(refs []*plumbing.Reference) (err error) {
	tmp := tmpPackedRefsPrefix + uuid.NewString()
	f, err := d.fs.Create(tmp)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = d.fs.Remove(tmp)
		}
	}()

	if err = packedrefs.Encode(f, refs); err != nil {
		_ = f.Close()
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	return d.fs.Rename(tmp, packedRefsPath)
}

// CountLooseRefs returns the number of loose references.
func (d *DotGit) CountLooseRefs() (int, error) {
	var count int
	err := d.forEachLooseRef(func(*plumbing.Reference) error {
		count++
		return nil
	})

	return count, err
}

// Refs returns every reference, with loose entries shadowing packed ones.
// HEAD is not included.
func (d *DotGit) Refs() ([]*plumbing.Reference, error) {
	seen := make(map[plumbing.ReferenceName]bool)
	var refs []*plumbing.Reference

	if err := d.forEachLooseRef(func(ref *plumbing.Reference) error {
		seen[ref.Name()] = true
		refs = append(refs, ref)
		return nil
	}); err != nil {
		return nil, err
	}

	packed, err := d.PackedRefs()
	if err != nil {
		return nil, err
	}

	for _, ref := range packed {
		if !seen[ref.Name()] {
			refs = append(refs, ref)
		}
	}

	return refs, nil
}

func (d *DotGit) forEachLooseRef(fn func(*plumbing.Reference) error) error {
	return d.walkLooseRefs(refsPath, fn)
}

func (d *DotGit) walkLooseRefs(dir string, fn func(*plumbing.Reference) error) error {
	fis, err := d.fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, fi := range fis {
		path := d.fs.Join(dir, fi.Name())
		if fi.IsDir() {
			if err := d.walkLooseRefs(path, fn); err != nil {
				return err
			}
			continue
		}

		ref, err := d.readLooseRef(plumbing.ReferenceName(path))
		if err != nil {
			return err
		}

		if err := fn(ref); err != nil {
			return err
		}
	}

	return nil
}

// PackRefs migrates every loose reference into the packed table and
// removes the loose copies.
func (d *DotGit) PackRefs() error {
	var loose []*plumbing.Reference
	if err := d.forEachLooseRef(func(ref *plumbing.Reference) error {
		if ref.Type() == plumbing.HashReference {
			loose = append(loose, ref)
		}
		return nil
	}); err != nil {
		return err
	}

	if len(loose) == 0 {
		return nil
	}

	packed, err := d.PackedRefs()
	if err != nil {
		return err
	}

	merged := make(map[plumbing.ReferenceName]*plumbing.Reference, len(packed)+len(loose))
	order := make([]plumbing.ReferenceName, 0, len(packed)+len(loose))
	for _, ref := range packed {
		merged[ref.Name()] = ref
		order = append(order, ref.Name())
	}

	for _, ref := range loose {
		if _, ok := merged[ref.Name()]; !ok {
			order = append(order, ref.Name())
		}
		merged[ref.Name()] = ref.WithStorage(plumbing.PackedStorage)
	}

	out := make([]*plumbing.Reference, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}

	if err := d.writePackedRefs(out); err != nil {
		return err
	}

	for _, ref := range loose {
		if err := d.fs.Remove(ref.Name().String()); err != nil && !os.IsNotExist(err) {
			return err
		}

		if err := d.pruneEmptyParents(ref.Name().String()); err != nil {
			return err
		}
	}

	return nil
}

// --- plain files (HEAD, markers, config, index) --------------------------

// ReadFile returns the content of a file relative to the git directory.
func (d *DotGit) ReadFile(name string) ([]byte, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// WriteFile writes a file relative to the git directory, creating parent
// directories as needed.
func (d *DotGit) WriteFile(name string, content []byte) (err error) {
	if dir := dirPart(name); dir != "" {
		if err := d.fs.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return err
		}
	}

	f, err := d.fs.Create(name)
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(f, &err)

	_, err = f.Write(content)
	return err
}

// RemoveFile removes a file relative to the git directory; a missing file
// is not an error.
func (d *DotGit) RemoveFile(name string) error {
	err := d.fs.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

// FileExists reports whether a file exists relative to the git directory.
func (d *DotGit) FileExists(name string) bool {
	_, err := d.fs.Stat(name)
	return err == nil
}

// ConfigPath returns the name of the config file.
func (d *DotGit) ConfigPath() string { return configPath }

// IndexPath returns the name of the index file.
func (d *DotGit) IndexPath() string { return indexPath }
