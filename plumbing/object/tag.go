package object

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

// Tag represents an annotated tag object. It points to a single git object
// of any type, but tags typically are applied to commits.
type Tag struct {
	// Hash of the tag.
	Hash plumbing.ObjectID
	// Name of the tag.
	Name string
	// Tagger is the one who created the tag.
	Tagger Signature
	// Message is an arbitrary text message.
	Message string
	// PGPSignature is the PGP signature of the tag, carried verbatim.
	PGPSignature string
	// TargetType is the object type of the target.
	TargetType plumbing.ObjectType
	// Target is the hash of the target object.
	Target plumbing.ObjectID

	s storer.EncodedObjectStorer
}

// GetTag gets a tag from an object storer and decodes it.
func GetTag(s storer.EncodedObjectStorer, h plumbing.ObjectID) (*Tag, error) {
	o, err := s.EncodedObject(plumbing.TagObject, h)
	if err != nil {
		return nil, err
	}

	return DecodeTag(s, o)
}

// DecodeTag decodes an encoded object into a *Tag.
func DecodeTag(s storer.EncodedObjectStorer, o plumbing.EncodedObject) (*Tag, error) {
	t := &Tag{s: s}
	if err := t.Decode(o); err != nil {
		return nil, err
	}

	return t, nil
}

// ID returns the object ID of the tag.
func (t *Tag) ID() plumbing.ObjectID {
	return t.Hash
}

// Type returns the type of object. It always returns plumbing.TagObject.
func (t *Tag) Type() plumbing.ObjectType {
	return plumbing.TagObject
}

// Decode transforms a plumbing.EncodedObject into a Tag struct.
func (t *Tag) Decode(o plumbing.EncodedObject) (err error) {
	if o.Type() != plumbing.TagObject {
		return ErrUnsupportedObject
	}

	t.Hash = o.Hash()

	r, err := o.Reader()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(r, &err)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}

		line = bytes.TrimRight(line, "\n")
		if len(line) == 0 {
			break // Start of message
		}

		split := bytes.SplitN(line, []byte{' '}, 2)
		switch string(split[0]) {
		case "object":
			t.Target = plumbing.NewObjectID(string(split[1]))
		case "type":
			t.TargetType, err = plumbing.ParseObjectType(string(split[1]))
			if err != nil {
				return fmt.Errorf("%w: bad tag target type", plumbing.ErrCorruptObject)
			}
		case "tag":
			t.Name = string(split[1])
		case "tagger":
			t.Tagger.Decode(split[1])
		}

		if err == io.EOF {
			return nil
		}
	}

	data, err := io.ReadAll(br)
	if err != nil {
		return err
	}

	var pgpsig bool
	var msgbuf bytes.Buffer
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if pgpsig {
			t.PGPSignature += string(line)
			continue
		}

		if bytes.HasPrefix(line, []byte(beginpgp)) {
			pgpsig = true
			t.PGPSignature += string(line)
			continue
		}

		msgbuf.Write(line)
	}

	t.Message = msgbuf.String()
	return nil
}

// Encode transforms a Tag into a plumbing.EncodedObject.
func (t *Tag) Encode(o plumbing.EncodedObject) (err error) {
	o.SetType(plumbing.TagObject)

	w, err := o.Writer()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(w, &err)

	if _, err = fmt.Fprintf(w,
		"object %s\ntype %s\ntag %s\ntagger ",
		t.Target.String(), t.TargetType.Bytes(), t.Name); err != nil {
		return err
	}

	if err = t.Tagger.Encode(w); err != nil {
		return err
	}

	if _, err = fmt.Fprint(w, "\n\n"); err != nil {
		return err
	}

	if _, err = fmt.Fprint(w, t.Message); err != nil {
		return err
	}

	if t.PGPSignature != "" {
		if _, err = fmt.Fprint(w, t.PGPSignature); err != nil {
			return err
		}
	}

	return err
}

// StoreTag stores the tag and returns its id.
func StoreTag(s storer.EncodedObjectStorer, t *Tag) (plumbing.ObjectID, error) {
	o := s.NewEncodedObject()
	if err := t.Encode(o); err != nil {
		return plumbing.ZeroID, err
	}

	return s.SetEncodedObject(o)
}

// TagTarget returns the id the tag ultimately points at. With peel set,
// tag-to-tag chains are followed until a non-tag object id is reached.
func TagTarget(s storer.EncodedObjectStorer, h plumbing.ObjectID, peel bool) (plumbing.ObjectID, plumbing.ObjectType, error) {
	t, err := GetTag(s, h)
	if err != nil {
		return plumbing.ZeroID, plumbing.InvalidObject, err
	}

	if !peel {
		return t.Target, t.TargetType, nil
	}

	seen := map[plumbing.ObjectID]bool{h: true}
	for t.TargetType == plumbing.TagObject {
		if seen[t.Target] {
			return plumbing.ZeroID, plumbing.InvalidObject,
				fmt.Errorf("%w: circular tag chain", plumbing.ErrCorruptObject)
		}
		seen[t.Target] = true

		t, err = GetTag(s, t.Target)
		if err != nil {
			return plumbing.ZeroID, plumbing.InvalidObject, err
		}
	}

	return t.Target, t.TargetType, nil
}
