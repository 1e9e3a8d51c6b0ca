package object

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/storer"
	"github.com/go-vcs/gitstore/utils/ioutil"
)

const (
	beginpgp  string = "-----BEGIN PGP SIGNATURE-----"
	endpgp    string = "-----END PGP SIGNATURE-----"
	headerpgp string = "gpgsig"
)

// Commit points to a single tree, marking it as what the project looked
// like at a certain point in time. It contains meta-information about that
// point in time, such as a timestamp, the author of the changes since the
// last commit, a pointer to the previous commit(s), etc.
type Commit struct {
	// Hash of the commit object.
	Hash plumbing.ObjectID
	// Author is the original author of the commit.
	Author Signature
	// Committer is the one performing the commit, might be different from
	// Author.
	Committer Signature
	// PGPSignature is the PGP signature of the commit, carried verbatim.
	PGPSignature string
	// Message is the commit message, contains arbitrary text.
	Message string
	// TreeHash is the hash of the root tree of the commit.
	TreeHash plumbing.ObjectID
	// ParentHashes are the hashes of the parent commits of the commit.
	ParentHashes []plumbing.ObjectID
	// Encoding is the encoding header of the commit, when present.
	Encoding string

	s storer.EncodedObjectStorer
}

// GetCommit gets a commit from an object storer and decodes it.
func GetCommit(s storer.EncodedObjectStorer, h plumbing.ObjectID) (*Commit, error) {
	o, err := s.EncodedObject(plumbing.CommitObject, h)
	if err != nil {
		return nil, err
	}

	return DecodeCommit(s, o)
}

// DecodeCommit decodes an encoded object into a *Commit.
func DecodeCommit(s storer.EncodedObjectStorer, o plumbing.EncodedObject) (*Commit, error) {
	c := &Commit{s: s}
	if err := c.Decode(o); err != nil {
		return nil, err
	}

	return c, nil
}

// ID returns the object ID of the commit.
func (c *Commit) ID() plumbing.ObjectID {
	return c.Hash
}

// Type returns the type of object. It always returns plumbing.CommitObject.
func (c *Commit) Type() plumbing.ObjectType {
	return plumbing.CommitObject
}

// Tree returns the Tree from the commit.
func (c *Commit) Tree() (*Tree, error) {
	return GetTree(c.s, c.TreeHash)
}

// Parents returns the parent commits of the commit.
func (c *Commit) Parents() ([]*Commit, error) {
	out := make([]*Commit, 0, len(c.ParentHashes))
	for _, h := range c.ParentHashes {
		p, err := GetCommit(c.s, h)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

// NumParents returns the number of parents in a commit.
func (c *Commit) NumParents() int {
	return len(c.ParentHashes)
}

// File returns the file with the given path from the commit's tree.
func (c *Commit) File(path string) (*File, error) {
	t, err := c.Tree()
	if err != nil {
		return nil, err
	}

	return t.File(path)
}

// Decode transforms a plumbing.EncodedObject into a Commit struct.
func (c *Commit) Decode(o plumbing.EncodedObject) (err error) {
	if o.Type() != plumbing.CommitObject {
		return ErrUnsupportedObject
	}

	c.Hash = o.Hash()

	r, err := o.Reader()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(r, &err)

	br := bufio.NewReader(r)

	var message bool
	var pgpsig bool
	var msgbuf bytes.Buffer
	for {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if pgpsig {
			if len(line) > 0 && line[0] == ' ' {
				line = bytes.TrimLeft(line, " ")
				c.PGPSignature += string(line)
				continue
			}

			pgpsig = false
		}

		if !message {
			line = bytes.TrimRight(line, "\n")
			if len(line) == 0 {
				message = true
				continue
			}

			split := bytes.SplitN(line, []byte{' '}, 2)

			var data []byte
			if len(split) == 2 {
				data = split[1]
			}

			switch string(split[0]) {
			case "tree":
				c.TreeHash = plumbing.NewObjectID(string(data))
			case "parent":
				c.ParentHashes = append(c.ParentHashes, plumbing.NewObjectID(string(data)))
			case "author":
				c.Author.Decode(data)
			case "committer":
				c.Committer.Decode(data)
			case "encoding":
				c.Encoding = string(data)
			case headerpgp:
				c.PGPSignature += string(data) + "\n"
				pgpsig = true
			}
		} else {
			msgbuf.Write(line)
		}

		if err == io.EOF {
			break
		}
	}

	c.Message = msgbuf.String()
	return nil
}

// Encode transforms a Commit into a plumbing.EncodedObject.
func (c *Commit) Encode(o plumbing.EncodedObject) (err error) {
	o.SetType(plumbing.CommitObject)
	w, err := o.Writer()
	if err != nil {
		return err
	}

	defer ioutil.CheckClose(w, &err)

	if _, err = fmt.Fprintf(w, "tree %s\n", c.TreeHash.String()); err != nil {
		return err
	}

	for _, parent := range c.ParentHashes {
		if _, err = fmt.Fprintf(w, "parent %s\n", parent.String()); err != nil {
			return err
		}
	}

	if _, err = fmt.Fprint(w, "author "); err != nil {
		return err
	}

	if err = c.Author.Encode(w); err != nil {
		return err
	}

	if _, err = fmt.Fprint(w, "\ncommitter "); err != nil {
		return err
	}

	if err = c.Committer.Encode(w); err != nil {
		return err
	}

	if c.Encoding != "" {
		if _, err = fmt.Fprintf(w, "\nencoding %s", c.Encoding); err != nil {
			return err
		}
	}

	if c.PGPSignature != "" {
		if _, err = fmt.Fprint(w, "\n"+headerpgp+" "); err != nil {
			return err
		}

		// Split all the signature lines and re-write with a left padding and
		// newline. Use join for this so it's clear that a newline should not be
		// added after this section, as it will be added when the message is
		// printed.
		signature := strings.TrimSuffix(c.PGPSignature, "\n")
		lines := strings.Split(signature, "\n")
		if _, err = fmt.Fprint(w, strings.Join(lines, "\n ")); err != nil {
			return err
		}
	}

	if _, err = fmt.Fprintf(w, "\n\n%s", c.Message); err != nil {
		return err
	}

	return err
}

// StoreCommit stores the commit and returns its id.
func StoreCommit(s storer.EncodedObjectStorer, c *Commit) (plumbing.ObjectID, error) {
	o := s.NewEncodedObject()
	if err := c.Encode(o); err != nil {
		return plumbing.ZeroID, err
	}

	return s.SetEncodedObject(o)
}

// commitHeader scans only the header of a stored commit, avoiding the full
// decode for parent and tree lookups.
func commitHeader(s storer.EncodedObjectStorer, h plumbing.ObjectID) (tree plumbing.ObjectID, parents []plumbing.ObjectID, err error) {
	o, err := s.EncodedObject(plumbing.CommitObject, h)
	if err != nil {
		return plumbing.ZeroID, nil, err
	}

	r, err := o.Reader()
	if err != nil {
		return plumbing.ZeroID, nil, err
	}
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF || line == "\n" {
			break
		}
		if err != nil {
			return plumbing.ZeroID, nil, err
		}

		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "tree "):
			tree = plumbing.NewObjectID(line[len("tree "):])
		case strings.HasPrefix(line, "parent "):
			parents = append(parents, plumbing.NewObjectID(line[len("parent "):]))
		case strings.HasPrefix(line, "author "):
			// headers of interest end before identities
			return tree, parents, nil
		}
	}

	return tree, parents, nil
}

// GetCommitParents returns the parent ids of a commit reading only its
// header.
func GetCommitParents(s storer.EncodedObjectStorer, h plumbing.ObjectID) ([]plumbing.ObjectID, error) {
	_, parents, err := commitHeader(s, h)
	return parents, err
}

// GetCommitTree returns the root tree id of a commit reading only its
// header.
func GetCommitTree(s storer.EncodedObjectStorer, h plumbing.ObjectID) (plumbing.ObjectID, error) {
	tree, _, err := commitHeader(s, h)
	return tree, err
}

// ErrCommitNotFound reports a commit id unknown to the store.
var ErrCommitNotFound = errors.New("commit not found")
