// Package sqlite is a storage backend over a SQL database, using the pure
// Go sqlite driver. The schema is managed with embedded goose migrations;
// reference check-and-set runs inside a transaction, making it
// linearizable per name.
package sqlite

import (
	"bytes"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/plumbing"
	"github.com/go-vcs/gitstore/plumbing/format/index"
	"github.com/go-vcs/gitstore/plumbing/storer"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	indexKey  = "index"
	configKey = "config"
)

// Storage implements the full storage contract over a SQL database.
type Storage struct {
	db  *sql.DB
	log *zap.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for migration and maintenance events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Storage) { s.log = l }
}

// Open opens (or creates) a sqlite-backed storage at path and applies
// pending migrations.
func Open(path string, opts ...Option) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	return NewStorage(db, opts...)
}

// NewStorage wraps an open database, applying pending migrations.
func NewStorage(db *sql.DB, opts ...Option) (*Storage, error) {
	s := &Storage{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	s.log.Debug("sqlite storage ready")
	return s, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// --- objects -------------------------------------------------------------

// NewEncodedObject returns a new in-memory object to be filled and stored.
func (s *Storage) NewEncodedObject() plumbing.EncodedObject {
	return &plumbing.MemoryObject{}
}

// SetEncodedObject stores the object; re-storing existing content is
// idempotent.
func (s *Storage) SetEncodedObject(o plumbing.EncodedObject) (plumbing.ObjectID, error) {
	h := o.Hash()

	r, err := o.Reader()
	if err != nil {
		return plumbing.ZeroID, err
	}

	buf := bytes.NewBuffer(nil)
	_, err = buf.ReadFrom(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return plumbing.ZeroID, err
	}

	_, err = s.db.Exec(
		`INSERT INTO objects (hash, type, size, content) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		h.String(), int(o.Type()), o.Size(), buf.Bytes(),
	)

	return h, err
}

// EncodedObject returns the object with the given type and hash.
func (s *Storage) EncodedObject(t plumbing.ObjectType, h plumbing.ObjectID) (plumbing.EncodedObject, error) {
	row := s.db.QueryRow(`SELECT type, content FROM objects WHERE hash = ?`, h.String())

	var typ int
	var content []byte
	if err := row.Scan(&typ, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, plumbing.ErrObjectNotFound
		}

		return nil, err
	}

	if t != plumbing.AnyObject && plumbing.ObjectType(typ) != t {
		return nil, plumbing.ErrObjectNotFound
	}

	obj := &plumbing.MemoryObject{}
	obj.SetType(plumbing.ObjectType(typ))
	if _, err := obj.Write(content); err != nil {
		return nil, err
	}

	return obj, nil
}

// HasEncodedObject returns nil if the object exists.
func (s *Storage) HasEncodedObject(h plumbing.ObjectID) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM objects WHERE hash = ?`, h.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return plumbing.ErrObjectNotFound
	}

	return err
}

// EncodedObjectSize returns the plaintext size of the object.
func (s *Storage) EncodedObjectSize(h plumbing.ObjectID) (int64, error) {
	var size int64
	err := s.db.QueryRow(`SELECT size FROM objects WHERE hash = ?`, h.String()).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, plumbing.ErrObjectNotFound
	}

	return size, err
}

// IterEncodedObjects returns an iterator over every object of the given
// type.
func (s *Storage) IterEncodedObjects(t plumbing.ObjectType) (storer.EncodedObjectIter, error) {
	query := `SELECT type, content FROM objects`
	args := []interface{}{}
	if t != plumbing.AnyObject {
		query += ` WHERE type = ?`
		args = append(args, int(t))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []plumbing.EncodedObject
	for rows.Next() {
		var typ int
		var content []byte
		if err := rows.Scan(&typ, &content); err != nil {
			return nil, err
		}

		obj := &plumbing.MemoryObject{}
		obj.SetType(plumbing.ObjectType(typ))
		if _, err := obj.Write(content); err != nil {
			return nil, err
		}

		objs = append(objs, obj)
	}

	return storer.NewEncodedObjectSliceIter(objs), rows.Err()
}

// DeleteEncodedObject removes the object with the given id.
func (s *Storage) DeleteEncodedObject(h plumbing.ObjectID) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM objects WHERE hash = ?`, h.String())
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// --- references ----------------------------------------------------------

// SetReference writes or overwrites a reference.
func (s *Storage) SetReference(ref *plumbing.Reference) error {
	if ref == nil {
		return nil
	}

	_, err := s.db.Exec(
		`INSERT INTO refs (name, target) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET target = excluded.target`,
		ref.Name().String(), ref.Strings()[1],
	)

	return err
}

// CheckAndSetReference atomically sets the reference if the current value
// matches old. The comparison and write share one transaction.
func (s *Storage) CheckAndSetReference(new, old *plumbing.Reference) (storer.CASResult, error) {
	if new == nil {
		return storer.CASResult{}, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return storer.CASResult{}, err
	}
	defer tx.Rollback()

	var target string
	err = tx.QueryRow(`SELECT target FROM refs WHERE name = ?`, new.Name().String()).Scan(&target)

	var cur *plumbing.Reference
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return storer.CASResult{}, err
	default:
		cur = plumbing.NewReferenceFromStrings(new.Name().String(), target)
	}

	switch {
	case old == nil && cur != nil:
		return storer.CASResult{OK: false, Current: cur}, nil
	case old != nil && cur == nil:
		return storer.CASResult{OK: false}, nil
	case old != nil && cur.Hash() != old.Hash():
		return storer.CASResult{OK: false, Current: cur}, nil
	}

	if _, err := tx.Exec(
		`INSERT INTO refs (name, target) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET target = excluded.target`,
		new.Name().String(), new.Strings()[1],
	); err != nil {
		return storer.CASResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return storer.CASResult{}, err
	}

	return storer.CASResult{OK: true, Current: new}, nil
}

// Reference returns the reference with the given name.
func (s *Storage) Reference(n plumbing.ReferenceName) (*plumbing.Reference, error) {
	var target string
	err := s.db.QueryRow(`SELECT target FROM refs WHERE name = ?`, n.String()).Scan(&target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, plumbing.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}

	return plumbing.NewReferenceFromStrings(n.String(), target), nil
}

// IterReferences returns an iterator over every reference.
func (s *Storage) IterReferences() (storer.ReferenceIter, error) {
	rows, err := s.db.Query(`SELECT name, target FROM refs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*plumbing.Reference
	for rows.Next() {
		var name, target string
		if err := rows.Scan(&name, &target); err != nil {
			return nil, err
		}

		refs = append(refs, plumbing.NewReferenceFromStrings(name, target))
	}

	return storer.NewReferenceSliceIter(refs), rows.Err()
}

// RemoveReference removes the reference with the given name.
func (s *Storage) RemoveReference(n plumbing.ReferenceName) error {
	_, err := s.db.Exec(`DELETE FROM refs WHERE name = ?`, n.String())
	return err
}

// CountLooseRefs returns the number of references: the SQL backend has a
// single tier.
func (s *Storage) CountLooseRefs() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM refs`).Scan(&n)
	return n, err
}

// PackRefs is a no-op: the SQL backend has a single tier.
func (s *Storage) PackRefs() error {
	return nil
}

// --- index and config ----------------------------------------------------

func (s *Storage) putMeta(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)

	return err
}

func (s *Storage) getMeta(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return value, err
}

// SetIndex serializes and stores the index.
func (s *Storage) SetIndex(idx *index.Index) error {
	buf := bytes.NewBuffer(nil)
	if err := index.NewEncoder(buf).Encode(idx); err != nil {
		return err
	}

	return s.putMeta(indexKey, buf.Bytes())
}

// Index reads and decodes the stored index.
func (s *Storage) Index() (*index.Index, error) {
	idx := &index.Index{Version: 2}

	data, err := s.getMeta(indexKey)
	if err != nil || data == nil {
		return idx, err
	}

	if err := index.NewDecoder(bytes.NewReader(data)).Decode(idx); err != nil {
		return nil, err
	}

	return idx, nil
}

// Config reads and decodes the stored config.
func (s *Storage) Config() (*config.Config, error) {
	cfg := config.NewConfig()

	data, err := s.getMeta(configKey)
	if err != nil || data == nil {
		return cfg, err
	}

	if err := cfg.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetConfig validates, serializes and stores the config.
func (s *Storage) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	buf := bytes.NewBuffer(nil)
	if err := cfg.Encode(buf); err != nil {
		return err
	}

	return s.putMeta(configKey, buf.Bytes())
}
