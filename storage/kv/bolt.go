package kv

import (
	"errors"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a Store over a bbolt database, one bucket per namespace.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) a bbolt database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// NewBoltStore wraps an already open bbolt database.
func NewBoltStore(db *bolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores the value under the key.
func (s *BoltStore) Put(ns, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}

		return b.Put([]byte(key), value)
	})
}

// Get returns the value stored under the key.
func (s *BoltStore) Get(ns, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return ErrKeyNotFound
		}

		v := b.Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}

		out = append([]byte(nil), v...)
		return nil
	})

	return out, err
}

// Has reports whether the key exists.
func (s *BoltStore) Has(ns, key string) (bool, error) {
	_, err := s.Get(ns, key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Delete removes the key.
func (s *BoltStore) Delete(ns, key string) (bool, error) {
	present := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}

		if b.Get([]byte(key)) == nil {
			return nil
		}

		present = true
		return b.Delete([]byte(key))
	})

	return present, err
}

// Keys returns every key in the namespace.
func (s *BoltStore) Keys(ns string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})

	return keys, err
}
