// Package cache provides a byte-bounded cache for decoded objects, used to
// avoid re-resolving delta bases while reading packs.
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/go-vcs/gitstore/plumbing"
)

// FileSize is a cache bound expressed in bytes.
type FileSize int64

const (
	Byte FileSize = 1 << (iota * 10)
	KiByte
	MiByte
	GiByte
)

// DefaultMaxSize is the default bound of an object cache.
const DefaultMaxSize FileSize = 96 * MiByte

// Object caches decoded EncodedObjects by id.
type Object interface {
	// Put puts the given object into the cache. Whether this object will
	// actually be put into the cache or not is implementation specific.
	Put(o plumbing.EncodedObject)
	// Get gets an object from the cache given its hash. The second return
	// value is true if the object was returned.
	Get(k plumbing.ObjectID) (plumbing.EncodedObject, bool)
	// Clear clears every object from the cache.
	Clear()
}

// ObjectLRU is an Object cache with least-recently-used eviction and a
// byte-size bound. Objects larger than the bound are not cached at all.
type ObjectLRU struct {
	MaxSize FileSize

	actualSize FileSize
	ll         *lru.Cache
	mut        sync.Mutex
}

// NewObjectLRU creates an ObjectLRU with the given byte bound.
func NewObjectLRU(maxSize FileSize) *ObjectLRU {
	return &ObjectLRU{MaxSize: maxSize}
}

// NewObjectLRUDefault creates an ObjectLRU with the default bound.
func NewObjectLRUDefault() *ObjectLRU {
	return NewObjectLRU(DefaultMaxSize)
}

func (c *ObjectLRU) init() {
	if c.ll != nil {
		return
	}

	c.ll = lru.New(0)
	c.ll.OnEvicted = func(_ lru.Key, value interface{}) {
		obj := value.(plumbing.EncodedObject)
		c.actualSize -= FileSize(obj.Size())
	}
}

// Put puts an object into the cache. Objects over the byte bound are
// ignored; older entries are evicted until the bound holds.
func (c *ObjectLRU) Put(obj plumbing.EncodedObject) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.init()

	objSize := FileSize(obj.Size())
	if objSize > c.MaxSize {
		return
	}

	key := obj.Hash()
	if old, ok := c.ll.Get(key); ok {
		c.actualSize -= FileSize(old.(plumbing.EncodedObject).Size())
	}

	c.ll.Add(key, obj)
	c.actualSize += objSize

	for c.actualSize > c.MaxSize && c.ll.Len() > 0 {
		c.ll.RemoveOldest()
	}
}

// Get returns an object by id, marking it as recently used.
func (c *ObjectLRU) Get(k plumbing.ObjectID) (plumbing.EncodedObject, bool) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if c.ll == nil {
		return nil, false
	}

	v, ok := c.ll.Get(k)
	if !ok {
		return nil, false
	}

	return v.(plumbing.EncodedObject), true
}

// Clear drops every cached object.
func (c *ObjectLRU) Clear() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.ll = nil
	c.actualSize = 0
}
