package storer

import (
	"errors"
	"io"

	"github.com/go-vcs/gitstore/plumbing"
)

// EncodedObjectSliceIter implements EncodedObjectIter. It iterates over a
// series of objects stored in a slice and yields each one in turn when
// Next() is called.
type EncodedObjectSliceIter struct {
	series []plumbing.EncodedObject
}

// NewEncodedObjectSliceIter returns an EncodedObjectSliceIter for the given
// slice of objects.
func NewEncodedObjectSliceIter(series []plumbing.EncodedObject) *EncodedObjectSliceIter {
	return &EncodedObjectSliceIter{series: series}
}

// Next returns the next object from the iterator. If the iterator has reached
// the end it will return io.EOF as an error.
func (iter *EncodedObjectSliceIter) Next() (plumbing.EncodedObject, error) {
	if len(iter.series) == 0 {
		return nil, io.EOF
	}

	obj := iter.series[0]
	iter.series = iter.series[1:]

	return obj, nil
}

// ForEach call the cb function for each object contained on this iter until
// an error happens or the end of the iter is reached. If ErrStop is sent
// the iteration is stopped but no error is returned.
func (iter *EncodedObjectSliceIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	return ForEachIterator(iter, cb)
}

// Close releases any resources used by the iterator.
func (iter *EncodedObjectSliceIter) Close() {
	iter.series = nil
}

// MultiEncodedObjectIter implements EncodedObjectIter. It iterates over
// several EncodedObjectIter in sequence.
type MultiEncodedObjectIter struct {
	iters []EncodedObjectIter
}

// NewMultiEncodedObjectIter returns an iterator over the given iterators.
func NewMultiEncodedObjectIter(iters []EncodedObjectIter) EncodedObjectIter {
	return &MultiEncodedObjectIter{iters: iters}
}

// Next returns the next object from the current iterator, advancing to the
// next iterator on io.EOF.
func (iter *MultiEncodedObjectIter) Next() (plumbing.EncodedObject, error) {
	for {
		if len(iter.iters) == 0 {
			return nil, io.EOF
		}

		obj, err := iter.iters[0].Next()
		if err == io.EOF {
			iter.iters[0].Close()
			iter.iters = iter.iters[1:]
			continue
		}

		return obj, err
	}
}

// ForEach call the cb function for each object contained on this iter.
func (iter *MultiEncodedObjectIter) ForEach(cb func(plumbing.EncodedObject) error) error {
	return ForEachIterator(iter, cb)
}

// Close releases any resources used by the iterators.
func (iter *MultiEncodedObjectIter) Close() {
	for _, i := range iter.iters {
		i.Close()
	}
	iter.iters = nil
}

type bareIterator interface {
	Next() (plumbing.EncodedObject, error)
	Close()
}

// ForEachIterator is a helper function to build iterators without need to
// rewrite the same ForEach function each time.
func ForEachIterator(iter bareIterator, cb func(plumbing.EncodedObject) error) error {
	defer iter.Close()
	for {
		obj, err := iter.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}

			return err
		}

		if err := cb(obj); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}

			return err
		}
	}
}
