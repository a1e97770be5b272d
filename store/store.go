// Package store describes a transactional key/value substrate
// organized into named buckets.
//
// Blob stores and index stores are both buckets in a store.DB.
// Concrete implementations live in subpackages
// and register themselves with Register.
package store

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
)

// DB is a key/value database with named buckets.
type DB interface {
	// View runs f in a read-only transaction.
	View(context.Context, func(Tx) error) error

	// Update runs f in a read-write transaction.
	// If f returns an error,
	// none of its changes are applied.
	Update(context.Context, func(Tx) error) error

	Close() error
}

// Tx is a transaction on a DB.
// A Tx must not be used after the function it was passed to returns,
// nor from more than one goroutine at a time.
type Tx interface {
	// CreateBucket creates the named bucket if it does not already exist.
	CreateBucket(name string) error

	// DropBucket removes the named bucket and all of its contents.
	// Dropping a non-existent bucket is not an error.
	DropBucket(name string) error

	// HasBucket tells whether the named bucket exists.
	HasBucket(name string) (bool, error)

	// Get returns the value at key in bucket,
	// or lds.ErrNotFound.
	Get(bucket string, key []byte) ([]byte, error)

	// Put sets the value at key in bucket,
	// replacing any previous value.
	Put(bucket string, key, val []byte) error

	// PutIfAbsent sets the value at key in bucket
	// only if there is no value there already.
	// It reports whether it did.
	PutIfAbsent(bucket string, key, val []byte) (bool, error)

	// Delete removes key from bucket.
	// Deleting a non-existent key is not an error.
	Delete(bucket string, key []byte) error

	// Each calls f for each key/value pair in bucket in ascending key order,
	// beginning with the first key _after_ start.
	// A nil or empty start means the beginning of the bucket.
	// Iteration can be resumed by calling Each again
	// with the last key seen.
	//
	// If f returns ErrStop,
	// Each stops and returns nil.
	// If f returns any other error,
	// Each stops and returns that error.
	// The slices passed to f may be retained by the caller.
	Each(bucket string, start []byte, f func(key, val []byte) error) error
}

var (
	// ErrNoBucket is the error returned for operations on a bucket that does not exist.
	ErrNoBucket = errors.New("no such bucket")

	// ErrStop may be returned by the callback of Each to end iteration early.
	ErrStop = errors.New("stop iteration")
)

// EachPrefix calls f for each key/value pair in bucket whose key begins with prefix,
// in ascending key order.
func EachPrefix(tx Tx, bucket string, prefix []byte, f func(key, val []byte) error) error {
	var start []byte
	if len(prefix) > 0 {
		// Each begins strictly after start,
		// so back up to just before the prefix.
		start = before(prefix)
	}
	return tx.Each(bucket, start, func(key, val []byte) error {
		if !bytes.HasPrefix(key, prefix) {
			if bytes.Compare(key, prefix) > 0 {
				return ErrStop
			}
			return nil
		}
		return f(key, val)
	})
}

// before returns a key that sorts immediately before k
// with respect to every key that has k as a prefix.
func before(k []byte) []byte {
	out := make([]byte, len(k))
	copy(out, k)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return append(out[:i+1], 0xff)
		}
		out = out[:i]
	}
	return nil
}

// PageSize is how many entries backends read per round trip
// when implementing Each.
// Backends release their cursors between pages,
// so callbacks may write to the same transaction.
const PageSize = 256
