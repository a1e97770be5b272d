// Package blob implements a content-addressable blob store
// in one bucket of a store.DB.
//
// Keys are the name form of each blob's hash,
// so iteration order is ascending by name.
package blob

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Store is a blob store:
// a bucket mapping each blob's hash to the blob.
type Store struct {
	db     store.DB
	bucket string
}

// New produces a Store using the named bucket in db.
// The bucket must already exist
// (the repository creates it when it applies its schema).
func New(db store.DB, bucket string) *Store {
	return &Store{db: db, bucket: bucket}
}

// Bucket is the name of the bucket s uses.
func (s *Store) Bucket() string { return s.bucket }

// Write adds b to the store if it was not already present.
// It returns b's hash and a boolean that is true iff the blob had to be added.
// A duplicate is never an error;
// errors come only from the underlying store and are not retried.
func (s *Store) Write(ctx context.Context, b []byte) (h lds.Hash, added bool, err error) {
	err = s.db.Update(ctx, func(tx store.Tx) error {
		h, added, err = Put(tx, s.bucket, b)
		return err
	})
	return h, added, err
}

// Read gets the blob with the given hash,
// or lds.ErrNotFound.
func (s *Store) Read(ctx context.Context, h lds.Hash) (b []byte, err error) {
	err = s.db.View(ctx, func(tx store.Tx) error {
		b, err = Get(tx, s.bucket, h)
		return err
	})
	return b, err
}

// Has tells whether the store contains the blob with the given hash.
func (s *Store) Has(ctx context.Context, h lds.Hash) (bool, error) {
	_, err := s.Read(ctx, h)
	if errors.Is(err, lds.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ReadAll calls f for each blob in the store in ascending order of hash name,
// beginning with the first one _after_ start.
// A zero start means the beginning.
// To resume an interrupted ReadAll,
// pass the last hash seen.
func (s *Store) ReadAll(ctx context.Context, start lds.Hash, f func(lds.Hash, []byte) error) error {
	return s.db.View(ctx, func(tx store.Tx) error {
		return Each(tx, s.bucket, start, f)
	})
}

// Count counts the blobs in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(ctx, func(tx store.Tx) error {
		return tx.Each(s.bucket, nil, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Put stores b in the bucket within an existing transaction.
func Put(tx store.Tx, bucket string, b []byte) (lds.Hash, bool, error) {
	h := lds.Sum(b)
	added, err := tx.PutIfAbsent(bucket, []byte(h.Name()), b)
	if err != nil {
		return lds.Hash{}, false, errors.Wrapf(err, "storing blob %s", h)
	}
	return h, added, nil
}

// Get reads a blob within an existing transaction.
func Get(tx store.Tx, bucket string, h lds.Hash) ([]byte, error) {
	b, err := tx.Get(bucket, []byte(h.Name()))
	if errors.Is(err, lds.ErrNotFound) {
		return nil, lds.ErrNotFound
	}
	return b, errors.Wrapf(err, "reading blob %s", h)
}

// Each iterates over the bucket within an existing transaction.
// See Store.ReadAll.
func Each(tx store.Tx, bucket string, start lds.Hash, f func(lds.Hash, []byte) error) error {
	var startKey []byte
	if !start.IsZero() {
		startKey = []byte(start.Name())
	}
	return tx.Each(bucket, startKey, func(key, val []byte) error {
		h, err := lds.ParseName(string(key))
		if err != nil {
			return errors.Wrapf(err, "bad key %q in bucket %s", key, bucket)
		}
		return f(h, val)
	})
}
