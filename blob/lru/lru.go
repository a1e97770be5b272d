// Package lru implements a least-recently-used read cache in front of a blob.Store.
package lru

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/bobg/lds"
	"github.com/bobg/lds/blob"
)

// Store caches reads of a nested blob.Store.
// Writes pass through to the nested store.
// Blobs are immutable,
// so cached entries never go stale.
type Store struct {
	c *lru.Cache // lds.Hash -> []byte
	s *blob.Store
}

// New produces a new Store backed by `s` and caching up to `size` blobs.
func New(s *blob.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Read gets the blob with the given hash.
func (s *Store) Read(ctx context.Context, h lds.Hash) ([]byte, error) {
	if got, ok := s.c.Get(h); ok {
		return got.([]byte), nil
	}
	b, err := s.s.Read(ctx, h)
	if err != nil {
		return nil, err
	}
	s.c.Add(h, b)
	return b, nil
}

// Write adds a blob to the nested store if it wasn't already present.
func (s *Store) Write(ctx context.Context, b []byte) (lds.Hash, bool, error) {
	h, added, err := s.s.Write(ctx, b)
	if err != nil {
		return h, added, err
	}
	s.c.Add(h, b)
	return h, added, nil
}

// Add primes the cache with a blob known to be in the nested store.
func (s *Store) Add(h lds.Hash, b []byte) {
	s.c.Add(h, b)
}

// ReadAll passes through to the nested store.
func (s *Store) ReadAll(ctx context.Context, start lds.Hash, f func(lds.Hash, []byte) error) error {
	return s.s.ReadAll(ctx, start, f)
}

// Len is the number of cached blobs.
func (s *Store) Len() int {
	return s.c.Len()
}
