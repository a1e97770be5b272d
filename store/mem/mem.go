// Package mem implements an in-memory store.DB.
package mem

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

var _ store.DB = &DB{}

// DB is a memory-based implementation of store.DB.
// Update transactions work on a copy-on-write view of the data
// that replaces the original only if the transaction succeeds.
type DB struct {
	mu      sync.RWMutex
	buckets map[string]bucket
}

type bucket map[string][]byte

// New produces a new, empty DB.
func New() *DB {
	return &DB{buckets: make(map[string]bucket)}
}

// View implements store.DB.
func (db *DB) View(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return f(&tx{buckets: db.buckets, readonly: true})
}

// Update implements store.DB.
func (db *DB) Update(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	working := make(map[string]bucket, len(db.buckets))
	for name, b := range db.buckets {
		working[name] = b
	}
	t := &tx{buckets: working, copied: make(map[string]bool)}
	if err := f(t); err != nil {
		return err
	}
	db.buckets = working
	return nil
}

// Close implements store.DB.
func (db *DB) Close() error { return nil }

type tx struct {
	buckets  map[string]bucket
	copied   map[string]bool // buckets already copied in this transaction
	readonly bool
}

var errReadOnly = errors.New("write in read-only transaction")

func (t *tx) CreateBucket(name string) error {
	if t.readonly {
		return errReadOnly
	}
	if _, ok := t.buckets[name]; !ok {
		t.buckets[name] = make(bucket)
		t.copied[name] = true
	}
	return nil
}

func (t *tx) DropBucket(name string) error {
	if t.readonly {
		return errReadOnly
	}
	delete(t.buckets, name)
	delete(t.copied, name)
	return nil
}

func (t *tx) HasBucket(name string) (bool, error) {
	_, ok := t.buckets[name]
	return ok, nil
}

func (t *tx) Get(name string, key []byte) ([]byte, error) {
	b, ok := t.buckets[name]
	if !ok {
		return nil, errors.Wrap(store.ErrNoBucket, name)
	}
	val, ok := b[string(key)]
	if !ok {
		return nil, lds.ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

// Caller must not be in a read-only transaction.
func (t *tx) writable(name string) (bucket, error) {
	if t.readonly {
		return nil, errReadOnly
	}
	b, ok := t.buckets[name]
	if !ok {
		return nil, errors.Wrap(store.ErrNoBucket, name)
	}
	if !t.copied[name] {
		cp := make(bucket, len(b))
		for k, v := range b {
			cp[k] = v
		}
		t.buckets[name] = cp
		t.copied[name] = true
		b = cp
	}
	return b, nil
}

func (t *tx) Put(name string, key, val []byte) error {
	b, err := t.writable(name)
	if err != nil {
		return err
	}
	b[string(key)] = append([]byte(nil), val...)
	return nil
}

func (t *tx) PutIfAbsent(name string, key, val []byte) (bool, error) {
	b, err := t.writable(name)
	if err != nil {
		return false, err
	}
	if _, ok := b[string(key)]; ok {
		return false, nil
	}
	b[string(key)] = append([]byte(nil), val...)
	return true, nil
}

func (t *tx) Delete(name string, key []byte) error {
	b, err := t.writable(name)
	if err != nil {
		return err
	}
	delete(b, string(key))
	return nil
}

func (t *tx) Each(name string, start []byte, f func(key, val []byte) error) error {
	b, ok := t.buckets[name]
	if !ok {
		return errors.Wrap(store.ErrNoBucket, name)
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		if bytes.Compare([]byte(k), start) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		// The callback may write to this transaction,
		// so re-read the current bucket each time.
		val, ok := t.buckets[name][k]
		if !ok {
			continue
		}
		err := f([]byte(k), append([]byte(nil), val...))
		if errors.Is(err, store.ErrStop) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (store.DB, error) {
		return New(), nil
	})
}
