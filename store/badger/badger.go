// Package badger implements a store.DB on a Badger key/value database.
package badger

import (
	"bytes"
	"context"
	stderrs "errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

var _ store.DB = &DB{}

// DB is a Badger-based implementation of store.DB.
//
// Bucket names are recorded under keys "b\x00<name>"
// and bucket entries live under "e\x00<name>\x00<key>",
// so each bucket is a contiguous, ordered key range.
type DB struct {
	db *badger.DB
}

// New produces a DB using an already-open Badger database.
func New(db *badger.DB) *DB {
	return &DB{db: db}
}

// Open opens (creating if necessary) a Badger database in dir.
// An empty dir opens an in-memory database.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger db in %q", dir)
	}
	return New(db), nil
}

// View implements store.DB.
func (d *DB) View(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(func(txn *badger.Txn) error {
		return f(&tx{ctx: ctx, txn: txn})
	})
}

// Update implements store.DB.
func (d *DB) Update(ctx context.Context, f func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return f(&tx{ctx: ctx, txn: txn})
	})
}

// Close implements store.DB.
func (d *DB) Close() error {
	return d.db.Close()
}

type tx struct {
	ctx context.Context
	txn *badger.Txn
}

func bucketKey(name string) []byte {
	return append([]byte("b\x00"), name...)
}

func entryPrefix(name string) []byte {
	p := append([]byte("e\x00"), name...)
	return append(p, 0)
}

func entryKey(name string, key []byte) []byte {
	return append(entryPrefix(name), key...)
}

func (t *tx) CreateBucket(name string) error {
	if strings.IndexByte(name, 0) >= 0 {
		return errors.Errorf("bucket name %q contains NUL", name)
	}
	return errors.Wrapf(t.txn.Set(bucketKey(name), nil), "creating bucket %s", name)
}

func (t *tx) DropBucket(name string) error {
	prefix := entryPrefix(name)
	for {
		// Deleting while iterating is not allowed,
		// so collect a page of keys at a time.
		var keys [][]byte
		it := t.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(keys) < store.PageSize; it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		if len(keys) == 0 {
			break
		}
		for _, k := range keys {
			if err := t.txn.Delete(k); err != nil {
				return errors.Wrapf(err, "dropping bucket %s", name)
			}
		}
	}
	return errors.Wrapf(t.txn.Delete(bucketKey(name)), "dropping bucket %s", name)
}

func (t *tx) HasBucket(name string) (bool, error) {
	_, err := t.txn.Get(bucketKey(name))
	if stderrs.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "checking bucket %s", name)
	}
	return true, nil
}

func (t *tx) checkBucket(name string) error {
	ok, err := t.HasBucket(name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(store.ErrNoBucket, name)
	}
	return nil
}

func (t *tx) Get(name string, key []byte) ([]byte, error) {
	if err := t.checkBucket(name); err != nil {
		return nil, err
	}
	item, err := t.txn.Get(entryKey(name, key))
	if stderrs.Is(err, badger.ErrKeyNotFound) {
		return nil, lds.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting %x from %s", key, name)
	}
	return item.ValueCopy(nil)
}

func (t *tx) Put(name string, key, val []byte) error {
	if err := t.checkBucket(name); err != nil {
		return err
	}
	return errors.Wrapf(t.txn.Set(entryKey(name, key), val), "putting %x in %s", key, name)
}

func (t *tx) PutIfAbsent(name string, key, val []byte) (bool, error) {
	if err := t.checkBucket(name); err != nil {
		return false, err
	}
	k := entryKey(name, key)
	_, err := t.txn.Get(k)
	if err == nil {
		return false, nil
	}
	if !stderrs.Is(err, badger.ErrKeyNotFound) {
		return false, errors.Wrapf(err, "checking %x in %s", key, name)
	}
	return true, errors.Wrapf(t.txn.Set(k, val), "putting %x in %s", key, name)
}

func (t *tx) Delete(name string, key []byte) error {
	if err := t.checkBucket(name); err != nil {
		return err
	}
	return errors.Wrapf(t.txn.Delete(entryKey(name, key)), "deleting %x from %s", key, name)
}

type pair struct {
	key, val []byte
}

func (t *tx) Each(name string, start []byte, f func(key, val []byte) error) error {
	if err := t.checkBucket(name); err != nil {
		return err
	}

	prefix := entryPrefix(name)
	cursor := start
	for {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		page, err := t.page(prefix, cursor)
		if err != nil {
			return err
		}
		for _, p := range page {
			err = f(p.key, p.val)
			if errors.Is(err, store.ErrStop) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		if len(page) < store.PageSize {
			return nil
		}
		cursor = page[len(page)-1].key
	}
}

// Only one iterator may be open in a read-write transaction,
// so each page is read with a fresh iterator that is closed before returning.
func (t *tx) page(prefix, after []byte) ([]pair, error) {
	it := t.txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()

	var page []pair
	for it.Seek(append(append([]byte(nil), prefix...), after...)); it.ValidForPrefix(prefix) && len(page) < store.PageSize; it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[len(prefix):]
		if len(after) > 0 && bytes.Compare(key, after) <= 0 {
			continue
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, errors.Wrapf(err, "reading value of %x", key)
		}
		page = append(page, pair{key: key, val: val})
	}
	return page, nil
}

func init() {
	store.Register("badger", func(_ context.Context, conf map[string]interface{}) (store.DB, error) {
		if inmem, _ := conf["inmemory"].(bool); inmem {
			return Open("")
		}
		dir, ok := conf["dir"].(string)
		if !ok {
			return nil, errors.New(`missing "dir" parameter`)
		}
		return Open(dir)
	})
}
