// Package compress implements a store.DB that compresses values
// on their way into and out of a nested DB.
// Keys are untouched,
// so iteration order is the same as the nested DB's.
package compress

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/lds/store"
)

var _ store.DB = &DB{}

// Compressor transforms values.
type Compressor interface {
	Compress([]byte) []byte
	Uncompress([]byte) ([]byte, error)
}

// Each stored value begins with one of these.
const (
	tagRaw byte = iota
	tagCompressed
)

// DB wraps a nested store.DB.
type DB struct {
	db      store.DB
	c       Compressor
	buckets map[string]bool
}

// New wraps db.
// If buckets are given,
// only values in those buckets are compressed.
func New(db store.DB, c Compressor, buckets ...string) *DB {
	d := &DB{db: db, c: c}
	if len(buckets) > 0 {
		d.buckets = make(map[string]bool)
		for _, b := range buckets {
			d.buckets[b] = true
		}
	}
	return d
}

func (d *DB) View(ctx context.Context, f func(store.Tx) error) error {
	return d.db.View(ctx, func(t store.Tx) error {
		return f(&tx{t: t, d: d})
	})
}

func (d *DB) Update(ctx context.Context, f func(store.Tx) error) error {
	return d.db.Update(ctx, func(t store.Tx) error {
		return f(&tx{t: t, d: d})
	})
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) applies(bucket string) bool {
	return d.buckets == nil || d.buckets[bucket]
}

// encode compresses val if that makes it smaller.
func (d *DB) encode(bucket string, val []byte) []byte {
	if !d.applies(bucket) {
		return val
	}
	if c := d.c.Compress(val); len(c) < len(val) {
		return append([]byte{tagCompressed}, c...)
	}
	return append([]byte{tagRaw}, val...)
}

func (d *DB) decode(bucket string, val []byte) ([]byte, error) {
	if !d.applies(bucket) {
		return val, nil
	}
	if len(val) == 0 {
		return nil, errors.New("missing compression tag")
	}
	switch val[0] {
	case tagRaw:
		return val[1:], nil
	case tagCompressed:
		out, err := d.c.Uncompress(val[1:])
		return out, errors.Wrap(err, "uncompressing")
	default:
		return nil, errors.Errorf("unknown compression tag %d", val[0])
	}
}

type tx struct {
	t store.Tx
	d *DB
}

func (t *tx) CreateBucket(name string) error         { return t.t.CreateBucket(name) }
func (t *tx) DropBucket(name string) error           { return t.t.DropBucket(name) }
func (t *tx) HasBucket(name string) (bool, error)    { return t.t.HasBucket(name) }
func (t *tx) Delete(bucket string, key []byte) error { return t.t.Delete(bucket, key) }

func (t *tx) Get(bucket string, key []byte) ([]byte, error) {
	val, err := t.t.Get(bucket, key)
	if err != nil {
		return nil, err
	}
	return t.d.decode(bucket, val)
}

func (t *tx) Put(bucket string, key, val []byte) error {
	return t.t.Put(bucket, key, t.d.encode(bucket, val))
}

func (t *tx) PutIfAbsent(bucket string, key, val []byte) (bool, error) {
	return t.t.PutIfAbsent(bucket, key, t.d.encode(bucket, val))
}

func (t *tx) Each(bucket string, start []byte, f func(key, val []byte) error) error {
	return t.t.Each(bucket, start, func(key, val []byte) error {
		val, err := t.d.decode(bucket, val)
		if err != nil {
			return errors.Wrapf(err, "decoding value at %q", key)
		}
		return f(key, val)
	})
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (store.DB, error) {
		nested, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}

		var c Compressor
		switch alg, _ := conf["algorithm"].(string); alg {
		case "", "zstd":
			c, err = NewZstd()
			if err != nil {
				nested.Close()
				return nil, err
			}
		case "s2":
			c = S2{}
		default:
			nested.Close()
			return nil, errors.Errorf("unknown compression algorithm %s", alg)
		}

		var buckets []string
		if bb, ok := conf["buckets"].([]interface{}); ok {
			for _, b := range bb {
				if s, ok := b.(string); ok {
					buckets = append(buckets, s)
				}
			}
		}
		return New(nested, c, buckets...), nil
	})
}
