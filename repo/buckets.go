package repo

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/blob"
	"github.com/bobg/lds/index"
	"github.com/bobg/lds/store"
)

// Index buckets are reached through the meta bucket:
// the key bucketPrefix+name holds the physical bucket for the index called name.
// With no such key the index lives in the bucket of the same name.
// This lets a rebuilt index be swapped in with one small write.
const (
	bucketPrefix = "bucket/"

	// Keys under dropPrefix name physical buckets that are no longer in use
	// and are being emptied a page at a time.
	dropPrefix = "drop/"
)

// DefaultBatchSize is how many records each backfill transaction replays.
const DefaultBatchSize = 1024

// mappedTx resolves index names to physical buckets.
type mappedTx struct {
	store.Tx
	names map[string]string
}

var _ store.Tx = &mappedTx{}

func (t *mappedTx) physical(name string) (string, error) {
	if p, ok := t.names[name]; ok {
		return p, nil
	}
	p := name
	switch name {
	case MetaBucket, ResourcesBucket, LinkedDataBucket, ResourceTypesBucket, SyncBucket:
	default:
		b, err := t.Tx.Get(MetaBucket, []byte(bucketPrefix+name))
		switch {
		case err == nil:
			p = string(b)
		case errors.Is(err, lds.ErrNotFound), errors.Is(err, store.ErrNoBucket):
		default:
			return "", errors.Wrapf(err, "resolving bucket %s", name)
		}
	}
	if t.names == nil {
		t.names = make(map[string]string)
	}
	t.names[name] = p
	return p, nil
}

func (t *mappedTx) CreateBucket(name string) error {
	p, err := t.physical(name)
	if err != nil {
		return err
	}
	return t.Tx.CreateBucket(p)
}

func (t *mappedTx) DropBucket(name string) error {
	p, err := t.physical(name)
	if err != nil {
		return err
	}
	return t.Tx.DropBucket(p)
}

func (t *mappedTx) HasBucket(name string) (bool, error) {
	p, err := t.physical(name)
	if err != nil {
		return false, err
	}
	return t.Tx.HasBucket(p)
}

func (t *mappedTx) Get(name string, key []byte) ([]byte, error) {
	p, err := t.physical(name)
	if err != nil {
		return nil, err
	}
	return t.Tx.Get(p, key)
}

func (t *mappedTx) Put(name string, key, val []byte) error {
	p, err := t.physical(name)
	if err != nil {
		return err
	}
	return t.Tx.Put(p, key, val)
}

func (t *mappedTx) PutIfAbsent(name string, key, val []byte) (bool, error) {
	p, err := t.physical(name)
	if err != nil {
		return false, err
	}
	return t.Tx.PutIfAbsent(p, key, val)
}

func (t *mappedTx) Delete(name string, key []byte) error {
	p, err := t.physical(name)
	if err != nil {
		return err
	}
	return t.Tx.Delete(p, key)
}

func (t *mappedTx) Each(name string, start []byte, f func(key, val []byte) error) error {
	p, err := t.physical(name)
	if err != nil {
		return err
	}
	return t.Tx.Each(p, start, f)
}

func (r *Repo) view(ctx context.Context, f func(store.Tx) error) error {
	return r.db.View(ctx, func(tx store.Tx) error {
		return f(&mappedTx{Tx: tx})
	})
}

func (r *Repo) update(ctx context.Context, f func(store.Tx) error) error {
	return r.db.Update(ctx, func(tx store.Tx) error {
		return f(&mappedTx{Tx: tx})
	})
}

// nextBucket is the physical bucket for the next generation of the index called name,
// given the bucket holding the current one.
func nextBucket(name, current string) string {
	gen := 0
	if rest := strings.TrimPrefix(current, name+"@"); rest != current {
		gen, _ = strconv.Atoi(rest)
	}
	return name + "@" + strconv.Itoa(gen+1)
}

// cursor is a position in the replay of every stored record:
// resources first, then linked data.
// An empty bucket means the replay is finished.
type cursor struct {
	bucket string
	last   lds.Hash
}

var replayStart = cursor{bucket: ResourcesBucket}

// replay calls f on up to n records after c
// and returns the position to resume from.
func (r *Repo) replay(tx store.Tx, c cursor, n int, f func(lds.Record, lds.Hash) error) (cursor, error) {
	for n > 0 && c.bucket != "" {
		ok, err := tx.HasBucket(c.bucket)
		if err != nil {
			return c, err
		}
		var seen int
		if ok {
			err = blob.Each(tx, c.bucket, c.last, func(h lds.Hash, b []byte) error {
				rec, err := r.decode(tx, c.bucket, h, b)
				if err != nil {
					return err
				}
				if err = f(rec, h); err != nil {
					return err
				}
				c.last = h
				seen++
				if seen == n {
					return store.ErrStop
				}
				return nil
			})
			if err != nil {
				return c, errors.Wrapf(err, "replaying %s", c.bucket)
			}
		}
		n -= seen
		if n > 0 {
			switch c.bucket {
			case ResourcesBucket:
				c = cursor{bucket: LinkedDataBucket}
			default:
				c = cursor{}
			}
		}
	}
	return c, nil
}

func (r *Repo) decode(tx store.Tx, bucket string, h lds.Hash, b []byte) (lds.Record, error) {
	if bucket == ResourcesBucket {
		mediaType, err := r.mediaType(tx, h)
		if err != nil {
			return nil, err
		}
		return &lds.Resource{Data: b, MediaType: mediaType}, nil
	}
	ld, err := lds.ParseLinkedData(b)
	return ld, errors.Wrapf(err, "parsing %s", h)
}

// rebuild builds idx from every stored record into a fresh bucket,
// one batch of records per transaction,
// then swaps it in.
// The swap happens in one transaction together with finish, if not nil.
// The caller must keep other writers out.
//
// The returned changes describe the difference between the old and new contents of the index.
func (r *Repo) rebuild(ctx context.Context, idx index.Index, finish func(store.Tx) error) ([]index.Change, error) {
	name := idx.Name()

	var current string
	err := r.db.View(ctx, func(tx store.Tx) error {
		var err error
		current, err = (&mappedTx{Tx: tx}).physical(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	shadow := nextBucket(name, current)
	log := r.logger.WithField("index", name).WithField("bucket", shadow)

	// A failed earlier attempt may have left part of shadow behind.
	if err = r.dropBucket(ctx, shadow); err != nil {
		return nil, err
	}
	err = r.db.Update(ctx, func(tx store.Tx) error {
		return tx.CreateBucket(shadow)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", shadow)
	}

	fail := func(err error) ([]index.Change, error) {
		if derr := r.dropBucket(ctx, shadow); derr != nil {
			log.WithError(derr).Warn("removing partial index")
		}
		return nil, err
	}

	var (
		c     = replayStart
		pages int
	)
	for c.bucket != "" {
		var next cursor
		err = r.db.Update(ctx, func(tx store.Tx) error {
			src := func(f func(lds.Record, lds.Hash) error) error {
				var err error
				next, err = r.replay(tx, c, r.batchSize, f)
				return err
			}
			return index.Replay(ctx, tx, idx, shadow, src)
		})
		if err != nil {
			return fail(err)
		}
		c = next
		pages++
	}
	log.WithField("pages", pages).Debug("built index")

	var changes []index.Change
	err = r.db.View(ctx, func(tx store.Tx) error {
		var err error
		changes, err = index.Diff(tx, name, current, shadow)
		return err
	})
	if err != nil {
		return fail(err)
	}

	err = r.db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket(MetaBucket); err != nil {
			return err
		}
		if err := tx.Put(MetaBucket, []byte(bucketPrefix+name), []byte(shadow)); err != nil {
			return err
		}
		ok, err := tx.HasBucket(current)
		if err != nil {
			return err
		}
		if ok {
			if err = tx.Put(MetaBucket, []byte(dropPrefix+current), nil); err != nil {
				return err
			}
		}
		if finish != nil {
			return finish(&mappedTx{Tx: tx})
		}
		return nil
	})
	if err != nil {
		return fail(errors.Wrapf(err, "swapping in %s", shadow))
	}

	if err = r.finishDrops(ctx); err != nil {
		// The index is in place; the leftovers are removed on the next Open.
		log.WithError(err).Warn("removing old index")
	}
	return changes, nil
}

// finishDrops empties and removes every bucket queued for dropping.
func (r *Repo) finishDrops(ctx context.Context) error {
	var buckets []string
	err := r.db.View(ctx, func(tx store.Tx) error {
		ok, err := tx.HasBucket(MetaBucket)
		if err != nil || !ok {
			return err
		}
		return store.EachPrefix(tx, MetaBucket, []byte(dropPrefix), func(key, _ []byte) error {
			buckets = append(buckets, strings.TrimPrefix(string(key), dropPrefix))
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "listing buckets to drop")
	}

	for _, b := range buckets {
		if err = r.dropBucket(ctx, b); err != nil {
			return err
		}
		err = r.db.Update(ctx, func(tx store.Tx) error {
			return tx.Delete(MetaBucket, []byte(dropPrefix+b))
		})
		if err != nil {
			return errors.Wrapf(err, "unqueueing %s", b)
		}
	}
	return nil
}

// dropBucket deletes the contents of a physical bucket
// one batch per transaction,
// then removes the bucket.
// A missing bucket is not an error.
func (r *Repo) dropBucket(ctx context.Context, bucket string) error {
	for {
		var n int
		err := r.db.Update(ctx, func(tx store.Tx) error {
			n = 0
			ok, err := tx.HasBucket(bucket)
			if err != nil || !ok {
				return err
			}
			var keys [][]byte
			err = tx.Each(bucket, nil, func(key, _ []byte) error {
				keys = append(keys, key)
				if len(keys) >= r.batchSize {
					return store.ErrStop
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return tx.DropBucket(bucket)
			}
			for _, k := range keys {
				if err = tx.Delete(bucket, k); err != nil {
					return err
				}
			}
			n = len(keys)
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "dropping %s", bucket)
		}
		if n == 0 {
			return nil
		}
	}
}
