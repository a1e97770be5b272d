package index

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Composite fans each record out to a fixed set of indexes.
type Composite struct {
	indexes []Index
	byName  map[string]Index
}

// NewComposite produces a Composite over the given indexes.
// Index names must be unique.
func NewComposite(indexes ...Index) (*Composite, error) {
	c := &Composite{byName: make(map[string]Index)}
	for _, idx := range indexes {
		name := idx.Name()
		if _, ok := c.byName[name]; ok {
			return nil, fmt.Errorf("duplicate index name %s", name)
		}
		c.byName[name] = idx
		c.indexes = append(c.indexes, idx)
	}
	return c, nil
}

// Indexes returns the indexes in c, in the order they were given to NewComposite.
func (c *Composite) Indexes() []Index {
	return append([]Index(nil), c.indexes...)
}

// Lookup finds the index with the given name.
func (c *Composite) Lookup(name string) (Index, bool) {
	idx, ok := c.byName[name]
	return idx, ok
}

// Report is the error returned by Composite.Update
// when one or more indexes could not process a record.
// The record and the other indexes' entries are still written.
type Report struct {
	Hash   lds.Hash
	Failed lds.MultiErr // keyed by index name
}

func (r *Report) Error() string {
	return fmt.Sprintf("indexing %s: %s", r.Hash, r.Failed)
}

func (r *Report) Unwrap() error {
	return r.Failed
}

// Update computes every index's ops for rec concurrently,
// waits for all of them,
// then applies each successful index's ops to its bucket in tx.
//
// An index whose Update returns an error
// (or panics)
// contributes nothing and is named in the returned *Report.
// Errors from tx itself are returned directly
// and should abort the transaction.
func (c *Composite) Update(ctx context.Context, tx store.Tx, rec lds.Record, h lds.Hash) ([]Change, error) {
	type result struct {
		ops []Op
		err error
	}
	results := make([]result, len(c.indexes))

	g, _ := errgroup.WithContext(ctx)
	for i, idx := range c.indexes {
		i, idx := i, idx
		g.Go(func() error {
			ops, err := project(idx, rec, h)
			results[i] = result{ops: ops, err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines report through results

	var (
		changes []Change
		report  = &Report{Hash: h}
	)
	for i, idx := range c.indexes {
		r := results[i]
		if r.err != nil {
			report.Failed.Add(idx.Name(), r.err)
			continue
		}
		ch, err := Apply(tx, idx.Name(), r.ops)
		if err != nil {
			return nil, errors.Wrapf(err, "applying %s ops for %s", idx.Name(), h)
		}
		changes = append(changes, ch...)
	}
	if len(report.Failed) > 0 {
		return changes, report
	}
	return changes, nil
}

func project(idx Index, rec lds.Record, h lds.Hash) (ops []Op, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return idx.Update(rec, h)
}

// Source replays stored records.
// It calls f once for each record,
// stopping at the first error.
type Source func(f func(rec lds.Record, h lds.Hash) error) error

// Backfill rebuilds idx's bucket from scratch in tx
// by replaying every record in src through idx.Update.
// Unlike Composite.Update,
// an error from the index is fatal here.
//
// The returned changes describe the difference
// between the bucket's old and new contents.
//
// The whole rebuild happens in one transaction.
// For stores too large for that,
// use Replay into a fresh bucket a page at a time
// and compare the result with Diff.
func Backfill(ctx context.Context, tx store.Tx, idx Index, src Source) ([]Change, error) {
	name := idx.Name()

	old, err := readAll(tx, name)
	if err != nil {
		return nil, err
	}
	if old != nil {
		if err = tx.DropBucket(name); err != nil {
			return nil, errors.Wrapf(err, "dropping %s", name)
		}
	}
	if err = tx.CreateBucket(name); err != nil {
		return nil, errors.Wrapf(err, "creating %s", name)
	}
	if err = Replay(ctx, tx, idx, name, src); err != nil {
		return nil, err
	}
	return diff(tx, name, name, old)
}

// Replay applies idx's ops for every record in src to bucket,
// which need not be the bucket named by idx.
// An error from the index is fatal.
func Replay(ctx context.Context, tx store.Tx, idx Index, bucket string, src Source) error {
	return src(func(rec lds.Record, h lds.Hash) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ops, err := project(idx, rec, h)
		if err != nil {
			return errors.Wrapf(err, "%s: indexing %s", idx.Name(), h)
		}
		_, err = Apply(tx, bucket, ops)
		return err
	})
}

// Diff describes how the contents of newBucket differ from those of oldBucket
// as changes to the index called name.
// A missing oldBucket counts as empty.
func Diff(tx store.Tx, name, oldBucket, newBucket string) ([]Change, error) {
	old, err := readAll(tx, oldBucket)
	if err != nil {
		return nil, err
	}
	return diff(tx, name, newBucket, old)
}

// readAll returns nil if the bucket does not exist.
func readAll(tx store.Tx, bucket string) (map[string][]byte, error) {
	ok, err := tx.HasBucket(bucket)
	if err != nil || !ok {
		return nil, err
	}
	out := make(map[string][]byte)
	err = tx.Each(bucket, nil, func(key, val []byte) error {
		out[string(key)] = val
		return nil
	})
	return out, errors.Wrapf(err, "reading %s", bucket)
}

func diff(tx store.Tx, name, bucket string, old map[string][]byte) ([]Change, error) {
	var changes []Change
	err := tx.Each(bucket, nil, func(key, val []byte) error {
		prev, ok := old[string(key)]
		delete(old, string(key))
		switch {
		case !ok:
			changes = append(changes, Change{Index: name, Op: Added, Key: key, Value: val})
		case string(prev) != string(val):
			changes = append(changes, Change{Index: name, Op: Updated, Key: key, Value: val})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(old))
	for k := range old {
		removed = append(removed, k)
	}
	sort.Strings(removed)
	for _, k := range removed {
		changes = append(changes, Change{Index: name, Op: Removed, Key: []byte(k), Value: old[k]})
	}

	return changes, nil
}
