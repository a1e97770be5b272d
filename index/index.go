// Package index maintains read-optimized projections of records.
//
// Each Index is a pure function from one record to a list of Ops
// against the index's own bucket.
// A Composite applies every registered Index to each record written,
// and Backfill rebuilds one Index from scratch by replaying every record.
//
// Index state must not depend on the order records are written in:
// replaying the same records in any order must produce the same bucket contents.
// Ops achieve that either by being deterministic in the record's content
// (so rewriting them is harmless)
// or by carrying a Replace function that picks a winner between two values
// without regard to which arrived first.
package index

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// Index is one derived view of the record store.
type Index interface {
	// Name is the index's name,
	// which is also the name of the bucket holding its entries.
	Name() string

	// Update computes the ops that record rec
	// (whose hash is h)
	// contributes to the index.
	// It must be a pure function of its inputs:
	// no I/O, no dependence on time or on other records.
	Update(rec lds.Record, h lds.Hash) ([]Op, error)
}

// Op is a write to an index bucket.
type Op struct {
	Key, Value []byte

	// Replace, if non-nil,
	// decides whether Value should replace an existing, different value at Key.
	// It must be a total order on values
	// (Replace(a, b) == !Replace(b, a) for a != b)
	// so that the winner does not depend on arrival order.
	// A nil Replace always replaces,
	// which is safe when the value is determined by the key.
	Replace func(old, new []byte) bool
}

// ChangeOp is the kind of a Change.
type ChangeOp int

const (
	Added ChangeOp = iota + 1
	Updated
	Removed
)

func (op ChangeOp) String() string {
	switch op {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change is a notification that an index entry was added, updated, or removed.
type Change struct {
	Index string
	Op    ChangeOp
	Key   []byte
	Value []byte // the new value, or the old one for Removed
}

// Apply writes ops into bucket,
// returning the resulting changes.
// Ops that leave an entry unchanged produce no Change.
func Apply(tx store.Tx, bucket string, ops []Op) ([]Change, error) {
	var changes []Change
	for _, op := range ops {
		old, err := tx.Get(bucket, op.Key)
		switch {
		case errors.Is(err, lds.ErrNotFound):
			if err = tx.Put(bucket, op.Key, op.Value); err != nil {
				return nil, err
			}
			changes = append(changes, Change{Index: bucket, Op: Added, Key: op.Key, Value: op.Value})

		case err != nil:
			return nil, err

		case bytes.Equal(old, op.Value):
			// no change

		case op.Replace != nil && !op.Replace(old, op.Value):
			// existing value wins

		default:
			if err = tx.Put(bucket, op.Key, op.Value); err != nil {
				return nil, err
			}
			changes = append(changes, Change{Index: bucket, Op: Updated, Key: op.Key, Value: op.Value})
		}
	}
	return changes, nil
}

// Scan calls f on every entry in the bucket whose key has the given prefix.
func Scan(tx store.Tx, bucket string, prefix []byte, f func(key, val []byte) error) error {
	return store.EachPrefix(tx, bucket, prefix, f)
}

// Snapshot lists the entries under prefix as Added changes,
// suitable for the initial state of a subscription.
func Snapshot(tx store.Tx, bucket string, prefix []byte) ([]Change, error) {
	var out []Change
	err := Scan(tx, bucket, prefix, func(key, val []byte) error {
		out = append(out, Change{Index: bucket, Op: Added, Key: key, Value: val})
		return nil
	})
	return out, err
}

const sep = 0

// key joins parts with NUL separators.
// Parts must not themselves contain NUL.
func key(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(sep)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

// prefix is like key but with a trailing separator.
func prefix(parts ...string) []byte {
	return append(key(parts...), sep)
}

// clean removes NULs from a string destined for a key.
func clean(s string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte{sep}, nil))
}

func marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	return b, errors.Wrap(err, "encoding index entry")
}

func decodeAll[T any](tx store.Tx, bucket string, pfx []byte) ([]T, error) {
	var out []T
	err := Scan(tx, bucket, pfx, func(_, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return errors.Wrapf(err, "decoding %s entry", bucket)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// Decode parses the value of a Change into v.
func (c Change) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(c.Value, v), "decoding %s change", c.Index)
}

// Builtin returns the indexes every repository carries.
func Builtin() []Index {
	return []Index{Directory{}, URL{}, Annotations{}, Completion{}, WatchHistory{}}
}
