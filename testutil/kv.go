// Package testutil contains conformance tests shared by the store.DB implementations.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

// KV exercises a store.DB:
// bucket lifecycle, rollback on error, ordered and resumable iteration,
// and PutIfAbsent.
func KV(ctx context.Context, t *testing.T, db store.DB) {
	t.Run("buckets", func(t *testing.T) { kvBuckets(ctx, t, db) })
	t.Run("rollback", func(t *testing.T) { kvRollback(ctx, t, db) })
	t.Run("each", func(t *testing.T) { kvEach(ctx, t, db) })
	t.Run("prefix", func(t *testing.T) { kvPrefix(ctx, t, db) })
	t.Run("putifabsent", func(t *testing.T) { kvPutIfAbsent(ctx, t, db) })
}

func kvBuckets(ctx context.Context, t *testing.T, db store.DB) {
	err := db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket("b1"); err != nil {
			return err
		}
		// Creating twice is fine.
		if err := tx.CreateBucket("b1"); err != nil {
			return err
		}
		return tx.Put("b1", []byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.View(ctx, func(tx store.Tx) error {
		ok, err := tx.HasBucket("b1")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("bucket b1 missing")
		}
		got, err := tx.Get("b1", []byte("k"))
		if err != nil {
			return err
		}
		if string(got) != "v" {
			return fmt.Errorf("got %q, want v", got)
		}
		_, err = tx.Get("b1", []byte("nope"))
		if !errors.Is(err, lds.ErrNotFound) {
			return fmt.Errorf("got error %v, want ErrNotFound", err)
		}
		_, err = tx.Get("nobucket", []byte("k"))
		if !errors.Is(err, store.ErrNoBucket) {
			return fmt.Errorf("got error %v, want ErrNoBucket", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(ctx, func(tx store.Tx) error {
		return tx.DropBucket("b1")
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.Update(ctx, func(tx store.Tx) error {
		ok, err := tx.HasBucket("b1")
		if err != nil {
			return err
		}
		if ok {
			return errors.New("bucket b1 still present after drop")
		}
		if err = tx.CreateBucket("b1"); err != nil {
			return err
		}
		_, err = tx.Get("b1", []byte("k"))
		if !errors.Is(err, lds.ErrNotFound) {
			return fmt.Errorf("recreated bucket not empty: %v", err)
		}
		return tx.DropBucket("b1")
	})
	if err != nil {
		t.Fatal(err)
	}
}

func kvRollback(ctx context.Context, t *testing.T, db store.DB) {
	err := db.Update(ctx, func(tx store.Tx) error {
		return tx.CreateBucket("rb")
	})
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = db.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put("rb", []byte("k"), []byte("v")); err != nil {
			return err
		}
		if err := tx.CreateBucket("rb2"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got error %v, want boom", err)
	}

	err = db.View(ctx, func(tx store.Tx) error {
		_, err := tx.Get("rb", []byte("k"))
		if !errors.Is(err, lds.ErrNotFound) {
			return fmt.Errorf("write survived rollback (err %v)", err)
		}
		ok, err := tx.HasBucket("rb2")
		if err != nil {
			return err
		}
		if ok {
			return errors.New("bucket survived rollback")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func kvEach(ctx context.Context, t *testing.T, db store.DB) {
	// More than one page, to exercise resumption inside backends.
	n := store.PageSize + 17

	var want []string
	err := db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket("each"); err != nil {
			return err
		}
		for i := n - 1; i >= 0; i-- {
			k := fmt.Sprintf("key%05d", i)
			if err := tx.Put("each", []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		want = append(want, fmt.Sprintf("key%05d", i))
	}

	var got []string
	err = db.View(ctx, func(tx store.Tx) error {
		return tx.Each("each", nil, func(key, val []byte) error {
			if string(key) != string(val) {
				return fmt.Errorf("key %s has value %s", key, val)
			}
			got = append(got, string(key))
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// Resume from the middle, stopping early.
	got = nil
	err = db.View(ctx, func(tx store.Tx) error {
		return tx.Each("each", []byte(want[9]), func(key, _ []byte) error {
			got = append(got, string(key))
			if len(got) == 3 {
				return store.ErrStop
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[10:13], got); diff != "" {
		t.Errorf("resume mismatch (-want +got):\n%s", diff)
	}

	// Writing from inside the callback must be allowed.
	err = db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket("each2"); err != nil {
			return err
		}
		return tx.Each("each", nil, func(key, val []byte) error {
			return tx.Put("each2", key, val)
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	var count int
	err = db.View(ctx, func(tx store.Tx) error {
		return tx.Each("each2", nil, func(_, _ []byte) error {
			count++
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Errorf("copied %d entries, want %d", count, n)
	}
}

func kvPrefix(ctx context.Context, t *testing.T, db store.DB) {
	keys := []string{"a", "ab\x00x", "ab\x00y", "ab\x01z", "abc", "b"}
	err := db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket("prefix"); err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.Put("prefix", []byte(k), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		prefix string
		want   []string
	}{
		{prefix: "ab\x00", want: []string{"ab\x00x", "ab\x00y"}},
		{prefix: "ab", want: []string{"ab\x00x", "ab\x00y", "ab\x01z", "abc"}},
		{prefix: "", want: keys},
		{prefix: "c", want: nil},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			var got []string
			err := db.View(ctx, func(tx store.Tx) error {
				return store.EachPrefix(tx, "prefix", []byte(c.prefix), func(key, _ []byte) error {
					got = append(got, string(key))
					return nil
				})
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func kvPutIfAbsent(ctx context.Context, t *testing.T, db store.DB) {
	err := db.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateBucket("pia"); err != nil {
			return err
		}
		added, err := tx.PutIfAbsent("pia", []byte("k"), []byte("first"))
		if err != nil {
			return err
		}
		if !added {
			return errors.New("first PutIfAbsent did not add")
		}
		added, err = tx.PutIfAbsent("pia", []byte("k"), []byte("second"))
		if err != nil {
			return err
		}
		if added {
			return errors.New("second PutIfAbsent added")
		}
		got, err := tx.Get("pia", []byte("k"))
		if err != nil {
			return err
		}
		if string(got) != "first" {
			return fmt.Errorf("got %q, want first", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
