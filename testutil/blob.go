package testutil

import (
	"bytes"
	"context"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/lds"
	"github.com/bobg/lds/blob"
	"github.com/bobg/lds/store"
)

// NewBlobStore creates a bucket in db and returns a blob.Store on it.
func NewBlobStore(ctx context.Context, t *testing.T, db store.DB, bucket string) *blob.Store {
	err := db.Update(ctx, func(tx store.Tx) error {
		return tx.CreateBucket(bucket)
	})
	if err != nil {
		t.Fatal(err)
	}
	return blob.New(db, bucket)
}

// BlobReadWrite writes data to s twice,
// checking that the second write is a no-op,
// and reads it back.
func BlobReadWrite(ctx context.Context, t *testing.T, s *blob.Store, data []byte) {
	before, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}

	h1, added, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first write did not add")
	}
	if h1 != lds.Sum(data) {
		t.Errorf("got hash %s, want %s", h1, lds.Sum(data))
	}

	h2, added, err := s.Write(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second write added")
	}
	if h1 != h2 {
		t.Errorf("second write gave hash %s, want %s", h2, h1)
	}

	after, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before+1 {
		t.Errorf("store grew by %d, want 1", after-before)
	}

	got, err := s.Read(ctx, h1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read mismatch")
	}
}

// AllHashes writes a random set of random blobs to an empty store
// (made fresh by newStore for each trial)
// and makes sure that the right set of hashes comes back from ReadAll.
func AllHashes(ctx context.Context, t *testing.T, newStore func() *blob.Store) {
	f := func(blobs [][]byte) bool {
		var (
			s    = newStore()
			want []lds.Hash
		)
		for _, b := range blobs {
			h, added, err := s.Write(ctx, b)
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, h)
			}
		}

		var got []lds.Hash
		err := s.ReadAll(ctx, lds.Hash{}, func(h lds.Hash, b []byte) error {
			if lds.Sum(b) != h {
				t.Errorf("blob under %s hashes to %s", h, lds.Sum(b))
			}
			got = append(got, h)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })

		// ReadAll must already be in order.
		if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Less(got[j]) }) {
			t.Log("ReadAll out of order")
			return false
		}
		if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b lds.Hash) bool { return a == b })); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}
