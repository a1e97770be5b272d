package lru

import (
	"context"
	"testing"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store/mem"
	"github.com/bobg/lds/testutil"
)

func TestLRU(t *testing.T) {
	ctx := context.Background()

	nested := testutil.NewBlobStore(ctx, t, mem.New(), "blobs")
	s, err := New(nested, 2)
	if err != nil {
		t.Fatal(err)
	}

	var hashes []lds.Hash
	for _, b := range []string{"a", "b", "c"} {
		h, _, err := s.Write(ctx, []byte(b))
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
	}
	if s.Len() != 2 {
		t.Errorf("got %d cached blobs, want 2", s.Len())
	}

	// The evicted blob comes from the nested store.
	got, err := s.Read(ctx, hashes[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "a" {
		t.Errorf("got %q, want a", got)
	}

	if _, err = s.Read(ctx, lds.Sum([]byte("missing"))); err == nil {
		t.Error("read a missing blob without error")
	}

	var n int
	err = s.ReadAll(ctx, lds.Hash{}, func(lds.Hash, []byte) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("got %d blobs, want 3", n)
	}
}
