package compress

import (
	"bytes"
	"context"
	"testing"

	"github.com/bobg/lds/store"
	"github.com/bobg/lds/store/mem"
	"github.com/bobg/lds/testutil"
)

func TestKV(t *testing.T) {
	ctx := context.Background()

	z, err := NewZstd()
	if err != nil {
		t.Fatal(err)
	}
	t.Run("zstd", func(t *testing.T) { testutil.KV(ctx, t, New(mem.New(), z)) })
	t.Run("s2", func(t *testing.T) { testutil.KV(ctx, t, New(mem.New(), S2{})) })
}

func TestCompresses(t *testing.T) {
	ctx := context.Background()

	z, err := NewZstd()
	if err != nil {
		t.Fatal(err)
	}

	nested := mem.New()
	db := New(nested, z, "big")

	val := bytes.Repeat([]byte("linked data "), 1000)
	err = db.Update(ctx, func(tx store.Tx) error {
		for _, b := range []string{"big", "small"} {
			if err := tx.CreateBucket(b); err != nil {
				return err
			}
			if err := tx.Put(b, []byte("k"), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = nested.View(ctx, func(tx store.Tx) error {
		raw, err := tx.Get("big", []byte("k"))
		if err != nil {
			return err
		}
		if len(raw) >= len(val) {
			t.Errorf("stored %d bytes for a %d-byte value", len(raw), len(val))
		}
		raw, err = tx.Get("small", []byte("k"))
		if err != nil {
			return err
		}
		if !bytes.Equal(raw, val) {
			t.Error("value in an uncompressed bucket was changed")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.View(ctx, func(tx store.Tx) error {
		got, err := tx.Get("big", []byte("k"))
		if err != nil {
			return err
		}
		if !bytes.Equal(got, val) {
			t.Error("round trip mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
