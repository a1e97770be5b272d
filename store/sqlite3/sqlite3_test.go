package sqlite3

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/bobg/lds/blob"
	"github.com/bobg/lds/store"
	"github.com/bobg/lds/testutil"
)

func TestKV(t *testing.T) {
	ctx := context.Background()
	withTestDB(ctx, t, func(db store.DB) {
		testutil.KV(ctx, t, db)
	})
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	withTestDB(ctx, t, func(db store.DB) {
		s := testutil.NewBlobStore(ctx, t, db, "blobs")
		testutil.BlobReadWrite(ctx, t, s, []byte("0123456789"))
	})

	dir := t.TempDir()
	var n int
	testutil.AllHashes(ctx, t, func() *blob.Store {
		n++
		db, err := Open(ctx, filepath.Join(dir, fmt.Sprintf("db%d", n)))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { db.Close() })
		return testutil.NewBlobStore(ctx, t, db, "blobs")
	})
}

func withTestDB(ctx context.Context, t *testing.T, fn func(store.DB)) {
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	fn(db)
}
