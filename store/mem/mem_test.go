package mem

import (
	"context"
	"testing"

	"github.com/bobg/lds/blob"
	"github.com/bobg/lds/testutil"
)

func TestKV(t *testing.T) {
	testutil.KV(context.Background(), t, New())
}

func TestBlobs(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewBlobStore(ctx, t, New(), "blobs")
	testutil.BlobReadWrite(ctx, t, s, []byte("0123456789"))
	testutil.AllHashes(ctx, t, func() *blob.Store {
		return testutil.NewBlobStore(ctx, t, New(), "blobs")
	})
}
