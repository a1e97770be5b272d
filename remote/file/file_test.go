package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/testutil"
)

func TestDrive(t *testing.T) {
	testutil.Drive(context.Background(), t, New(t.TempDir()))
}

func TestIDs(t *testing.T) {
	ctx := context.Background()
	d := New(t.TempDir())

	for _, id := range []remote.FileID{"../etc/passwd", "ld/../../x", "ld/.tmp-1", "other/x", "ld"} {
		if _, err := d.DownloadLinkedData(ctx, id); !errors.Is(err, remote.ErrNotFound) {
			t.Errorf("id %s: got %v, want ErrNotFound", id, err)
		}
	}
}

func TestResourceDedup(t *testing.T) {
	ctx := context.Background()
	d := New(t.TempDir())

	data := []byte("once")
	h := lds.Sum(data)
	id1, err := d.UploadResource(ctx, data, h, "text/plain", "")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.UploadResource(ctx, data, h, "text/plain", "")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("second upload gave %s, want %s", id2, id1)
	}

	entries, err := os.ReadDir(filepath.Join(d.root, resDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 { // the resource and its metadata
		t.Errorf("got %d entries in %s, want 2", len(entries), resDir)
	}
}

func TestCreatedName(t *testing.T) {
	created := time.Date(2021, 8, 7, 1, 2, 3, 4, time.UTC)
	name, err := nameForCreated(created, zipExt)
	if err != nil {
		t.Fatal(err)
	}
	got, err := createdFromName(name)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(created) {
		t.Errorf("got %s, want %s", got, created)
	}

	if _, err = nameForCreated(time.Date(1969, 1, 1, 0, 0, 0, 0, time.UTC), zipExt); err == nil {
		t.Error("got no error for pre-1970 time")
	}
}
