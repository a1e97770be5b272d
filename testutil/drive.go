package testutil

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
)

// Drive exercises an empty remote.Drive:
// resource upload and dedup lookup,
// single and multi-record bundles,
// time-bounded listing,
// and deletion.
func Drive(ctx context.Context, t *testing.T, d remote.Drive) {
	data := []byte("resource bytes")
	h := lds.Sum(data)

	got, err := d.ResourcesAlreadyUploaded(ctx, []lds.Hash{h})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("empty drive reports %d resources", len(got))
	}

	resID, err := d.UploadResource(ctx, data, h, "text/plain", "res.txt")
	if err != nil {
		t.Fatal(err)
	}
	got, err = d.ResourcesAlreadyUploaded(ctx, []lds.Hash{h, lds.Sum([]byte("other"))})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[h] != resID {
		t.Errorf("got %v, want only %s: %s", got, h, resID)
	}
	p, err := d.DownloadResource(ctx, resID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.Data, data) || p.MediaType != "text/plain" {
		t.Errorf("downloaded resource %q (%s)", p.Data, p.MediaType)
	}

	var (
		t1   = time.Date(2021, 8, 1, 12, 0, 0, 0, time.UTC)
		t2   = t1.Add(time.Hour)
		one  = []lds.LinkedData{{"@type": "Article", "name": "one"}}
		many = []lds.LinkedData{{"@type": "Article", "name": "two"}, {"@type": "Book", "name": "three"}}
	)
	id1, err := d.UploadLinkedData(ctx, one, t1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.UploadLinkedData(ctx, many, t2)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		list func() ([]remote.FileID, error)
		want []remote.FileID
	}{{
		name: "since nil",
		list: func() ([]remote.FileID, error) { return d.ListCreatedSince(ctx, nil) },
		want: []remote.FileID{id1, id2},
	}, {
		name: "since t1",
		list: func() ([]remote.FileID, error) { return d.ListCreatedSince(ctx, &t1) },
		want: []remote.FileID{id2},
	}, {
		name: "until t1",
		list: func() ([]remote.FileID, error) { return d.ListCreatedUntil(ctx, t1) },
		want: []remote.FileID{id1},
	}, {
		name: "until t2",
		list: func() ([]remote.FileID, error) { return d.ListCreatedUntil(ctx, t2) },
		want: []remote.FileID{id1, id2},
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ids, err := tc.list()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, ids); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	p, err = d.DownloadLinkedData(ctx, id2)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := remote.Extract(p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(hashesOf(t, many), hashesOf(t, recs), cmp.Comparer(func(a, b lds.Hash) bool { return a == b })); diff != "" {
		t.Errorf("extracted records mismatch (-want +got):\n%s", diff)
	}

	if err = d.Delete(ctx, id1); err != nil {
		t.Fatal(err)
	}
	ids, err := d.ListCreatedSince(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]remote.FileID{id2}, ids); diff != "" {
		t.Errorf("after delete, mismatch (-want +got):\n%s", diff)
	}
	if _, err = d.DownloadLinkedData(ctx, id1); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("got %v downloading deleted file, want ErrNotFound", err)
	}
}

func hashesOf(t *testing.T, recs []lds.LinkedData) map[lds.Hash]bool {
	t.Helper()
	out := make(map[lds.Hash]bool)
	for _, ld := range recs {
		h, err := ld.Hash()
		if err != nil {
			t.Fatal(err)
		}
		out[h] = true
	}
	return out
}
