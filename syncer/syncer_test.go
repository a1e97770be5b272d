package syncer

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/remote"
	"github.com/bobg/lds/remote/mem"
	"github.com/bobg/lds/repo"
	memstore "github.com/bobg/lds/store/mem"
)

func newRepo(ctx context.Context, t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Open(ctx, memstore.New(), repo.DefaultSchema())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func synced(ctx context.Context, t *testing.T, r *repo.Repo, h lds.Hash) bool {
	t.Helper()
	sr, err := r.SyncRecord(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	return sr.Synced
}

func TestUploadAlreadyUploaded(t *testing.T) {
	ctx := context.Background()
	r := newRepo(ctx, t)
	d := mem.New()

	data := []byte("0123456789")
	h, err := r.WriteResource(ctx, data, "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = d.UploadResource(ctx, data, h, "text/plain", ""); err != nil {
		t.Fatal(err)
	}
	before := d.Calls("UploadResource")

	u := &Uploader{Repo: r}
	res, err := u.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if after := d.Calls("UploadResource"); after != before {
		t.Errorf("uploader called UploadResource %d times, want 0", after-before)
	}
	if diff := cmp.Diff(UploadResult{AlreadyUploaded: 1}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if !synced(ctx, t, r, h) {
		t.Error("resource not marked synced")
	}
}

func TestUploadPartialFailure(t *testing.T) {
	ctx := context.Background()
	r := newRepo(ctx, t)
	d := mem.New()

	hr, err := r.WriteResource(ctx, []byte("image bytes"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	var lds1 []lds.Hash
	for _, ld := range []lds.LinkedData{
		{"@type": "Article", "name": "a", "image": string(hr.URI())},
		{"@type": "Article", "name": "b"},
	} {
		h, err := r.WriteLinkedData(ctx, ld)
		if err != nil {
			t.Fatal(err)
		}
		lds1 = append(lds1, h)
	}

	boom := errors.New("boom")
	d.Fail = func(op string) error {
		if op == "UploadLinkedData" {
			return boom
		}
		return nil
	}

	u := &Uploader{Repo: r}
	res, err := u.Run(ctx, d)
	var m lds.MultiErr
	if !errors.As(err, &m) || !errors.Is(m["bundle"], boom) {
		t.Fatalf("got error %v, want bundle failure", err)
	}
	if res.Resources != 1 || res.LinkedData != 0 {
		t.Errorf("got %+v", res)
	}
	if !synced(ctx, t, r, hr) {
		t.Error("uploaded resource not marked synced")
	}
	for _, h := range lds1 {
		if synced(ctx, t, r, h) {
			t.Errorf("%s marked synced after failed bundle", h)
		}
	}

	d.Fail = nil
	res, err = u.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(UploadResult{LinkedData: 2, Bundles: 1}, res); diff != "" {
		t.Errorf("retry mismatch (-want +got):\n%s", diff)
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after retry, want 0", len(pending))
	}
}

func TestUploadResourceFailure(t *testing.T) {
	ctx := context.Background()
	r := newRepo(ctx, t)
	d := mem.New()

	h, err := r.WriteResource(ctx, []byte("x"), "")
	if err != nil {
		t.Fatal(err)
	}
	hl, err := r.WriteLinkedData(ctx, lds.LinkedData{"@type": "Book"})
	if err != nil {
		t.Fatal(err)
	}

	d.Fail = func(op string) error {
		if op == "UploadResource" {
			return errors.New("boom")
		}
		return nil
	}
	_, err = (&Uploader{Repo: r}).Run(ctx, d)
	var m lds.MultiErr
	if !errors.As(err, &m) {
		t.Fatalf("got %v, want MultiErr", err)
	}
	if _, ok := m[h.String()]; !ok {
		t.Errorf("error does not name %s: %v", h, m)
	}
	if synced(ctx, t, r, h) {
		t.Error("failed resource marked synced")
	}
	if !synced(ctx, t, r, hl) {
		t.Error("linked data not synced despite resource failure")
	}
}

func TestMaxBundle(t *testing.T) {
	ctx := context.Background()
	r := newRepo(ctx, t)
	d := mem.New()

	for i := 0; i < 5; i++ {
		if _, err := r.WriteLinkedData(ctx, lds.LinkedData{"@type": "Article", "n": float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := (&Uploader{Repo: r, MaxBundle: 2}).Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Bundles != 3 || res.LinkedData != 5 {
		t.Errorf("got %+v, want 3 bundles of 5 records", res)
	}
	if d.Len() != 3 {
		t.Errorf("drive has %d files, want 3", d.Len())
	}
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	d := mem.New()

	// Another device writes and uploads.
	other := newRepo(ctx, t)
	img, err := other.WriteResource(ctx, []byte("picture"), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	for _, ld := range []lds.LinkedData{
		{"@type": "Article", "name": "one", "image": string(img.URI())},
		{"@type": "Article", "name": "two"},
		{"@type": "Book", "name": "three"},
	} {
		if _, err := other.WriteLinkedData(ctx, ld); err != nil {
			t.Fatal(err)
		}
	}
	if _, err = (&Uploader{Repo: other}).Run(ctx, d); err != nil {
		t.Fatal(err)
	}

	r := newRepo(ctx, t)
	dl := &Downloader{Repo: r}
	res, err := dl.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 1 || res.Records != 3 || res.Resources != 1 {
		t.Errorf("got %+v", res)
	}

	res2, err := r.Resource(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	if res2.MediaType != "image/jpeg" {
		t.Errorf("got media type %s", res2.MediaType)
	}

	pending, err := r.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("downloaded records are pending: %v", pending)
	}

	articles := func() []string {
		props, err := r.Directory(ctx, "Article", "")
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, p := range props {
			names = append(names, p.Name)
		}
		return names
	}
	want := []string{"one", "two"}
	if diff := cmp.Diff(want, articles()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// Forget the checkpoint so the same window is downloaded again.
	if err = r.SetCheckpoint(ctx, time.Time{}); err != nil {
		t.Fatal(err)
	}
	before, err := r.LinkedDataStore().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := r.SubscribeDirectory(ctx, "Article", "")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err = dl.Run(ctx, d); err != nil {
		t.Fatal(err)
	}
	after, err := r.LinkedDataStore().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("second download changed record count from %d to %d", before, after)
	}
	if diff := cmp.Diff(want, articles()); diff != "" {
		t.Errorf("after second download, mismatch (-want +got):\n%s", diff)
	}

	// The subscription sees its two-entry snapshot and nothing more.
	for i := 0; i < 2; i++ {
		<-sub.C()
	}
	select {
	case c := <-sub.C():
		t.Errorf("unexpected change %s %q after second download", c.Op, c.Key)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDownloadBundleWithJunk(t *testing.T) {
	ctx := context.Background()
	d := mem.New()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"rec" + remote.RecordSuffix: `{"@type": "Article", "name": "zipped"}`,
		"README.txt":                "hello",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err = w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	d.PutPayload(remote.Payload{Data: buf.Bytes(), MediaType: remote.MediaTypeZip}, time.Now().Add(-time.Hour))
	d.PutPayload(remote.Payload{Data: []byte("{not json"), MediaType: remote.MediaTypeLinkedData}, time.Now().Add(-time.Hour))

	r := newRepo(ctx, t)
	res, err := (&Downloader{Repo: r}).Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Records != 1 || res.Skipped != 1 || res.Files != 2 {
		t.Errorf("got %+v", res)
	}
}

func TestDownloadFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	d := mem.New()
	if _, err := d.UploadLinkedData(ctx, []lds.LinkedData{{"@type": "Book"}}, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	d.Fail = func(op string) error {
		if op == "DownloadLinkedData" {
			return errors.New("network down")
		}
		return nil
	}

	r := newRepo(ctx, t)
	if _, err := (&Downloader{Repo: r}).Run(ctx, d); err == nil {
		t.Fatal("got no error")
	}
	if _, ok, err := r.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("checkpoint advanced after failed pass")
	}
}

func TestDownloadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := mem.New()
	checkpoint := time.Now().Add(-time.Hour).UTC()

	var hashes []lds.Hash
	for i, name := range []string{"f1", "f2", "f3"} {
		ld := lds.LinkedData{"@type": "Article", "name": name}
		h, err := ld.Hash()
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
		if _, err = d.UploadLinkedData(ctx, []lds.LinkedData{ld}, checkpoint.Add(time.Duration(i+1)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	r := newRepo(ctx, t)
	if err := r.SetCheckpoint(ctx, checkpoint); err != nil {
		t.Fatal(err)
	}

	var downloads int
	d.Fail = func(op string) error {
		if op == "DownloadLinkedData" {
			downloads++
			if downloads == 2 {
				cancel()
			}
		}
		return nil
	}

	_, err := (&Downloader{Repo: r}).Run(ctx, d)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	bg := context.Background()
	got, ok, err := r.Checkpoint(bg)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !got.Equal(checkpoint) {
		t.Errorf("got checkpoint %s, want %s", got, checkpoint)
	}

	// Each record is either wholly present or wholly absent.
	for _, h := range hashes {
		has, err := r.Has(bg, lds.KindLinkedData, h)
		if err != nil {
			t.Fatal(err)
		}
		_, srErr := r.SyncRecord(bg, h)
		if has != (srErr == nil) {
			t.Errorf("%s: stored %v but sync record error %v", h, has, srErr)
		}
	}
	props, err := r.Directory(bg, "Article", "")
	if err != nil {
		t.Fatal(err)
	}
	if has, _ := r.Has(bg, lds.KindLinkedData, hashes[0]); !has || len(props) != 1 {
		t.Errorf("got %d indexed articles (first stored: %v), want only the first file's", len(props), has)
	}

	// The next pass covers the same window.
	d.Fail = nil
	res, err := (&Downloader{Repo: r}).Run(bg, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 3 {
		t.Errorf("got %d files on retry, want 3", res.Files)
	}
	if props, err = r.Directory(bg, "Article", ""); err != nil {
		t.Fatal(err)
	} else if len(props) != 3 {
		t.Errorf("got %d articles after retry, want 3", len(props))
	}
}

func TestDownloadRetriesCorruptResource(t *testing.T) {
	ctx := context.Background()
	d := mem.New()

	good := []byte("picture")
	h := lds.Sum(good)
	badID, err := d.UploadResource(ctx, []byte("garbage"), h, "image/jpeg", "")
	if err != nil {
		t.Fatal(err)
	}
	ld := lds.LinkedData{"@type": "Article", "image": string(h.URI())}
	if _, err = d.UploadLinkedData(ctx, []lds.LinkedData{ld}, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	r := newRepo(ctx, t)
	dl := &Downloader{Repo: r}
	res, err := dl.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Records != 1 || res.Resources != 0 || res.Wanted != 1 {
		t.Errorf("got %+v", res)
	}
	wanted, err := r.Wanted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(wanted) != 1 || wanted[0] != h {
		t.Errorf("got wanted %v, want [%s]", wanted, h)
	}

	// Replace the corrupt copy.
	if err = d.Delete(ctx, badID); err != nil {
		t.Fatal(err)
	}
	if _, err = d.UploadResource(ctx, good, h, "image/jpeg", ""); err != nil {
		t.Fatal(err)
	}

	// No new linked data, but the resource is still fetched.
	res, err = dl.Run(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 0 || res.Resources != 1 || res.Wanted != 0 {
		t.Errorf("got %+v on retry", res)
	}
	if has, err := r.Has(ctx, lds.KindResource, h); err != nil {
		t.Fatal(err)
	} else if !has {
		t.Error("resource not stored on retry")
	}
	if wanted, err = r.Wanted(ctx); err != nil {
		t.Fatal(err)
	} else if len(wanted) != 0 {
		t.Errorf("still wanted after arrival: %v", wanted)
	}
}

func TestEngine(t *testing.T) {
	ctx := context.Background()
	d := mem.New()

	a, b := newRepo(ctx, t), newRepo(ctx, t)
	ha, err := a.WriteLinkedData(ctx, lds.LinkedData{"@type": "Article", "name": "from a"})
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.WriteLinkedData(ctx, lds.LinkedData{"@type": "Article", "name": "from b"})
	if err != nil {
		t.Fatal(err)
	}

	for _, r := range []*repo.Repo{a, b, a} {
		if _, err := New(r, nil).Run(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	for _, r := range []*repo.Repo{a, b} {
		for _, h := range []lds.Hash{ha, hb} {
			ok, err := r.Has(ctx, lds.KindLinkedData, h)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Errorf("repo missing %s", h)
			}
		}
	}
}
