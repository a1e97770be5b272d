package index

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
	"github.com/bobg/lds/store/mem"
)

type fixture struct {
	ctx context.Context
	db  store.DB
	c   *Composite
}

func newFixture(t *testing.T, indexes ...Index) *fixture {
	t.Helper()
	if len(indexes) == 0 {
		indexes = Builtin()
	}
	c, err := NewComposite(indexes...)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{ctx: context.Background(), db: mem.New(), c: c}
	err = f.db.Update(f.ctx, func(tx store.Tx) error {
		for _, idx := range indexes {
			if err := tx.CreateBucket(idx.Name()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// write indexes ld, returning its hash and the changes it caused.
func (f *fixture) write(t *testing.T, ld lds.LinkedData) (lds.Hash, []Change, error) {
	t.Helper()
	h, err := ld.Hash()
	if err != nil {
		t.Fatal(err)
	}
	var changes []Change
	err = f.db.Update(f.ctx, func(tx store.Tx) error {
		var err error
		changes, err = f.c.Update(f.ctx, tx, ld, h)
		var r *Report
		if errors.As(err, &r) {
			// Siblings still commit.
			return nil
		}
		return err
	})
	return h, changes, err
}

func (f *fixture) dump(t *testing.T) map[string]map[string]string {
	t.Helper()
	out := make(map[string]map[string]string)
	err := f.db.View(f.ctx, func(tx store.Tx) error {
		for _, idx := range f.c.Indexes() {
			m := make(map[string]string)
			err := tx.Each(idx.Name(), nil, func(k, v []byte) error {
				m[string(k)] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
			out[idx.Name()] = m
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func sliceSource(recs []lds.LinkedData) Source {
	return func(f func(lds.Record, lds.Hash) error) error {
		for _, ld := range recs {
			h, err := ld.Hash()
			if err != nil {
				return err
			}
			if err := f(ld, h); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestDirectory(t *testing.T) {
	f := newFixture(t, Directory{})

	recs := []lds.LinkedData{
		{"@type": "Article", "name": "Go proverbs"},
		{"@type": "Book", "name": "The Go Programming Language"},
		{"@type": "Article", "name": "Effective Go"},
	}
	for _, ld := range recs {
		if _, _, err := f.write(t, ld); err != nil {
			t.Fatal(err)
		}
	}

	query := func() []DirectoryProps {
		var got []DirectoryProps
		err := f.db.View(f.ctx, func(tx store.Tx) error {
			var err error
			got, err = QueryDirectory(tx, "Article", "")
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
		return got
	}

	h0, _ := recs[0].Hash()
	h2, _ := recs[2].Hash()
	want := []DirectoryProps{
		{Hash: h2, Type: "Article", Name: "Effective Go"},
		{Hash: h0, Type: "Article", Name: "Go proverbs"},
	}

	if diff := cmp.Diff(want, query(), hashComparer); diff != "" {
		t.Errorf("before backfill, mismatch (-want +got):\n%s", diff)
	}

	err := f.db.Update(f.ctx, func(tx store.Tx) error {
		_, err := Backfill(f.ctx, tx, Directory{}, sliceSource(recs))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, query(), hashComparer); diff != "" {
		t.Errorf("after backfill, mismatch (-want +got):\n%s", diff)
	}

	// Writing again is a no-op.
	_, changes, err := f.write(t, recs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("got %d changes on rewrite, want 0", len(changes))
	}
}

var hashComparer = cmp.Comparer(func(a, b lds.Hash) bool { return a == b })

type failing struct{ panics bool }

func (failing) Name() string { return "failing" }

func (f failing) Update(lds.Record, lds.Hash) ([]Op, error) {
	if f.panics {
		panic("boom")
	}
	return nil, errors.New("boom")
}

func TestCompositeIsolation(t *testing.T) {
	cases := []struct {
		panics bool
	}{{false}, {true}}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			f := newFixture(t, failing{panics: tc.panics}, Directory{}, URL{})
			ld := lds.LinkedData{"@type": "Article", "url": "https://example.com/a"}
			h, err := ld.Hash()
			if err != nil {
				t.Fatal(err)
			}

			var report *Report
			err = f.db.Update(f.ctx, func(tx store.Tx) error {
				_, err := f.c.Update(f.ctx, tx, ld, h)
				if !errors.As(err, &report) {
					return fmt.Errorf("got error %v, want *Report", err)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if report.Hash != h {
				t.Errorf("report hash %s, want %s", report.Hash, h)
			}
			if _, ok := report.Failed["failing"]; !ok || len(report.Failed) != 1 {
				t.Errorf("report names %v, want only failing", report.Failed)
			}

			d := f.dump(t)
			if len(d[DirectoryName]) != 1 {
				t.Errorf("directory has %d entries, want 1", len(d[DirectoryName]))
			}
			if len(d[URLName]) != 1 {
				t.Errorf("url has %d entries, want 1", len(d[URLName]))
			}
			if len(d["failing"]) != 0 {
				t.Errorf("failing index has %d entries, want 0", len(d["failing"]))
			}
		})
	}
}

func TestDuplicateIndexName(t *testing.T) {
	if _, err := NewComposite(Directory{}, Directory{}); err == nil {
		t.Error("got no error for duplicate index names")
	}
}

// corpus exercises every builtin index,
// including two revisions of one task whose order must not matter.
func corpus() []lds.LinkedData {
	doc := lds.LinkedData{"@type": "Article", "name": "Annotated", "url": "https://example.com/doc"}
	docHash, _ := doc.Hash()
	return []lds.LinkedData{
		doc,
		{"@type": "Book", "name": "Bound"},
		{"@type": "Annotation", "target": string(docHash.URI()), "created": "2021-01-02T00:00:00Z"},
		{"@type": "Annotation", "target": map[string]interface{}{"source": "https://example.com/doc"}},
		{"@type": "Task", "identifier": "t1", "name": "write", "dateCreated": "2021-01-01T00:00:00Z"},
		{"@type": "Task", "identifier": "t1", "name": "write", "actionStatus": CompletedStatus, "endTime": "2021-01-03T00:00:00Z"},
		{"@type": "Task", "identifier": "t2", "name": "read", "dateCreated": "2021-01-02T00:00:00Z"},
		{"@type": "WatchAction", "object": "https://example.com/video", "startTime": "2021-02-01T10:00:00Z"},
		{"@type": "WatchAction", "object": "https://example.com/video", "startTime": "2021-02-02T10:00:00Z"},
	}
}

func TestOrderIndependence(t *testing.T) {
	recs := corpus()

	ref := newFixture(t)
	err := ref.db.Update(ref.ctx, func(tx store.Tx) error {
		for _, idx := range ref.c.Indexes() {
			if _, err := Backfill(ref.ctx, tx, idx, sliceSource(recs)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := ref.dump(t)

	check := func(seed int64) bool {
		f := newFixture(t)
		perm := rand.New(rand.NewSource(seed)).Perm(len(recs))
		for _, i := range perm {
			if _, _, err := f.write(t, recs[i]); err != nil {
				t.Fatal(err)
			}
		}
		if diff := cmp.Diff(want, f.dump(t)); diff != "" {
			t.Logf("order %v: mismatch (-backfill +incremental):\n%s", perm, diff)
			return false
		}
		return true
	}
	if err := quick.Check(check, &quick.Config{MaxCount: 30}); err != nil {
		t.Error(err)
	}
}

func TestBackfillChanges(t *testing.T) {
	f := newFixture(t, Directory{})
	recs := []lds.LinkedData{
		{"@type": "Article", "name": "a"},
		{"@type": "Article", "name": "b"},
	}
	if _, _, err := f.write(t, recs[0]); err != nil {
		t.Fatal(err)
	}

	// Rebuild from a source that has only recs[1]:
	// recs[0]'s entry goes away and recs[1]'s appears.
	var changes []Change
	err := f.db.Update(f.ctx, func(tx store.Tx) error {
		var err error
		changes, err = Backfill(f.ctx, tx, Directory{}, sliceSource(recs[1:]))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range changes {
		var p DirectoryProps
		if err := c.Decode(&p); err != nil {
			t.Fatal(err)
		}
		got = append(got, c.Op.String()+" "+p.Name)
	}
	if diff := cmp.Diff([]string{"added b", "removed a"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestCompletion(t *testing.T) {
	f := newFixture(t, Completion{})
	for _, ld := range corpus() {
		if _, _, err := f.write(t, ld); err != nil {
			t.Fatal(err)
		}
	}

	day := func(d int) time.Time { return time.Date(2021, 1, d, 0, 0, 0, 0, time.UTC) }
	yes, no := true, false

	cases := []struct {
		w    Window
		want []string
	}{{
		w:    Window{},
		want: []string{"t2", "t1"},
	}, {
		w:    Window{From: day(1), To: day(2)},
		want: []string{"t2"}, // t1's first revision is superseded
	}, {
		w:    Window{From: day(3)},
		want: []string{"t1"},
	}, {
		w:    Window{Completed: &yes},
		want: []string{"t1"},
	}, {
		w:    Window{Completed: &no},
		want: []string{"t2"},
	}, {
		w:    Window{To: day(1)},
		want: nil,
	}}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			var got []string
			err := f.db.View(f.ctx, func(tx store.Tx) error {
				props, err := QueryCompletion(tx, tc.w)
				if err != nil {
					return err
				}
				for _, p := range props {
					got = append(got, p.Identifier)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}

	err := f.db.View(f.ctx, func(tx store.Tx) error {
		p, err := Task(tx, "t1")
		if err != nil {
			return err
		}
		if !p.Completed {
			return errors.New("t1 not completed")
		}
		_, err = Task(tx, "t3")
		if !errors.Is(err, lds.ErrNotFound) {
			return fmt.Errorf("got %v for t3, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

func TestAnnotationsAndWatch(t *testing.T) {
	f := newFixture(t)
	recs := corpus()
	for _, ld := range recs {
		if _, _, err := f.write(t, ld); err != nil {
			t.Fatal(err)
		}
	}
	docHash, _ := recs[0].Hash()

	err := f.db.View(f.ctx, func(tx store.Tx) error {
		anns, err := QueryAnnotations(tx, string(docHash.URI()))
		if err != nil {
			return err
		}
		if len(anns) != 1 {
			return fmt.Errorf("got %d annotations by hash, want 1", len(anns))
		}
		anns, err = QueryAnnotations(tx, "https://example.com/doc")
		if err != nil {
			return err
		}
		if len(anns) != 1 {
			return fmt.Errorf("got %d annotations by url, want 1", len(anns))
		}

		byURL, err := QueryURL(tx, "https://example.com/doc")
		if err != nil {
			return err
		}
		if len(byURL) != 1 || byURL[0].Hash != docHash {
			return fmt.Errorf("url query got %v", byURL)
		}

		hist, err := QueryWatchHistory(tx, "https://example.com/video")
		if err != nil {
			return err
		}
		if len(hist) != 2 {
			return fmt.Errorf("got %d watch entries, want 2", len(hist))
		}
		if !hist[0].Time.After(hist[1].Time) {
			return errors.New("watch history not newest first")
		}

		latest, err := LatestWatched(tx, 1)
		if err != nil {
			return err
		}
		if len(latest) != 1 || !latest[0].Time.Equal(hist[0].Time) {
			return fmt.Errorf("latest got %v", latest)
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
}

func TestHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hub Hub
	snap := []Change{{Index: DirectoryName, Op: Added, Key: []byte("Article\x00a"), Value: []byte("1")}}
	sub := hub.Subscribe(ctx, DirectoryName, []byte("Article\x00"), snap)

	hub.Publish([]Change{
		{Index: DirectoryName, Op: Added, Key: []byte("Book\x00x"), Value: []byte("2")},
		{Index: URLName, Op: Added, Key: []byte("Article\x00b"), Value: []byte("3")},
		{Index: DirectoryName, Op: Updated, Key: []byte("Article\x00a"), Value: []byte("4")},
	})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case c := <-sub.C():
			got = append(got, fmt.Sprintf("%s %s", c.Op, c.Value))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
	}
	if diff := cmp.Diff([]string{"added 1", "updated 4"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	sub.Close()
	for range sub.C() {
	}
}

func TestCompletionAtEpoch(t *testing.T) {
	f := newFixture(t, Completion{})
	for _, ld := range []lds.LinkedData{
		{"@type": "Task", "identifier": "epoch", "dateCreated": "1970-01-01T00:00:00Z"},
		{"@type": "Task", "identifier": "later", "dateCreated": "2021-01-02T00:00:00Z"},
	} {
		if _, _, err := f.write(t, ld); err != nil {
			t.Fatal(err)
		}
	}

	epoch := time.Unix(0, 0)
	cases := []struct {
		w    Window
		want []string
	}{{
		w:    Window{From: epoch},
		want: []string{"epoch", "later"},
	}, {
		w:    Window{From: epoch, To: epoch},
		want: []string{"epoch"},
	}, {
		w:    Window{From: epoch.Add(-time.Hour)},
		want: []string{"epoch", "later"},
	}, {
		w:    Window{From: epoch.Add(time.Nanosecond)},
		want: []string{"later"},
	}}

	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			var got []string
			err := f.db.View(f.ctx, func(tx store.Tx) error {
				props, err := QueryCompletion(tx, tc.w)
				for _, p := range props {
					got = append(got, p.Identifier)
				}
				return err
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
