package repo

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/index"
	"github.com/bobg/lds/store"
	"github.com/bobg/lds/store/mem"
)

var errTxnTooBig = errors.New("transaction too big")

// limitDB rejects any update that writes more than limit entries,
// the way badger rejects oversized transactions.
// A zero limit means no limit.
type limitDB struct {
	store.DB
	limit   int
	maxSeen int
}

func (d *limitDB) Update(ctx context.Context, f func(store.Tx) error) error {
	return d.DB.Update(ctx, func(tx store.Tx) error {
		lt := &limitTx{Tx: tx, limit: d.limit}
		err := f(lt)
		if lt.n > d.maxSeen {
			d.maxSeen = lt.n
		}
		return err
	})
}

type limitTx struct {
	store.Tx
	limit, n int
}

func (t *limitTx) count(n int) error {
	t.n += n
	if t.limit > 0 && t.n > t.limit {
		return errTxnTooBig
	}
	return nil
}

func (t *limitTx) Put(bucket string, key, val []byte) error {
	if err := t.count(1); err != nil {
		return err
	}
	return t.Tx.Put(bucket, key, val)
}

func (t *limitTx) PutIfAbsent(bucket string, key, val []byte) (bool, error) {
	if err := t.count(1); err != nil {
		return false, err
	}
	return t.Tx.PutIfAbsent(bucket, key, val)
}

func (t *limitTx) Delete(bucket string, key []byte) error {
	if err := t.count(1); err != nil {
		return err
	}
	return t.Tx.Delete(bucket, key)
}

func (t *limitTx) DropBucket(bucket string) error {
	ok, err := t.Tx.HasBucket(bucket)
	if err != nil {
		return err
	}
	if ok {
		err = t.Tx.Each(bucket, nil, func(_, _ []byte) error {
			return t.count(1)
		})
		if err != nil {
			return err
		}
	}
	return t.Tx.DropBucket(bucket)
}

func writeArticles(ctx context.Context, t *testing.T, r *Repo, n int) {
	t.Helper()
	for i := 0; i < 5; i++ {
		if _, err := r.WriteResource(ctx, []byte(fmt.Sprintf("resource %d", i)), "text/plain"); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		ld := lds.LinkedData{
			"@type": "Article",
			"name":  fmt.Sprintf("a%03d", i),
			"url":   fmt.Sprintf("https://example.com/%d", i),
		}
		if _, err := r.WriteLinkedData(ctx, ld); err != nil {
			t.Fatal(err)
		}
	}
}

func hasBucket(ctx context.Context, t *testing.T, db store.DB, name string) bool {
	t.Helper()
	var ok bool
	err := db.View(ctx, func(tx store.Tx) error {
		var err error
		ok, err = tx.HasBucket(name)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestBatchedRebuild(t *testing.T) {
	ctx := context.Background()
	db := &limitDB{DB: mem.New()}

	r, err := Open(ctx, db, DefaultSchema(), WithBatchSize(10))
	if err != nil {
		t.Fatal(err)
	}
	writeArticles(ctx, t, r, 100)

	db.limit, db.maxSeen = 40, 0

	sub, err := r.SubscribeDirectory(ctx, "Article", "a000")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if ch := <-sub.C(); ch.Op != index.Added {
		t.Errorf("got snapshot op %s, want added", ch.Op)
	}

	if err = r.Rebuild(ctx, index.DirectoryName); err != nil {
		t.Fatal(err)
	}
	if db.maxSeen > 40 {
		t.Errorf("rebuild wrote %d entries in one transaction", db.maxSeen)
	}

	props, err := r.Directory(ctx, "Article", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 100 {
		t.Errorf("got %d articles after rebuild, want 100", len(props))
	}

	// The migration built generation 1, the rebuild generation 2.
	if hasBucket(ctx, t, db, index.DirectoryName+"@1") {
		t.Error("old index bucket still present")
	}
	if !hasBucket(ctx, t, db, index.DirectoryName+"@2") {
		t.Error("new index bucket missing")
	}

	// An unchanged rebuild publishes nothing,
	// so the next change seen is from a write.
	if _, err = r.WriteLinkedData(ctx, lds.LinkedData{"@type": "Article", "name": "a000", "url": "https://example.com/other"}); err != nil {
		t.Fatal(err)
	}
	if ch := <-sub.C(); ch.Op != index.Added {
		t.Errorf("got op %s, want added", ch.Op)
	}

	// Ingest still reaches the swapped-in bucket.
	props, err = r.Directory(ctx, "Article", "a000")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 {
		t.Errorf("got %d records named a000, want 2", len(props))
	}
}

func TestBatchedMigration(t *testing.T) {
	ctx := context.Background()
	db := &limitDB{DB: mem.New()}

	s1, err := NewSchema([]index.Index{index.Directory{}}, DefaultSchema().Versions()[:2]...)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(ctx, db, s1)
	if err != nil {
		t.Fatal(err)
	}
	writeArticles(ctx, t, r, 100)

	db.limit, db.maxSeen = 40, 0

	r, err = Open(ctx, db, DefaultSchema(), WithBatchSize(10))
	if err != nil {
		t.Fatal(err)
	}
	if db.maxSeen > 40 {
		t.Errorf("migration wrote %d entries in one transaction", db.maxSeen)
	}

	v, err := r.Version(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != DefaultSchema().Latest() {
		t.Errorf("got version %d, want %d", v, DefaultSchema().Latest())
	}

	got, err := r.ByURL(ctx, "https://example.com/42")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d records for url, want 1", len(got))
	}
}

func TestOversizedTransactionFails(t *testing.T) {
	ctx := context.Background()
	db := &limitDB{DB: mem.New()}

	r, err := Open(ctx, db, DefaultSchema(), WithBatchSize(50))
	if err != nil {
		t.Fatal(err)
	}
	writeArticles(ctx, t, r, 60)

	db.limit = 40
	if err = r.Rebuild(ctx, index.DirectoryName); !errors.Is(err, errTxnTooBig) {
		t.Fatalf("got %v, want errTxnTooBig", err)
	}

	// The failed attempt leaves the old index in place and nothing else.
	if hasBucket(ctx, t, db, index.DirectoryName+"@2") {
		t.Error("partial index bucket left behind")
	}
	db.limit = 0
	props, err := r.Directory(ctx, "Article", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 60 {
		t.Errorf("got %d articles, want 60", len(props))
	}
}

func TestNextBucket(t *testing.T) {
	cases := []struct{ current, want string }{
		{"directory", "directory@1"},
		{"directory@1", "directory@2"},
		{"directory@41", "directory@42"},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			if got := nextBucket("directory", tc.current); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}
