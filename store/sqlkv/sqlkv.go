// Package sqlkv implements store.DB on top of a database/sql database.
// It is shared by the sqlite3 and pg backends,
// which differ only in their schema and driver.
package sqlkv

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/lds"
	"github.com/bobg/lds/store"
)

var _ store.DB = &DB{}

// DB is a store.DB backed by two SQL tables,
// `buckets` and `entries`.
type DB struct {
	db *sql.DB
}

// New produces a new DB using `db` for storage.
// It executes `schema`,
// which must create the `buckets` and `entries` tables if they do not exist.
func New(ctx context.Context, db *sql.DB, schema string) (*DB, error) {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return nil, errors.Wrap(err, "creating schema")
	}
	return &DB{db: db}, nil
}

// View implements store.DB.
func (d *DB) View(ctx context.Context, f func(store.Tx) error) error {
	sqltx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer sqltx.Rollback()

	return f(newTx(ctx, sqltx, true))
}

// Update implements store.DB.
func (d *DB) Update(ctx context.Context, f func(store.Tx) error) error {
	sqltx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = f(newTx(ctx, sqltx, false)); err != nil {
		if rbErr := sqltx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "(rollback also failed: %s)", rbErr)
		}
		return err
	}
	return errors.Wrap(sqltx.Commit(), "committing transaction")
}

// Close implements store.DB.
func (d *DB) Close() error {
	return d.db.Close()
}

type tx struct {
	ctx      context.Context
	tx       *sql.Tx
	readonly bool
	known    map[string]bool
}

func newTx(ctx context.Context, sqltx *sql.Tx, readonly bool) *tx {
	return &tx{ctx: ctx, tx: sqltx, readonly: readonly, known: make(map[string]bool)}
}

var errReadOnly = errors.New("write in read-only transaction")

func (t *tx) CreateBucket(name string) error {
	if t.readonly {
		return errReadOnly
	}
	const q = `INSERT INTO buckets (name) VALUES ($1) ON CONFLICT DO NOTHING`
	_, err := t.tx.ExecContext(t.ctx, q, name)
	if err != nil {
		return errors.Wrapf(err, "creating bucket %s", name)
	}
	t.known[name] = true
	return nil
}

func (t *tx) DropBucket(name string) error {
	if t.readonly {
		return errReadOnly
	}
	const q1 = `DELETE FROM entries WHERE bucket = $1`
	if _, err := t.tx.ExecContext(t.ctx, q1, name); err != nil {
		return errors.Wrapf(err, "deleting entries of bucket %s", name)
	}
	const q2 = `DELETE FROM buckets WHERE name = $1`
	if _, err := t.tx.ExecContext(t.ctx, q2, name); err != nil {
		return errors.Wrapf(err, "deleting bucket %s", name)
	}
	t.known[name] = false
	return nil
}

func (t *tx) HasBucket(name string) (bool, error) {
	if known, ok := t.known[name]; ok {
		return known, nil
	}
	const q = `SELECT COUNT(*) FROM buckets WHERE name = $1`
	var n int
	if err := t.tx.QueryRowContext(t.ctx, q, name).Scan(&n); err != nil {
		return false, errors.Wrapf(err, "checking bucket %s", name)
	}
	t.known[name] = n > 0
	return n > 0, nil
}

func (t *tx) checkBucket(name string) error {
	ok, err := t.HasBucket(name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(store.ErrNoBucket, name)
	}
	return nil
}

func (t *tx) Get(name string, key []byte) ([]byte, error) {
	if err := t.checkBucket(name); err != nil {
		return nil, err
	}
	const q = `SELECT value FROM entries WHERE bucket = $1 AND key = $2`
	var val []byte
	err := t.tx.QueryRowContext(t.ctx, q, name, key).Scan(&val)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, lds.ErrNotFound
	}
	return val, errors.Wrapf(err, "getting %x from %s", key, name)
}

func (t *tx) Put(name string, key, val []byte) error {
	if t.readonly {
		return errReadOnly
	}
	if err := t.checkBucket(name); err != nil {
		return err
	}
	const q = `INSERT INTO entries (bucket, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value`
	_, err := t.tx.ExecContext(t.ctx, q, name, key, nonNil(val))
	return errors.Wrapf(err, "putting %x in %s", key, name)
}

func (t *tx) PutIfAbsent(name string, key, val []byte) (bool, error) {
	if t.readonly {
		return false, errReadOnly
	}
	if err := t.checkBucket(name); err != nil {
		return false, err
	}
	const q = `INSERT INTO entries (bucket, key, value) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	res, err := t.tx.ExecContext(t.ctx, q, name, key, nonNil(val))
	if err != nil {
		return false, errors.Wrapf(err, "inserting %x in %s", key, name)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}
	return aff > 0, nil
}

func (t *tx) Delete(name string, key []byte) error {
	if t.readonly {
		return errReadOnly
	}
	if err := t.checkBucket(name); err != nil {
		return err
	}
	const q = `DELETE FROM entries WHERE bucket = $1 AND key = $2`
	_, err := t.tx.ExecContext(t.ctx, q, name, key)
	return errors.Wrapf(err, "deleting %x from %s", key, name)
}

type pair struct {
	key, val []byte
}

// Each reads a page of rows at a time
// and closes the result set before calling f,
// so f may use the transaction.
func (t *tx) Each(name string, start []byte, f func(key, val []byte) error) error {
	if err := t.checkBucket(name); err != nil {
		return err
	}

	const q = `SELECT key, value FROM entries WHERE bucket = $1 AND key > $2 ORDER BY key LIMIT $3`

	cursor := nonNil(start)
	for {
		var page []pair
		err := sqlutil.ForQueryRows(t.ctx, t.tx, q, name, cursor, store.PageSize, func(key, val []byte) {
			page = append(page, pair{key: key, val: val})
		})
		if err != nil {
			return errors.Wrapf(err, "listing %s", name)
		}
		for _, p := range page {
			err = f(p.key, p.val)
			if errors.Is(err, store.ErrStop) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		if len(page) < store.PageSize {
			return nil
		}
		cursor = page[len(page)-1].key
	}
}

// A nil []byte becomes SQL NULL, which compares as unknown.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
