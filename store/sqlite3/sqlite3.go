// Package sqlite3 implements a store.DB on a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/lds/store"
	"github.com/bobg/lds/store/sqlkv"
)

// Schema is the SQL that New executes.
// It creates the `buckets` and `entries` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS buckets (
  name TEXT PRIMARY KEY NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
  bucket TEXT NOT NULL,
  key BLOB NOT NULL,
  value BLOB NOT NULL,
  PRIMARY KEY (bucket, key)
);
`

// New produces a new store.DB using `db` for storage.
// See variable Schema.
func New(ctx context.Context, db *sql.DB) (*sqlkv.DB, error) {
	// Sqlite permits one writer at a time;
	// a single connection keeps transactions from tripping over each other.
	db.SetMaxOpenConns(1)
	return sqlkv.New(ctx, db, Schema)
}

// Open opens the Sqlite database at the given path
// (creating it if needed)
// and produces a store.DB on it.
func Open(ctx context.Context, path string) (*sqlkv.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (store.DB, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		return Open(ctx, conn)
	})
}
