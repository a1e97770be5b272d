// Package pg implements a store.DB on a Postgresql database.
package pg

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
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
  key BYTEA NOT NULL,
  value BYTEA NOT NULL,
  PRIMARY KEY (bucket, key)
);
`

// New produces a new store.DB using `db` for storage.
// See variable Schema.
func New(ctx context.Context, db *sql.DB) (*sqlkv.DB, error) {
	return sqlkv.New(ctx, db, Schema)
}

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (store.DB, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
