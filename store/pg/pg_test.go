package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/bobg/lds/testutil"
)

const connVar = "LDS_PG_TESTING_CONN"

func TestKV(t *testing.T) {
	conn := os.Getenv(connVar)
	if conn == "" {
		t.Skipf("to run TestKV, set %s to the connection string of a scratch database", connVar)
	}

	ctx := context.Background()
	sqldb, err := sql.Open("postgres", conn)
	if err != nil {
		t.Fatal(err)
	}
	defer sqldb.Close()

	// Start from empty tables.
	if _, err = sqldb.ExecContext(ctx, `DROP TABLE IF EXISTS entries; DROP TABLE IF EXISTS buckets`); err != nil {
		t.Fatal(err)
	}

	db, err := New(ctx, sqldb)
	if err != nil {
		t.Fatal(err)
	}
	testutil.KV(ctx, t, db)
}
