package repository

import (
	"reflect"
	"testing"
)

func TestBindSQLite(t *testing.T) {
	q, args := SQLite.Bind(`UPDATE t SET a = $2, b = $1 WHERE id = $3 OR parent = $3`, "x", "y", 7)
	if q != `UPDATE t SET a = ?, b = ? WHERE id = ? OR parent = ?` {
		t.Fatalf("query = %s", q)
	}
	if !reflect.DeepEqual(args, []any{"y", "x", 7, 7}) {
		t.Fatalf("args = %v", args)
	}
}

func TestBindPostgresIsIdentity(t *testing.T) {
	q, args := Postgres.Bind(`SELECT $1`, 1)
	if q != `SELECT $1` || len(args) != 1 {
		t.Fatalf("unexpected %s %v", q, args)
	}
}

func TestDialectFor(t *testing.T) {
	if DialectFor("SQLite") != SQLite || DialectFor("postgres") != Postgres || DialectFor("") != Postgres {
		t.Fatal("unexpected dialect mapping")
	}
}
