package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteBusyTimeoutMS = 5000

// NewSQLiteDB opens an embedded SQLite catalog at path, creating parent
// directories as needed. ":memory:" is accepted for tests.
func NewSQLiteDB(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("db: empty sqlite path")
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db: mkdir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()

	pragmas := fmt.Sprintf("pragma foreign_keys=ON; pragma busy_timeout=%d;", sqliteBusyTimeoutMS)
	if path != ":memory:" {
		pragmas += " pragma journal_mode=WAL;"
	}
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: pragmas: %w", err)
	}

	return db, nil
}

// Open selects the catalog driver by name.
func Open(driver, dsn string) (*sql.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "pgx":
		return NewPostgresDB(dsn)
	case "sqlite":
		return NewSQLiteDB(dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}
