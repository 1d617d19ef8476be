package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	libdb "psws/backend/libs/db"
)

//go:embed migrations
var migrations embed.FS

// Open connects to the catalog with the shared initializers.
func Open(driver, dsn string) (*sql.DB, error) {
	return libdb.Open(driver, dsn)
}

// RunMigrations applies the embedded catalog schema for driver in file name
// order. Every migration is idempotent.
func RunMigrations(ctx context.Context, conn *sql.DB, driver string, logger *zap.Logger) error {
	dir := path.Join("migrations", migrationDir(driver))
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("db: read migrations: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		content, err := fs.ReadFile(migrations, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("db: read migration %s: %w", name, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("db: apply migration %s: %w", name, err)
		}
		logger.Info("migration applied", zap.String("file", name), zap.String("driver", driver))
	}
	return nil
}

func migrationDir(driver string) string {
	if strings.EqualFold(driver, "sqlite") {
		return "sqlite"
	}
	return "postgres"
}
