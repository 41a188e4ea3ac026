package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fintrack/internal/config"
	"fintrack/internal/connection"
	"fintrack/internal/migrations"
)

func newTarget(t *testing.T) connection.Target {
	t.Helper()
	target, err := connection.Resolve(&config.Config{DatabaseName: "finance", DataDir: t.TempDir()})
	require.NoError(t, err)
	return target
}

func newMigrator(t *testing.T, target connection.Target, catalog []migrations.Migration) *Migrator {
	t.Helper()
	mg, err := NewMigrator(context.Background(), target, catalog, nil)
	require.NoError(t, err)
	t.Cleanup(func() { mg.Close() })
	return mg
}

// inspect opens a plain connection for schema assertions.
func inspect(t *testing.T, target connection.Target) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", target.MigrationDSN())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func userTables(t *testing.T, db *sql.DB) []string {
	t.Helper()
	return schemaNames(t, db, "table")
}

func indexes(t *testing.T, db *sql.DB) []string {
	t.Helper()
	return schemaNames(t, db, "index")
}

// schemaNames lists objects of kind, leaving out the version table and its
// index.
func schemaNames(t *testing.T, db *sql.DB, kind string) []string {
	t.Helper()
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = ? AND name NOT LIKE 'sqlite_%' AND tbl_name != ?
		ORDER BY name`, kind, MigrationsTable)
	require.NoError(t, err)
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

// newStore returns a store over a fully migrated database with a fixed clock.
func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	target := newTarget(t)
	require.NoError(t, Migrate(ctx, target, migrations.Catalog(), nil))

	s, err := Open(ctx, target, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
