// Package storage owns the SQLite database: schema migration, the
// repositories issued against the migrated schema, and backups.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/connection"
	"fintrack/internal/log"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrCategoryInUse = errors.New("category is referenced by transactions")
	ErrDuplicate     = errors.New("already exists")
)

const categoryCacheSize = 256

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the application connection to a migrated database. Foreign keys
// are enforced on every connection it hands out.
type Store struct {
	db         *sql.DB
	target     connection.Target
	logger     *log.Logger
	categories *lru.Cache[string, int64]
	now        func() time.Time
}

// Open connects to target. The schema is expected to be migrated already; see
// Migrate.
func Open(ctx context.Context, target connection.Target, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(target.Path()), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", target.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises them anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cache, err := lru.New[string, int64](categoryCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create category cache: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)
	logger.Debug("Database opened", log.FieldConnection, target.String(), log.FieldPath, target.Path())

	return &Store{
		db:         db,
		target:     target,
		logger:     logger,
		categories: cache,
		now:        time.Now,
	}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Target returns the database the store is connected to.
func (s *Store) Target() connection.Target { return s.target }

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// withTx runs fn in a transaction and commits when it returns nil. Every query
// inside fn must go through tx: the pool holds a single connection.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// Extended result codes are not guaranteed, so the primary constraint code is
// narrowed by the message.
func isConstraint(err error, extended int, marker string) bool {
	code := sqliteCode(err)
	if code == extended {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), marker)
}

func isForeignKeyViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY")
}

func isUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
