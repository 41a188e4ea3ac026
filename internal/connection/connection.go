// Package connection turns the configured database name into the connection
// string and the driver DSNs used to open it.
package connection

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"fintrack/internal/config"
)

// Scheme is the connection string prefix.
const Scheme = "sqlite:"

const extension = ".db"

var (
	// ErrMissingDatabaseName mirrors config.ErrMissingDatabaseName so callers
	// resolving a connection without validating the whole config still get a
	// configuration error instead of an empty path.
	ErrMissingDatabaseName = config.ErrMissingDatabaseName
	ErrInvalidConnection   = errors.New("invalid connection string")
)

// Target identifies one SQLite database file.
type Target struct {
	name string
	dir  string
}

// Resolve builds the target for cfg. It fails when the database name is absent.
func Resolve(cfg *config.Config) (Target, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseName) == "" {
		return Target{}, fmt.Errorf("resolve connection: %w", ErrMissingDatabaseName)
	}
	name := strings.TrimSpace(cfg.DatabaseName)
	if err := checkName(name); err != nil {
		return Target{}, fmt.Errorf("resolve connection: %w", err)
	}
	return Target{name: name, dir: cfg.DataDir}, nil
}

// Parse reads a connection string such as "sqlite:finance.db". The file is
// located in dir.
func Parse(conn, dir string) (Target, error) {
	if !strings.HasPrefix(conn, Scheme) {
		return Target{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidConnection, conn, Scheme)
	}
	file := strings.TrimPrefix(conn, Scheme)
	if !strings.HasSuffix(file, extension) {
		return Target{}, fmt.Errorf("%w: %q must name a %s file", ErrInvalidConnection, conn, extension)
	}
	name := strings.TrimSuffix(file, extension)
	if err := checkName(name); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidConnection, err)
	}
	return Target{name: name, dir: dir}, nil
}

// FromPath builds a target for an existing database file, such as a backup.
func FromPath(path string) (Target, error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, extension) {
		return Target{}, fmt.Errorf("%w: %q is not a %s file", ErrInvalidConnection, path, extension)
	}
	name := strings.TrimSuffix(base, extension)
	if err := checkName(name); err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidConnection, err)
	}
	return Target{name: name, dir: filepath.Dir(path)}, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return ErrMissingDatabaseName
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return fmt.Errorf("database name %q must not contain path separators", name)
	}
	return nil
}

// Name returns the database name without extension.
func (t Target) Name() string { return t.name }

// String returns the connection string, e.g. "sqlite:finance.db".
func (t Target) String() string {
	return Scheme + t.name + extension
}

// Path returns the database file path.
func (t Target) Path() string {
	return filepath.Join(t.dir, t.name+extension)
}

// Dir returns the directory holding the database file.
func (t Target) Dir() string { return t.dir }

// DSN returns the modernc.org/sqlite DSN used by the application connection.
// Foreign keys are enforced.
func (t Target) DSN() string {
	return t.dsn(true)
}

// MigrationDSN returns the DSN used while applying migrations. Foreign key
// enforcement stays off so table rebuilds can drop and rename parent tables.
func (t Target) MigrationDSN() string {
	return t.dsn(false)
}

func (t Target) dsn(foreignKeys bool) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	if foreignKeys {
		q.Add("_pragma", "foreign_keys(1)")
	}
	return "file:" + filepath.ToSlash(t.Path()) + "?" + q.Encode()
}
