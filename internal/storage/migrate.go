package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite"

	"fintrack/internal/connection"
	"fintrack/internal/log"
	"fintrack/internal/migrations"
)

// MigrationsTable records the applied version and the dirty flag.
const MigrationsTable = "schema_migrations"

var (
	ErrUnknownVersion   = errors.New("database version is not in the migration catalog")
	ErrDirty            = errors.New("database is dirty")
	ErrConcurrentChange = errors.New("schema version changed by another process")
)

// MigrationError reports the step that failed. The database is left at the
// last version that completed.
type MigrationError struct {
	Version     uint
	Description string
	Direction   migrations.Kind
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d %s (%s): %v", e.Version, e.Direction, e.Description, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// VersionStatus describes one catalog version against the database.
type VersionStatus struct {
	Version     uint
	Description string
	Applied     bool
}

// Status is the migration state of a database.
type Status struct {
	Current  uint
	Dirty    bool
	Latest   uint
	Versions []VersionStatus
}

// Pending reports whether any catalog version is not applied yet.
func (s Status) Pending() bool { return s.Current < s.Latest }

// Migrator applies the catalog to one database file. Each version runs in its
// own transaction.
type Migrator struct {
	mu     sync.Mutex
	m      *migrate.Migrate
	source *migrations.Source
	target connection.Target
	logger *log.Logger
}

// NewMigrator opens a dedicated connection to target and prepares the catalog.
// The connection does not enforce foreign keys so table rebuilds can run.
func NewMigrator(ctx context.Context, target connection.Target, catalog []migrations.Migration, logger *log.Logger) (*Migrator, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentMigrate)

	drv, err := migrations.NewSource(catalog)
	if err != nil {
		return nil, fmt.Errorf("load migration catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(target.Path()), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// A separate connection keeps migrations off the application pool.
	db, err := sql.Open("sqlite", target.MigrationDSN())
	if err != nil {
		return nil, fmt.Errorf("open migration database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping migration database: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance(migrations.SourceName, drv, "sqlite", dbDriver)
	if err != nil {
		dbDriver.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}

	return &Migrator{
		m:      m,
		source: drv.(*migrations.Source),
		target: target,
		logger: logger,
	}, nil
}

// Up applies every pending version in ascending order. It is a no-op on an
// up-to-date database.
func (mg *Migrator) Up(ctx context.Context) error {
	steps := mg.source.Steps()
	return mg.Goto(ctx, steps[len(steps)-1].Version)
}

// Down rolls every applied version back, leaving no catalog tables.
func (mg *Migrator) Down(ctx context.Context) error {
	return mg.Goto(ctx, 0)
}

// Goto moves the database to version, one step at a time. Version 0 means
// nothing applied.
func (mg *Migrator) Goto(ctx context.Context, version uint) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	if version != 0 {
		if _, ok := mg.source.Step(version); !ok {
			return fmt.Errorf("goto %d: %w", version, ErrUnknownVersion)
		}
	}

	start := time.Now()
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		current, err := mg.current()
		if err != nil {
			return err
		}
		if current == version {
			break
		}

		if current < version {
			err = mg.step(current, migrations.Up)
		} else {
			err = mg.step(current, migrations.Down)
		}
		if err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		mg.logger.Debug("Schema up to date", log.FieldVersion, version)
		return nil
	}
	mg.logger.Info("Schema migrated",
		log.FieldVersion, version,
		log.FieldCount, applied,
		log.FieldDuration, time.Since(start))
	return nil
}

// step moves one version from current in the given direction. On failure the
// dirty marker golang-migrate leaves behind is reset to current.
func (mg *Migrator) step(current uint, dir migrations.Kind) error {
	version := current
	n, op := -1, log.OpRollback
	if dir == migrations.Up {
		version = mg.nextVersion(current)
		n, op = 1, log.OpMigrate
	}
	st, _ := mg.source.Step(version)
	description := st.Identifier(dir)
	fields := log.NewFields().
		WithOperation(op).
		WithMigration(version, description, dir.String())

	mg.logger.Info("Applying migration", fields.ToSlice()...)

	err := mg.m.Steps(n)
	if err == nil {
		return nil
	}

	if rerr := mg.recoverStep(current, version, dir); rerr != nil {
		err = errors.Join(err, rerr)
	}
	mg.logger.Error("Migration failed", fields.WithError(err).ToSlice()...)
	return &MigrationError{Version: version, Description: description, Direction: dir, Err: err}
}

// recoverStep resets the version record to current after a failed step, but
// only while the record is the dirty marker this step wrote. Any other record
// was written by another process and is kept.
func (mg *Migrator) recoverStep(current, version uint, dir migrations.Kind) error {
	marker := int(version)
	if dir == migrations.Down {
		marker = mg.prevVersion(version)
	}

	got, dirty, err := mg.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		// golang-migrate reports a dirty nil version as no version at all.
		if marker != database.NilVersion {
			return fmt.Errorf("version record was cleared: %w", ErrConcurrentChange)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case !dirty || int(got) != marker:
		mg.logger.Warn("Version record changed during migration, leaving it",
			log.FieldVersion, got,
			log.FieldDirty, dirty)
		return fmt.Errorf("version record is %d (dirty %t): %w", got, dirty, ErrConcurrentChange)
	}
	return mg.restore(current)
}

func (mg *Migrator) nextVersion(current uint) uint {
	for _, s := range mg.source.Steps() {
		if s.Version > current {
			return s.Version
		}
	}
	return current
}

// prevVersion returns the catalog version below v, or database.NilVersion.
func (mg *Migrator) prevVersion(v uint) int {
	prev := database.NilVersion
	for _, s := range mg.source.Steps() {
		if s.Version >= v {
			break
		}
		prev = int(s.Version)
	}
	return prev
}

func (mg *Migrator) current() (uint, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		st, _ := mg.source.Step(version)
		return 0, &MigrationError{Version: version, Description: st.Identifier(migrations.Up), Direction: migrations.Up,
			Err: fmt.Errorf("%w: a previous run did not finish; inspect the schema and force a version", ErrDirty)}
	}
	if _, ok := mg.source.Step(version); !ok {
		return 0, fmt.Errorf("version %d: %w", version, ErrUnknownVersion)
	}
	return version, nil
}

// Version returns the applied version, 0 when nothing is applied.
func (mg *Migrator) Version() (uint, bool, error) {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every catalog version and whether it is applied.
func (mg *Migrator) Status() (Status, error) {
	current, dirty, err := mg.Version()
	if err != nil {
		return Status{}, err
	}

	steps := mg.source.Steps()
	status := Status{Current: current, Dirty: dirty, Latest: steps[len(steps)-1].Version}
	for _, s := range steps {
		status.Versions = append(status.Versions, VersionStatus{
			Version:     s.Version,
			Description: s.Identifier(migrations.Up),
			Applied:     s.Version <= current,
		})
	}
	return status, nil
}

// Force records version as applied and clears the dirty flag without running
// any script. Version 0 clears the record.
func (mg *Migrator) Force(version uint) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()

	if version != 0 {
		if _, ok := mg.source.Step(version); !ok {
			return fmt.Errorf("force %d: %w", version, ErrUnknownVersion)
		}
	}
	if err := mg.restore(version); err != nil {
		return err
	}
	mg.logger.Warn("Schema version forced", log.FieldVersion, version, log.FieldDirty, false)
	return nil
}

// Target returns the database the migrator operates on.
func (mg *Migrator) Target() connection.Target { return mg.target }

// Close releases the migration connection.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Migrate brings target to the latest catalog version.
func Migrate(ctx context.Context, target connection.Target, catalog []migrations.Migration, logger *log.Logger) error {
	mg, err := NewMigrator(ctx, target, catalog, logger)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Up(ctx)
}

// migrateLogger routes golang-migrate output through the application logger.
type migrateLogger struct {
	logger *log.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool { return false }
