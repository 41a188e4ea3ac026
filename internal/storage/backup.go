package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/connection"
	"fintrack/internal/core"
	"fintrack/internal/log"
)

var ErrInvalidDatabase = errors.New("invalid database file")

// RequiredSchema lists the tables and columns a usable database must have.
var RequiredSchema = map[string][]string{
	"categories": {"id", "name", "created_at", "updated_at"},
	"recurring_transactions": {"id", "amount", "currency", "description", "category_id",
		"start_date", "last_charged", "recurrence_value", "created_at", "updated_at"},
	"transactions": {"id", "amount", "currency", "transaction_date", "description",
		"category_id", "recurring_transaction_id", "created_at", "updated_at"},
	"settings": {"id", "key", "value", "created_at", "updated_at"},
}

// Backup writes a consistent snapshot of the database into dir and records
// the time in the last_backup setting. The snapshot only appears under its
// final name once it is complete; backups taken within the same second get a
// numeric suffix.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	now := s.now()
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString()+".db")

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot database: %w", err)
	}
	final, err := publishBackup(tmp, dir, s.target.Name()+"-"+now.UTC().Format("20060102T150405Z"))
	os.Remove(tmp)
	if err != nil {
		return "", err
	}

	if err := s.SetSetting(ctx, core.SettingLastBackup, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return final, err
	}

	s.logger.Info("Backup written",
		log.FieldOperation, log.OpBackup,
		log.FieldPath, final)
	return final, nil
}

// maxBackupSuffix bounds the names tried for backups taken within one second.
const maxBackupSuffix = 100

// publishBackup links tmp to the first free name of stem.db, stem-1.db, ...
// An existing backup is never replaced.
func publishBackup(tmp, dir, stem string) (string, error) {
	for i := 0; i < maxBackupSuffix; i++ {
		name := stem + ".db"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.db", stem, i)
		}
		final := filepath.Join(dir, name)
		err := os.Link(tmp, final)
		if err == nil {
			return final, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("move backup into place: %w", err)
		}
	}
	return "", fmt.Errorf("move backup into place: %s.db and %d alternatives exist", stem, maxBackupSuffix-1)
}

// LastBackup returns when the last backup was taken, or the zero time.
func (s *Store) LastBackup(ctx context.Context) (time.Time, error) {
	v, err := s.GetSetting(ctx, core.SettingLastBackup, "")
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", core.SettingLastBackup, err)
	}
	return core.FromMillis(ms), nil
}

// ValidateDatabase checks that the file at path is a SQLite database with
// every table and column in RequiredSchema. The connection refuses writes.
func ValidateDatabase(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDatabase, err)
	}
	target, err := connection.FromPath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDatabase, err)
	}

	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(target.Path())+"?_pragma=query_only(1)")
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	tables := make([]string, 0, len(RequiredSchema))
	for table := range RequiredSchema {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var problems []string
	for _, table := range tables {
		columns, err := tableColumns(ctx, db, table)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDatabase, err)
		}
		if len(columns) == 0 {
			problems = append(problems, "missing table "+table)
			continue
		}
		for _, col := range RequiredSchema[table] {
			if !columns[col] {
				problems = append(problems, fmt.Sprintf("missing column %s.%s", table, col))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDatabase, strings.Join(problems, "; "))
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
