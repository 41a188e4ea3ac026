package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// GetSetting returns the value stored under key, or def when the key is unset.
func (s *Store) GetSetting(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts key. The unique key constraint guarantees a single row
// per key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := core.ValidateSetting(key, value); err != nil {
		return err
	}
	now := s.nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now, now)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	s.logger.Debug("Setting saved", log.FieldKey, key)
	return nil
}

// ListSettings returns every stored setting ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]core.Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, value, created_at, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []core.Setting
	for rows.Next() {
		var st core.Setting
		var created, updated int64
		if err := rows.Scan(&st.ID, &st.Key, &st.Value, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		st.CreatedAt = core.FromMillis(created)
		st.UpdatedAt = core.FromMillis(updated)
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// ClearSettings removes every setting.
func (s *Store) ClearSettings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

// Currency returns the configured currency, falling back to the default.
func (s *Store) Currency(ctx context.Context) (string, error) {
	return s.GetSetting(ctx, core.SettingCurrency, core.DefaultCurrency)
}
