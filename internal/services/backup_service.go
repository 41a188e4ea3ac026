package services

import (
	"context"
	"fmt"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// Minimum age of the last backup before the next one is due.
var backupAge = map[string]time.Duration{
	core.BackupDaily:   24 * time.Hour,
	core.BackupWeekly:  7 * 24 * time.Hour,
	core.BackupMonthly: 30 * 24 * time.Hour,
}

// ShouldBackup reports whether a backup is due under interval given the last
// one. Off and unknown intervals never back up; a missing last backup always
// does.
func ShouldBackup(interval string, last, now time.Time) bool {
	age, ok := backupAge[interval]
	if !ok {
		return false
	}
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= age
}

// BackupService writes database snapshots when the backup_interval setting
// says one is due.
type BackupService struct {
	storage *storage.Store
	dir     string
	logger  *log.Logger
}

func NewBackupService(store *storage.Store, dir string, logger *log.Logger) *BackupService {
	if logger == nil {
		logger = log.Discard()
	}
	return &BackupService{storage: store, dir: dir, logger: logger.WithComponent(log.ComponentBackup)}
}

// BackupIfDue takes a backup when one is due and returns its path, or "" when
// nothing was done.
func (b *BackupService) BackupIfDue(ctx context.Context, now time.Time) (string, error) {
	interval, err := b.storage.GetSetting(ctx, core.SettingBackupInterval, core.BackupOff)
	if err != nil {
		return "", err
	}
	last, err := b.storage.LastBackup(ctx)
	if err != nil {
		return "", err
	}
	if !ShouldBackup(interval, last, now) {
		b.logger.Debug("Backup not due", "interval", interval, "last_backup", last)
		return "", nil
	}
	return b.Backup(ctx)
}

// Backup takes a backup regardless of the schedule.
func (b *BackupService) Backup(ctx context.Context) (string, error) {
	path, err := b.storage.Backup(ctx, b.dir)
	if err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	return path, nil
}
