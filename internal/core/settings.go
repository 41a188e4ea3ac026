package core

import (
	"errors"
	"fmt"
	"strconv"
)

// Known setting keys.
const (
	SettingCurrency       = "currency"
	SettingTheme          = "theme"
	SettingBackupInterval = "backup_interval"
	SettingLastBackup     = "last_backup"
)

// Theme values.
const (
	ThemeSystem = "system"
	ThemeLight  = "light"
	ThemeDark   = "dark"
)

// BackupInterval values.
const (
	BackupOff     = "off"
	BackupDaily   = "daily"
	BackupWeekly  = "weekly"
	BackupMonthly = "monthly"
)

var ErrInvalidSetting = errors.New("invalid setting value")

var settingValues = map[string][]string{
	SettingCurrency:       currencies,
	SettingTheme:          {ThemeSystem, ThemeLight, ThemeDark},
	SettingBackupInterval: {BackupOff, BackupDaily, BackupWeekly, BackupMonthly},
}

// SettingDefaults holds the value used when a known key has never been set.
var SettingDefaults = map[string]string{
	SettingCurrency:       DefaultCurrency,
	SettingTheme:          ThemeSystem,
	SettingBackupInterval: BackupOff,
}

// ValidateSetting checks the value of a known key. Unknown keys accept any
// value.
func ValidateSetting(key, value string) error {
	if err := (Setting{Key: key}).Validate(); err != nil {
		return err
	}
	if key == SettingLastBackup {
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("%w: %s must be epoch milliseconds", ErrInvalidSetting, key)
		}
		return nil
	}
	allowed, ok := settingValues[key]
	if !ok {
		return nil
	}
	for _, v := range allowed {
		if v == value {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q (allowed: %v)", ErrInvalidSetting, key, value, allowed)
}
