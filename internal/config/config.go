package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "fintrack/internal/log"
)

// ErrMissingDatabaseName is returned when SQLITE_DATABASE_NAME is not set.
var ErrMissingDatabaseName = errors.New("SQLITE_DATABASE_NAME is not set")

type Config struct {
	// Database
	DatabaseName string
	DataDir      string

	// Backups
	BackupDir           string
	BackupCheckInterval time.Duration

	// Recurring transactions
	RecurringInterval time.Duration

	// Logging
	LogLevel string

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Values present in the environment but not parseable.
	parseErrors []string
}

func Load() *Config {
	var parseErrors []string
	duration := func(key string, defaultValue time.Duration) time.Duration {
		d, err := envDuration(key, defaultValue)
		if err != nil {
			parseErrors = append(parseErrors, err.Error())
		}
		return d
	}

	cfg := &Config{
		DatabaseName: strings.TrimSpace(os.Getenv("SQLITE_DATABASE_NAME")),
		DataDir:      getEnv("DATA_DIR", "./data"),

		BackupDir:           getEnv("BACKUP_DIR", "./backups"),
		BackupCheckInterval: duration("BACKUP_CHECK_INTERVAL", time.Hour),

		RecurringInterval: duration("RECURRING_INTERVAL", time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "transactions"),
	}
	cfg.parseErrors = parseErrors

	return cfg
}

// Validate validates the configuration and returns an error if invalid.
// A missing database name is reported through ErrMissingDatabaseName so callers
// can match it with errors.Is.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.parseErrors...)
	var missingName bool

	if c.DatabaseName == "" {
		missingName = true
		problems = append(problems, "SQLITE_DATABASE_NAME must be set (database file stem, e.g. 'finance')")
	} else if strings.ContainsAny(c.DatabaseName, `/\`) || c.DatabaseName == "." || c.DatabaseName == ".." {
		problems = append(problems, fmt.Sprintf("invalid database name '%s': must not contain path separators", c.DatabaseName))
	} else if strings.HasSuffix(c.DatabaseName, ".db") {
		problems = append(problems, fmt.Sprintf("invalid database name '%s': omit the .db extension", c.DatabaseName))
	}

	if c.DataDir == "" {
		problems = append(problems, "data directory cannot be empty")
	} else if info, err := os.Stat(c.DataDir); err == nil && !info.IsDir() {
		problems = append(problems, fmt.Sprintf("data directory '%s' is not a directory", c.DataDir))
	}

	if c.BackupDir == "" {
		problems = append(problems, "backup directory cannot be empty")
	} else if filepath.Clean(c.BackupDir) == filepath.Clean(c.DataDir) {
		problems = append(problems, "backup directory must differ from the data directory")
	}

	if c.RecurringInterval < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid recurring interval %v: must be at least 1 minute", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		problems = append(problems, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}

	if c.BackupCheckInterval < time.Minute {
		problems = append(problems, fmt.Sprintf("invalid backup check interval %v: must be at least 1 minute", c.BackupCheckInterval))
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// AMQP is optional; validate only when enabled
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(problems) == 0 {
		return nil
	}

	err := fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	if missingName {
		return errors.Join(ErrMissingDatabaseName, err)
	}
	return err
}

// AMQPEnabled reports whether transaction events should be published.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envDuration reads key as a time.Duration. An unset key yields defaultValue;
// a malformed one yields defaultValue and an error for Validate to report.
func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s '%s': not a duration (e.g. 30m, 1h)", key, value)
	}
	return d, nil
}
