// Package cli provides common CLI initialization utilities shared by the
// fintrack subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fintrack/internal/config"
	"fintrack/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// A missing file is not an error; environment variables still apply.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// SetupLogger builds the text logger at the given LOG_LEVEL and sets it as
// the default logger.
func SetupLogger(level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	logger := log.New(cfg)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it. Nothing touches the database when this fails.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
