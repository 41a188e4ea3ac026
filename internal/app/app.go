// Package app is the composition root: it resolves the database, applies
// migrations and then drives the registered plugins.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/config"
	"fintrack/internal/connection"
	"fintrack/internal/log"
	"fintrack/internal/migrations"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// Context is what plugins receive at Init. The store is migrated and open.
type Context struct {
	Config       *config.Config
	Logger       *log.Logger
	Target       connection.Target
	Store        *storage.Store
	Transactions *services.TransactionService
}

// Close releases the store.
func (c *Context) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Plugin is a unit of application behaviour. A plugin may also implement
// Starter, Runner and io.Closer.
type Plugin interface {
	Name() string
	Init(ctx context.Context, app *Context) error
}

// Starter runs once after every plugin is initialised. Starters run
// concurrently.
type Starter interface {
	Start(ctx context.Context) error
}

// Runner runs until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

type App struct {
	cfg     *config.Config
	logger  *log.Logger
	catalog []migrations.Migration
	plugins []Plugin
}

func New(cfg *config.Config, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Discard()
	}
	return &App{
		cfg:     cfg,
		logger:  logger.WithComponent(log.ComponentApp),
		catalog: migrations.Catalog(),
	}
}

// Plugin registers p. Plugins are initialised in registration order and
// closed in reverse.
func (a *App) Plugin(p Plugin) *App {
	a.plugins = append(a.plugins, p)
	return a
}

// Bootstrap resolves the connection, migrates the database to the latest
// version and opens the store. Nothing touches the database before the
// migrations succeed.
func Bootstrap(ctx context.Context, cfg *config.Config, catalog []migrations.Migration, logger *log.Logger) (*Context, error) {
	if logger == nil {
		logger = log.Discard()
	}
	start := time.Now()

	target, err := connection.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}
	logger.Info("Applying migrations", log.FieldConnection, target.String())

	if err := storage.Migrate(ctx, target, catalog, logger); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", target, err)
	}

	store, err := storage.Open(ctx, target, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", target, err)
	}

	logger.Info("Database ready",
		log.FieldOperation, log.OpStartup,
		log.FieldConnection, target.String(),
		log.FieldDuration, time.Since(start).Milliseconds())

	return &Context{
		Config:       cfg,
		Logger:       logger,
		Target:       target,
		Store:        store,
		Transactions: services.NewTransactionService(store, nil, logger),
	}, nil
}

// Run bootstraps the database, initialises every plugin, runs the startup
// tasks and then the runners until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	appCtx, err := Bootstrap(ctx, a.cfg, a.catalog, a.logger)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var initialised []Plugin
	defer func() {
		a.close(initialised)
	}()

	for _, p := range a.plugins {
		if err := p.Init(ctx, appCtx); err != nil {
			return fmt.Errorf("init plugin %s: %w", p.Name(), err)
		}
		initialised = append(initialised, p)
		a.logger.Debug("Plugin initialised", log.FieldPlugin, p.Name())
	}

	startup, startupCtx := errgroup.WithContext(ctx)
	for _, p := range initialised {
		if s, ok := p.(Starter); ok {
			startup.Go(func() error {
				if err := s.Start(startupCtx); err != nil {
					return fmt.Errorf("start plugin %s: %w", p.Name(), err)
				}
				return nil
			})
		}
	}
	if err := startup.Wait(); err != nil {
		return err
	}

	a.logger.Info("Application started", "plugins", len(initialised))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range initialised {
		if r, ok := p.(Runner); ok {
			g.Go(func() error {
				if err := r.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("plugin %s: %w", p.Name(), err)
				}
				return nil
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	a.logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
	return err
}

func (a *App) close(plugins []Plugin) {
	for i := len(plugins) - 1; i >= 0; i-- {
		c, ok := plugins[i].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			a.logger.Error("Failed to close plugin",
				log.FieldPlugin, plugins[i].Name(),
				log.FieldError, err)
		}
	}
}

// every calls fn each interval until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context, now time.Time)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			fn(ctx, now)
		}
	}
}
