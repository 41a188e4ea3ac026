package app

import (
	"context"
	"errors"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// RecurringPlugin incurs due recurring transactions at startup and then on
// every RECURRING_INTERVAL tick.
type RecurringPlugin struct {
	processor *services.RecurringProcessor
	interval  time.Duration
	logger    *log.Logger
	now       func() time.Time
}

func NewRecurringPlugin() *RecurringPlugin {
	return &RecurringPlugin{now: time.Now}
}

func (p *RecurringPlugin) Name() string { return "recurring" }

func (p *RecurringPlugin) Init(_ context.Context, app *Context) error {
	p.processor = services.NewRecurringProcessor(app.Store, app.Transactions, app.Logger)
	p.interval = app.Config.RecurringInterval
	p.logger = app.Logger.WithComponent(log.ComponentRecurring)
	return nil
}

// Start runs the first pass. Failing rules are logged, not fatal.
func (p *RecurringPlugin) Start(ctx context.Context) error {
	p.process(ctx, p.now())
	return nil
}

func (p *RecurringPlugin) Run(ctx context.Context) error {
	p.logger.Info("Recurring processor scheduled", "interval", p.interval)
	return every(ctx, p.interval, p.process)
}

func (p *RecurringPlugin) process(ctx context.Context, now time.Time) {
	if _, err := p.processor.ProcessDue(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("Recurring processing failed", log.FieldError, err)
	}
}

// BackupPlugin checks whether a backup is due every BACKUP_CHECK_INTERVAL.
type BackupPlugin struct {
	service  *services.BackupService
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

func NewBackupPlugin() *BackupPlugin {
	return &BackupPlugin{now: time.Now}
}

func (p *BackupPlugin) Name() string { return "backup" }

func (p *BackupPlugin) Init(_ context.Context, app *Context) error {
	p.service = services.NewBackupService(app.Store, app.Config.BackupDir, app.Logger)
	p.interval = app.Config.BackupCheckInterval
	p.logger = app.Logger.WithComponent(log.ComponentBackup)
	return nil
}

func (p *BackupPlugin) Start(ctx context.Context) error {
	p.check(ctx, p.now())
	return nil
}

func (p *BackupPlugin) Run(ctx context.Context) error {
	return every(ctx, p.interval, p.check)
}

func (p *BackupPlugin) check(ctx context.Context, now time.Time) {
	path, err := p.service.BackupIfDue(ctx, now)
	if err != nil {
		p.logger.Error("Backup failed", log.FieldError, err)
		return
	}
	if path != "" {
		p.logger.Info("Scheduled backup complete", log.FieldPath, path)
	}
}

// EventsPlugin publishes transaction events to AMQP. It is a no-op when
// AMQP_URL is empty or the broker cannot be reached at startup.
type EventsPlugin struct {
	client *amqp.Client
}

func NewEventsPlugin() *EventsPlugin { return &EventsPlugin{} }

func (p *EventsPlugin) Name() string { return "events" }

func (p *EventsPlugin) Init(ctx context.Context, app *Context) error {
	if !app.Config.AMQPEnabled() {
		app.Logger.Info("AMQP disabled, transaction events will not be published")
		return nil
	}
	client, err := amqp.NewClient(ctx, app.Config.AMQPURL, app.Config.AMQPExchange, app.Config.AMQPQueue, app.Logger)
	if err != nil {
		// The database stays the source of truth; run without events.
		app.Logger.Warn("Failed to connect to AMQP, continuing without events", log.FieldError, err)
		return nil
	}
	p.client = client
	app.Transactions.SetPublisher(client)
	return nil
}

func (p *EventsPlugin) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
