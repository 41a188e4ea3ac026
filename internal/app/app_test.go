package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/migrations"
	"fintrack/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DatabaseName:        "finance",
		DataDir:             dir + "/data",
		BackupDir:           dir + "/backups",
		RecurringInterval:   time.Hour,
		BackupCheckInterval: time.Hour,
		LogLevel:            "info",
	}
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type probe struct {
	name    string
	j       *journal
	initErr error
	runErr  error
}

func (p *probe) Name() string { return p.name }

func (p *probe) Init(ctx context.Context, app *Context) error {
	// Migrations must be applied before any plugin sees the store.
	var n int
	if err := app.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return err
	}
	p.j.add("init " + p.name)
	return p.initErr
}

func (p *probe) Start(context.Context) error {
	p.j.add("start " + p.name)
	return nil
}

func (p *probe) Run(ctx context.Context) error {
	if p.runErr != nil {
		return p.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *probe) Close() error {
	p.j.add("close " + p.name)
	return nil
}

func TestApp_RunLifecycle(t *testing.T) {
	j := &journal{}
	ctx, cancel := context.WithCancel(context.Background())

	a := New(testConfig(t), nil).
		Plugin(&probe{name: "a", j: j}).
		Plugin(&probe{name: "b", j: j})

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(j.list()) < 4 {
		select {
		case err := <-done:
			t.Fatalf("Run() returned early: %v", err)
		case <-deadline:
			t.Fatalf("plugins not started, journal = %v", j.list())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := j.list()
	if got[0] != "init a" || got[1] != "init b" {
		t.Errorf("init order = %v", got[:2])
	}
	if n := len(got); got[n-2] != "close b" || got[n-1] != "close a" {
		t.Errorf("close order = %v, want b then a", got[n-2:])
	}
}

func TestApp_MissingDatabaseName(t *testing.T) {
	j := &journal{}
	cfg := testConfig(t)
	cfg.DatabaseName = ""

	err := New(cfg, nil).Plugin(&probe{name: "a", j: j}).Run(context.Background())
	if !errors.Is(err, config.ErrMissingDatabaseName) {
		t.Fatalf("Run() error = %v, want ErrMissingDatabaseName", err)
	}
	if len(j.list()) != 0 {
		t.Errorf("plugins touched before the database was ready: %v", j.list())
	}
}

func TestApp_InitFailureClosesInitialised(t *testing.T) {
	j := &journal{}
	initErr := errors.New("boom")

	err := New(testConfig(t), nil).
		Plugin(&probe{name: "a", j: j}).
		Plugin(&probe{name: "b", j: j, initErr: initErr}).
		Run(context.Background())
	if !errors.Is(err, initErr) {
		t.Fatalf("Run() error = %v, want %v", err, initErr)
	}

	want := []string{"init a", "init b", "close a"}
	got := j.list()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("journal[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestApp_RunnerFailureStopsApp(t *testing.T) {
	j := &journal{}
	runErr := errors.New("runner failed")

	err := New(testConfig(t), nil).
		Plugin(&probe{name: "a", j: j}).
		Plugin(&probe{name: "b", j: j, runErr: runErr}).
		Run(context.Background())
	if !errors.Is(err, runErr) {
		t.Fatalf("Run() error = %v, want %v", err, runErr)
	}
}

func TestBootstrap_MigratesToLatest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	appCtx, err := Bootstrap(ctx, cfg, migrations.Catalog(), nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer appCtx.Close()

	if got := appCtx.Target.String(); got != "sqlite:finance.db" {
		t.Errorf("Target = %s, want sqlite:finance.db", got)
	}

	mg, err := storage.NewMigrator(ctx, appCtx.Target, migrations.Catalog(), nil)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	defer mg.Close()
	status, err := mg.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Pending() || status.Dirty {
		t.Errorf("Status() = %+v, want up to date", status)
	}
}

func TestRecurringPlugin(t *testing.T) {
	ctx := context.Background()
	appCtx, err := Bootstrap(ctx, testConfig(t), migrations.Catalog(), nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer appCtx.Close()

	if _, err := appCtx.Store.CreateRecurring(ctx, core.RecurringTransaction{
		Amount:     decimal.RequireFromString("-15"),
		Category:   "Music",
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Recurrence: "weekly",
	}); err != nil {
		t.Fatalf("CreateRecurring() error = %v", err)
	}

	p := NewRecurringPlugin()
	p.now = func() time.Time { return time.Date(2024, 1, 29, 12, 0, 0, 0, time.UTC) }
	if err := p.Init(ctx, appCtx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	page, err := appCtx.Store.ListTransactions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	// Jan 8, 15, 22, 29
	if page.Total != 4 {
		t.Errorf("generated %d transactions, want 4", page.Total)
	}

	p.interval = 5 * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := p.Run(runCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestBackupPlugin(t *testing.T) {
	ctx := context.Background()
	appCtx, err := Bootstrap(ctx, testConfig(t), migrations.Catalog(), nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer appCtx.Close()

	if err := appCtx.Store.SetSetting(ctx, core.SettingBackupInterval, core.BackupWeekly); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}

	p := NewBackupPlugin()
	if err := p.Init(ctx, appCtx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	last, err := appCtx.Store.LastBackup(ctx)
	if err != nil {
		t.Fatalf("LastBackup() error = %v", err)
	}
	if last.IsZero() {
		t.Error("startup check should have taken the first backup")
	}
}

func TestEventsPlugin_Disabled(t *testing.T) {
	ctx := context.Background()
	appCtx, err := Bootstrap(ctx, testConfig(t), migrations.Catalog(), nil)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	defer appCtx.Close()

	p := NewEventsPlugin()
	if err := p.Init(ctx, appCtx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if p.client != nil {
		t.Error("client should not be created without AMQP_URL")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
