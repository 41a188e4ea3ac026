package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/amqp"
	"fintrack/internal/config"
	"fintrack/internal/connection"
	"fintrack/internal/migrations"
	"fintrack/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()

	target, err := connection.Resolve(&config.Config{DatabaseName: "finance", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := storage.Migrate(ctx, target, migrations.Catalog(), nil); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store, err := storage.Open(ctx, target, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.TransactionEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *amqp.TransactionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errBroker = errors.New("broker unreachable")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
