// Package worker consumes transaction events and checks them against the
// database.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// Stats counts handled events.
type Stats struct {
	Processed int
	Stale     int
	Ignored   int
}

// EventWorker handles events from the transactions queue. An event whose
// transaction no longer matches the database is stale: it is logged and
// acknowledged, never requeued.
type EventWorker struct {
	storage *storage.Store
	logger  *log.Logger

	mu    sync.Mutex
	stats Stats
}

func NewEventWorker(store *storage.Store, logger *log.Logger) *EventWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{storage: store, logger: logger.WithComponent(log.ComponentAMQP)}
}

// HandleEvent processes a single event. Only database failures are returned,
// so the broker redelivers the event later.
func (w *EventWorker) HandleEvent(ctx context.Context, e *amqp.TransactionEvent) error {
	switch e.Type {
	case amqp.EventCreated, amqp.EventUpdated, amqp.EventIncurred:
		t, err := w.storage.GetTransaction(ctx, e.TransactionID)
		if errors.Is(err, storage.ErrNotFound) {
			w.stale(e, "transaction no longer exists")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get transaction %d: %w", e.TransactionID, err)
		}
		if amount := t.Amount.StringFixed(2); amount != e.Amount {
			w.stale(e, "amount changed since event")
			return nil
		}
		w.logger.Info("Transaction event",
			"type", e.Type,
			log.FieldTransaction, t.ID,
			log.FieldAmount, e.Amount,
			log.FieldCurrency, t.Currency,
			log.FieldCategory, t.Category)

	case amqp.EventDeleted:
		_, err := w.storage.GetTransaction(ctx, e.TransactionID)
		if err == nil {
			w.stale(e, "transaction still exists")
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("get transaction %d: %w", e.TransactionID, err)
		}
		w.logger.Info("Transaction event", "type", e.Type, log.FieldTransaction, e.TransactionID)

	case amqp.EventImported:
		w.logger.Info("Transaction event", "type", e.Type, log.FieldCount, e.Count)

	default:
		w.logger.Warn("Ignoring unknown event type", "type", e.Type, "event_id", e.ID)
		w.mu.Lock()
		w.stats.Ignored++
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	w.stats.Processed++
	w.mu.Unlock()
	return nil
}

func (w *EventWorker) stale(e *amqp.TransactionEvent, reason string) {
	w.logger.Warn("Stale transaction event",
		"type", e.Type,
		"event_id", e.ID,
		log.FieldTransaction, e.TransactionID,
		"reason", reason)
	w.mu.Lock()
	w.stats.Stale++
	w.mu.Unlock()
}

// Stats returns the counters so far.
func (w *EventWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
