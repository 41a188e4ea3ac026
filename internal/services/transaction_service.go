// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"errors"
	"fmt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// EventPublisher receives committed transaction changes.
type EventPublisher interface {
	Publish(ctx context.Context, event *amqp.TransactionEvent) error
}

// TransactionService writes transactions to SQLite and publishes an event for
// each committed change. Publishing is best effort: the database is the
// source of truth.
type TransactionService struct {
	storage   *storage.Store
	publisher EventPublisher
	logger    *log.Logger
}

// NewTransactionService wires the store with an optional publisher.
func NewTransactionService(store *storage.Store, publisher EventPublisher, logger *log.Logger) *TransactionService {
	if logger == nil {
		logger = log.Discard()
	}
	return &TransactionService{
		storage:   store,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentStorage),
	}
}

// SetPublisher replaces the event publisher. A nil publisher disables events.
func (s *TransactionService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// CreateTransaction saves t and publishes a created event.
func (s *TransactionService) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	created, err := s.storage.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.EventCreated, created))
	return created, nil
}

// UpdateTransaction saves t and publishes an updated event.
func (s *TransactionService) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	updated, err := s.storage.UpdateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.EventUpdated, updated))
	return updated, nil
}

// DeleteTransaction removes the transaction and publishes a deleted event.
func (s *TransactionService) DeleteTransaction(ctx context.Context, id int64) error {
	existing, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	s.publish(ctx, amqp.NewTransactionEvent(amqp.EventDeleted, existing))
	return nil
}

// ImportTransactions saves ts atomically and publishes one import event.
func (s *TransactionService) ImportTransactions(ctx context.Context, ts []core.Transaction) (int, error) {
	n, err := s.storage.CreateTransactions(ctx, ts)
	if err != nil {
		return 0, fmt.Errorf("import transactions: %w", err)
	}
	if n > 0 {
		s.publish(ctx, amqp.NewImportEvent(n))
	}
	return n, nil
}

// Incurred publishes one event per generated transaction.
func (s *TransactionService) Incurred(ctx context.Context, ts []core.Transaction) {
	for _, t := range ts {
		s.publish(ctx, amqp.NewTransactionEvent(amqp.EventIncurred, t))
	}
}

func (s *TransactionService) publish(ctx context.Context, event *amqp.TransactionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		// The change is committed; a lost event is logged, not returned.
		level := s.logger.Error
		if errors.Is(err, amqp.ErrCircuitOpen) {
			level = s.logger.Debug
		}
		level("Failed to publish transaction event",
			"type", event.Type,
			log.FieldTransaction, event.TransactionID,
			log.FieldError, err)
	}
}
