package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

func TestNewTransactionService(t *testing.T) {
	service := NewTransactionService(nil, nil, nil)

	if service == nil {
		t.Fatal("NewTransactionService should return a non-nil service")
	}
	if service.storage != nil {
		t.Error("NewTransactionService should set storage to nil when passed nil")
	}
	if service.logger == nil {
		t.Error("NewTransactionService should default the logger")
	}
}

func TestTransactionService_PublishesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	service := NewTransactionService(newTestStore(t), pub, nil)

	created, err := service.CreateTransaction(ctx, core.Transaction{
		Amount: dec("-4.20"), Date: date(2024, 1, 2), Category: "Coffee",
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	created.Description = "Flat white"
	if _, err := service.UpdateTransaction(ctx, created); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if err := service.DeleteTransaction(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}

	want := []amqp.EventType{amqp.EventCreated, amqp.EventUpdated, amqp.EventDeleted}
	if got := pub.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
	if pub.events[0].TransactionID != created.ID || pub.events[0].Category != "Coffee" {
		t.Errorf("created event = %+v", pub.events[0])
	}
}

func TestTransactionService_FailedSaveDoesNotPublish(t *testing.T) {
	pub := &recordingPublisher{}
	service := NewTransactionService(newTestStore(t), pub, nil)

	_, err := service.CreateTransaction(context.Background(), core.Transaction{Date: date(2024, 1, 2), Category: "x"})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("CreateTransaction() error = %v, want ErrInvalidAmount", err)
	}
	if err := service.DeleteTransaction(context.Background(), 404); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteTransaction() error = %v, want ErrNotFound", err)
	}
	if len(pub.types()) != 0 {
		t.Errorf("published %v, want nothing", pub.types())
	}
}

func TestTransactionService_PublisherErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	service := NewTransactionService(store, &recordingPublisher{err: errBroker}, nil)

	created, err := service.CreateTransaction(ctx, core.Transaction{
		Amount: dec("10"), Date: date(2024, 1, 2), Category: "Gift",
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	if _, err := store.GetTransaction(ctx, created.ID); err != nil {
		t.Errorf("transaction should be stored: %v", err)
	}

	service.SetPublisher(nil)
	if _, err := service.ImportTransactions(ctx, []core.Transaction{
		{Amount: dec("1"), Date: date(2024, 1, 3), Category: "Gift"},
	}); err != nil {
		t.Errorf("ImportTransactions() error = %v", err)
	}
}
