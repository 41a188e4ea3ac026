package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

// EventType names what happened to a transaction.
type EventType string

const (
	EventCreated  EventType = "transaction.created"
	EventUpdated  EventType = "transaction.updated"
	EventDeleted  EventType = "transaction.deleted"
	EventIncurred EventType = "transaction.incurred"
	EventImported EventType = "transactions.imported"
)

// TransactionEvent is published after a transaction change is committed.
// Amounts travel as fixed two-decimal strings.
type TransactionEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	RecurringID   int64     `json:"recurring_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Category      string    `json:"category,omitempty"`
	Date          time.Time `json:"date,omitempty"`
	Count         int       `json:"count,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTransactionEvent builds an event for t with a fresh id.
func NewTransactionEvent(typ EventType, t core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		TransactionID: t.ID,
		RecurringID:   t.RecurringTransactionID,
		Amount:        t.Amount.StringFixed(2),
		Currency:      t.Currency,
		Category:      t.Category,
		Date:          t.Date,
		Timestamp:     time.Now(),
	}
}

// NewImportEvent reports a bulk import of count transactions.
func NewImportEvent(count int) *TransactionEvent {
	return &TransactionEvent{
		ID:        uuid.NewString(),
		Type:      EventImported,
		Count:     count,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes an event.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
