package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// RecurringProcessor turns due recurring transactions into transactions.
// Runs are serialised so a startup run and a scheduled run never overlap.
type RecurringProcessor struct {
	storage      *storage.Store
	transactions *TransactionService
	logger       *log.Logger
	mu           sync.Mutex
}

// ProcessResult summarises one run.
type ProcessResult struct {
	Checked   int
	Generated int
	Failed    int
}

// NewRecurringProcessor creates a new recurring transaction processor
func NewRecurringProcessor(store *storage.Store, transactions *TransactionService, logger *log.Logger) *RecurringProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &RecurringProcessor{
		storage:      store,
		transactions: transactions,
		logger:       logger.WithComponent(log.ComponentRecurring),
	}
}

// ProcessDue incurs every rule up to now. A failing rule is logged and
// skipped; its own changes roll back and the other rules still run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (ProcessResult, error) {
	if p.storage == nil {
		return ProcessResult{}, errors.New("processor not properly initialized")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rules, err := p.storage.ListRecurring(ctx)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("list recurring transactions: %w", err)
	}

	result := ProcessResult{Checked: len(rules)}
	var errs []error
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := p.storage.IncurRecurring(ctx, rule.ID, now)
		if err != nil {
			result.Failed++
			errs = append(errs, err)
			p.logger.Error("Failed to incur recurring transaction",
				log.FieldRecurring, rule.ID,
				log.FieldError, err)
			continue
		}
		result.Generated += len(res.Transactions)
		if p.transactions != nil {
			p.transactions.Incurred(ctx, res.Transactions)
		}
	}

	p.logger.Info("Recurring transactions processed",
		"checked", result.Checked,
		"generated", result.Generated,
		"failed", result.Failed)

	if len(errs) > 0 {
		return result, fmt.Errorf("%d of %d recurring transactions failed: %w", result.Failed, result.Checked, errors.Join(errs...))
	}
	return result, nil
}
