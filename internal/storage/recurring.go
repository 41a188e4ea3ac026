package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/recurrence"
)

const recurringColumns = `r.id, r.amount, r.currency, r.description, r.category_id, c.name,
	r.start_date, r.last_charged, r.recurrence_value, r.created_at, r.updated_at`

const recurringFrom = `FROM recurring_transactions r JOIN categories c ON c.id = r.category_id`

func scanRecurring(row interface{ Scan(...any) error }) (core.RecurringTransaction, error) {
	var (
		r                       core.RecurringTransaction
		amount                  float64
		description             sql.NullString
		start, created, updated int64
		lastCharged             sql.NullInt64
	)
	if err := row.Scan(&r.ID, &amount, &r.Currency, &description, &r.CategoryID, &r.Category,
		&start, &lastCharged, &r.Recurrence, &created, &updated); err != nil {
		return core.RecurringTransaction{}, err
	}
	r.Amount = core.AmountFromFloat(amount)
	r.Description = description.String
	r.StartDate = core.FromMillis(start)
	r.LastCharged = core.FromMillis(lastCharged.Int64)
	r.CreatedAt = core.FromMillis(created)
	r.UpdatedAt = core.FromMillis(updated)
	return r, nil
}

func getRecurring(ctx context.Context, q querier, id int64) (core.RecurringTransaction, error) {
	r, err := scanRecurring(q.QueryRowContext(ctx,
		`SELECT `+recurringColumns+` `+recurringFrom+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTransaction{}, fmt.Errorf("recurring transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("get recurring transaction %d: %w", id, err)
	}
	return r, nil
}

// GetRecurring returns the recurring transaction with id.
func (s *Store) GetRecurring(ctx context.Context, id int64) (core.RecurringTransaction, error) {
	return getRecurring(ctx, s.db, id)
}

// ListRecurring returns every recurring transaction ordered by start date.
func (s *Store) ListRecurring(ctx context.Context) ([]core.RecurringTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recurringColumns+` `+recurringFrom+` ORDER BY r.start_date, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list recurring transactions: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring transaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRecurring inserts a rule. The recurrence value must be a preset or a
// cron expression.
func (s *Store) CreateRecurring(ctx context.Context, r core.RecurringTransaction) (core.RecurringTransaction, error) {
	if err := r.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}
	if _, err := recurrence.Parse(r.Recurrence, r.StartDate); err != nil {
		return core.RecurringTransaction{}, err
	}

	var id int64
	var resolver *categoryResolver
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		categoryID, _, err := resolver.resolve(ctx, r.CategoryID, r.Category)
		if err != nil {
			return err
		}
		if r.Currency == "" {
			if r.Currency, err = currencyIn(ctx, tx); err != nil {
				return err
			}
		}
		now := s.nowMillis()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_transactions (amount, currency, description, category_id, start_date,
				last_charged, recurrence_value, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			core.AmountToFloat(r.Amount), r.Currency, nullString(r.Description), categoryID,
			core.ToMillis(r.StartDate), nullInt64(core.ToMillis(r.LastCharged)), r.Recurrence, now, now)
		if err != nil {
			return fmt.Errorf("insert recurring transaction: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	resolver.commit()

	s.logger.Info("Recurring transaction created",
		log.FieldRecurring, id,
		log.FieldAmount, r.Amount.StringFixed(2),
		log.FieldCategory, r.Category)
	return s.GetRecurring(ctx, id)
}

// UpdateRecurring overwrites the rule r.ID. LastCharged is kept as given.
func (s *Store) UpdateRecurring(ctx context.Context, r core.RecurringTransaction) (core.RecurringTransaction, error) {
	if err := r.Validate(); err != nil {
		return core.RecurringTransaction{}, err
	}
	if _, err := recurrence.Parse(r.Recurrence, r.StartDate); err != nil {
		return core.RecurringTransaction{}, err
	}

	var resolver *categoryResolver
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		categoryID, _, err := resolver.resolve(ctx, r.CategoryID, r.Category)
		if err != nil {
			return err
		}
		if r.Currency == "" {
			if r.Currency, err = currencyIn(ctx, tx); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE recurring_transactions
			SET amount = ?, currency = ?, description = ?, category_id = ?, start_date = ?,
				last_charged = ?, recurrence_value = ?, updated_at = ?
			WHERE id = ?`,
			core.AmountToFloat(r.Amount), r.Currency, nullString(r.Description), categoryID,
			core.ToMillis(r.StartDate), nullInt64(core.ToMillis(r.LastCharged)), r.Recurrence,
			s.nowMillis(), r.ID)
		if err != nil {
			return fmt.Errorf("update recurring transaction %d: %w", r.ID, err)
		}
		return expectOne(res, "recurring transaction", r.ID)
	})
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	resolver.commit()

	return s.GetRecurring(ctx, r.ID)
}

// DeleteRecurring removes the rule. Transactions it generated stay and lose
// their link.
func (s *Store) DeleteRecurring(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recurring_transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring transaction %d: %w", id, err)
	}
	return expectOne(res, "recurring transaction", id)
}

// IncurResult reports what IncurRecurring generated for one rule.
type IncurResult struct {
	RecurringID  int64
	Transactions []core.Transaction
	LastCharged  time.Time
}

// IncurRecurring generates a transaction for every occurrence of rule id after
// its last charge (or its start date) up to now, and advances last_charged to
// the latest occurrence. Both happen in one database transaction.
func (s *Store) IncurRecurring(ctx context.Context, id int64, now time.Time) (IncurResult, error) {
	result := IncurResult{RecurringID: id}
	var resolver *categoryResolver

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		rule, err := getRecurring(ctx, tx, id)
		if err != nil {
			return err
		}
		result.LastCharged = rule.LastCharged

		schedule, err := recurrence.Parse(rule.Recurrence, rule.StartDate)
		if err != nil {
			return fmt.Errorf("recurring transaction %d: %w", id, err)
		}
		from := rule.StartDate
		if !rule.LastCharged.IsZero() {
			from = rule.LastCharged
		}

		for _, at := range recurrence.Occurrences(schedule, from, now, 0) {
			t, err := s.insertTransaction(ctx, tx, resolver, rule.Instance(at))
			if err != nil {
				return fmt.Errorf("incur recurring transaction %d at %s: %w", id, at.Format(time.RFC3339), err)
			}
			result.Transactions = append(result.Transactions, t)
			result.LastCharged = at
		}
		if len(result.Transactions) == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE recurring_transactions SET last_charged = ?, updated_at = ? WHERE id = ?`,
			core.ToMillis(result.LastCharged), s.nowMillis(), id)
		if err != nil {
			return fmt.Errorf("advance last charged for %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return IncurResult{RecurringID: id}, err
	}
	resolver.commit()

	if n := len(result.Transactions); n > 0 {
		s.logger.Info("Recurring transaction incurred",
			log.FieldOperation, log.OpIncur,
			log.FieldRecurring, id,
			log.FieldCount, n)
	}
	return result, nil
}
