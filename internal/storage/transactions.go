package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// BatchSize is the number of rows written per INSERT statement by
// CreateTransactions.
const BatchSize = 300

const transactionColumns = `t.id, t.amount, t.currency, t.transaction_date, t.description,
	t.category_id, c.name, t.recurring_transaction_id, t.created_at, t.updated_at`

const transactionFrom = `FROM transactions t JOIN categories c ON c.id = t.category_id`

// Sortable columns accepted by ListOptions.OrderBy.
var transactionOrder = map[string]string{
	"transaction_date": "t.transaction_date",
	"amount":           "t.amount",
	"category":         "c.name",
	"description":      "t.description",
	"created_at":       "t.created_at",
	"updated_at":       "t.updated_at",
}

var ErrInvalidOrder = errors.New("invalid order column")

// ListOptions filters and pages ListTransactions. Zero From/To leave the
// range open.
type ListOptions struct {
	From     time.Time
	To       time.Time
	Category string
	OrderBy  string
	Asc      bool
	Limit    int
	Offset   int
}

// Page is one page of transactions. NextOffset is -1 on the last page.
type Page struct {
	Items      []core.Transaction
	Total      int
	NextOffset int
}

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                      core.Transaction
		amount                 float64
		date, created, updated int64
		description            sql.NullString
		recurringID            sql.NullInt64
	)
	if err := row.Scan(&t.ID, &amount, &t.Currency, &date, &description,
		&t.CategoryID, &t.Category, &recurringID, &created, &updated); err != nil {
		return core.Transaction{}, err
	}
	t.Amount = core.AmountFromFloat(amount)
	t.Date = core.FromMillis(date)
	t.Description = description.String
	t.RecurringTransactionID = recurringID.Int64
	t.CreatedAt = core.FromMillis(created)
	t.UpdatedAt = core.FromMillis(updated)
	return t, nil
}

// GetTransaction returns the transaction with id.
func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` `+transactionFrom+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

// CreateTransaction inserts t. The category is resolved by id or, failing
// that, by name and created when unknown. An empty currency takes the
// currency setting.
func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	var created core.Transaction
	var resolver *categoryResolver
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		var err error
		created, err = s.insertTransaction(ctx, tx, resolver, t)
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}
	resolver.commit()

	s.logger.Info("Transaction created", log.NewFields().
		WithOperation(log.OpCreate).
		WithTransaction(created.ID, created.Amount.StringFixed(2), created.Currency, created.Category).
		ToSlice()...)
	return created, nil
}

func (s *Store) insertTransaction(ctx context.Context, q querier, r *categoryResolver, t core.Transaction) (core.Transaction, error) {
	categoryID, category, err := r.resolve(ctx, t.CategoryID, t.Category)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Currency == "" {
		if t.Currency, err = currencyIn(ctx, q); err != nil {
			return core.Transaction{}, err
		}
	}

	now := s.nowMillis()
	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions (amount, currency, transaction_date, description, category_id,
			recurring_transaction_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		core.AmountToFloat(t.Amount), t.Currency, core.ToMillis(t.Date), nullString(t.Description),
		categoryID, nullInt64(t.RecurringTransactionID), now, now)
	if isForeignKeyViolation(err) {
		return core.Transaction{}, fmt.Errorf("recurring transaction %d: %w", t.RecurringTransactionID, ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	t.CategoryID = categoryID
	t.Category = category
	t.Amount = t.Amount.Round(2)
	t.CreatedAt = core.FromMillis(now)
	t.UpdatedAt = t.CreatedAt
	return t, nil
}

// CreateTransactions inserts all of ts in one database transaction, BatchSize
// rows per statement. Nothing is written when any row fails.
func (s *Store) CreateTransactions(ctx context.Context, ts []core.Transaction) (int, error) {
	if len(ts) == 0 {
		return 0, nil
	}
	for i, t := range ts {
		if err := t.Validate(); err != nil {
			return 0, fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	var resolver *categoryResolver
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		currency, err := currencyIn(ctx, tx)
		if err != nil {
			return err
		}
		now := s.nowMillis()

		for start := 0; start < len(ts); start += BatchSize {
			end := min(start+BatchSize, len(ts))
			chunk := ts[start:end]

			placeholders := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*8)
			for i, t := range chunk {
				categoryID, _, err := resolver.resolve(ctx, t.CategoryID, t.Category)
				if err != nil {
					return fmt.Errorf("transaction %d: %w", start+i, err)
				}
				cur := t.Currency
				if cur == "" {
					cur = currency
				}
				placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
				args = append(args, core.AmountToFloat(t.Amount), cur, core.ToMillis(t.Date),
					nullString(t.Description), categoryID, nullInt64(t.RecurringTransactionID), now, now)
			}

			query := `INSERT INTO transactions (amount, currency, transaction_date, description,
				category_id, recurring_transaction_id, created_at, updated_at) VALUES ` +
				strings.Join(placeholders, ", ")
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert transactions %d-%d: %w", start, end-1, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	resolver.commit()

	s.logger.Info("Transactions created", log.FieldOperation, log.OpImport, log.FieldCount, len(ts))
	return len(ts), nil
}

// UpdateTransaction overwrites the mutable fields of the transaction t.ID.
func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	var resolver *categoryResolver
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolver = s.newCategoryResolver(tx)
		categoryID, _, err := resolver.resolve(ctx, t.CategoryID, t.Category)
		if err != nil {
			return err
		}
		if t.Currency == "" {
			if t.Currency, err = currencyIn(ctx, tx); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET amount = ?, currency = ?, transaction_date = ?, description = ?, category_id = ?,
				recurring_transaction_id = ?, updated_at = ?
			WHERE id = ?`,
			core.AmountToFloat(t.Amount), t.Currency, core.ToMillis(t.Date), nullString(t.Description),
			categoryID, nullInt64(t.RecurringTransactionID), s.nowMillis(), t.ID)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("recurring transaction %d: %w", t.RecurringTransactionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update transaction %d: %w", t.ID, err)
		}
		return expectOne(res, "transaction", t.ID)
	})
	if err != nil {
		return core.Transaction{}, err
	}
	resolver.commit()

	s.logger.Debug("Transaction updated", log.FieldOperation, log.OpUpdate, log.FieldTransaction, t.ID)
	return s.GetTransaction(ctx, t.ID)
}

// DeleteTransaction removes the transaction with id.
func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if err := expectOne(res, "transaction", id); err != nil {
		return err
	}
	s.logger.Debug("Transaction deleted", log.FieldOperation, log.OpDelete, log.FieldTransaction, id)
	return nil
}

// ClearTransactions removes every transaction and returns how many were
// removed.
func (s *Store) ClearTransactions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return 0, fmt.Errorf("clear transactions: %w", err)
	}
	return res.RowsAffected()
}

func (o ListOptions) where() (string, []any) {
	var conds []string
	var args []any
	if !o.From.IsZero() {
		conds = append(conds, "t.transaction_date >= ?")
		args = append(args, core.ToMillis(o.From))
	}
	if !o.To.IsZero() {
		conds = append(conds, "t.transaction_date <= ?")
		args = append(args, core.ToMillis(o.To))
	}
	if o.Category != "" {
		conds = append(conds, "c.name = ?")
		args = append(args, o.Category)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListTransactions returns one page of transactions matching opts, newest
// first unless opts says otherwise.
func (s *Store) ListTransactions(ctx context.Context, opts ListOptions) (Page, error) {
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "transaction_date"
	}
	column, ok := transactionOrder[orderBy]
	if !ok {
		return Page{}, fmt.Errorf("%w: %q", ErrInvalidOrder, opts.OrderBy)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return Page{}, errors.New("limit and offset must not be negative")
	}
	direction := "DESC"
	if opts.Asc {
		direction = "ASC"
	}

	where, args := opts.where()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+transactionFrom+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` ` + transactionFrom + where +
		` ORDER BY ` + column + ` ` + direction + `, t.id ` + direction
	pageArgs := args
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(append([]any{}, args...), opts.Limit, opts.Offset)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		pageArgs = append(append([]any{}, args...), opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return Page{}, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	page := Page{Total: total, NextOffset: -1}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scan transaction: %w", err)
		}
		page.Items = append(page.Items, t)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list transactions: %w", err)
	}

	if next := opts.Offset + len(page.Items); opts.Limit > 0 && next < total {
		page.NextOffset = next
	}
	return page, nil
}

// Summarize totals the transactions in [from, to]. Zero bounds are open.
func (s *Store) Summarize(ctx context.Context, from, to time.Time) (core.Summary, error) {
	where, args := ListOptions{From: from, To: to}.where()
	var income, expense float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN t.amount > 0 THEN t.amount END), 0),
		       COALESCE(SUM(CASE WHEN t.amount < 0 THEN t.amount END), 0)
		`+transactionFrom+where, args...).Scan(&income, &expense)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summarize transactions: %w", err)
	}
	return summary(income, expense), nil
}

// SummarizeByCategory totals the transactions in [from, to] per category,
// ordered by category name.
func (s *Store) SummarizeByCategory(ctx context.Context, from, to time.Time) ([]core.CategorySummary, error) {
	where, args := ListOptions{From: from, To: to}.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name,
		       COALESCE(SUM(CASE WHEN t.amount > 0 THEN t.amount END), 0),
		       COALESCE(SUM(CASE WHEN t.amount < 0 THEN t.amount END), 0)
		`+transactionFrom+where+`
		GROUP BY c.id, c.name
		ORDER BY c.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize by category: %w", err)
	}
	defer rows.Close()

	var out []core.CategorySummary
	for rows.Next() {
		var cs core.CategorySummary
		var income, expense float64
		if err := rows.Scan(&cs.Category, &income, &expense); err != nil {
			return nil, fmt.Errorf("scan category summary: %w", err)
		}
		cs.Summary = summary(income, expense)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// TransactionCategories returns the distinct category names in use by
// transactions.
func (s *Store) TransactionCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT c.name `+transactionFrom+` ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list transaction categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func summary(income, expense float64) core.Summary {
	in := core.AmountFromFloat(income)
	out := core.AmountFromFloat(expense)
	return core.Summary{Balance: in.Add(out), Income: in, Expense: out}
}

func currencyIn(ctx context.Context, q querier) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, core.SettingCurrency).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DefaultCurrency, nil
	}
	if err != nil {
		return "", fmt.Errorf("get currency setting: %w", err)
	}
	return value, nil
}
