package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Currencies supported by the currency setting.
const (
	USD = "USD"
	EUR = "EUR"
	GBP = "GBP"
	CNY = "CNY"
	SGD = "SGD"

	DefaultCurrency = USD
)

var currencies = []string{USD, EUR, GBP, CNY, SGD}

type (
	Category struct {
		ID        int64
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Transaction is a single ledger entry. Positive amounts are income,
	// negative amounts are expenses.
	Transaction struct {
		ID          int64
		Amount      decimal.Decimal
		Currency    string
		Date        time.Time
		Description string
		CategoryID  int64
		Category    string // resolved category name
		// RecurringTransactionID is zero for one-off transactions.
		RecurringTransactionID int64
		CreatedAt              time.Time
		UpdatedAt              time.Time
	}

	// RecurringTransaction is the template rule from which transactions are
	// generated. Recurrence holds either a preset name or a cron expression.
	RecurringTransaction struct {
		ID          int64
		Amount      decimal.Decimal
		Currency    string
		Description string
		CategoryID  int64
		Category    string
		StartDate   time.Time
		LastCharged time.Time // zero until the first occurrence is incurred
		Recurrence  string
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	Setting struct {
		ID        int64
		Key       string
		Value     string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidDate       = errors.New("invalid date")
	ErrEmptyCategory     = errors.New("empty category")
	ErrEmptyRecurrence   = errors.New("empty recurrence")
	ErrEmptySettingKey   = errors.New("empty setting key")
	ErrDescriptionLength = errors.New("description too long (max 200 characters)")
)

// ValidCurrency reports whether code is one of the supported currencies.
func ValidCurrency(code string) bool {
	for _, c := range currencies {
		if c == code {
			return true
		}
	}
	return false
}

// Currencies returns the supported currency codes.
func Currencies() []string {
	out := make([]string, len(currencies))
	copy(out, currencies)
	return out
}

func validateCommon(amount decimal.Decimal, currency string, categoryID int64, category, description string) error {
	if amount.IsZero() {
		return ErrInvalidAmount
	}
	if currency != "" && !ValidCurrency(currency) {
		return fmt.Errorf("%w: %s", ErrInvalidCurrency, currency)
	}
	if categoryID <= 0 && strings.TrimSpace(category) == "" {
		return ErrEmptyCategory
	}
	if len(description) > 200 {
		return ErrDescriptionLength
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategory
	}
	return nil
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() || t.Date.UnixMilli() <= 0 {
		return ErrInvalidDate
	}
	return validateCommon(t.Amount, t.Currency, t.CategoryID, t.Category, t.Description)
}

func (r RecurringTransaction) Validate() error {
	if r.StartDate.IsZero() || r.StartDate.UnixMilli() <= 0 {
		return fmt.Errorf("invalid start date: %w", ErrInvalidDate)
	}
	if !r.LastCharged.IsZero() && r.LastCharged.Before(r.StartDate) {
		return errors.New("last charged date must not be before start date")
	}
	if strings.TrimSpace(r.Recurrence) == "" {
		return ErrEmptyRecurrence
	}
	return validateCommon(r.Amount, r.Currency, r.CategoryID, r.Category, r.Description)
}

// Instance builds the transaction generated by this rule for one occurrence.
// The generated transaction carries the rule's id and category.
func (r RecurringTransaction) Instance(at time.Time) Transaction {
	return Transaction{
		Amount:                 r.Amount,
		Currency:               r.Currency,
		Date:                   at,
		Description:            r.Description,
		CategoryID:             r.CategoryID,
		Category:               r.Category,
		RecurringTransactionID: r.ID,
	}
}

func (s Setting) Validate() error {
	if strings.TrimSpace(s.Key) == "" {
		return ErrEmptySettingKey
	}
	return nil
}

// FromMillis converts an epoch-millisecond column value to time. Zero maps to
// the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ToMillis converts a time to the epoch-millisecond representation stored in
// every timestamp column.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
