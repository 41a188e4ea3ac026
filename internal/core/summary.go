package core

import "github.com/shopspring/decimal"

// Summary aggregates transactions over a date range. Expense is the sum of the
// negative amounts and is therefore zero or negative.
type Summary struct {
	Balance decimal.Decimal
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// CategorySummary is a Summary for one category.
type CategorySummary struct {
	Category string
	Summary
}
