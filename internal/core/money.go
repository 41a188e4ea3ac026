// Package core provides the ledger domain model and money parsing.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user supplied decimal string into an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an optional
// leading sign (negative amounts are expenses) and rounds half-up to cents.
// Zero amounts are rejected.
//
// Examples:
//
//	ParseAmount("12.34")   -> 12.34
//	ParseAmount("-12,345") -> -12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(2)
	if d.IsZero() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// AmountFromFloat converts a REAL column value to a two-decimal amount.
func AmountFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

// AmountToFloat converts an amount to the REAL column representation.
func AmountToFloat(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
