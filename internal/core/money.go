// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from user input
// and formatting them for display.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// amountScale is the number of fractional digits kept for stored amounts.
const amountScale = 2

// ParseAmount converts a decimal string into an amount rounded to cents.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an
// optional leading sign, and rounds half away from zero on the third decimal.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,345") -> 12.35
//	ParseAmount("-5")     -> -5
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, InvalidAmount("parse amount", "amount is required")
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 || strings.ContainsAny(s, "eE") {
		return decimal.Zero, InvalidAmount("parse amount", "amount is not a valid decimal")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, InvalidAmount("parse amount", "amount is not a valid decimal")
	}
	return RoundAmount(d), nil
}

// ParsePositiveAmount is ParseAmount restricted to strictly positive values.
func ParsePositiveAmount(s string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundAmount rounds d to the stored precision.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountScale)
}

// FormatAmount renders an amount with its currency code, e.g. "-12.50 USD".
func FormatAmount(d decimal.Decimal, currency string) string {
	s := d.StringFixed(amountScale)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// Sum adds up the amounts of the given transactions.
func Sum(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		total = total.Add(t.Amount)
	}
	return total
}
