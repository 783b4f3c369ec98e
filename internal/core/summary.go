package core

import "github.com/shopspring/decimal"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	CategoryID *int64
	Name       string
	Amount     decimal.Decimal
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Income     decimal.Decimal
	Outflow    decimal.Decimal // reported as a positive number
	ByCategory []CategoryAmount
}

// BudgetLine compares a budget with the actual outflow of its category subtree.
type BudgetLine struct {
	Budget    Budget
	Category  string
	Spent     decimal.Decimal
	Remaining decimal.Decimal
}

// BudgetReport is the budget-vs-actual view for one month.
type BudgetReport struct {
	YearMonth string
	Lines     []BudgetLine
}

// Statement is an account with its full ledger and the invariant check result.
type Statement struct {
	Account      Account
	Transactions []Transaction
	LedgerTotal  decimal.Decimal
	Balanced     bool
}
