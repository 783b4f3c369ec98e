package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assigned to accounts created without an explicit currency.
const DefaultCurrency = "USD"

const (
	PlannedExpense PlannedType = "expense"
	PlannedIncome  PlannedType = "income"
)

type (
	PlannedType string

	// Account is a money container. Balance is only ever changed through a
	// ledger unit, together with the ledger entries that explain the change.
	Account struct {
		ID        int64
		Name      string
		Balance   decimal.Decimal
		Currency  string
		Version   int64 // bumped on every balance write
		CreatedAt time.Time
	}

	// NewAccount is the input for account creation.
	NewAccount struct {
		Name           string
		OpeningBalance decimal.Decimal
		Currency       string
	}

	// Transaction is an immutable ledger entry owned by exactly one account.
	// Negative amounts are outflows.
	Transaction struct {
		ID          int64
		Amount      decimal.Decimal
		Currency    string
		Timestamp   time.Time
		Description string
		AccountID   int64
		CategoryID  *int64
	}

	// NewTransaction is a single-account posting (income or expense).
	NewTransaction struct {
		AccountID   int64
		Amount      decimal.Decimal
		Currency    string
		Description string
		CategoryID  *int64
	}

	// Adjustment is a balance delta applied to one account, guarded by the
	// version the caller observed when it read the account.
	Adjustment struct {
		AccountID int64
		Delta     decimal.Decimal
		Version   int64
		// Overdraft allows the resulting balance to go below zero.
		Overdraft bool
	}

	// TransactionFilter narrows ledger listings. Zero values mean "no filter".
	TransactionFilter struct {
		AccountID *int64
		Since     time.Time
		Until     time.Time
		Limit     int
	}

	// IdempotencyRecord remembers the legs produced for a client-supplied key.
	IdempotencyRecord struct {
		Key         string
		Fingerprint string
		FromTxID    int64
		ToTxID      int64
		CreatedAt   time.Time
	}

	Category struct {
		ID       int64
		Name     string
		ParentID *int64
	}

	Budget struct {
		ID         int64
		YearMonth  string // YYYY-MM
		CategoryID *int64
		Amount     decimal.Decimal
	}

	PlannedItem struct {
		ID         int64
		Title      string
		Amount     decimal.Decimal
		DueDate    *time.Time
		Type       PlannedType
		CategoryID *int64
	}
)

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// ValidCurrency reports whether c looks like an ISO 4217 code.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func (a NewAccount) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Invalid("create account", "account name is required")
	}
	if len(a.Name) > 100 {
		return Invalid("create account", "account name too long (max 100 characters)")
	}
	if a.Currency != "" && !ValidCurrency(NormalizeCurrency(a.Currency)) {
		return Invalid("create account", "currency must be a 3-letter code")
	}
	return nil
}

func (t NewTransaction) Validate() error {
	if t.Amount.IsZero() {
		return newError(KindInvalidAmount, "post transaction", "amount must be non-zero", nil)
	}
	if t.Currency != "" && !ValidCurrency(NormalizeCurrency(t.Currency)) {
		return Invalid("post transaction", "currency must be a 3-letter code")
	}
	if len(t.Description) > 200 {
		return Invalid("post transaction", "description too long (max 200 characters)")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Invalid("create category", "category name is required")
	}
	if c.ParentID != nil && c.ID != 0 && *c.ParentID == c.ID {
		return Invalid("create category", "category cannot be its own parent")
	}
	return nil
}

func (b Budget) Validate() error {
	if _, err := ParseYearMonth(b.YearMonth); err != nil {
		return Invalid("create budget", "year_month must be formatted as YYYY-MM")
	}
	if b.Amount.IsNegative() {
		return Invalid("create budget", "budget amount cannot be negative")
	}
	return nil
}

func (p PlannedItem) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return Invalid("create planned item", "title is required")
	}
	switch p.Type {
	case PlannedExpense, PlannedIncome:
	default:
		return Invalid("create planned item", "type must be 'expense' or 'income'")
	}
	if p.Amount.IsNegative() {
		return Invalid("create planned item", "amount cannot be negative")
	}
	return nil
}

// ParseYearMonth parses a YYYY-MM string into the first instant of that month (UTC).
func ParseYearMonth(ym string) (time.Time, error) {
	return time.Parse("2006-01", strings.TrimSpace(ym))
}

// MonthRange returns [start, end) for the given year and month in UTC.
func MonthRange(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
