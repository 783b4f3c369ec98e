package ledger

import (
	"context"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
)

// ApplyAdjustment checks adj against the freshly read row current and returns
// the row as it must be written back. Backends call it at commit time, after
// re-reading the row inside the unit.
func ApplyAdjustment(op string, current core.Account, adj core.Adjustment, currency string) (core.Account, error) {
	if current.Version != adj.Version {
		return core.Account{}, core.Conflict(op,
			fmt.Sprintf("account %d changed concurrently", current.ID),
			fmt.Errorf("version %d, expected %d", current.Version, adj.Version))
	}
	if currency != current.Currency {
		return core.Account{}, core.CurrencyMismatch(op, current.Currency, currency)
	}
	next := current.Balance.Add(adj.Delta)
	if !adj.Overdraft && adj.Delta.IsNegative() && next.IsNegative() {
		return core.Account{}, core.InsufficientFunds(op, current.ID)
	}
	current.Balance = next
	current.Version++
	return current, nil
}

// Ordered returns a and b in ascending order: the global lock and read order.
func Ordered(a, b int64) (int64, int64) {
	if b < a {
		return b, a
	}
	return a, b
}

// Collect drains a ledger sequence into a slice.
func Collect(seq iter.Seq2[core.Transaction, error]) ([]core.Transaction, error) {
	var out []core.Transaction
	for tx, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// LedgerTotal sums every entry of an account.
func LedgerTotal(ctx context.Context, r TransactionReader, accountID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for tx, err := range r.ListByAccount(ctx, accountID) {
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}

// CheckInvariant reports whether the account balance equals the sum of its ledger.
func CheckInvariant(ctx context.Context, s interface {
	AccountReader
	TransactionReader
}, accountID int64) (core.Account, decimal.Decimal, bool, error) {
	acc, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return core.Account{}, decimal.Zero, false, err
	}
	total, err := LedgerTotal(ctx, s, accountID)
	if err != nil {
		return acc, decimal.Zero, false, err
	}
	return acc, total, acc.Balance.Equal(total), nil
}
